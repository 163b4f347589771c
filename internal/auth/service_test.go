package auth

import (
	"context"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"admin-auth-service/internal/audit"
	"admin-auth-service/internal/device"
	"admin-auth-service/internal/geo"
	"admin-auth-service/internal/ledger"
	"admin-auth-service/internal/model"
	"admin-auth-service/internal/otp"
	"admin-auth-service/internal/secrets"
	"admin-auth-service/internal/session"
)

const (
	testIP = "203.0.113.9"
	testUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

type fakeAdminStore struct {
	admins map[string]*model.Admin
}

func newFakeAdminStore() *fakeAdminStore {
	return &fakeAdminStore{admins: make(map[string]*model.Admin)}
}

func (f *fakeAdminStore) GetAdminByUsername(_ context.Context, username string) (*model.Admin, error) {
	if a, ok := f.admins[username]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeAdminStore) CreateAdmin(_ context.Context, admin *model.Admin) error {
	if admin.ID == 0 {
		admin.ID = int64(len(f.admins) + 1)
	}
	cp := *admin
	f.admins[admin.Username] = &cp
	return nil
}

func (f *fakeAdminStore) UpdatePasswordHash(_ context.Context, username, hash string) error {
	f.admins[username].PasswordHash = hash
	return nil
}

func (f *fakeAdminStore) UpdateLastLogin(_ context.Context, username string, at time.Time, ip string) error {
	f.admins[username].LastLoginAt = &at
	f.admins[username].LastLoginIP = ip
	return nil
}

func (f *fakeAdminStore) SetMFASecret(_ context.Context, username, encrypted string) error {
	f.admins[username].MFASecret = encrypted
	return nil
}

func (f *fakeAdminStore) EnableMFA(_ context.Context, username string) error {
	f.admins[username].MFAEnabled = true
	return nil
}

func (f *fakeAdminStore) DisableMFA(_ context.Context, username string) error {
	f.admins[username].MFAEnabled = false
	f.admins[username].MFASecret = ""
	return nil
}

type testEnv struct {
	svc    *Service
	admins *fakeAdminStore
	store  *session.MemoryStore
	events *audit.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	admins := newFakeAdminStore()
	hash, err := bcrypt.GenerateFromPassword([]byte("Correct#Horse1"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	admins.CreateAdmin(context.Background(), &model.Admin{
		Username:     "admin",
		PasswordHash: string(hash),
		Role:         model.RoleSuperadmin,
	})

	codec, err := secrets.NewCodec("test-master-key")
	if err != nil {
		t.Fatal(err)
	}

	store := session.NewMemoryStore(30*time.Minute, 3)
	events := audit.NewMemoryStore(100)
	svc := NewService(
		admins,
		store,
		ledger.NewMemoryLedger(ledger.NewMemoryBanStore(), 3, 15*time.Minute),
		ledger.NewMemoryMFALedger(5, 5*time.Minute),
		device.NewTracker(nil),
		codec,
		audit.NewDispatcher(events),
		events,
		geo.NewResolver(false),
		model.Capabilities{MFA: true, Devices: true},
		Options{BcryptCost: bcrypt.MinCost},
	)
	svc.failureDelay = func() time.Duration { return 0 }
	svc.sleep = func(context.Context, time.Duration) {}

	return &testEnv{svc: svc, admins: admins, store: store, events: events}
}

func login(t *testing.T, env *testEnv, in LoginInput) (*LoginResult, error) {
	t.Helper()
	if in.Username == "" {
		in.Username = "admin"
	}
	if in.Password == "" {
		in.Password = "Correct#Horse1"
	}
	if in.IP == "" {
		in.IP = testIP
	}
	if in.UserAgent == "" {
		in.UserAgent = testUA
	}
	return env.svc.Login(context.Background(), in)
}

func TestLoginSuccess(t *testing.T) {
	env := newTestEnv(t)

	res, err := login(t, env, LoginInput{})
	if err != nil {
		t.Fatal(err)
	}

	sess := res.Session
	if sess.Token == "" || sess.CSRFToken == "" {
		t.Fatal("missing tokens on issued session")
	}
	if sess.Username != "admin" || sess.Role != model.RoleSuperadmin {
		t.Errorf("principal snapshot = %+v", sess)
	}
	if !sess.NewDevice {
		t.Error("first login not flagged as new device")
	}

	// The session resolves through the store.
	got, err := env.store.Lookup(context.Background(), sess.Token, testIP)
	if err != nil {
		t.Fatal(err)
	}
	if got.AdminID != sess.AdminID {
		t.Errorf("stored session = %+v", got)
	}
}

func TestLoginUnknownUserUniformRejection(t *testing.T) {
	env := newTestEnv(t)

	_, err := login(t, env, LoginInput{Username: "nobody", Password: "whatever1!"})
	if err != ErrInvalidCredentials {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginThresholdBansAndCorrectPasswordStaysBanned(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 2; i++ {
		if _, err := login(t, env, LoginInput{Password: "wrong-pass-1!"}); err != ErrInvalidCredentials {
			t.Fatalf("attempt %d: err = %v", i+1, err)
		}
	}

	// Third failure promotes to a ban in the same call.
	if _, err := login(t, env, LoginInput{Password: "wrong-pass-1!"}); err != ErrIPBanned {
		t.Fatalf("third failure: err = %v, want ErrIPBanned", err)
	}

	// Correct password from the banned IP is still rejected.
	if _, err := login(t, env, LoginInput{}); err != ErrIPBanned {
		t.Fatalf("banned IP with correct password: err = %v, want ErrIPBanned", err)
	}

	// A different IP with the correct password succeeds.
	if _, err := login(t, env, LoginInput{IP: "198.51.100.1"}); err != nil {
		t.Fatalf("clean IP: err = %v", err)
	}
}

func TestLoginValidationRejections(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.svc.Login(context.Background(), LoginInput{IP: testIP}); err == nil {
		t.Fatal("empty credentials accepted")
	}

	long := make([]byte, 60)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := login(t, env, LoginInput{Username: string(long)}); err != ErrInvalidCredentials {
		t.Fatalf("oversized username: err = %v", err)
	}
}

func enrollAndVerify(t *testing.T, env *testEnv, sess *session.Session) string {
	t.Helper()
	ctx := context.Background()

	secret, uri, err := env.svc.EnrollMFA(ctx, sess)
	if err != nil {
		t.Fatal(err)
	}
	if uri == "" {
		t.Fatal("no provisioning URI")
	}
	if env.admins.admins["admin"].MFAEnabled {
		t.Fatal("enrollment alone enabled MFA")
	}

	if err := env.svc.VerifyMFA(ctx, sess, otp.TOTP(secret, time.Now())); err != nil {
		t.Fatal(err)
	}
	if !env.admins.admins["admin"].MFAEnabled {
		t.Fatal("verification did not enable MFA")
	}
	return secret
}

func TestMFAEnrollVerifyLoginScenario(t *testing.T) {
	env := newTestEnv(t)
	res, err := login(t, env, LoginInput{})
	if err != nil {
		t.Fatal(err)
	}

	secret := enrollAndVerify(t, env, res.Session)

	// Subsequent logins require a code.
	if _, err := login(t, env, LoginInput{}); err != ErrMFARequired {
		t.Fatalf("login without otp: err = %v, want ErrMFARequired", err)
	}
	if _, err := login(t, env, LoginInput{OTP: "000000"}); err != ErrMFAInvalid {
		t.Fatalf("login with wrong otp: err = %v, want ErrMFAInvalid", err)
	}
	if _, err := login(t, env, LoginInput{OTP: otp.TOTP(secret, time.Now())}); err != nil {
		t.Fatalf("login with valid otp: err = %v", err)
	}
}

func TestMFALockoutAppliesEvenToCorrectCode(t *testing.T) {
	env := newTestEnv(t)
	res, err := login(t, env, LoginInput{})
	if err != nil {
		t.Fatal(err)
	}
	secret := enrollAndVerify(t, env, res.Session)

	// Wrong codes burn through the attempt budget. Each failed login
	// records twice (gate entry plus the miss), so two are enough.
	for i := 0; i < 2; i++ {
		login(t, env, LoginInput{OTP: "000000"})
	}

	_, err = login(t, env, LoginInput{OTP: otp.TOTP(secret, time.Now())})
	if err != ErrMFALockedOut {
		t.Fatalf("locked pair with correct code: err = %v, want ErrMFALockedOut", err)
	}
}

func TestVerifyMFAWithoutEnrollment(t *testing.T) {
	env := newTestEnv(t)
	res, _ := login(t, env, LoginInput{})

	err := env.svc.VerifyMFA(context.Background(), res.Session, "123456")
	authErr, ok := err.(*Error)
	if !ok || authErr.Status != 400 {
		t.Fatalf("err = %v, want 400", err)
	}
}

func TestDisableMFAUnsupportedSchema(t *testing.T) {
	env := newTestEnv(t)
	env.svc.caps = model.Capabilities{}

	res := &session.Session{AdminID: 1, Username: "admin", IP: testIP}
	supported, err := env.svc.DisableMFA(context.Background(), res)
	if err != nil || supported {
		t.Fatalf("DisableMFA = %v, %v, want false, nil", supported, err)
	}

	enabled, supported, err := env.svc.MFAStatus(context.Background(), res)
	if err != nil || enabled || supported {
		t.Fatalf("MFAStatus = %v, %v, %v", enabled, supported, err)
	}
}

func TestChangePasswordRevokesOtherSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := login(t, env, LoginInput{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := login(t, env, LoginInput{})
	if err != nil {
		t.Fatal(err)
	}

	// Wrong current password.
	err = env.svc.ChangePassword(ctx, second.Session, "nope", "NewPass#123")
	if authErr, ok := err.(*Error); !ok || authErr.Status != 401 {
		t.Fatalf("err = %v, want 401", err)
	}

	if err := env.svc.ChangePassword(ctx, second.Session, "Correct#Horse1", "NewPass#123"); err != nil {
		t.Fatal(err)
	}

	// The other session is gone, the acting one survives.
	if _, err := env.store.Lookup(ctx, first.Session.Token, testIP); err != session.ErrNotFound {
		t.Fatalf("other session survived: err = %v", err)
	}
	if _, err := env.store.Lookup(ctx, second.Session.Token, testIP); err != nil {
		t.Fatalf("acting session revoked: err = %v", err)
	}

	// The new password is live.
	if _, err := login(t, env, LoginInput{Password: "NewPass#123", IP: "198.51.100.1"}); err != nil {
		t.Fatalf("login with new password: err = %v", err)
	}
}

func TestRevokeSessionOwnershipScoping(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	mine, _ := login(t, env, LoginInput{})

	otherHash, _ := bcrypt.GenerateFromPassword([]byte("Other#Pass12"), bcrypt.MinCost)
	env.admins.CreateAdmin(ctx, &model.Admin{
		Username: "second", PasswordHash: string(otherHash), Role: model.RoleAdmin,
	})
	theirs, err := login(t, env, LoginInput{Username: "second", Password: "Other#Pass12", IP: "198.51.100.1"})
	if err != nil {
		t.Fatal(err)
	}

	// Another admin's token reads as not found, never as forbidden.
	err = env.svc.RevokeSession(ctx, mine.Session, theirs.Session.Token)
	if authErr, ok := err.(*Error); !ok || authErr.Status != 404 {
		t.Fatalf("err = %v, want 404", err)
	}
	if _, err := env.store.Lookup(ctx, theirs.Session.Token, "198.51.100.1"); err != nil {
		t.Fatal("foreign session was revoked")
	}

	if err := env.svc.RevokeSession(ctx, mine.Session, mine.Session.Token); err != nil {
		t.Fatal(err)
	}
}

func TestSessionPolicyBounds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, bad := range []int{0, -1, 11} {
		if err := env.svc.SetSessionPolicy(ctx, 1, bad); err == nil {
			t.Errorf("limit %d accepted", bad)
		}
	}
	if err := env.svc.SetSessionPolicy(ctx, 1, 5); err != nil {
		t.Fatal(err)
	}
	if limit, _ := env.svc.SessionPolicy(ctx, 1); limit != 5 {
		t.Errorf("limit = %d, want 5", limit)
	}
}

func TestEnsureBootstrapAdmin(t *testing.T) {
	ctx := context.Background()
	admins := newFakeAdminStore()

	// No password configured: nothing happens.
	if err := EnsureBootstrapAdmin(ctx, admins, "admin", "", bcrypt.MinCost); err != nil {
		t.Fatal(err)
	}
	if len(admins.admins) != 0 {
		t.Fatal("bootstrap ran without a configured password")
	}

	if err := EnsureBootstrapAdmin(ctx, admins, "admin", "Boot#Pass12", bcrypt.MinCost); err != nil {
		t.Fatal(err)
	}
	created := admins.admins["admin"]
	if created == nil || created.Role != model.RoleAdmin {
		t.Fatalf("bootstrap admin = %+v", created)
	}
	if bcrypt.CompareHashAndPassword([]byte(created.PasswordHash), []byte("Boot#Pass12")) != nil {
		t.Fatal("bootstrap hash does not match password")
	}

	// Existing principal with a hash is untouched.
	oldHash := created.PasswordHash
	if err := EnsureBootstrapAdmin(ctx, admins, "admin", "Different#1", bcrypt.MinCost); err != nil {
		t.Fatal(err)
	}
	if admins.admins["admin"].PasswordHash != oldHash {
		t.Fatal("bootstrap overwrote an existing password hash")
	}

	// Missing hash gets repaired.
	admins.admins["admin"].PasswordHash = ""
	if err := EnsureBootstrapAdmin(ctx, admins, "admin", "Repair#Pass1", bcrypt.MinCost); err != nil {
		t.Fatal(err)
	}
	if admins.admins["admin"].PasswordHash == "" {
		t.Fatal("missing hash not repaired")
	}
}
