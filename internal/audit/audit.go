// Package audit records admin security events. Recording is strictly
// best-effort: a sink outage must never fail the request that produced
// the event.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"admin-auth-service/internal/util"
)

// Event is one entry in the activity log.
type Event struct {
	ID            string                 `json:"id"`
	Action        string                 `json:"action"`
	EntityType    string                 `json:"entityType"`
	EntityID      string                 `json:"entityId,omitempty"`
	AdminID       int64                  `json:"adminId,omitempty"`
	AdminUsername string                 `json:"adminUsername,omitempty"`
	IP            string                 `json:"ip,omitempty"`
	UserAgent     string                 `json:"userAgent,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
}

// Well-known actions. Handlers may add ad-hoc ones; these are the set
// the security dashboard keys on.
const (
	ActionLoginSuccess    = "admin_login_success"
	ActionLoginFailed     = "admin_login_failed"
	ActionLoginBanned     = "admin_login_ip_banned"
	ActionLogout          = "admin_logout"
	ActionSessionRevoked  = "admin_session_revoked"
	ActionPasswordChanged = "admin_password_changed"
	ActionMFAEnabled      = "admin_mfa_enabled"
	ActionMFADisabled     = "admin_mfa_disabled"
	ActionMFAFailed       = "admin_mfa_failed"
	ActionIPBanned        = "admin_ip_banned"
	ActionIPUnbanned      = "admin_ip_unbanned"
	ActionNewDeviceLogin  = "admin_new_device_login"
)

// Recorder is the activity-logging contract handed to the auth service
// and handlers.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// Sink is one destination for events.
type Sink interface {
	Name() string
	Write(ctx context.Context, ev Event) error
}

// Reader serves the recent-events query behind the security dashboard.
type Reader interface {
	RecentEvents(ctx context.Context, limit int) ([]Event, error)
}

// Dispatcher fans events out to all configured sinks. Writes happen on
// a background goroutine with their own deadline, detached from the
// request context.
type Dispatcher struct {
	sinks []Sink
	wg    sync.WaitGroup
}

func NewDispatcher(sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks}
}

func (d *Dispatcher) Record(_ context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		for _, sink := range d.sinks {
			if err := sink.Write(ctx, ev); err != nil {
				util.Warn("Audit sink write failed",
					util.String("sink", sink.Name()),
					util.String("action", ev.Action),
					zap.Error(err))
			}
		}
	}()
}

// Flush waits for in-flight writes. Called on shutdown.
func (d *Dispatcher) Flush() {
	d.wg.Wait()
}

// LogSink writes events to the process log. It is the floor sink for
// deployments without any external destination.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Write(_ context.Context, ev Event) error {
	util.Info("Security event",
		util.String("action", ev.Action),
		util.String("username", ev.AdminUsername),
		util.String("ip", ev.IP),
		util.Any("details", ev.Details))
	return nil
}
