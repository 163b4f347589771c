package device

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

const (
	macChromeUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	iphoneUA    = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1"
	winEdgeUA   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.2210.91"
)

func TestParseUserAgent(t *testing.T) {
	cases := []struct {
		name       string
		ua         string
		browser    string
		os         string
		device     string
		deviceType string
	}{
		{"mac chrome", macChromeUA, "Chrome", "macOS", "Mac", "desktop"},
		{"iphone safari", iphoneUA, "Safari", "iOS", "iPhone", "mobile"},
		{"windows edge", winEdgeUA, "Edge", "Windows", "Windows PC", "desktop"},
		{"empty", "", "", "", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseUserAgent(tc.ua)
			if got.Browser != tc.browser || got.OS != tc.os || got.Device != tc.device || got.DeviceType != tc.deviceType {
				t.Errorf("ParseUserAgent(%q) = %+v", tc.ua, got)
			}
		})
	}
}

func TestFingerprintComposition(t *testing.T) {
	ua := ParseUserAgent(macChromeUA)
	if got, want := Fingerprint("203.0.113.9", ua), "203.0.113.9|Mac|Chrome"; got != want {
		t.Errorf("Fingerprint = %q, want %q", got, want)
	}

	if got, want := Fingerprint("", UserAgent{}), "unknown-ip|unknown-device|unknown-browser"; got != want {
		t.Errorf("Fingerprint with empty input = %q, want %q", got, want)
	}

	// OS stands in when the device is undetected.
	if got, want := Fingerprint("10.0.0.1", UserAgent{OS: "Linux", Browser: "Firefox"}), "10.0.0.1|Linux|Firefox"; got != want {
		t.Errorf("Fingerprint = %q, want %q", got, want)
	}
}

func TestBuildLabel(t *testing.T) {
	if got := BuildLabel(ParseUserAgent(macChromeUA)); got != "Mac · Chrome" {
		t.Errorf("BuildLabel = %q", got)
	}
	if got := BuildLabel(UserAgent{}); got != "Unknown device" {
		t.Errorf("BuildLabel empty = %q", got)
	}
}

type fakeRepo struct {
	records map[string]*Record
	fail    bool
}

func (f *fakeRepo) key(adminID int64, fp string) string {
	return fmt.Sprintf("%d/%s", adminID, fp)
}

func (f *fakeRepo) FindDevice(_ context.Context, adminID int64, fp string) (*Record, error) {
	if f.fail {
		return nil, errors.New("table missing")
	}
	return f.records[f.key(adminID, fp)], nil
}

func (f *fakeRepo) UpsertDevice(_ context.Context, rec Record) error {
	if f.fail {
		return errors.New("table missing")
	}
	if f.records == nil {
		f.records = make(map[string]*Record)
	}
	f.records[f.key(rec.AdminID, rec.Fingerprint)] = &rec
	return nil
}

func TestTrackerNewDeviceLifecycle(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(&fakeRepo{})

	fp := "203.0.113.9|Mac|Chrome"
	if !tracker.IsNewDevice(ctx, 1, fp) {
		t.Fatal("unseen fingerprint reported as known")
	}

	tracker.Remember(ctx, 1, fp, "Work laptop")
	if tracker.IsNewDevice(ctx, 1, fp) {
		t.Fatal("remembered fingerprint reported as new")
	}

	// Same fingerprint, different admin.
	if !tracker.IsNewDevice(ctx, 2, fp) {
		t.Fatal("fingerprint leaked across admins")
	}

	rec := tracker.FindRecord(ctx, 1, fp)
	if rec == nil || rec.DeviceName != "Work laptop" {
		t.Fatalf("FindRecord = %+v", rec)
	}
}

func TestTrackerDegradesWhenPersistenceFails(t *testing.T) {
	ctx := context.Background()
	repo := &fakeRepo{fail: true}
	tracker := NewTracker(repo)

	fp := "198.51.100.7|Windows PC|Edge"

	// Lookup failure disables persistence but keeps answering.
	if !tracker.IsNewDevice(ctx, 1, fp) {
		t.Fatal("expected new device on failed lookup")
	}
	if tracker.Supported() {
		t.Fatal("tracker still reports persistence as supported")
	}

	// The in-memory working set continues to function.
	tracker.Remember(ctx, 1, fp, "Office PC")
	if tracker.IsNewDevice(ctx, 1, fp) {
		t.Fatal("working set lost after degradation")
	}
}

func TestTrackerWithoutRepository(t *testing.T) {
	tracker := NewTracker(nil)
	if tracker.Supported() {
		t.Fatal("nil repository should disable persistence")
	}
	tracker.Remember(context.Background(), 5, "fp", "label")
	if tracker.IsNewDevice(context.Background(), 5, "fp") {
		t.Fatal("working set should remember fingerprints without a repository")
	}
}
