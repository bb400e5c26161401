package notify_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazz-dev/canary/internal/mail"
	"github.com/hazz-dev/canary/internal/model"
	"github.com/hazz-dev/canary/internal/notify"
)

type mockDirectory struct {
	prefs    []model.NotificationPreference
	email    string
	prefsErr error
}

func (m *mockDirectory) EnabledEmailPreferences(ctx context.Context, ownerID string) ([]model.NotificationPreference, error) {
	return m.prefs, m.prefsErr
}

func (m *mockDirectory) PrimaryEmail(ctx context.Context, ownerID string) (string, error) {
	return m.email, nil
}

type mockMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	fail map[string]bool
}

func (m *mockMailer) Send(ctx context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[msg.To] {
		return errors.New("smtp: rejected " + msg.To)
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockMailer) recipients() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, msg := range m.sent {
		out = append(out, msg.To)
	}
	sort.Strings(out)
	return out
}

func prefs(addrs ...string) []model.NotificationPreference {
	out := make([]model.NotificationPreference, len(addrs))
	for i, a := range addrs {
		out[i] = model.NotificationPreference{OwnerID: "u1", Channel: model.ChannelEmail, Address: a, Enabled: true}
	}
	return out
}

func downAlert() notify.Alert {
	code := 503
	return notify.Alert{
		OwnerID:    "u1",
		Kind:       notify.KindDown,
		CheckID:    "api",
		CheckName:  "API",
		CheckURL:   "https://api.example.com",
		At:         time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
		StatusCode: &code,
	}
}

func TestDispatch_FallsBackToAccountEmail(t *testing.T) {
	mailer := &mockMailer{}
	d := notify.NewDispatcher(&mockDirectory{email: "owner@example.com"}, mailer, nil)

	res := d.Dispatch(context.Background(), downAlert())
	if res.Sent != 1 || res.Failed != 0 || res.Total != 1 {
		t.Errorf("expected sent 1 failed 0 total 1, got %+v", res)
	}
	if !res.OK() {
		t.Error("expected OK result")
	}
	if got := mailer.recipients(); len(got) != 1 || got[0] != "owner@example.com" {
		t.Errorf("expected delivery to owner@example.com, got %v", got)
	}
}

func TestDispatch_NoDestination(t *testing.T) {
	mailer := &mockMailer{}
	d := notify.NewDispatcher(&mockDirectory{}, mailer, nil)

	res := d.Dispatch(context.Background(), downAlert())
	if res.OK() {
		t.Error("expected not OK")
	}
	if !errors.Is(res.Err, notify.ErrNoDestination) {
		t.Errorf("expected ErrNoDestination, got %v", res.Err)
	}
	if res.Total != 0 || len(mailer.recipients()) != 0 {
		t.Errorf("expected no deliveries, got %+v", res)
	}
}

func TestDispatch_AllPreferences(t *testing.T) {
	mailer := &mockMailer{}
	dir := &mockDirectory{prefs: prefs("a@example.com", "b@example.com"), email: "owner@example.com"}
	d := notify.NewDispatcher(dir, mailer, nil)

	res := d.Dispatch(context.Background(), downAlert())
	if res.Sent != 2 || res.Failed != 0 || res.Total != 2 {
		t.Errorf("expected 2/0/2, got %+v", res)
	}
	got := mailer.recipients()
	if len(got) != 2 || got[0] != "a@example.com" || got[1] != "b@example.com" {
		t.Errorf("expected both preferences and not the account email, got %v", got)
	}
}

func TestDispatch_PartialFailure(t *testing.T) {
	mailer := &mockMailer{fail: map[string]bool{"b@example.com": true}}
	dir := &mockDirectory{prefs: prefs("a@example.com", "b@example.com", "c@example.com")}
	d := notify.NewDispatcher(dir, mailer, nil)

	res := d.Dispatch(context.Background(), downAlert())
	if res.Sent != 2 || res.Failed != 1 || res.Total != 3 {
		t.Errorf("expected 2/1/3, got %+v", res)
	}
	if !res.OK() {
		t.Error("partial failure should still be OK")
	}
	if res.Err == nil || !strings.Contains(res.Err.Error(), "b@example.com") {
		t.Errorf("expected aggregated error naming b@example.com, got %v", res.Err)
	}
}

func TestDispatch_AllFail(t *testing.T) {
	mailer := &mockMailer{fail: map[string]bool{"a@example.com": true, "b@example.com": true}}
	dir := &mockDirectory{prefs: prefs("a@example.com", "b@example.com")}
	d := notify.NewDispatcher(dir, mailer, nil)

	res := d.Dispatch(context.Background(), downAlert())
	if res.OK() || res.Failed != 2 {
		t.Errorf("expected total failure, got %+v", res)
	}
}

func TestDispatch_LookupError(t *testing.T) {
	boom := errors.New("db down")
	d := notify.NewDispatcher(&mockDirectory{prefsErr: boom}, &mockMailer{}, nil)

	res := d.Dispatch(context.Background(), downAlert())
	if !errors.Is(res.Err, boom) {
		t.Errorf("expected lookup error in result, got %v", res.Err)
	}
	if res.OK() {
		t.Error("expected not OK")
	}
}

func TestDispatch_MessageContent(t *testing.T) {
	mailer := &mockMailer{}
	d := notify.NewDispatcher(&mockDirectory{email: "owner@example.com"}, mailer, nil)
	d.Dispatch(context.Background(), downAlert())

	if len(mailer.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(mailer.sent))
	}
	msg := mailer.sent[0]
	if msg.Subject != "[Canary] API is DOWN" {
		t.Errorf("unexpected subject %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "Status: 503") {
		t.Errorf("expected status line in body, got %q", msg.Body)
	}
}
