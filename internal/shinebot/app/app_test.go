package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/shineshop/shinebot/internal/shinebot/templates"
)

type sentMessage struct {
	userID string
	text   string
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (t *fakeTransport) SendText(_ context.Context, userID, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, sentMessage{userID: userID, text: text})
	return nil
}

func (t *fakeTransport) messages() []sentMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]sentMessage(nil), t.sent...)
}

type appFixture struct {
	app       *App
	transport *fakeTransport
	dir       string
}

// newAppFixture builds an App on the flat-file backend with a fake transport
// and the given pool file contents.
func newAppFixture(t *testing.T, poolLines string) *appFixture {
	t.Helper()
	dir := t.TempDir()
	poolPath := filepath.Join(dir, "accounts.txt")
	if err := os.WriteFile(poolPath, []byte(poolLines), 0o644); err != nil {
		t.Fatalf("write pool file: %v", err)
	}

	transport := &fakeTransport{}
	a, err := New(&Config{
		Backend:       "file",
		TimestampPath: filepath.Join(dir, "times.txt"),
		CountPath:     filepath.Join(dir, "counts.txt"),
		PoolPath:      poolPath,
		DatabasePath:  filepath.Join(dir, "audit.db"),
		SharedSecret:  "hunter2",
		VerifyToken:   "verify-me",
		HTTPAddr:      "127.0.0.1:0",
		Transport:     transport,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.Stop)
	return &appFixture{app: a, transport: transport, dir: dir}
}

// deliver posts a single-message page delivery to the webhook and returns the
// response.
func (f *appFixture) deliver(t *testing.T, senderID, recipientID, text string) *httptest.ResponseRecorder {
	t.Helper()
	payload := fmt.Sprintf(`{
		"object": "page",
		"entry": [{"messaging": [{
			"sender": {"id": %q},
			"recipient": {"id": %q},
			"message": {"text": %q}
		}]}]
	}`, senderID, recipientID, text)
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	f.app.healthServer.ServeHTTP(rec, req)
	return rec
}

func (f *appFixture) readFile(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.dir, name))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return string(data)
}

// TestTriggerIssuesCredential runs the full flow: fresh ledgers, one pooled
// account, a trigger message. The user gets the four-message sequence, the
// pool drains, the timestamp is recorded, and the count resets to zero.
func TestTriggerIssuesCredential(t *testing.T) {
	f := newAppFixture(t, "acct1\n")

	rec := f.deliver(t, "U1", "PAGE", templates.Default().Trigger)

	if rec.Code != http.StatusOK || rec.Body.String() != "EVENT_RECEIVED" {
		t.Fatalf("delivery response = %d %q", rec.Code, rec.Body.String())
	}
	msgs := f.transport.messages()
	if len(msgs) != 4 {
		t.Fatalf("sent %d messages, want 4", len(msgs))
	}
	if msgs[1].text != "acct1" || msgs[2].text != "hunter2" {
		t.Errorf("sequence carries %q/%q, want acct1/hunter2", msgs[1].text, msgs[2].text)
	}
	if got := strings.TrimSpace(f.readFile(t, "accounts.txt")); got != "" {
		t.Errorf("pool file still holds %q after issuance", got)
	}
	if got := f.readFile(t, "times.txt"); !strings.HasPrefix(got, "U1 : ") {
		t.Errorf("timestamp file = %q, want U1 entry", got)
	}
	if got := f.readFile(t, "counts.txt"); got != "U1 : 0" {
		t.Errorf("count file = %q, want \"U1 : 0\"", got)
	}
}

// TestPaddedTriggerStillIssues checks surrounding whitespace on the trigger
// word, as when the text is copy-pasted with a trailing newline, does not
// defeat the match.
func TestPaddedTriggerStillIssues(t *testing.T) {
	f := newAppFixture(t, "acct1\n")

	f.deliver(t, "U1", "PAGE", "  "+templates.Default().Trigger+" \n")

	msgs := f.transport.messages()
	if len(msgs) != 4 {
		t.Fatalf("sent %d messages, want 4", len(msgs))
	}
	if msgs[1].text != "acct1" {
		t.Errorf("issued identifier %q, want acct1", msgs[1].text)
	}
}

// TestTriggerPoolExhausted checks an empty pool yields only the exhaustion
// notice and records nothing.
func TestTriggerPoolExhausted(t *testing.T) {
	f := newAppFixture(t, "")

	f.deliver(t, "U1", "PAGE", templates.Default().Trigger)

	msgs := f.transport.messages()
	if len(msgs) != 1 || msgs[0].text != templates.Default().Exhausted {
		t.Fatalf("messages = %+v, want single exhaustion notice", msgs)
	}
	if _, err := os.Stat(filepath.Join(f.dir, "times.txt")); !os.IsNotExist(err) {
		t.Errorf("timestamp file written despite exhausted pool (stat err = %v)", err)
	}
}

// TestNonTriggerCountsSilently checks ordinary messages bump the counter and
// produce no reply.
func TestNonTriggerCountsSilently(t *testing.T) {
	f := newAppFixture(t, "acct1\n")

	f.deliver(t, "U1", "PAGE", "hello")
	f.deliver(t, "U1", "PAGE", "anyone there?")

	if msgs := f.transport.messages(); len(msgs) != 0 {
		t.Fatalf("replies sent to non-trigger text: %+v", msgs)
	}
	if got := f.readFile(t, "counts.txt"); got != "U1 : 2" {
		t.Errorf("count file = %q, want \"U1 : 2\"", got)
	}
}

// TestEchoesNotCounted checks messages where the page is the sender are
// ignored entirely.
func TestEchoesNotCounted(t *testing.T) {
	f := newAppFixture(t, "acct1\n")

	f.deliver(t, "PAGE", "PAGE", "hello")

	if _, err := os.Stat(filepath.Join(f.dir, "counts.txt")); !os.IsNotExist(err) {
		t.Errorf("count file written for echo message (stat err = %v)", err)
	}
}

// TestVerifyHandshakeRoute checks the subscription handshake is reachable
// through the app's HTTP mux.
func TestVerifyHandshakeRoute(t *testing.T) {
	f := newAppFixture(t, "")

	url := "/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345"
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	f.app.healthServer.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "12345" {
		t.Errorf("handshake = %d %q, want 200 with echoed challenge", rec.Code, rec.Body.String())
	}
}

// TestStatusReportsPoolAndUsers checks /status reflects the pool size and the
// tracked-user count.
func TestStatusReportsPoolAndUsers(t *testing.T) {
	f := newAppFixture(t, "acct1\nacct2\n")
	f.deliver(t, "U1", "PAGE", "hi")

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	f.app.healthServer.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("/status = %d", rec.Code)
	}
	var status struct {
		Status        string `json:"status"`
		PoolRemaining int    `json:"pool_remaining"`
		TrackedUsers  int    `json:"tracked_users"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode /status: %v", err)
	}
	if status.Status != "ok" || status.PoolRemaining != 2 || status.TrackedUsers != 1 {
		t.Errorf("/status = %+v, want ok/2/1", status)
	}
}

// TestRepeatTriggerHitsCooldown checks a second trigger right after an
// issuance gets the wait notice instead of another credential.
func TestRepeatTriggerHitsCooldown(t *testing.T) {
	f := newAppFixture(t, "acct1\nacct2\n")
	trigger := templates.Default().Trigger

	f.deliver(t, "U1", "PAGE", trigger)
	f.deliver(t, "U1", "PAGE", trigger)

	msgs := f.transport.messages()
	if len(msgs) != 5 {
		t.Fatalf("sent %d messages, want 4 issuance + 1 cooldown", len(msgs))
	}
	if !strings.Contains(msgs[4].text, "31680") {
		t.Errorf("cooldown notice %q missing full 22-day wait", msgs[4].text)
	}
	if got := strings.TrimSpace(f.readFile(t, "accounts.txt")); got != "acct2" {
		t.Errorf("pool file = %q, want acct2 left", got)
	}
}

// TestNewRejectsBadConfig exercises config validation in New.
func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(&Config{Backend: "file"}); err == nil {
		t.Error("file backend without paths accepted")
	}
	if _, err := New(&Config{Backend: "sqlite"}); err == nil {
		t.Error("sqlite backend without database path accepted")
	}
	if _, err := New(&Config{Backend: "papyrus"}); err == nil {
		t.Error("unknown backend accepted")
	}
}
