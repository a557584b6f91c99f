package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tele "gopkg.in/telebot.v4"

	"remindbot/internal/delivery"
	logx "remindbot/pkg/logx"
)

func TestSplitText(t *testing.T) {
	t.Parallel()

	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short text: %q", got)
	}

	long := strings.Repeat("a", 25)
	got := splitText(long, 10)
	if len(got) != 3 || got[0] != strings.Repeat("a", 10) || got[2] != strings.Repeat("a", 5) {
		t.Fatalf("hard split: %q", got)
	}

	lines := "aaaaaa\nbbbbbb\ncccccc"
	got = splitText(lines, 10)
	if len(got) != 3 || got[0] != "aaaaaa" || got[1] != "bbbbbb" || got[2] != "cccccc" {
		t.Fatalf("newline split: %q", got)
	}

	// multi-byte runes count once
	emoji := strings.Repeat("🎂", 12)
	got = splitText(emoji, 10)
	if len(got) != 2 || got[1] != "🎂🎂" {
		t.Fatalf("rune split: %q", got)
	}
}

func TestClassifySendError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want delivery.Class
	}{
		{"blocked", &tele.Error{Code: 403, Description: "Forbidden: bot was blocked by the user"}, delivery.ClassPermanent},
		{"chat not found", &tele.Error{Code: 400, Description: "Bad Request: chat not found"}, delivery.ClassPermanent},
		{"rate limited", &tele.Error{Code: 429, Description: "Too Many Requests"}, delivery.ClassTransient},
		{"bad gateway", &tele.Error{Code: 502, Description: "Bad Gateway"}, delivery.ClassTransient},
		{"unknown 5xx", fmt.Errorf("telegram: Internal Server Error (500)"), delivery.ClassTransient},
		{"unknown 4xx", fmt.Errorf("telegram: Bad Request: message is too long (400)"), delivery.ClassPermanent},
		{"network", fmt.Errorf("telebot: %w", &net.OpError{Op: "dial", Err: errors.New("connection refused")}), delivery.ClassTransient},
		{"deadline", context.DeadlineExceeded, delivery.ClassTransient},
		{"other", errors.New("boom"), delivery.ClassPermanent},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := delivery.Classify(classifySendError(tc.err)); got != tc.want {
				t.Fatalf("class=%s want %s", got, tc.want)
			}
		})
	}

	if classifySendError(nil) != nil {
		t.Fatalf("nil error must stay nil")
	}
	if err := classifySendError(context.Canceled); delivery.IsTransient(err) || delivery.IsPermanent(err) {
		t.Fatalf("cancellation must pass through untagged: %v", err)
	}
}

func TestTrailingCode(t *testing.T) {
	t.Parallel()
	cases := map[string]int{
		"telegram: Bad Gateway (502)": 502,
		"telegram: no code":           0,
		"weird (abc)":                 0,
		"":                            0,
	}
	for in, want := range cases {
		if got := trailingCode(in); got != want {
			t.Fatalf("trailingCode(%q)=%d want %d", in, got, want)
		}
	}
}

// fakeAPI answers sendMessage with the configured status and records the
// texts it received.
type fakeAPI struct {
	mu    sync.Mutex
	texts []string
	chats []string
	fail  string // raw JSON error body; empty means success
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	w.Header().Set("Content-Type", "application/json")

	f.mu.Lock()
	fail := f.fail
	if strings.HasSuffix(r.URL.Path, "/sendMessage") && fail == "" {
		f.texts = append(f.texts, fmt.Sprint(body["text"]))
		f.chats = append(f.chats, fmt.Sprint(body["chat_id"]))
	}
	f.mu.Unlock()

	if fail != "" {
		_, _ = w.Write([]byte(fail))
		return
	}
	_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"},"text":"ok"}}`))
}

func newTestAdapter(t *testing.T, api *fakeAPI) *Adapter {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	a, err := newAdapter(Config{Token: "test"}, tele.Settings{
		Token:   "test",
		URL:     srv.URL,
		Offline: true,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("newAdapter: %v", err)
	}
	return a
}

func TestSendTextSplitsLongMessages(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	a := newTestAdapter(t, api)

	text := strings.Repeat("x", textLimit+10)
	if err := a.SendText(context.Background(), 42, text); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.texts) != 2 {
		t.Fatalf("sent %d chunks, want 2", len(api.texts))
	}
	if len(api.texts[0])+len(api.texts[1]) != len(text) {
		t.Fatalf("chunks lost text")
	}
	for _, c := range api.chats {
		if c != "42" {
			t.Fatalf("chat_id=%s", c)
		}
	}
}

func TestSendTextClassifiesAPIErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want delivery.Class
	}{
		{"blocked", `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`, delivery.ClassPermanent},
		{"server error", `{"ok":false,"error_code":500,"description":"Internal Server Error"}`, delivery.ClassTransient},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			a := newTestAdapter(t, &fakeAPI{fail: tc.body})
			err := a.SendText(context.Background(), 42, "hello")
			if err == nil {
				t.Fatalf("expected error")
			}
			if got := delivery.Classify(err); got != tc.want {
				t.Fatalf("class=%s want %s (err=%v)", got, tc.want, err)
			}
		})
	}
}

func TestSendTextHonorsCancelledContext(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	a := newTestAdapter(t, api)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.SendText(ctx, 42, "hello"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.texts) != 0 {
		t.Fatalf("nothing should be sent after cancellation")
	}
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t, &fakeAPI{})
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestNewRejectsEmptyToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatalf("expected error for empty token")
	}
}
