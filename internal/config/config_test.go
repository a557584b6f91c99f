package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  poll_timeout: 10s
logging:
  level: info
  console: true
scheduler:
  tick_interval: 30s
  match_window: 60s
  timezone: Asia/Kolkata
  leap_day: mar1
delivery:
  retry_count: 3
  retry_backoff: 2s
storage:
  driver: file
  path: ./data
health:
  enabled: true
  addr: ":5000"
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.Timezone != "Asia/Kolkata" || cfg.Scheduler.LeapDay != "mar1" {
		t.Fatalf("scheduler %+v", cfg.Scheduler)
	}
	if !cfg.Scheduler.IsEnabled() || !cfg.Scheduler.DedupEnabled() {
		t.Fatalf("omitted enabled/dedup should default on")
	}
	if cfg.Storage.Driver != "file" || cfg.Delivery.RetryCount != 3 {
		t.Fatalf("cfg %+v", cfg)
	}
	if m.Get() != cfg {
		t.Fatalf("Load must commit")
	}
}

func TestLoadJSONRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name, body, want string
	}{
		{"unknown", `{"telegram":{"token":"x"},"storage":{"driver":"file"},"plugins":{}}`, "unknown field"},
		{"trailing", `{"telegram":{"token":"x"},"storage":{"driver":"file"}}{}`, "trailing data"},
		{"syntax", `{"telegram":`, "config.json"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewManager(writeFile(t, "config.json", tc.body)).Load()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err %v, want %q", err, tc.want)
			}
		})
	}
}

func TestEnvOverlay(t *testing.T) {
	t.Setenv("BOT_TOKEN", "legacy-token")
	t.Setenv("PORT", "8080")
	t.Setenv("REMINDBOT_SCHEDULER__TICK_INTERVAL", "45s")
	t.Setenv("REMINDBOT_TELEGRAM__LOG_CHAT_ID", "-1001234567890")
	t.Setenv("REMINDBOT_DELIVERY__WORKERS", "8")

	body := strings.Replace(sampleYAML, "  enabled: true\n  addr: \":5000\"\n", "  enabled: false\n", 1)
	cfg, err := NewManager(writeFile(t, "config.yaml", body)).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "legacy-token" {
		t.Fatalf("token %q", cfg.Telegram.Token)
	}
	if !cfg.Health.Enabled || cfg.Health.Addr != ":8080" {
		t.Fatalf("health %+v", cfg.Health)
	}
	if cfg.Scheduler.TickInterval != "45s" {
		t.Fatalf("tick %q", cfg.Scheduler.TickInterval)
	}
	if cfg.Telegram.LogChatID != -1001234567890 {
		t.Fatalf("log chat %d", cfg.Telegram.LogChatID)
	}
	if cfg.Delivery.Workers != 8 {
		t.Fatalf("workers %d", cfg.Delivery.Workers)
	}
	// untouched file values survive
	if cfg.Scheduler.Timezone != "Asia/Kolkata" || cfg.Storage.Path != "./data" {
		t.Fatalf("file values lost: %+v", cfg)
	}
}

func TestEnvPrefixBeatsLegacy(t *testing.T) {
	t.Setenv("BOT_TOKEN", "legacy")
	t.Setenv("REMINDBOT_TELEGRAM__TOKEN", "prefixed")
	t.Setenv("REMINDBOT_SCHEDULER__DEDUP", "false")

	cfg, err := NewManager(writeFile(t, "config.yaml", sampleYAML)).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "prefixed" {
		t.Fatalf("token %q", cfg.Telegram.Token)
	}
	if cfg.Scheduler.DedupEnabled() {
		t.Fatalf("dedup should be off")
	}
}

func TestEnvKey(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"REMINDBOT_TELEGRAM__TOKEN":         "telegram.token",
		"REMINDBOT_DELIVERY__RETRY_COUNT":   "delivery.retry_count",
		"REMINDBOT_LOGGING__FILE__ENABLED":  "logging.file.enabled",
		"REMINDBOT_SCHEDULER__MATCH_WINDOW": "scheduler.match_window",
	}
	for in, want := range cases {
		if got := envKey(in); got != want {
			t.Fatalf("envKey(%q) = %q want %q", in, got, want)
		}
	}
}

func validConfig() Config {
	return Config{
		Telegram: TelegramConfig{Token: "t"},
		Storage:  StorageConfig{Driver: "file", Path: "./data"},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	off := false
	cases := []struct {
		name string
		mut  func(c *Config)
		want string
	}{
		{"ok", func(c *Config) {}, ""},
		{"no token", func(c *Config) { c.Telegram.Token = " " }, "telegram.token"},
		{"bad duration", func(c *Config) { c.Scheduler.TickInterval = "soon" }, "scheduler.tick_interval"},
		{"negative duration", func(c *Config) { c.Delivery.RetryBackoff = "-1s" }, "delivery.retry_backoff"},
		{"bad zone", func(c *Config) { c.Scheduler.Timezone = "Mars/Base" }, "scheduler.timezone"},
		{"bad leap", func(c *Config) { c.Scheduler.LeapDay = "feb30" }, "scheduler.leap_day"},
		{"negative retry", func(c *Config) { c.Delivery.RetryCount = -1 }, "delivery.retry_count"},
		{"no driver", func(c *Config) { c.Storage.Driver = "" }, "storage.driver"},
		{"none driver", func(c *Config) { c.Storage.Driver = "none" }, "storage.driver"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "cassandra" }, "unknown driver"},
		{"log chat missing", func(c *Config) { c.Logging.Telegram.Enabled = true }, "log_chat_id"},
		{"window without dedup", func(c *Config) {
			c.Scheduler.Dedup = &off
			c.Scheduler.TickInterval = "30s"
			c.Scheduler.MatchWindow = "30s"
		}, "shorter than"},
		{"narrow window without dedup", func(c *Config) {
			c.Scheduler.Dedup = &off
			c.Scheduler.TickInterval = "30s"
			c.Scheduler.MatchWindow = "10s"
		}, ""},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := validConfig()
			tc.mut(&c)
			err := c.Validate()
			if tc.want == "" {
				if err != nil {
					t.Fatalf("unexpected: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err %v, want %q", err, tc.want)
			}
			if !IsValidation(err) {
				t.Fatalf("want *ValidationError, got %T", err)
			}
		})
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	t.Parallel()
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("empty config must fail")
	}
	msg := err.Error()
	for _, want := range []string{"telegram.token", "storage.driver"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("%q missing from %q", want, msg)
		}
	}
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", sampleYAML)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	ctx := context.Background()

	if ok, err := m.Reload(ctx); err != nil || ok {
		t.Fatalf("unchanged reload: ok=%v err=%v", ok, err)
	}

	next := strings.Replace(sampleYAML, "tick_interval: 30s", "tick_interval: 20s", 1)
	if err := os.WriteFile(path, []byte(next), 0o600); err != nil {
		t.Fatal(err)
	}
	if ok, err := m.Reload(ctx); err != nil || !ok {
		t.Fatalf("changed reload: ok=%v err=%v", ok, err)
	}
	select {
	case cfg := <-ch:
		if cfg.Scheduler.TickInterval != "20s" {
			t.Fatalf("published %q", cfg.Scheduler.TickInterval)
		}
	default:
		t.Fatalf("nothing published")
	}

	bad := strings.Replace(next, "leap_day: mar1", "leap_day: never", 1)
	if err := os.WriteFile(path, []byte(bad), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Reload(ctx); err == nil {
		t.Fatalf("invalid reload accepted")
	}
	if m.Get().Scheduler.LeapDay != "mar1" {
		t.Fatalf("previous config not kept")
	}
	m.Unsubscribe(ch)
	if _, open := <-ch; open {
		t.Fatalf("channel should be closed")
	}
}

func TestReloadRunsValidator(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", sampleYAML)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	m.SetValidator(func(context.Context, *Config) error { return os.ErrPermission })
	next := strings.Replace(sampleYAML, "level: info", "level: debug", 1)
	if err := os.WriteFile(path, []byte(next), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Reload(context.Background()); err != os.ErrPermission {
		t.Fatalf("err %v", err)
	}
}

func TestWatchPicksUpWrites(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", sampleYAML)
	m := NewManager(path)
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	next := strings.Replace(sampleYAML, "level: info", "level: warn", 1)
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		// rewrite until the watcher is up and sees it
		if err := os.WriteFile(path, []byte(next), 0o600); err != nil {
			t.Fatal(err)
		}
		select {
		case cfg := <-ch:
			if cfg.Logging.Level != "warn" {
				t.Fatalf("level %q", cfg.Logging.Level)
			}
			return
		case <-tick.C:
		case <-deadline:
			t.Fatalf("no reload observed")
		}
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	a := validConfig()
	b := validConfig()
	b.Telegram.Token = "super-secret-token"
	b.Storage.DSN = "postgres://user:hunter2@db/remind"
	b.Delivery.Workers = 2

	changed, attrs, restart := SummarizeConfigChange(&a, &b)
	if strings.Join(changed, ",") != "telegram,delivery,storage" {
		t.Fatalf("changed %v", changed)
	}
	if strings.Join(restart, ",") != "telegram,storage" {
		t.Fatalf("restart %v", restart)
	}

	var buf bytes.Buffer
	zl := zerolog.New(&buf)
	ev := zl.Info()
	for _, f := range attrs {
		f(ev)
	}
	ev.Send()
	out := buf.String()
	if strings.Contains(out, "super-secret-token") || strings.Contains(out, "hunter2") {
		t.Fatalf("secret leaked: %s", out)
	}
	if !strings.Contains(out, `"telegram.token_changed":true`) {
		t.Fatalf("missing token flag: %s", out)
	}
}

func TestSummarizeNoChange(t *testing.T) {
	t.Parallel()
	a := validConfig()
	b := validConfig()
	changed, _, restart := SummarizeConfigChange(&a, &b)
	if len(changed) != 0 || len(restart) != 0 {
		t.Fatalf("changed %v restart %v", changed, restart)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"  ", 0, false},
		{"90s", 90 * time.Second, false},
		{"45", 45 * time.Second, false},
		{"1h30m", 90 * time.Minute, false},
		{"-5s", 0, true},
		{"-3", 0, true},
		{"soon", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("x", tc.raw)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%q: err %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("%q: got %v want %v", tc.raw, got, tc.want)
		}
	}
	if d, _ := ParseDurationOrDefault("x", "0s", time.Minute); d != time.Minute {
		t.Fatalf("zero should fall back to default, got %v", d)
	}
}

func TestToJSON(t *testing.T) {
	t.Parallel()
	out, format, err := toJSON("c.yml", []byte("a:\n  1: one\nb: [x, y]\n"))
	if err != nil || format != "yaml" {
		t.Fatalf("toJSON: %v %s", err, format)
	}
	if !strings.Contains(string(out), `"1":"one"`) {
		t.Fatalf("non-string key not converted: %s", out)
	}
	if out, _, err := toJSON("c.yaml", nil); err != nil || string(out) != "{}" {
		t.Fatalf("empty yaml: %s %v", out, err)
	}
	if _, _, err := toJSON("c.yaml", []byte("a: 1\n---\nb: 2\n")); err == nil {
		t.Fatalf("expected multi-document error")
	}
	if out, format, _ := toJSON("c.json", []byte(`{"a":1}`)); format != "json" || string(out) != `{"a":1}` {
		t.Fatalf("json passthrough: %s %s", out, format)
	}
}
