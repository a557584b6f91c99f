package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces environment overrides. A double underscore separates
// sections: REMINDBOT_TELEGRAM__TOKEN sets telegram.token and
// REMINDBOT_SCHEDULER__TICK_INTERVAL sets scheduler.tick_interval.
const EnvPrefix = "REMINDBOT_"

// Legacy deployment variables, applied below the REMINDBOT_ ones.
const (
	envLegacyToken = "BOT_TOKEN"
	envLegacyPort  = "PORT"
)

// overlayEnv layers environment variables over cfg, lowest first: the file,
// then BOT_TOKEN and PORT, then REMINDBOT_* keys.
func overlayEnv(cfg *Config) (*Config, error) {
	k := koanf.New(".")

	base, err := toMap(cfg)
	if err != nil {
		return nil, err
	}
	if err := k.Load(confmap.Provider(base, ""), nil); err != nil {
		return nil, fmt.Errorf("config: load file values: %w", err)
	}

	legacy := map[string]any{}
	if v := strings.TrimSpace(os.Getenv(envLegacyToken)); v != "" {
		legacy["telegram.token"] = v
	}
	if v := strings.TrimSpace(os.Getenv(envLegacyPort)); v != "" {
		legacy["health.addr"] = ":" + v
		legacy["health.enabled"] = true
	}
	if len(legacy) > 0 {
		if err := k.Load(confmap.Provider(legacy, "."), nil); err != nil {
			return nil, fmt.Errorf("config: load legacy env: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	var out Config
	if err := k.UnmarshalWithConf("", &out, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("config: apply env: %w", err)
	}
	return &out, nil
}

// envKey maps REMINDBOT_DELIVERY__RETRY_COUNT to delivery.retry_count.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// toMap turns cfg into nested maps. Numbers stay json.Number so large chat
// ids survive the trip.
func toMap(cfg *Config) (map[string]any, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}
