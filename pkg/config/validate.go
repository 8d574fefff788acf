package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// ValidateConfig sets defaults and fails fast on values the service cannot run with.
func ValidateConfig(eff EffectiveConfigResult) error {
	cfg := eff.Config
	if cfg == nil {
		return fmt.Errorf("effective config is nil")
	}
	if p := eff.DBPath; p == "" {
		return fmt.Errorf("database path is empty: set --db flag, SKILLSWAP_DB_PATH env, or server.db_path in config")
	}
	cfg.ApplyDefaults()

	switch cfg.Broker.Mode {
	case BrokerModeRedis:
		if strings.TrimSpace(cfg.Broker.Addr) == "" {
			return fmt.Errorf("broker.mode is redis but broker.addr is empty")
		}
	case BrokerModeMemory:
	default:
		return fmt.Errorf("invalid broker.mode %q: expected redis or memory", cfg.Broker.Mode)
	}
	if strings.Contains(cfg.Broker.ChannelPrefix, ":") {
		return fmt.Errorf("broker.channel_prefix must not contain ':'")
	}

	if cfg.Gateway.PongWait.Duration() <= time.Second {
		return fmt.Errorf("gateway.pong_wait must be longer than 1s")
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging.format %q: expected text or json", cfg.Logging.Format)
	}

	ret := cfg.Retention
	if ret.Enabled {
		if !gronx.New().IsValid(ret.Cron) {
			return fmt.Errorf("invalid retention.cron: not a valid cron expression")
		}
		if _, err := ParseRetentionPeriod(ret.Period); err != nil {
			return fmt.Errorf("invalid retention.period: %w", err)
		}
	}
	return nil
}

// ParseRetentionPeriod supports day suffixes ("30d") and Go durations ("24h").
// Empty means 30 days.
func ParseRetentionPeriod(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 30 * 24 * time.Hour, nil
	}
	var d time.Duration
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid days retention %q", s)
		}
		d = time.Duration(n) * 24 * time.Hour
	} else {
		var err error
		d, err = time.ParseDuration(s)
		if err != nil {
			return 0, err
		}
	}
	if d <= 0 {
		return 0, fmt.Errorf("retention period must be positive, got %q", s)
	}
	return d, nil
}
