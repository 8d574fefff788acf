package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort           = 8080
	defaultRateRPS        = 100
	defaultRateBurst      = 200
	defaultMaxRequestBody = 1 * 1024 * 1024 // 1 MiB

	// broker defaults
	defaultBrokerMode     = BrokerModeMemory
	defaultBrokerAddr     = "127.0.0.1:6379"
	defaultChannelPrefix  = "chat"
	defaultPublishTimeout = 2 * time.Second
	defaultProbeInterval  = 5 * time.Second

	// gateway defaults
	defaultWriteWait    = 10 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultSendBuffer   = 256
	defaultMaxFrameSize = 64 * 1024
	defaultEventRPS     = 20
	defaultEventBurst   = 40

	// retention defaults
	defaultRetentionCron    = "0 3 * * *" // daily at 03:00
	defaultRetentionLockTTL = 5 * time.Minute
	defaultRetentionPeriod  = "30d"

	defaultLogLevel  = "info"
	defaultLogFormat = "text"
)

const (
	BrokerModeRedis  = "redis"
	BrokerModeMemory = "memory"
)

var (
	runtimeMu  sync.RWMutex
	runtimeCfg *RuntimeConfig
)

// SetRuntime sets the global runtime config.
func SetRuntime(rc *RuntimeConfig) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	runtimeCfg = rc
}

// GetSigningKeys returns a copy of signing keys.
func GetSigningKeys() map[string]struct{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	out := make(map[string]struct{})
	if runtimeCfg == nil || runtimeCfg.SigningKeys == nil {
		return out
	}
	for k := range runtimeCfg.SigningKeys {
		out[k] = struct{}{}
	}
	return out
}

// NewRuntime builds a RuntimeConfig from the effective config.
func NewRuntime(c *Config) *RuntimeConfig {
	rc := &RuntimeConfig{SigningKeys: map[string]struct{}{}}
	if c == nil {
		return rc
	}
	for _, k := range c.Server.SigningKeys {
		if k = strings.TrimSpace(k); k != "" {
			rc.SigningKeys[k] = struct{}{}
		}
	}
	return rc
}

// Addr returns the HTTP server address as host:port.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	port := c.Server.Port
	if port == 0 {
		port = defaultPort
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

// LoadConfigFile reads and parses a config file.
func LoadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyDefaults fills every unset value in place.
func (c *Config) ApplyDefaults() {
	if c.Server.RateLimit.RPS <= 0 {
		c.Server.RateLimit.RPS = defaultRateRPS
	}
	if c.Server.RateLimit.Burst <= 0 {
		c.Server.RateLimit.Burst = defaultRateBurst
	}
	if c.Server.MaxRequestBody <= 0 {
		c.Server.MaxRequestBody = SizeBytes(defaultMaxRequestBody)
	}

	b := &c.Broker
	b.Mode = strings.ToLower(strings.TrimSpace(b.Mode))
	if b.Mode == "" {
		b.Mode = defaultBrokerMode
	}
	if b.Addr == "" {
		b.Addr = defaultBrokerAddr
	}
	if b.ChannelPrefix == "" {
		b.ChannelPrefix = defaultChannelPrefix
	}
	if b.PublishTimeout.Duration() <= 0 {
		b.PublishTimeout = Duration(defaultPublishTimeout)
	}
	if b.ProbeInterval.Duration() <= 0 {
		b.ProbeInterval = Duration(defaultProbeInterval)
	}

	g := &c.Gateway
	if g.WriteWait.Duration() <= 0 {
		g.WriteWait = Duration(defaultWriteWait)
	}
	if g.PongWait.Duration() <= 0 {
		g.PongWait = Duration(defaultPongWait)
	}
	if g.SendBuffer <= 0 {
		g.SendBuffer = defaultSendBuffer
	}
	if g.MaxFrameSize <= 0 {
		g.MaxFrameSize = SizeBytes(defaultMaxFrameSize)
	}
	if g.EventRPS <= 0 {
		g.EventRPS = defaultEventRPS
	}
	if g.EventBurst <= 0 {
		g.EventBurst = defaultEventBurst
	}

	if c.Retention.Cron == "" {
		c.Retention.Cron = defaultRetentionCron
	}
	if c.Retention.Period == "" {
		c.Retention.Period = defaultRetentionPeriod
	}
	if c.Retention.LockTTL.Duration() <= 0 {
		c.Retention.LockTTL = Duration(defaultRetentionLockTTL)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
}

// ResolveConfigPath returns the config file path, preferring flag, then env.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("SKILLSWAP_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
