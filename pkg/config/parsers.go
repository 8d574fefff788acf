package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// holds parsed command-line flag values and which were set
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// holds the results of applying environment overrides
type EnvResult struct {
	SigningKeys map[string]struct{}
	EnvUsed     bool
}

// holds the result of LoadEffectiveConfig
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	Source string // "flags", "config", or "env"
}

// ParseConfigFlags parses os.Args. Only three values can be passed as flags.
func ParseConfigFlags() Flags {
	f, err := ParseConfigFlagsFrom(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	return f
}

// ParseConfigFlagsFrom parses args on a private flag set.
func ParseConfigFlagsFrom(args []string) (Flags, error) {
	fset := flag.NewFlagSet("skillswap", flag.ContinueOnError)
	addrPtr := fset.String("addr", ":8080", "HTTP listen address")
	dbPtr := fset.String("db", "./.database", "Pebble DB path")
	cfgPtr := fset.String("config", "./config.yaml", "Path to config file")
	if err := fset.Parse(args); err != nil {
		return Flags{}, err
	}

	// record which flags were set explicitly
	setFlags := make(map[string]bool)
	fset.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	return Flags{Addr: *addrPtr, DB: *dbPtr, Config: *cfgPtr, Set: setFlags}, nil
}

// loads config from file, returns config, found bool, and error
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := LoadConfigFile(cfgPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

func parseList(v string) []string {
	if v == "" {
		return nil
	}
	parts := []string{}
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}

func parseBool(v string, def bool) bool {
	if v == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func parseSizeBytes(v string) SizeBytes {
	if strings.TrimSpace(v) == "" {
		return SizeBytes(0)
	}
	if u, err := humanize.ParseBytes(v); err == nil {
		return SizeBytes(u)
	}
	if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
		return SizeBytes(i)
	}
	return SizeBytes(0)
}

func parseDuration(v string) Duration {
	if strings.TrimSpace(v) == "" {
		return Duration(0)
	}
	if td, err := time.ParseDuration(v); err == nil {
		return Duration(td)
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second)))
	}
	return Duration(0)
}

// ParseConfigEnvs loads SKILLSWAP_* variables into a new Config.
func ParseConfigEnvs() (*Config, EnvResult) {
	envs := map[string]string{
		"ADDR":             os.Getenv("SKILLSWAP_ADDR"),
		"SERVER_ADDRESS":   os.Getenv("SKILLSWAP_SERVER_ADDRESS"),
		"SERVER_PORT":      os.Getenv("SKILLSWAP_SERVER_PORT"),
		"DB_PATH":          os.Getenv("SKILLSWAP_DB_PATH"),
		"CORS_ORIGINS":     os.Getenv("SKILLSWAP_CORS_ORIGINS"),
		"RATE_RPS":         os.Getenv("SKILLSWAP_RATE_RPS"),
		"RATE_BURST":       os.Getenv("SKILLSWAP_RATE_BURST"),
		"IP_WHITELIST":     os.Getenv("SKILLSWAP_IP_WHITELIST"),
		"SIGNING_KEYS":     os.Getenv("SKILLSWAP_SIGNING_KEYS"),
		"MAX_REQUEST_BODY": os.Getenv("SKILLSWAP_MAX_REQUEST_BODY"),

		// broker
		"BROKER_MODE":            os.Getenv("SKILLSWAP_BROKER_MODE"),
		"BROKER_ADDR":            os.Getenv("SKILLSWAP_BROKER_ADDR"),
		"BROKER_PASSWORD":        os.Getenv("SKILLSWAP_BROKER_PASSWORD"),
		"BROKER_DB":              os.Getenv("SKILLSWAP_BROKER_DB"),
		"BROKER_CHANNEL_PREFIX":  os.Getenv("SKILLSWAP_BROKER_CHANNEL_PREFIX"),
		"BROKER_PUBLISH_TIMEOUT": os.Getenv("SKILLSWAP_BROKER_PUBLISH_TIMEOUT"),
		"BROKER_PROBE_INTERVAL":  os.Getenv("SKILLSWAP_BROKER_PROBE_INTERVAL"),

		// gateway
		"GATEWAY_WRITE_WAIT":     os.Getenv("SKILLSWAP_GATEWAY_WRITE_WAIT"),
		"GATEWAY_PONG_WAIT":      os.Getenv("SKILLSWAP_GATEWAY_PONG_WAIT"),
		"GATEWAY_SEND_BUFFER":    os.Getenv("SKILLSWAP_GATEWAY_SEND_BUFFER"),
		"GATEWAY_MAX_FRAME_SIZE": os.Getenv("SKILLSWAP_GATEWAY_MAX_FRAME_SIZE"),
		"GATEWAY_EVENT_RPS":      os.Getenv("SKILLSWAP_GATEWAY_EVENT_RPS"),
		"GATEWAY_EVENT_BURST":    os.Getenv("SKILLSWAP_GATEWAY_EVENT_BURST"),

		// retention of declined connections
		"RETENTION_ENABLED":  os.Getenv("SKILLSWAP_RETENTION_ENABLED"),
		"RETENTION_CRON":     os.Getenv("SKILLSWAP_RETENTION_CRON"),
		"RETENTION_PERIOD":   os.Getenv("SKILLSWAP_RETENTION_PERIOD"),
		"RETENTION_DRY_RUN":  os.Getenv("SKILLSWAP_RETENTION_DRY_RUN"),
		"RETENTION_LOCK_TTL": os.Getenv("SKILLSWAP_RETENTION_LOCK_TTL"),

		// logging
		"LOG_LEVEL":  os.Getenv("SKILLSWAP_LOG_LEVEL"),
		"LOG_FORMAT": os.Getenv("SKILLSWAP_LOG_FORMAT"),
		"LOG_AUDIT":  os.Getenv("SKILLSWAP_LOG_AUDIT"),
	}

	envUsed := false
	for _, v := range envs {
		if v != "" {
			envUsed = true
			break
		}
	}
	envCfg := &Config{}

	if v := envs["ADDR"]; v != "" {
		if h, p, err := net.SplitHostPort(v); err == nil {
			envCfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				envCfg.Server.Port = pi
			}
		} else {
			envCfg.Server.Address = v
		}
	} else {
		if host := envs["SERVER_ADDRESS"]; host != "" {
			envCfg.Server.Address = host
		}
		if port := envs["SERVER_PORT"]; port != "" {
			if pi, err := strconv.Atoi(port); err == nil {
				envCfg.Server.Port = pi
			}
		}
	}
	if v := envs["DB_PATH"]; v != "" {
		envCfg.Server.DBPath = v
	}
	if v := envs["CORS_ORIGINS"]; v != "" {
		envCfg.Server.CORS.AllowedOrigins = parseList(v)
	}
	if v := envs["RATE_RPS"]; v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envCfg.Server.RateLimit.RPS = f
		}
	}
	if v := envs["RATE_BURST"]; v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envCfg.Server.RateLimit.Burst = n
		}
	}
	if v := envs["IP_WHITELIST"]; v != "" {
		envCfg.Server.IPWhitelist = parseList(v)
	}
	if v := envs["SIGNING_KEYS"]; v != "" {
		envCfg.Server.SigningKeys = parseList(v)
	}
	if v := envs["MAX_REQUEST_BODY"]; v != "" {
		envCfg.Server.MaxRequestBody = parseSizeBytes(v)
	}

	if v := envs["BROKER_MODE"]; v != "" {
		envCfg.Broker.Mode = strings.ToLower(strings.TrimSpace(v))
	}
	if v := envs["BROKER_ADDR"]; v != "" {
		envCfg.Broker.Addr = v
	}
	if v := envs["BROKER_PASSWORD"]; v != "" {
		envCfg.Broker.Password = v
	}
	if v := envs["BROKER_DB"]; v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envCfg.Broker.DB = n
		}
	}
	if v := envs["BROKER_CHANNEL_PREFIX"]; v != "" {
		envCfg.Broker.ChannelPrefix = v
	}
	if v := envs["BROKER_PUBLISH_TIMEOUT"]; v != "" {
		envCfg.Broker.PublishTimeout = parseDuration(v)
	}
	if v := envs["BROKER_PROBE_INTERVAL"]; v != "" {
		envCfg.Broker.ProbeInterval = parseDuration(v)
	}

	if v := envs["GATEWAY_WRITE_WAIT"]; v != "" {
		envCfg.Gateway.WriteWait = parseDuration(v)
	}
	if v := envs["GATEWAY_PONG_WAIT"]; v != "" {
		envCfg.Gateway.PongWait = parseDuration(v)
	}
	if v := envs["GATEWAY_SEND_BUFFER"]; v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envCfg.Gateway.SendBuffer = n
		}
	}
	if v := envs["GATEWAY_MAX_FRAME_SIZE"]; v != "" {
		envCfg.Gateway.MaxFrameSize = parseSizeBytes(v)
	}
	if v := envs["GATEWAY_EVENT_RPS"]; v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envCfg.Gateway.EventRPS = f
		}
	}
	if v := envs["GATEWAY_EVENT_BURST"]; v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envCfg.Gateway.EventBurst = n
		}
	}

	if v := envs["RETENTION_ENABLED"]; v != "" {
		envCfg.Retention.Enabled = parseBool(v, false)
	}
	if v := envs["RETENTION_CRON"]; v != "" {
		envCfg.Retention.Cron = v
	}
	if v := envs["RETENTION_PERIOD"]; v != "" {
		envCfg.Retention.Period = v
	}
	if v := envs["RETENTION_DRY_RUN"]; v != "" {
		envCfg.Retention.DryRun = parseBool(v, false)
	}
	if v := envs["RETENTION_LOCK_TTL"]; v != "" {
		envCfg.Retention.LockTTL = parseDuration(v)
	}

	if v := envs["LOG_LEVEL"]; v != "" {
		envCfg.Logging.Level = strings.TrimSpace(v)
	}
	if v := envs["LOG_FORMAT"]; v != "" {
		envCfg.Logging.Format = strings.TrimSpace(v)
	}
	if v := envs["LOG_AUDIT"]; v != "" {
		envCfg.Logging.Audit = parseBool(v, false)
	}

	signingKeys := make(map[string]struct{})
	for _, k := range envCfg.Server.SigningKeys {
		signingKeys[k] = struct{}{}
	}
	return envCfg, EnvResult{SigningKeys: signingKeys, EnvUsed: envUsed}
}

// LoadEffectiveConfig decides which single source to use (flags, config file,
// or env) and returns the effective config plus resolved addr and dbPath. If
// --config is set only the config file is used; otherwise flags if set; else
// the config file if present; else env.
func LoadEffectiveConfig(flags Flags, fileCfg *Config, fileExists bool, envCfg *Config, envRes EnvResult) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult

	if flags.Set["config"] {
		if !fileExists {
			return res, fmt.Errorf("config file %s not found", flags.Config)
		}
		res.Config = fileCfg
		res.Addr = fileCfg.Addr()
		res.DBPath = fileCfg.Server.DBPath
		res.Source = "config"
		return res, nil
	}

	if flags.Set["addr"] || flags.Set["db"] {
		addr := flags.Addr
		if !flags.Set["addr"] {
			if envRes.EnvUsed {
				addr = envCfg.Addr()
			} else {
				addr = fileCfg.Addr()
			}
		}
		dbPath := flags.DB
		if !flags.Set["db"] {
			if p := strings.TrimSpace(envCfg.Server.DBPath); p != "" {
				dbPath = p
			} else if p := strings.TrimSpace(fileCfg.Server.DBPath); p != "" {
				dbPath = p
			}
		}
		out := &Config{}
		out.Server.Address, out.Server.Port = splitAddr(addr)
		out.Server.DBPath = dbPath
		res.Config = out
		res.Addr = addr
		res.DBPath = dbPath
		res.Source = "flags"
		return res, nil
	}

	if fileExists {
		res.Config = fileCfg
		res.Addr = fileCfg.Addr()
		res.DBPath = fileCfg.Server.DBPath
		res.Source = "config"
		return res, nil
	}
	res.Config = envCfg
	res.Addr = envCfg.Addr()
	res.DBPath = envCfg.Server.DBPath
	if res.DBPath == "" {
		res.DBPath = flags.DB
		envCfg.Server.DBPath = flags.DB
	}
	res.Source = "env"
	return res, nil
}

// splits host:port; a bare ":8080" yields an empty host
func splitAddr(a string) (string, int) {
	if a == "" {
		return "", 0
	}
	h, p, err := net.SplitHostPort(a)
	if err != nil {
		return a, 0
	}
	pi, err := strconv.Atoi(p)
	if err != nil {
		return h, 0
	}
	return h, pi
}
