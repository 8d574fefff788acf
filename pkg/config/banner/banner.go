package banner

import (
	"fmt"

	"github.com/iam-i-j-k/backend/pkg/config"
)

const banner = `
███████╗██╗  ██╗██╗██╗     ██╗     ███████╗██╗    ██╗ █████╗ ██████╗ 
██╔════╝██║ ██╔╝██║██║     ██║     ██╔════╝██║    ██║██╔══██╗██╔══██╗
███████╗█████╔╝ ██║██║     ██║     ███████╗██║ █╗ ██║███████║██████╔╝
╚════██║██╔═██╗ ██║██║     ██║     ╚════██║██║███╗██║██╔══██║██╔═══╝ 
███████║██║  ██╗██║███████╗███████╗███████║╚███╔███╔╝██║  ██║██║     
╚══════╝╚═╝  ╚═╝╚═╝╚══════╝╚══════╝╚══════╝ ╚══╝╚══╝ ╚═╝  ╚═╝╚═╝     
`

// PrintWithEff prints the banner with the effective config summary.
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	var addr = eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	var src = eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", eff.DBPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config:   %s\n", src)

	fmt.Println("\n== Production? =================================================")
	if eff.Config == nil {
		return
	}
	cfg := eff.Config

	if n := len(cfg.Server.SigningKeys); n > 0 {
		fmt.Printf("- Signing keys: OK (%d)\n", n)
	} else {
		fmt.Println("- Signing keys: MISSING (user identity headers are trusted unsigned)")
	}

	switch cfg.Broker.Mode {
	case config.BrokerModeRedis:
		fmt.Printf("- Broker: redis (%s, prefix=%s)\n", cfg.Broker.Addr, cfg.Broker.ChannelPrefix)
	default:
		fmt.Println("- Broker: memory (single instance only)")
	}

	if len(cfg.Server.CORS.AllowedOrigins) > 0 {
		fmt.Printf("- CORS: %d origin(s)\n", len(cfg.Server.CORS.AllowedOrigins))
	} else {
		fmt.Println("- CORS: no origins allowed")
	}

	if cfg.Retention.Enabled {
		fmt.Printf("- Retention: enabled (cron=%s, period=%s, dry_run=%t)\n", cfg.Retention.Cron, cfg.Retention.Period, cfg.Retention.DryRun)
	} else {
		fmt.Println("- Retention: disabled")
	}
	fmt.Println()
}
