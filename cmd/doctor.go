package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/adhocore/gronx"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/relaycore/internal/config"
	"github.com/nextlevelbuilder/relaycore/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("relaycore doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	// Config
	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Database:")
	checkDatabase(cfg.Database)

	fmt.Println()
	fmt.Println("  Channels:")
	a := cfg.Channels.Assistant
	checkChannel("Assistant", a.Enabled, a.ApplicationID != "")
	m := cfg.Channels.Messenger
	checkChannel("Messenger", m.Enabled, m.PageToken != "" && m.VerifyToken != "")
	if m.Enabled && m.AppSecret == "" {
		fmt.Printf("    %-12s signature check disabled (RELAYCORE_MESSENGER_APP_SECRET not set)\n", "")
	}

	fmt.Println()
	fmt.Println("  Dispatch:")
	d := cfg.Dispatch
	fmt.Printf("    %-12s %d x %dms\n", "Retries:", d.MaxLockedAttempts, d.LockedAttemptsWaitMs)
	fmt.Printf("    %-12s %d\n", "Workers:", d.Workers)

	fmt.Println()
	fmt.Println("  Telemetry:")
	if cfg.Telemetry.Enabled {
		fmt.Printf("    %-12s %s (%s)\n", "Endpoint:", cfg.Telemetry.Endpoint, protocolOrDefault(cfg.Telemetry.Protocol))
	} else {
		fmt.Printf("    %-12s disabled\n", "Export:")
	}

	fmt.Println()
	fmt.Println("  Proactive jobs:")
	checkProactiveJobs(cfg.Proactive)

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkDatabase(db config.DatabaseConfig) {
	mode := db.Mode
	if mode == "" {
		mode = dbModeMemory
	}
	fmt.Printf("    %-12s %s\n", "Mode:", mode)
	switch mode {
	case dbModeFile:
		checkPath("Directory:", config.ExpandHome(db.FileDir))
	case dbModeSQLite:
		checkPath("File:", config.ExpandHome(db.SQLitePath))
	case dbModePostgres:
		if db.PostgresDSN == "" {
			fmt.Printf("    %-12s RELAYCORE_POSTGRES_DSN not set\n", "Status:")
			return
		}
		s, err := checkSchema(db.PostgresDSN)
		switch {
		case err != nil:
			fmt.Printf("    %-12s CHECK FAILED (%s)\n", "Schema:", err)
		case s.Dirty:
			fmt.Printf("    %-12s v%d (DIRTY, run: relaycore migrate force %d)\n", "Schema:", s.CurrentVersion, s.CurrentVersion-1)
		case s.Compatible:
			fmt.Printf("    %-12s v%d (up to date)\n", "Schema:", s.CurrentVersion)
		case s.CurrentVersion > s.RequiredVersion:
			fmt.Printf("    %-12s v%d (binary too old, requires v%d)\n", "Schema:", s.CurrentVersion, s.RequiredVersion)
		default:
			fmt.Printf("    %-12s v%d (upgrade needed, run: relaycore upgrade)\n", "Schema:", s.CurrentVersion)
		}
	}
}

func checkPath(label, path string) {
	if _, err := os.Stat(path); err != nil {
		fmt.Printf("    %-12s %s (will be created)\n", label, path)
	} else {
		fmt.Printf("    %-12s %s (OK)\n", label, path)
	}
}

func checkChannel(name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}

func checkProactiveJobs(jobs []config.ProactiveJob) {
	if len(jobs) == 0 {
		fmt.Println("    (none configured)")
		return
	}
	g := gronx.New()
	for _, j := range jobs {
		status := "OK"
		if !g.IsValid(j.Schedule) {
			status = "INVALID schedule"
		}
		fmt.Printf("    %-16s %-16s %s -> %s/%s\n", j.Name+":", j.Schedule, status, j.Channel, j.Recipient)
	}
}

func protocolOrDefault(p string) string {
	if p == "" {
		return "grpc"
	}
	return p
}
