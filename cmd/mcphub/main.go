package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/mcphub/internal/admission"
	"github.com/mattjoyce/mcphub/internal/api"
	"github.com/mattjoyce/mcphub/internal/config"
	"github.com/mattjoyce/mcphub/internal/doctor"
	"github.com/mattjoyce/mcphub/internal/events"
	"github.com/mattjoyce/mcphub/internal/lock"
	"github.com/mattjoyce/mcphub/internal/log"
	"github.com/mattjoyce/mcphub/internal/metrics"
	"github.com/mattjoyce/mcphub/internal/orchestrator"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "start":
		os.Exit(runStart(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "servers":
		os.Exit(runServers(args))
	case "version":
		fmt.Printf("mcphub version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `mcphub - supervisor for stdio tool servers

Usage:
  mcphub <command> [flags]

Commands:
  start             Start the orchestrator (and API when enabled) in foreground
  config check      Validate configuration, directories, and commands
  servers           List declared servers in auto-start order
  version           Show version information
  help              Show this help message

Flags:
  --config PATH     Configuration file or directory (default: $MCPHUB_CONFIG,
                    ./mcphub.yaml, ~/.config/mcphub/mcphub.yaml)
`)
}

func runConfigNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		fmt.Println("Usage: mcphub config check [--config PATH] [--format human|json] [--strict]")
		if len(args) < 1 {
			return 1
		}
		return 0
	}

	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

// resolveConfig loads --config or the discovered default.
func resolveConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			return nil, fmt.Errorf("discover config: %w", err)
		}
		configPath = discovered
	}
	return config.Load(configPath)
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := resolveConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("mcphub starting", "version", version, "config", cfg.SourcePath, "fingerprint", cfg.Fingerprint())

	pidLockPath := lock.PathFor(cfg.Service.StateDir)
	pidLock, err := lock.Acquire(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	hub := events.NewHub(256)
	prom := metrics.NewPrometheus("mcphub")
	orch := orchestrator.New(cfg, orchestrator.WithCollector(prom), orchestrator.WithHub(hub))

	if err := orch.Initialize(ctx); err != nil {
		logger.Error("orchestrator initialization failed", "error", err)
		return 1
	}
	st := orch.Status()
	logger.Info("orchestrator ready", "servers", st.Total, "running", st.RunningCount)

	limiter := admission.NewRateLimiter(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)
	mw := admission.NewMiddleware(limiter, admission.WithCollector(prom))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		limiter.Run(gctx, cfg.RateLimit.CleanupInterval)
		return nil
	})

	loaded := cfg.Fingerprint()
	watcher, err := config.NewWatcher(cfg, func(fp string) {
		logger.Warn("configuration changed on disk, restart to apply", "loaded", loaded, "on_disk", fp)
		hub.Publish(events.TypeConfigChanged, "", map[string]string{"loaded": loaded, "on_disk": fp})
	}, config.WithWatchLogger(log.WithComponent("config")))
	if err != nil {
		logger.Warn("config watcher disabled", "error", err)
	} else {
		g.Go(func() error {
			if err := watcher.Run(gctx); err != nil {
				logger.Warn("config watcher stopped", "error", err)
			}
			return nil
		})
	}

	if cfg.API.Enabled {
		apiServer := api.New(api.Config{Listen: cfg.API.Listen, TrustProxy: cfg.API.TrustProxy}, orch, mw, hub, prom.Handler(), log.WithComponent("api"))
		g.Go(func() error {
			if err := apiServer.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	notifySystemd(logger, daemon.SdNotifyReady)
	logger.Info("mcphub running (press Ctrl+C to stop)")

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case <-gctx.Done():
	}
	cancel()
	if err := g.Wait(); err != nil {
		logger.Error("component failed", "error", err)
		exitCode = 1
	}

	notifySystemd(logger, daemon.SdNotifyStopping)
	shutdownTimeout := cfg.Orchestrator.StopGracePeriod + 10*time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown finished with errors", "error", err)
	}

	logger.Info("mcphub stopped")
	return exitCode
}

// notifySystemd reports state to systemd when running as a Type=notify unit.
func notifySystemd(logger *slog.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logger.Warn("sd_notify failed", "state", state, "error", err)
		return
	}
	if sent {
		logger.Debug("sd_notify sent", "state", state)
	}
}

func runConfigCheck(args []string) int {
	var configPath, format string
	var strict bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := resolveConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

type serverRow struct {
	Name      string `json:"name"`
	Priority  string `json:"priority"`
	AutoStart bool   `json:"auto_start"`
	Runtime   string `json:"runtime,omitempty"`
	Dir       string `json:"dir"`
	Command   string `json:"command"`
}

func runServers(args []string) int {
	var configPath string
	var jsonOut bool

	fs := flag.NewFlagSet("servers", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&jsonOut, "json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := resolveConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	servers := cfg.OrderedServers()
	sort.SliceStable(servers, func(i, j int) bool {
		if servers[i].AutoStart != servers[j].AutoStart {
			return servers[i].AutoStart
		}
		return servers[i].Priority.Rank() < servers[j].Priority.Rank()
	})

	rows := make([]serverRow, 0, len(servers))
	for _, srv := range servers {
		rows = append(rows, serverRow{
			Name:      srv.Name,
			Priority:  string(srv.Priority),
			AutoStart: srv.AutoStart,
			Runtime:   srv.Runtime,
			Dir:       cfg.ServerDir(srv.Name),
			Command:   strings.Join(srv.Command, " "),
		})
	}

	if jsonOut {
		out, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(string(out))
		return 0
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPRIORITY\tAUTO-START\tRUNTIME\tCOMMAND")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", r.Name, r.Priority, r.AutoStart, r.Runtime, r.Command)
	}
	_ = tw.Flush()
	return 0
}
