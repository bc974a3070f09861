package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Sod3n/Determenistic.GameFramework/internal/config"
	"github.com/Sod3n/Determenistic.GameFramework/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:           "server",
	Short:         "Run the deterministic match server",
	Long:          `Hosts matches over websocket, ticks them on one loop and records every flushed batch for replay.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServer,
}

func init() {
	f := rootCmd.Flags()
	f.String("config", "", "path to server.yaml (optional; DAR_* env vars override it)")
	f.String("listen", "", "http listen address")
	f.String("data", "", "runtime data directory")
	f.Bool("relay-only", false, "relay batches without simulating them")
	f.Bool("validate", false, "run a shadow instance per match and report divergences")
	f.Bool("disable-db", false, "disable the sqlite index")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	path, _ := f.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if f.Changed("listen") {
		cfg.Listen, _ = f.GetString("listen")
	}
	if f.Changed("data") {
		prev := filepath.Join(cfg.DataDir, "index", "index.sqlite")
		cfg.DataDir, _ = f.GetString("data")
		if cfg.IndexDB.Path == prev {
			cfg.IndexDB.Path = ""
		}
	}
	if f.Changed("relay-only") {
		cfg.RelayOnly, _ = f.GetBool("relay-only")
	}
	if f.Changed("validate") {
		cfg.Validation.Enabled, _ = f.GetBool("validate")
	}
	if f.Changed("disable-db") {
		cfg.IndexDB.Disabled, _ = f.GetBool("disable-db")
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, _ := logging.ParseLevel(cfg.Log.Level)
	log := logging.New(os.Stderr, level, cfg.Log.Format)

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		a.shutdown()
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.serve(ctx, ln)
}
