package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sealkms/seal/internal/fullnode"
	"github.com/sealkms/seal/internal/master"
	"github.com/sealkms/seal/internal/monitoring"
	"github.com/sealkms/seal/internal/server"
	"github.com/sealkms/seal/internal/types"
	"github.com/sealkms/seal/pkg/lifecycle"
	"github.com/sealkms/seal/pkg/logger"
)

// Set via -ldflags "-X main.gitRevision=...".
var gitRevision = "dev"

func main() {
	var (
		configPath  string
		httpPort    int
		metricsPort int
	)
	flag.StringVar(&configPath, "config", "", "Path to the YAML server config (defaults to $CONFIG_PATH)")
	flag.IntVar(&httpPort, "http", 0, "Override the configured API port")
	flag.IntVar(&metricsPort, "metrics", 0, "Override the configured metrics port")
	flag.Parse()

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath == "" {
		fmt.Fprintln(os.Stderr, "missing -config and $CONFIG_PATH")
		os.Exit(2)
	}

	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	if httpPort != 0 {
		cfg.HTTPPort = httpPort
	}
	if metricsPort != 0 {
		cfg.MetricsPort = metricsPort
	}

	table, err := buildTable(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	defer table.Zeroize()

	node := fullnode.New(cfg.SuiRPCURL, cfg.DryRunTimeout())
	s := server.New(cfg, table, node, gitRevision)
	if err := s.SelfCheck(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := lifecycle.New()
	m.Add(server.NewService(fmt.Sprintf(":%d", cfg.HTTPPort), s))
	m.Add(monitoring.New(fmt.Sprintf(":%d", cfg.MetricsPort)))

	if err := m.StartAll(ctx); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	// SIGHUP reloads the config and swaps the client table in place.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			next, err := server.LoadConfig(configPath)
			if err != nil {
				logger.ErrorJ("config_reload", map[string]any{"result": "error", "err": err.Error()})
				continue
			}
			nextTable, err := buildTable(next)
			if err != nil {
				logger.ErrorJ("config_reload", map[string]any{"result": "error", "err": err.Error()})
				continue
			}
			table.Swap(nextTable)
			logger.InfoJ("config_reload", map[string]any{"result": "ok", "clients": len(table.Clients())})
		}
	}()

	logger.InfoJ("seal_server_up", map[string]any{
		"mode":     string(cfg.ServerMode),
		"revision": gitRevision,
		"clients":  len(table.Clients()),
	})
	<-ctx.Done()
	_ = m.StopAll(context.Background())
}

// buildTable loads master key material from the environment per the
// configured mode. Open mode reads MASTER_KEY; Permissioned mode reads
// MASTER_SEED when any client derives, plus per-client env vars.
func buildTable(cfg *server.Config) (*master.Table, error) {
	switch cfg.ServerMode {
	case server.ModeOpen:
		raw := os.Getenv("MASTER_KEY")
		if raw == "" {
			return nil, fmt.Errorf("$MASTER_KEY unset")
		}
		oid, err := types.ObjectIDFromHex(cfg.KeyServerObjectID)
		if err != nil {
			return nil, err
		}
		return master.NewOpen(raw, oid)
	case server.ModePermissioned:
		cfgs, err := cfg.MasterClientConfigs()
		if err != nil {
			return nil, err
		}
		var seed []byte
		if raw := os.Getenv("MASTER_SEED"); raw != "" {
			seed, err = hex.DecodeString(raw)
			if err != nil {
				return nil, fmt.Errorf("$MASTER_SEED: %w", err)
			}
		}
		return master.NewPermissioned(cfgs, seed, nil)
	default:
		return nil, fmt.Errorf("unknown server_mode %q", cfg.ServerMode)
	}
}
