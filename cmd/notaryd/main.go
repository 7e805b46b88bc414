// Package main is the entry point for notaryd. It opens the configured
// store, builds the notary ABCI application, serves it to Tendermint over a
// socket and publishes committed events on the feed.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"notary.mini/notary/internal/abci"
	"notary.mini/notary/internal/config"
	"notary.mini/notary/internal/feed"
	"notary.mini/notary/internal/kvstore"
	"notary.mini/notary/internal/notary"
	"notary.mini/notary/internal/tendermint"
	"notary.mini/notary/internal/types"
)

func main() {
	log.Printf("notaryd %s (%s) starting...", types.Version, types.BuildTime)

	cfg, err := config.LoadConfig(config.Path())
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.Backend, err)
	}
	defer store.Close()
	log.Printf("INFO: %s store initialized", cfg.Backend)

	var (
		broker *feed.Broker
		sink   notary.EventSink
	)
	if cfg.FeedEnabled() {
		broker = feed.NewBroker(256)
		sink = broker
	}

	app, err := abci.NewApplication(ctx, store, cfg.Params(), sink)
	if err != nil {
		log.Fatalf("Failed to build ABCI application: %v", err)
	}
	p := cfg.Params()
	log.Printf("INFO: Ledger params: scheme=%s algorithm=%s fingerprint=%dB metadata<=%dB sign_metadata=%t",
		p.SignatureScheme, p.FingerprintAlgorithm, p.FingerprintSize, p.MaxMetadataSize, p.SignMetadata)

	server, err := tendermint.NewABCIServer(app, &tendermint.Config{
		TendermintHome: cfg.TendermintHome,
		SocketAddress:  cfg.ABCISocket,
	})
	if err != nil {
		log.Fatalf("Failed to create ABCI server: %v", err)
	}
	if err := server.Start(); err != nil {
		log.Fatalf("%v", err)
	}
	log.Printf("INFO: ABCI server listening on %s", server.SocketPath())

	var tmCmd *exec.Cmd
	if cfg.RunTendermint {
		tmCmd, err = startTendermint(cfg)
		if err != nil {
			log.Fatalf("Failed to start Tendermint: %v", err)
		}
	}

	var feedServer *feed.Server
	if broker != nil {
		feedServer = feed.NewServer(cfg.FeedAddr, broker, app.Contract())
		feedErrors := feedServer.Start()
		go func() {
			if err := <-feedErrors; err != nil {
				log.Fatalf("Event feed exited: %v", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	if feedServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := feedServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Warning: feed shutdown: %v", err)
		}
		cancel()
	}
	if tmCmd != nil && tmCmd.Process != nil {
		if err := tmCmd.Process.Signal(syscall.SIGTERM); err != nil {
			log.Printf("Warning: failed to stop Tendermint: %v", err)
		}
		_ = tmCmd.Wait()
	}
	if err := server.Stop(); err != nil {
		log.Printf("Warning: %v", err)
	}
	log.Printf("INFO: Stopped at height %d", app.LastHeight())
}

// openStore opens the storage backend selected by cfg.
func openStore(ctx context.Context, cfg *config.Config) (kvstore.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		log.Printf("Warning: memory backend selected, ledger state is lost on exit")
		return kvstore.NewMemory(), nil
	case config.BackendSQLite:
		return kvstore.NewSQLite(cfg.DBFile)
	case config.BackendPostgres:
		return kvstore.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.PostgresTable)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func startTendermint(cfg *config.Config) (*exec.Cmd, error) {
	home := cfg.TendermintHome
	if home == "" {
		home = tendermint.DefaultHome()
	}
	if err := tendermint.InitHome(home); err != nil {
		return nil, err
	}
	cmd, err := tendermint.NodeCommand(home, cfg.ABCISocket, cfg.TendermintRPC)
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start tendermint node: %w", err)
	}
	log.Printf("INFO: Tendermint node started (pid %d, home %s)", cmd.Process.Pid, home)
	return cmd, nil
}
