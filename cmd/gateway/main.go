// Package main provides the entry point for the gateway HTTP server.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/narvanalabs/agent-gateway/internal/agent"
	"github.com/narvanalabs/agent-gateway/internal/api"
	"github.com/narvanalabs/agent-gateway/internal/auth"
	"github.com/narvanalabs/agent-gateway/internal/journal"
	"github.com/narvanalabs/agent-gateway/internal/poll"
	"github.com/narvanalabs/agent-gateway/internal/secretfile"
	"github.com/narvanalabs/agent-gateway/internal/tools"
	"github.com/narvanalabs/agent-gateway/pkg/config"
	"github.com/narvanalabs/agent-gateway/pkg/logger"
)

// purgeInterval is how often the journal retention sweep runs.
const purgeInterval = time.Hour

func main() {
	// Initialize logger
	log := logger.New(slog.LevelInfo, true)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Merge the encrypted credentials file, if one is configured.
	// Explicit environment values win over file values.
	if cfg.CredentialsFile != "" {
		svc, err := secretfile.NewService(cfg.AgeIdentity, log.Logger)
		if err != nil {
			log.Error("failed to initialize credentials file service", "error", err)
			os.Exit(1)
		}
		creds, err := svc.Load(ctx, cfg.CredentialsFile)
		if err != nil {
			log.Error("failed to load credentials file", "error", err, "path", cfg.CredentialsFile)
			os.Exit(1)
		}
		creds.MergeInto(cfg)
	}

	// Resolve the token sealing key. This is the only fatal credential
	// path; everything after it degrades per call, not per process.
	material, err := auth.NewKeyProvider(cfg.TokenSecret).Secret()
	if err != nil {
		log.Error("failed to resolve token sealing key", "error", err)
		os.Exit(1)
	}
	if material.Provenance() == auth.SecretEphemeral {
		log.Warn("no token secret configured, sealing with an ephemeral key; minted tokens will not survive a restart")
	}

	codec, err := auth.NewTokenCodec(material)
	if err != nil {
		log.Error("failed to initialize token codec", "error", err)
		os.Exit(1)
	}
	resolver := auth.NewResolver(codec, auth.ResolverConfig{DefaultKey: cfg.AgentAPIKey})

	// Initialize the upstream client and the task watcher.
	client := agent.New(agent.ClientConfig{
		BaseURL: cfg.AgentBaseURL,
		Timeout: cfg.AgentTimeout,
	}, log.Logger)
	watcher := poll.New(poll.Config{
		Interval:    cfg.Poll.Interval,
		MaxInterval: cfg.Poll.MaxInterval,
		Timeout:     cfg.Poll.Timeout,
	}, log.Logger)

	// Open the invocation journal. A "none" driver yields a nil store
	// and the gateway runs without history.
	store, err := journal.Open(cfg.Journal, log.Logger)
	if err != nil {
		log.Error("failed to open invocation journal", "error", err, "driver", cfg.Journal.Driver)
		os.Exit(1)
	}
	if store != nil {
		defer store.Close()
	}

	registry := tools.NewRegistry(watcher, store, log.Logger)

	server := api.NewServer(cfg, api.Deps{
		Client:   client,
		Resolver: resolver,
		Codec:    codec,
		Registry: registry,
		Watcher:  watcher,
		Journal:  store,
	}, log.Logger)

	log.Info("starting gateway",
		"addr", cfg.ListenAddr(),
		"upstream", cfg.AgentBaseURL,
		"journal_driver", cfg.Journal.Driver,
		"default_credential", cfg.AgentAPIKey != "",
		"secret_provenance", material.Provenance(),
	)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Start(ctx)
	})
	if store != nil && cfg.Journal.Retention > 0 {
		group.Go(func() error {
			return runPurgeLoop(ctx, store, cfg.Journal.Retention, log.Logger)
		})
	}

	if err := group.Wait(); err != nil {
		log.Error("gateway error", "error", err)
		os.Exit(1)
	}
	log.Info("gateway stopped")
}

// runPurgeLoop deletes journal rows older than the retention window on a
// fixed cadence until the context is cancelled.
func runPurgeLoop(ctx context.Context, store journal.Store, retention time.Duration, log *slog.Logger) error {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			purged, err := store.Purge(ctx, time.Now().Add(-retention))
			if err != nil {
				log.Warn("journal purge failed", "error", err)
				continue
			}
			if purged > 0 {
				log.Info("journal purged", "rows", purged, "retention", retention)
			}
		}
	}
}
