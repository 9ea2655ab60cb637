// Package main provides the pipe transport binary. It serves the same
// tools as the HTTP gateway over stdin/stdout, one JSON line per
// request and response. Stdout belongs to the protocol, so all
// diagnostics go to stderr.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/narvanalabs/agent-gateway/internal/agent"
	"github.com/narvanalabs/agent-gateway/internal/auth"
	"github.com/narvanalabs/agent-gateway/internal/journal"
	"github.com/narvanalabs/agent-gateway/internal/poll"
	"github.com/narvanalabs/agent-gateway/internal/secretfile"
	"github.com/narvanalabs/agent-gateway/internal/stdio"
	"github.com/narvanalabs/agent-gateway/internal/tools"
	"github.com/narvanalabs/agent-gateway/pkg/config"
	"github.com/narvanalabs/agent-gateway/pkg/logger"
)

func main() {
	// Stdout carries protocol frames; diagnostics go to stderr.
	log := logger.NewWriter(os.Stderr, slog.LevelInfo, false)

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

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

	material, err := auth.NewKeyProvider(cfg.TokenSecret).Secret()
	if err != nil {
		log.Error("failed to resolve token sealing key", "error", err)
		os.Exit(1)
	}
	if material.Provenance() == auth.SecretEphemeral {
		log.Warn("no token secret configured, sealing with an ephemeral key; minted tokens will not survive this process")
	}

	codec, err := auth.NewTokenCodec(material)
	if err != nil {
		log.Error("failed to initialize token codec", "error", err)
		os.Exit(1)
	}
	resolver := auth.NewResolver(codec, auth.ResolverConfig{DefaultKey: cfg.AgentAPIKey})

	client := agent.New(agent.ClientConfig{
		BaseURL: cfg.AgentBaseURL,
		Timeout: cfg.AgentTimeout,
	}, log.Logger)
	watcher := poll.New(poll.Config{
		Interval:    cfg.Poll.Interval,
		MaxInterval: cfg.Poll.MaxInterval,
		Timeout:     cfg.Poll.Timeout,
	}, log.Logger)

	// The journal is shared with the HTTP gateway; retention purging is
	// the long-lived server's job, not this process's.
	store, err := journal.Open(cfg.Journal, log.Logger)
	if err != nil {
		log.Error("failed to open invocation journal", "error", err, "driver", cfg.Journal.Driver)
		os.Exit(1)
	}
	if store != nil {
		defer store.Close()
	}

	registry := tools.NewRegistry(watcher, store, log.Logger)

	srv := stdio.NewServer(stdio.Deps{
		Client:   client,
		Resolver: resolver,
		Codec:    codec,
		Registry: registry,
	}, cfg.TokenTTL, log.Logger)

	log.Info("serving gateway pipe",
		"upstream", cfg.AgentBaseURL,
		"journal_driver", cfg.Journal.Driver,
		"default_credential", cfg.AgentAPIKey != "",
		"secret_provenance", material.Provenance(),
	)

	// EOF on stdin is the shutdown path; signals terminate as usual.
	if err := srv.Serve(ctx); err != nil {
		log.Error("pipe server error", "error", err)
		os.Exit(1)
	}
	log.Info("pipe closed")
}
