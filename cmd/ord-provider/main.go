/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/open-resource-discovery/provider-server/internal/auth"
	"github.com/open-resource-discovery/provider-server/internal/cache"
	"github.com/open-resource-discovery/provider-server/internal/config"
	"github.com/open-resource-discovery/provider-server/internal/docprocessor"
	"github.com/open-resource-discovery/provider-server/internal/docrepo"
	"github.com/open-resource-discovery/provider-server/internal/fetcher"
	"github.com/open-resource-discovery/provider-server/internal/httpapi"
	"github.com/open-resource-discovery/provider-server/internal/logging"
	"github.com/open-resource-discovery/provider-server/internal/metrics"
	"github.com/open-resource-discovery/provider-server/internal/scheduler"
	"github.com/open-resource-discovery/provider-server/internal/snapshot"
	"github.com/open-resource-discovery/provider-server/internal/updatestate"
	"github.com/open-resource-discovery/provider-server/internal/webhook"
)

// serverVersion is overridden at build time via -ldflags.
var serverVersion = "dev"

func main() {
	cmd := &cobra.Command{
		Use:               "ord-provider",
		Short:             "Serves Open Resource Discovery metadata over HTTP",
		SilenceUsage:      true,
		SilenceErrors:     true,
		DisableFlagParsing: true, // config.Load owns the flag set (pflag) and its env fallback
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cmd.SetContext(ctx)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	httpapi.ServerVersion = serverVersion

	store, err := snapshot.New(cfg.DataDir, cfg.DocumentsSubdirectory, log.WithName("snapshot"))
	if err != nil {
		return fmt.Errorf("initializing snapshot store: %w", err)
	}

	var ftr fetcher.Fetcher
	switch cfg.SourceType {
	case config.SourceGithub:
		switch cfg.GitBackend {
		case "native":
			ftr = fetcher.NewNativeClient(cfg.GithubRepo, cfg.GithubBranch, cfg.GithubToken, log.WithName("fetcher"))
		default:
			ftr = fetcher.NewGoGitClient(cfg.GithubRepo, cfg.GithubBranch, cfg.GithubToken, log.WithName("fetcher"))
		}
	case config.SourceLocal:
		ftr = fetcher.NewLocalClient(cfg.Directory, log.WithName("fetcher"))
	}

	state := updatestate.New(log.WithName("updatestate"))
	entries := cache.New(log.WithName("cache"))
	repo := docrepo.New(cfg.DocumentsSubdirectory, store.GetCurrentPath)

	procCtx := docprocessor.Context{
		BaseURL:               cfg.BaseURL,
		AuthMethods:           cfg.AuthMethods,
		DocumentsSubdirectory: cfg.DocumentsSubdirectory,
	}

	m := metrics.New()

	updateDelay := time.Duration(cfg.UpdateDelaySeconds) * time.Second
	sched := scheduler.New(store, ftr, state, entries, repo, procCtx, m, updateDelay, log.WithName("scheduler"))

	authn := buildAuthenticator(ctx, cfg, log.WithName("auth"))

	rcv := &webhook.Receiver{
		Scheduler:  sched,
		HMACSecret: cfg.WebhookSecret,
		Repository: cfg.GithubRepo,
		Branch:     cfg.GithubBranch,
		Log:        log.WithName("webhook"),
		Outcomes:   m.WebhookRequests,
	}

	router := httpapi.New(cfg, authn, state, repo, entries, sched, rcv, m, procCtx, log.WithName("http"))
	server := httpapi.NewServer(router, cfg.Host, cfg.Port, log.WithName("http"))

	if err := performInitialSync(ctx, store, sched); err != nil {
		log.Error(err, "initial sync failed; serving will wait on readiness until the next successful update")
	}

	go sched.Run(ctx)

	return server.Start(ctx)
}

// performInitialSync runs one synchronous update at startup if no snapshot
// has ever been swapped in, so the first request does not have to wait on
// the periodic poll interval.
func performInitialSync(ctx context.Context, store *snapshot.Store, sched *scheduler.Scheduler) error {
	if _, ok := store.GetCurrentVersion(); ok {
		return nil
	}
	return sched.ForceUpdate()
}

func buildAuthenticator(ctx context.Context, cfg *config.Config, log logr.Logger) *auth.Composer {
	var validators []auth.Validator
	for _, m := range cfg.AuthMethods {
		switch m {
		case config.AuthBasic:
			validators = append(validators, auth.NewBasicValidator(cfg.BasicAuthUsers))
		case config.AuthCFMTLS:
			pairs := make([]auth.TrustedPair, 0, len(cfg.MTLSTrustedPairs))
			for _, p := range cfg.MTLSTrustedPairs {
				pairs = append(pairs, auth.TrustedPair{Issuer: p.Issuer, Subject: p.Subject})
			}
			roots := cfg.MTLSTrustedRoots
			if len(cfg.MTLSTrustURLs) > 0 {
				fetchedPairs, fetchedRoots := auth.FetchTrustedLists(ctx, cfg.MTLSTrustURLs, log)
				pairs = append(pairs, fetchedPairs...)
				roots = append(roots, fetchedRoots...)
			}
			validators = append(validators, auth.NewMTLSValidator(pairs, roots))
		case config.AuthOpen:
			// open mode is the empty validator list; nothing to add.
		}
	}
	return auth.New(validators...)
}
