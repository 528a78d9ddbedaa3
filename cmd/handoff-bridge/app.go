// ABOUTME: Wires configuration into the bridge components and runs them.
// ABOUTME: The chat channel and the HTTP server run side by side until shutdown.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/handoff-bridge/internal/auth"
	"github.com/2389/handoff-bridge/internal/bot"
	"github.com/2389/handoff-bridge/internal/channel"
	"github.com/2389/handoff-bridge/internal/channel/matrix"
	"github.com/2389/handoff-bridge/internal/channel/telegram"
	"github.com/2389/handoff-bridge/internal/chatwoot"
	"github.com/2389/handoff-bridge/internal/config"
	"github.com/2389/handoff-bridge/internal/continuity"
	"github.com/2389/handoff-bridge/internal/dedupe"
	"github.com/2389/handoff-bridge/internal/handoff"
	"github.com/2389/handoff-bridge/internal/ledger"
	"github.com/2389/handoff-bridge/internal/metrics"
	"github.com/2389/handoff-bridge/internal/outbound"
	"github.com/2389/handoff-bridge/internal/rag"
	"github.com/2389/handoff-bridge/internal/resolver"
	"github.com/2389/handoff-bridge/internal/server"
	"github.com/2389/handoff-bridge/internal/session"
	"github.com/2389/handoff-bridge/internal/webhook"
)

const startupCheckTimeout = 15 * time.Second

// app holds the running components.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	channel channel.Channel
	bot     *bot.Bot
	server  *server.Server

	closers []func() error
}

func (a *app) addCloser(fn func() error) {
	a.closers = append(a.closers, fn)
}

// close releases resources in reverse order of creation.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// connectChatwoot returns a validated client, or nil when the integration is
// not configured or the startup check fails.
func connectChatwoot(ctx context.Context, cfg *config.Config, logger *slog.Logger) *chatwoot.Client {
	if !cfg.ChatwootEnabled() {
		logger.Warn("chatwoot integration disabled: base_url, api_key, account_id and inbox_id are all required")
		return nil
	}
	client, err := chatwoot.New(chatwoot.Config{
		BaseURL:   cfg.Chatwoot.BaseURL,
		APIKey:    cfg.Chatwoot.APIKey,
		AccountID: cfg.Chatwoot.AccountID,
		InboxID:   cfg.Chatwoot.InboxID,
		Timeout:   cfg.Chatwoot.Timeout,
	})
	if err != nil {
		logger.Warn("chatwoot integration disabled", "error", err)
		return nil
	}
	checkCtx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
	defer cancel()
	if err := client.Validate(checkCtx); err != nil {
		logger.Warn("chatwoot integration disabled: startup check failed", "error", err)
		return nil
	}
	logger.Info("chatwoot integration enabled", "account_id", cfg.Chatwoot.AccountID, "inbox_id", cfg.Chatwoot.InboxID)
	return client
}

func newChannel(cfg *config.Config, logger *slog.Logger) (channel.Channel, error) {
	switch cfg.Channel.Kind {
	case config.ChannelMatrix:
		m := cfg.Channel.Matrix
		return matrix.New(matrix.Config{
			Homeserver:   m.Homeserver,
			UserID:       m.UserID,
			AccessToken:  m.AccessToken,
			AllowedRooms: m.AllowedRooms,
			AutoJoin:     m.AutoJoin,
		}, logger)
	default:
		tg := cfg.Channel.Telegram
		return telegram.New(telegram.Config{
			Token:       tg.Token,
			PollTimeout: tg.PollTimeout,
			Debug:       tg.Debug,
		}, logger)
	}
}

// newApp builds every component from cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	m := metrics.New()
	store := session.NewMemoryStore()

	var led ledger.Ledger = ledger.Nop{}
	if cfg.Ledger.Path != "" {
		sqlLedger, err := ledger.Open(cfg.Ledger.Path, store, logger)
		if err != nil {
			return nil, fmt.Errorf("opening ledger: %w", err)
		}
		led = sqlLedger
		a.addCloser(sqlLedger.Close)
	}

	ch, err := newChannel(cfg, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("creating %s channel: %w", cfg.Channel.Kind, err)
	}
	a.channel = ch

	cache := dedupe.New(cfg.Channel.DedupeTTL, cfg.Channel.DedupeMaxSize)
	a.addCloser(func() error { cache.Close(); return nil })

	// Interfaces stay untyped nil when the platform is disabled.
	var (
		res      *resolver.Resolver
		out      *outbound.Router
		hRes     handoff.Resolver
		hOut     handoff.Outbound
		bRes     bot.Resolver
		bOut     bot.Outbound
		webhooks *webhook.Router
	)
	if client := connectChatwoot(ctx, cfg, logger); client != nil {
		res = resolver.New(client, store, resolver.Config{
			Channel:      ch.Name(),
			MaxListPages: cfg.Chatwoot.MaxListPages,
		}, logger, m)
		out = outbound.New(client, logger, m, led)
		hRes, hOut, bRes, bOut = res, out, res, out
		webhooks = webhook.NewRouter(store, ch, webhook.Config{
			Channel:     ch.Name(),
			AgentRoles:  cfg.Webhook.AgentRoles,
			AgentPrefix: cfg.Webhook.AgentPrefix,
			ClosedText:  cfg.Webhook.ClosedText,
		}, logger, m, led)
	}

	machine := handoff.New(store, hRes, hOut, handoff.Config{
		BotAgentID:      cfg.Handoff.BotAgentID,
		TranscriptLimit: cfg.Handoff.TranscriptLimit,
		Keywords:        cfg.Handoff.Keywords,
	}, logger, m)

	var answerer rag.Answerer = rag.Static{Reply: cfg.RAG.FallbackReply}
	var scorer continuity.Scorer = rag.OverlapScorer{}
	if cfg.RAG.Addr != "" {
		pipeline, err := rag.Dial(cfg.RAG.Addr, cfg.RAG.Timeout, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.addCloser(pipeline.Close)
		answerer = pipeline
		if !cfg.RAG.LocalScorer {
			scorer = pipeline
		}
	}
	gate := continuity.New(scorer, store, cfg.Continuity.Threshold, cfg.Continuity.Window, logger)

	a.bot = bot.New(bot.Deps{
		Sender:   ch,
		Store:    store,
		Machine:  machine,
		Resolver: bRes,
		Outbound: bOut,
		Gate:     gate,
		Answerer: answerer,
		Dedupe:   cache,
		Recorder: led,
		Metrics:  m,
		Logger:   logger,
	}, cfg.Texts)

	var webhookDedupe webhook.Deduper
	if cfg.Webhook.DedupeMessageIDs {
		webhookDedupe = cache
	}
	hooks := webhook.NewHandler(webhooks, webhookDedupe, logger)

	routes := server.Routes{
		Webhook:  hooks.ServeWebhook,
		Liveness: hooks.ServeLiveness,
		Sessions: store,
		Ledger:   led,
		Logger:   logger,
	}
	if cfg.Metrics.Enabled {
		routes.Metrics = m.Handler()
		routes.MetricsPath = cfg.Metrics.Path
	}
	if cfg.Auth.JWTSecret != "" {
		signer, err := auth.NewSigner(cfg.Auth.JWTSecret)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("creating token signer: %w", err)
		}
		routes.Verifier = signer
	} else {
		logger.Info("debug endpoints disabled: no auth.jwt_secret configured")
	}

	a.server = server.New(cfg.Server.HTTPAddr, cfg.Tailscale, routes.Handler(), logger)
	return a, nil
}

// run blocks until ctx is cancelled or a component fails.
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.Run(gctx)
	})
	g.Go(func() error {
		a.logger.Info("chat channel running", "channel", a.channel.Name())
		if err := a.channel.Run(gctx, a.bot.Handle); err != nil {
			return fmt.Errorf("%s channel: %w", a.channel.Name(), err)
		}
		return nil
	})
	err := g.Wait()
	if cerr := a.close(); cerr != nil {
		a.logger.Warn("closing components", "error", cerr)
	}
	return err
}
