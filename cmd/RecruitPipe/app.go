package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"github.com/BTreeMap/RecruitPipe/internal/api"
	"github.com/BTreeMap/RecruitPipe/internal/conversation"
	"github.com/BTreeMap/RecruitPipe/internal/flow"
	"github.com/BTreeMap/RecruitPipe/internal/genai"
	"github.com/BTreeMap/RecruitPipe/internal/lock"
	"github.com/BTreeMap/RecruitPipe/internal/lockfile"
	"github.com/BTreeMap/RecruitPipe/internal/messaging"
	"github.com/BTreeMap/RecruitPipe/internal/models"
	"github.com/BTreeMap/RecruitPipe/internal/recovery"
	"github.com/BTreeMap/RecruitPipe/internal/reporting"
	"github.com/BTreeMap/RecruitPipe/internal/store"
	"github.com/BTreeMap/RecruitPipe/internal/tracing"
	"github.com/BTreeMap/RecruitPipe/internal/twiliosms"
)

const (
	serviceName     = "recruitpipe"
	shutdownTimeout = 10 * time.Second
)

// run wires every component and blocks until ctx ends or a component fails.
func run(ctx context.Context, config Config) error {
	lf, err := lockfile.Acquire(config.StateDir, config.APIAddr)
	if err != nil {
		return err
	}
	defer func() {
		if err := lf.Release(); err != nil {
			slog.Warn("Failed to release lock file", "path", lf.Path(), "error", err)
		}
	}()

	shutdownTracing, err := tracing.Setup(ctx, serviceName, config.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("Failed to flush traces", "error", err)
		}
	}()

	st, err := store.NewSQLStore(buildStoreOptions(config)...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	planner, err := buildPlanner(ctx, config)
	if err != nil {
		return err
	}

	locker, closeLocker, err := buildLocker(ctx, config)
	if err != nil {
		return err
	}
	defer closeLocker()

	sink, err := buildSink(ctx, config)
	if err != nil {
		return err
	}
	async := reporting.NewAsyncSink(sink, reporting.DefaultBuffer)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := async.Close(sctx); err != nil {
			slog.Warn("Failed to drain report events", "error", err)
		}
	}()

	sender, dryRun, err := buildSender(config)
	if err != nil {
		return err
	}
	sms := messaging.NewSMSService(sender, buildSMSOptions(config, dryRun)...)

	loc, err := time.LoadLocation(config.BusinessHoursZone)
	if err != nil {
		return fmt.Errorf("invalid BUSINESS_HOURS_TZ %q: %w", config.BusinessHoursZone, err)
	}
	flowOpts := []flow.Option{
		flow.WithSink(async),
		flow.WithTransport(sms),
		flow.WithLocker(locker),
		flow.WithPerPersonMinInterval(time.Duration(config.PerPersonMinSeconds) * time.Second),
		flow.WithSkipBusinessHours(config.SkipBusinessHours),
		flow.WithBusinessHours(flow.DefaultBusinessHoursStart, flow.DefaultBusinessHoursEnd, loc),
	}
	if n := reporting.NewHandoffNotifier(config.SendgridKey, config.HandoffFrom, config.HandoffTo); n != nil {
		flowOpts = append(flowOpts, flow.WithNotifier(n))
	}
	svc := flow.NewService(st, planner, flowOpts...)
	defer svc.Wait()

	outbox := store.NewOutboxSender(st, svc.Deliver, config.OutboxPollInterval)

	rm := recovery.NewManager()
	rm.Register("outbox", recovery.Func(outbox.RecoverStaleMessages))
	rm.Register("outcomes", svc)
	if err := rm.RecoverAll(ctx); err != nil {
		slog.Warn("State recovery finished with errors", "error", err)
	}

	if err := sms.Start(ctx); err != nil {
		return err
	}
	handler := messaging.NewResponseHandler(sms,
		func(ctx context.Context, in models.Inbound) error {
			_, err := svc.HandleInbound(ctx, in)
			return err
		},
		svc.HandleReceipt,
		config.ResponseWorkers,
	)
	handler.Start(ctx)

	server := api.NewServer(svc, sms, buildAPIOptions(config)...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		outbox.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return server.Run(gctx)
	})
	err = g.Wait()

	if stopErr := sms.Stop(); stopErr != nil {
		slog.Warn("Failed to stop SMS service", "error", stopErr)
	}
	handler.Wait()
	return err
}

// buildPlanner loads the templates and attaches the configured model. Without an API
// key the planner runs on templates alone.
func buildPlanner(ctx context.Context, config Config) (*conversation.Planner, error) {
	cfg, err := conversation.LoadConfig(config.TemplatesFile)
	if err != nil {
		return nil, err
	}
	cfg.DNCPhrases = append(cfg.DNCPhrases, config.DNCPhrases...)

	opts := []conversation.Option{conversation.WithLLMTimeout(config.LLMTimeout)}
	model, err := buildModel(ctx, config)
	switch {
	case err != nil:
		return nil, err
	case model != nil:
		cfg.Model = model.Name()
		opts = append(opts, conversation.WithModel(genai.Instrument(model)))
	default:
		slog.Warn("No LLM API key configured, replies use templates only", "provider", config.LLMProvider)
	}
	return conversation.NewPlanner(cfg, opts...)
}

func buildModel(ctx context.Context, config Config) (genai.Model, error) {
	if llmAPIKey(config) == "" {
		return nil, nil
	}
	switch strings.ToLower(config.LLMProvider) {
	case "", "openai":
		return genai.NewClient(buildGenAIOptions(config)...)
	case "gemini":
		return genai.NewGeminiClient(ctx, buildGenAIOptions(config)...)
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownProvider, config.LLMProvider)
	}
}

func buildLocker(ctx context.Context, config Config) (lock.Locker, func(), error) {
	if config.RedisAddr == "" {
		return lock.NewKeyedMutex(), func() {}, nil
	}
	rl, err := lock.NewRedisLocker(ctx, config.RedisAddr)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("Using Redis phone locks", "addr", config.RedisAddr)
	return rl, func() {
		if err := rl.Close(); err != nil {
			slog.Warn("Failed to close Redis locker", "error", err)
		}
	}, nil
}

func buildSink(ctx context.Context, config Config) (reporting.Sink, error) {
	if config.SheetsSpreadsheetID == "" {
		return reporting.LogSink{}, nil
	}
	var opts []option.ClientOption
	if config.GoogleCredentials != "" {
		opts = append(opts, option.WithCredentialsFile(config.GoogleCredentials))
	}
	sheets, err := reporting.NewSheetsSink(ctx, config.SheetsSpreadsheetID, opts...)
	if err != nil {
		return nil, err
	}
	if err := sheets.EnsureHeaders(ctx); err != nil {
		slog.Warn("Failed to prepare Leads sheet, appends will retry", "error", err)
	}
	return sheets, nil
}

// buildSender returns the Twilio client, or the mock sender in dry-run mode. Missing
// credentials force dry-run.
func buildSender(config Config) (twiliosms.Sender, bool, error) {
	if config.DryRun || !twilioConfigured(config) {
		if !config.DryRun {
			slog.Warn("Twilio credentials incomplete, running in dry-run mode")
		}
		return twiliosms.NewMockClient(), true, nil
	}
	client, err := twiliosms.NewClient(buildTwilioOptions(config)...)
	if err != nil {
		return nil, false, err
	}
	return client, false, nil
}
