package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/scriptorlab/scriptor/internal/calllog"
	"github.com/scriptorlab/scriptor/internal/config"
	"github.com/scriptorlab/scriptor/internal/invoker"
	"github.com/scriptorlab/scriptor/internal/normalize"
	"github.com/scriptorlab/scriptor/internal/pipeline"
	"github.com/scriptorlab/scriptor/internal/project"
	"github.com/scriptorlab/scriptor/internal/prompts"
	"github.com/scriptorlab/scriptor/internal/providers"
	"github.com/scriptorlab/scriptor/internal/rasterize"
	"github.com/scriptorlab/scriptor/internal/state"
	"github.com/scriptorlab/scriptor/internal/stubs"
	"github.com/scriptorlab/scriptor/internal/transcribe"
)

var (
	runLang     string
	runNoAPI    bool
	runStubMode string
	runProvider string
	runDPI      int
)

var runCmd = &cobra.Command{
	Use:   "run <pdf-or-directory>",
	Short: "Transcribe and normalize one PDF or every PDF in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := openProject()
		if err != nil {
			return err
		}
		if err := dir.EnsureExists(); err != nil {
			return err
		}

		mgr, err := loadConfig(dir)
		if err != nil {
			return err
		}
		logger := slog.Default()
		p, closers, err := buildPipeline(dir, mgr, logger)
		if err != nil {
			return err
		}
		defer func() {
			for _, c := range closers {
				c()
			}
		}()

		return p.RunAll(cmd.Context(), args[0])
	},
}

func init() {
	runCmd.Flags().StringVar(&runLang, "lang", "hu", "source language for prompts and thresholds")
	runCmd.Flags().BoolVar(&runNoAPI, "no-api", false, "never call a provider, replay or generate stubs")
	runCmd.Flags().StringVar(&runStubMode, "stub-mode", invoker.ModeOff, "stub handling: off, record, replay or generate")
	runCmd.Flags().StringVar(&runProvider, "provider", "", "provider name (default: config default_provider)")
	runCmd.Flags().IntVar(&runDPI, "dpi", 0, "render resolution (default: config rasterize.dpi)")
}

// buildPipeline wires the full stack for a run: stores, stubs, call
// log, provider client, invoker and the three stage machines.
func buildPipeline(dir *project.Dir, mgr *config.Manager, logger *slog.Logger) (*pipeline.Pipeline, []func() error, error) {
	var closers []func() error
	cfg := mgr.Get()

	store, err := state.NewFileStore(dir.StateDir())
	if err != nil {
		return nil, closers, err
	}

	promptSet, err := prompts.Load(dir.PromptsDir())
	if err != nil {
		return nil, closers, err
	}

	stubStore, err := stubs.NewStore(dir.StubsDir())
	if err != nil {
		return nil, closers, err
	}

	callLog, err := calllog.Open(dir.CallLogPath())
	if err != nil {
		return nil, closers, err
	}
	closers = append(closers, callLog.Close)

	// Credential preflight: resolve the provider before any page work.
	// Stub-only runs skip it, they never call out.
	var client providers.LLMClient
	var limiter *providers.RateLimiter
	liveRun := !runNoAPI && (runStubMode == invoker.ModeOff || runStubMode == invoker.ModeRecord)
	if liveRun {
		registry := providers.NewRegistryFromConfig(cfg.ToProviderRegistryConfig())
		registry.SetLogger(logger)

		name := runProvider
		if name == "" {
			name = cfg.DefaultProvider
		}
		client, err = registry.Get(name)
		if err != nil {
			return nil, closers, fmt.Errorf("provider preflight failed: %w", err)
		}
		limiter = providers.NewRateLimiter(cfg.RateLimit.RequestsPerMinute)

		// Rate-limit changes apply to the running pipeline; everything
		// else takes effect on the next invocation.
		lim := limiter
		mgr.OnChange(func(c *config.Config) {
			lim.SetRate(c.RateLimit.RequestsPerMinute)
			logger.Info("configuration reloaded",
				"requests_per_minute", c.RateLimit.RequestsPerMinute)
		})
		mgr.WatchConfig()

		closers = append(closers, func() error {
			logger.Info("provider calls issued", "count", lim.TotalConsumed())
			return nil
		})
	}

	inv, err := invoker.New(invoker.Options{
		Client:     client,
		Limiter:    limiter,
		Stubs:      stubStore,
		CallLog:    callLog,
		StubMode:   runStubMode,
		NoAPI:      runNoAPI,
		Timeout:    cfg.InvokeTimeout(),
		MaxRetries: cfg.Invoke.MaxRetries,
		RetryDelay: time.Duration(cfg.Invoke.RetryDelayMS) * time.Millisecond,
		Logger:     logger,
	})
	if err != nil {
		return nil, closers, err
	}

	dpi := runDPI
	if dpi == 0 {
		dpi = cfg.Rasterize.DPI
	}

	transcriber := transcribe.New(transcribe.Options{
		Dir:         dir,
		Store:       store,
		Invoker:     inv,
		Prompt:      promptSet.Diplomatic,
		Thresholds:  cfg.ThresholdsFor(runLang),
		Model:       cfg.Transcribe.Model,
		Temperature: cfg.Transcribe.Temperature,
		MaxTokens:   cfg.Transcribe.MaxTokens,
		Logger:      logger,
	})
	normalizer := normalize.New(normalize.Options{
		Dir:         dir,
		Store:       store,
		Invoker:     inv,
		Prompt:      promptSet.Normalization,
		ChunkPages:  cfg.Normalize.ChunkPages,
		Model:       cfg.Normalize.Model,
		Temperature: cfg.Normalize.Temperature,
		MaxTokens:   cfg.Normalize.MaxTokens,
		Logger:      logger,
	})

	p := pipeline.New(pipeline.Options{
		Dir:         dir,
		Store:       store,
		Rasterizer:  rasterize.New(dir, rasterize.WithDPI(dpi), rasterize.WithWorkers(cfg.Rasterize.Workers), rasterize.WithLogger(logger)),
		Transcriber: transcriber,
		Normalizer:  normalizer,
		Language:    runLang,
		DPI:         dpi,
		Logger:      logger,
	})
	return p, closers, nil
}
