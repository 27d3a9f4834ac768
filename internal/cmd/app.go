package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dativo-io/superadvisor/internal/advisor"
	"github.com/dativo-io/superadvisor/internal/audit"
	"github.com/dativo-io/superadvisor/internal/classify"
	"github.com/dativo-io/superadvisor/internal/config"
	"github.com/dativo-io/superadvisor/internal/country"
	"github.com/dativo-io/superadvisor/internal/llm"
	"github.com/dativo-io/superadvisor/internal/member"
	"github.com/dativo-io/superadvisor/internal/synth"
	"github.com/dativo-io/superadvisor/internal/tools"
	"github.com/dativo-io/superadvisor/internal/validate"
)

// app bundles the wired pipeline plus the resources that need closing.
type app struct {
	cfg         *config.Config
	members     *member.Store
	auditStore  *audit.Store
	auditLogger *audit.Logger
	controller  *advisor.Controller
}

// buildApp loads config and constructs the full pipeline: provider,
// member catalog, tool executor, classifier, synthesizer, both validators,
// and the async audit logger behind the controller.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}
	cfg.WarnIfDefaultKey()

	var provider *llm.OpenAIProvider
	if cfg.ModelBaseURL != "" {
		provider = llm.NewOpenAIProviderWithBaseURL(cfg.ModelAPIKey, cfg.ModelBaseURL)
	} else {
		provider = llm.NewOpenAIProvider(cfg.ModelAPIKey)
	}
	guarded := llm.NewGuardedProvider(provider, llm.NewCircuitBreaker(5, 30*time.Second))

	members, err := member.NewStore(cfg.CatalogDBPath())
	if err != nil {
		return nil, fmt.Errorf("opening member catalog: %w", err)
	}
	seeded, err := members.Seed(ctx)
	if err != nil {
		members.Close()
		return nil, fmt.Errorf("seeding member catalog: %w", err)
	}
	if seeded > 0 {
		log.Info().Int("members", seeded).Msg("member_catalog_seeded")
	}

	registry, err := tools.LoadRegistry()
	if err != nil {
		members.Close()
		return nil, err
	}
	countries, err := country.Load()
	if err != nil {
		members.Close()
		return nil, err
	}

	classifier, err := classify.New(guarded, provider,
		classify.WithEmbeddingThreshold(cfg.EmbeddingThreshold),
		classify.WithModels(cfg.ClassifierModel, cfg.EmbeddingModel),
	)
	if err != nil {
		members.Close()
		return nil, err
	}

	judge, err := validate.New(ctx, guarded, cfg.ValidationModel, validate.ModeLLMJudge)
	if err != nil {
		members.Close()
		return nil, err
	}
	deterministic, err := validate.New(ctx, guarded, cfg.ValidationModel, validate.ModeDeterministic)
	if err != nil {
		members.Close()
		return nil, err
	}

	signer, err := audit.NewSigner(cfg.SigningKey)
	if err != nil {
		members.Close()
		return nil, err
	}
	auditStore, err := audit.NewStore(cfg.AuditDBPath(), signer)
	if err != nil {
		members.Close()
		return nil, fmt.Errorf("opening audit store: %w", err)
	}
	auditLogger := audit.NewLogger(auditStore, cfg.AuditQueueSize, cfg.AuditWorkers)

	controller, err := advisor.NewController(advisor.Params{
		Classifier:          classifier,
		Executor:            tools.NewExecutor(registry, members),
		Synthesizer:         synth.New(guarded, cfg.SynthesisModel),
		Judge:               judge,
		Deterministic:       deterministic,
		Countries:           countries,
		Audit:               auditLogger,
		ConfidenceThreshold: cfg.ConfidenceGate,
		MaxAttempts:         cfg.MaxAttempts,
	})
	if err != nil {
		auditLogger.Close(ctx)
		auditStore.Close()
		members.Close()
		return nil, err
	}

	return &app{
		cfg:         cfg,
		members:     members,
		auditStore:  auditStore,
		auditLogger: auditLogger,
		controller:  controller,
	}, nil
}

// close drains the audit queue before releasing the stores so that every
// terminal outcome reaches the governance table.
func (a *app) close(ctx context.Context) {
	if err := a.auditLogger.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("audit_drain_incomplete")
	}
	if err := a.auditStore.Close(); err != nil {
		log.Warn().Err(err).Msg("audit_store_close_failed")
	}
	if err := a.members.Close(); err != nil {
		log.Warn().Err(err).Msg("member_store_close_failed")
	}
}

// openAuditStore opens the governance store read-side only, for the audit
// and costs subcommands.
func openAuditStore() (*audit.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	signer, err := audit.NewSigner(cfg.SigningKey)
	if err != nil {
		return nil, err
	}
	store, err := audit.NewStore(cfg.AuditDBPath(), signer)
	if err != nil {
		return nil, fmt.Errorf("opening audit store: %w", err)
	}
	return store, nil
}
