package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ppiankov/evalagent/internal/api"
	"github.com/ppiankov/evalagent/internal/apply"
	"github.com/ppiankov/evalagent/internal/cache"
	"github.com/ppiankov/evalagent/internal/events"
	"github.com/ppiankov/evalagent/internal/fetch"
	"github.com/ppiankov/evalagent/internal/issue"
	"github.com/ppiankov/evalagent/internal/judge"
	"github.com/ppiankov/evalagent/internal/llm"
	"github.com/ppiankov/evalagent/internal/logger"
	"github.com/ppiankov/evalagent/internal/model"
	"github.com/ppiankov/evalagent/internal/orchestrator"
	"github.com/ppiankov/evalagent/internal/registry"
	"github.com/ppiankov/evalagent/internal/rules"
	"github.com/ppiankov/evalagent/internal/scope"
	"github.com/ppiankov/evalagent/internal/search"
	"github.com/ppiankov/evalagent/internal/store"
	"github.com/ppiankov/evalagent/internal/worker"
)

// app holds the wired components one command needs
type app struct {
	cfg          *model.Config
	log          *zap.Logger
	store        store.Store
	registry     *registry.Registry
	issues       *issue.Service
	orchestrator *orchestrator.Orchestrator
	events       events.Publisher
	checks       map[string]api.Pinger
}

// openApp loads configuration and wires storage, the reasoning capability
// and the optional kafka and elasticsearch integrations.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Level, verbose)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		store:    st,
		registry: registry.New(st),
		events:   events.Nop{},
		checks:   make(map[string]api.Pinger),
	}

	if len(cfg.Kafka.Brokers) > 0 {
		a.events = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		log.Info("publishing events to kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	applyOpts := []apply.Option{apply.WithLogger(log)}
	if cfg.Elasticsearch.Addr != "" {
		es, err := search.New(cfg.Elasticsearch.Addr, cfg.Elasticsearch.Index, log)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		applyOpts = append(applyOpts, apply.WithIndexer(es))
		a.checks["elasticsearch"] = es
	}
	a.issues = issue.NewService(st, apply.New(st, applyOpts...),
		issue.WithEvents(a.events), issue.WithLogger(log))

	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(log),
		orchestrator.WithEvents(a.events),
		orchestrator.WithRules(rules.ConfigFromModel(cfg.Rules)),
		orchestrator.WithBatchOptions(judge.BatchOptionsFromModel(cfg.Judge)),
		orchestrator.WithMaxDocuments(cfg.Run.MaxDocuments),
	}
	completer, err := newCompleter(cfg, log)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	if completer != nil {
		orchOpts = append(orchOpts, orchestrator.WithCompleter(completer))
	}
	if cfg.Fetch.Enabled {
		orchOpts = append(orchOpts, orchestrator.WithFetcher(newFetcher(cfg, log)))
	}
	a.orchestrator = orchestrator.New(st, a.registry, scope.NewStoreProvider(st), a.issues, orchOpts...)

	return a, nil
}

func openStore(ctx context.Context, cfg model.StoreConfig) (store.Store, error) {
	if strings.EqualFold(cfg.Driver, "memory") {
		return store.NewMemoryStore(), nil
	}
	st, err := store.Open(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// newCompleter returns nil when no provider is configured.
func newCompleter(cfg *model.Config, log *zap.Logger) (llm.Completer, error) {
	provider, err := llm.NewProvider(llm.ConfigFromModel(cfg.LLM))
	if err != nil {
		return nil, fmt.Errorf("initialize LLM provider: %w", err)
	}
	if provider == nil {
		log.Info("no LLM provider configured, weekly fact-checks will find no claims")
		return nil, nil
	}

	var responses cache.Cache = cache.NewMemoryCache(cfg.LLM.CacheTTL, 10*time.Minute)
	if cfg.LLM.CacheDir != "" {
		responses = cache.NewLayeredCache(time.Hour, cfg.LLM.CacheDir, cfg.LLM.CacheTTL)
	}
	return llm.NewClient(provider,
		llm.WithLimiter(worker.NewLimiter(cfg.LLM.RequestsPerSecond, 1)),
		llm.WithCache(responses, cfg.LLM.CacheTTL),
		llm.WithLogger(log),
	), nil
}

func newFetcher(cfg *model.Config, log *zap.Logger) *fetch.Fetcher {
	opts := []fetch.Option{
		fetch.WithLimiter(worker.NewLimiter(1, 1)),
		fetch.WithLogger(log),
	}
	if cfg.Fetch.CacheDir != "" {
		opts = append(opts, fetch.WithCache(cache.NewLayeredCache(time.Hour, cfg.Fetch.CacheDir, cfg.Fetch.CacheTTL), cfg.Fetch.CacheTTL))
	}
	return fetch.New(fetch.ConfigFromModel(cfg), opts...)
}

// Close releases the store and the event publisher
func (a *app) Close() error {
	errs := []error{a.events.Close(), a.store.Close()}
	_ = a.log.Sync()
	return errors.Join(errs...)
}
