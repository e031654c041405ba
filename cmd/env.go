package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ncku-metabolomics/classyfire-cli/internal/metrics"
	"github.com/ncku-metabolomics/classyfire-cli/internal/pipeline"
	"github.com/ncku-metabolomics/classyfire-cli/internal/resilience"
	"github.com/ncku-metabolomics/classyfire-cli/internal/store"
	"github.com/ncku-metabolomics/classyfire-cli/pkg/classyfire"
	"github.com/ncku-metabolomics/classyfire-cli/pkg/cts"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "data/classyfire.db"
		}
		if dir := filepath.Dir(dsn); dsn != ":memory:" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, eris.Wrapf(err, "create store dir %s", dir)
			}
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the configured store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// pipelineEnv holds the initialized dependencies for a pipeline command.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Metrics  *metrics.Metrics
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates the config for command, opens the store, builds
// the API clients and the Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context, command string) (*pipelineEnv, error) {
	if err := cfg.Validate(command); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	p := pipeline.New(cfg, st, newClassyFireClient(), newCTSClient(), m)

	zap.L().Debug("pipeline initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("source", cfg.Folders.Source),
	)
	return &pipelineEnv{Store: st, Pipeline: p, Metrics: m}, nil
}

func newClassyFireClient() classyfire.Client {
	opts := []classyfire.Option{
		classyfire.WithBaseURL(cfg.ClassyFire.BaseURL),
		classyfire.WithFormat(cfg.ClassyFire.Format),
		classyfire.WithTimeout(cfg.ClassyFire.Timeout()),
		classyfire.WithRetry(resilience.FromRetryConfig(cfg.ClassyFire.Retries, cfg.ClassyFire.BackoffMs)),
	}
	if cbCfg, ok := resilience.FromCircuitConfig(cfg.ClassyFire.CircuitThreshold, cfg.ClassyFire.CircuitResetSecs); ok {
		cbCfg.OnStateChange = func(from, to resilience.CircuitState) {
			zap.L().Warn("classyfire circuit breaker", zap.Stringer("from", from), zap.Stringer("to", to))
		}
		opts = append(opts, classyfire.WithCircuitBreaker(resilience.NewCircuitBreaker(cbCfg)))
	}
	return classyfire.NewClient(opts...)
}

func newCTSClient() cts.Client {
	return cts.NewClient(
		cts.WithBaseURL(cfg.CTS.BaseURL),
		cts.WithTimeout(cfg.CTS.Timeout()),
		cts.WithRetry(resilience.FromRetryConfig(cfg.CTS.Retries, cfg.CTS.BackoffMs)),
	)
}
