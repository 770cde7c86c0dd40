package main

import (
	"context"
	"fmt"
	"time"

	"github.com/baseline-env/casefill/internal/config"
	"github.com/baseline-env/casefill/internal/connector"
	"github.com/baseline-env/casefill/internal/evidence"
	"github.com/baseline-env/casefill/internal/fetcher"
	"github.com/baseline-env/casefill/internal/resilience"
	"github.com/baseline-env/casefill/internal/rules"
)

// openStore opens the configured evidence store with migrations applied.
func openStore(ctx context.Context) (*evidence.Store, error) {
	store, err := evidence.Open(ctx, cfg.Evidence)
	if err != nil {
		return nil, fmt.Errorf("open evidence store: %w", err)
	}
	return store, nil
}

// loadRules loads the configured rule table.
func loadRules() (*rules.Table, error) {
	table, err := rules.Load(cfg.Rules.Path)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	return table, nil
}

// buildRegistry wires every configured connector over a shared fetcher.
func buildRegistry() (*connector.Registry, error) {
	f := fetcher.New(
		fetcher.WithUserAgent(cfg.HTTP.UserAgent),
		fetcher.WithTimeout(time.Duration(cfg.HTTP.TimeoutSecs)*time.Second),
		// The runner owns the retry loop; the shared fetcher makes a single
		// attempt per call so runner.max_attempts bounds the network calls.
		fetcher.WithRetry(resilience.RetryConfig{MaxAttempts: 1}),
	)

	conns := []connector.Connector{
		connector.NewZoning(),
		connector.NewPDFPage(cfg.PDF.PdftoppmPath, cfg.PDF.DPI),
	}

	if cfg.Geocode.BaseURL != "" {
		var opts []connector.GeocodeOption
		if cfg.Geocode.FallbackBaseURL != "" {
			opts = append(opts, connector.WithGeocodeFallback(cfg.Geocode.FallbackBaseURL))
		}
		conns = append(conns, connector.NewGeocode(f, cfg.Geocode.BaseURL, cfg.Geocode.APIKey, opts...))
	}
	if cfg.Stats.BaseURL != "" {
		conns = append(conns, connector.NewStats(f, cfg.Stats.BaseURL, cfg.Stats.APIKey))
	}
	if cfg.Weather.BaseURL != "" && cfg.Weather.StationsPath != "" {
		catalog, err := connector.LoadStationCatalog(cfg.Weather.StationsPath)
		if err != nil {
			return nil, fmt.Errorf("load station catalog: %w", err)
		}
		conns = append(conns, connector.NewWeather(f, catalog, cfg.Weather.BaseURL, cfg.Weather.APIKey))
	}
	if len(cfg.WMS.Layers) > 0 {
		conns = append(conns, connector.NewWMS(f, cfg.WMS.Layers))
	}

	return connector.NewRegistry(conns...), nil
}

func runnerConfig(c config.RunnerConfig) (workers, maxAttempts int, backoff time.Duration) {
	return c.Workers, c.MaxAttempts, time.Duration(c.BackoffMS) * time.Millisecond
}
