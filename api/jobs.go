package api

import (
	"context"
	"log/slog"

	"github.com/jmcleod/panelgate/proxy"
	"github.com/jmcleod/panelgate/storage"
)

// checkConfig checks one stored panel and records the outcome.
func (a *API) checkConfig(ctx context.Context, cfg *storage.PanelConfig) (proxy.HealthResult, error) {
	key, err := a.crypto.Decrypt(cfg.Key)
	if err != nil {
		return proxy.HealthResult{}, err
	}
	res, err := a.proxy.CheckHealth(ctx, cfg.Type, proxy.Target{URL: cfg.URL, Key: key, TLSVerify: cfg.TLSVerify})
	if err != nil {
		return proxy.HealthResult{}, err
	}
	err = a.repo.UpdateHealth(cfg.ID, storage.HealthUpdate{
		IsHealthy: res.Healthy,
		Status:    res.Status,
		CheckedAt: res.CheckedAt,
	})
	return res, err
}

// CheckAllPanels checks every stored panel config. It stops early when ctx
// is cancelled and returns how many configs were checked and how many of
// those are unhealthy or could not be checked.
func (a *API) CheckAllPanels(ctx context.Context) (checked, unhealthy int, err error) {
	configs, err := a.repo.ListPanelConfigs("")
	if err != nil {
		return 0, 0, err
	}
	for _, cfg := range configs {
		if ctx.Err() != nil {
			return checked, unhealthy, ctx.Err()
		}
		res, err := a.checkConfig(ctx, cfg)
		checked++
		if err != nil {
			unhealthy++
			a.logger.Warn("panel health check failed",
				slog.String("config_id", cfg.ID),
				slog.String("panel_type", string(cfg.Type)),
				slog.Any("error", err),
			)
			continue
		}
		if !res.Healthy {
			unhealthy++
		}
	}
	return checked, unhealthy, nil
}

// SweepSessions drops expired sessions, pending binds and verify
// rate-limit records. It returns the number of sessions and binds removed.
func (a *API) SweepSessions() int {
	a.limiter.sweep()
	return a.sessions.SweepExpired()
}
