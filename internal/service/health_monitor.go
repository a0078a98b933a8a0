package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"vodhub/internal/models"
	"vodhub/internal/source"
)

// HealthMonitor periodically issues a minimal list query against every
// active source and records the outcome. Sources that keep failing drop out
// of the default fan-out through the registry's candidate filter.
type HealthMonitor struct {
	Registry        *Registry
	Client          *source.Client
	Logger          *zap.Logger
	ProbeTimeout    time.Duration
	SlowThresholdMs int64
}

func (m *HealthMonitor) probeTimeout() time.Duration {
	if m.ProbeTimeout > 0 {
		return m.ProbeTimeout
	}
	return 12 * time.Second
}

func (m *HealthMonitor) slowThresholdMs() int64 {
	if m.SlowThresholdMs > 0 {
		return m.SlowThresholdMs
	}
	return 5000
}

// ProbeAll probes every active source sequentially. Individual failures only
// affect that source's health row.
func (m *HealthMonitor) ProbeAll(ctx context.Context) {
	sources, err := m.Registry.ListActiveSources(ctx)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Warn("health probe: source listing failed", zap.Error(err))
		}
		return
	}
	for i := range sources {
		if ctx.Err() != nil {
			return
		}
		m.Probe(ctx, &sources[i])
	}
}

// Probe runs one bounded list fetch and classifies the outcome into
// healthy/slow/timeout/error. A parseable, non-empty page within budget is
// healthy; parseable but over the latency threshold is slow.
func (m *HealthMonitor) Probe(ctx context.Context, src *models.Source) ProbeResult {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout())
	defer cancel()

	res, err := m.Client.FetchList(probeCtx, *src, source.ListQuery{Page: 1})

	var outcome ProbeResult
	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		outcome = ProbeResult{Status: models.HealthTimeout, Latency: res.Latency, Err: err}
	case err != nil:
		outcome = ProbeResult{Status: models.HealthError, Latency: res.Latency, Err: err}
	case res.Page == nil || len(res.Page.Items) == 0:
		outcome = ProbeResult{Status: models.HealthError, Latency: res.Latency, Err: errors.New("empty probe result")}
	case res.Latency.Milliseconds() > m.slowThresholdMs():
		outcome = ProbeResult{Success: true, Status: models.HealthSlow, Latency: res.Latency}
	default:
		outcome = ProbeResult{Success: true, Status: models.HealthHealthy, Latency: res.Latency}
	}

	if outcome.Success {
		m.Registry.LearnFormat(ctx, src, res.DetectedFormat)
	}
	if err := m.Registry.RecordProbe(ctx, src.ID, outcome); err != nil && m.Logger != nil {
		m.Logger.Warn("health probe: record failed",
			zap.String("source", src.Key),
			zap.Error(err),
		)
	}
	if m.Logger != nil {
		m.Logger.Debug("source probed",
			zap.String("source", src.Key),
			zap.String("status", outcome.Status),
			zap.Duration("latency", outcome.Latency),
		)
	}
	return outcome
}
