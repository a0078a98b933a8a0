package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"vodhub/internal/cache"
	"vodhub/internal/models"
	"vodhub/internal/repository"
)

// Registry wraps source records with the health bookkeeping both the
// aggregator and the task engine share.
type Registry struct {
	Repo             repository.Repository
	Cache            *cache.Cache
	Logger           *zap.Logger
	FailureThreshold int
}

func (r *Registry) failureThreshold() int {
	if r.FailureThreshold > 0 {
		return r.FailureThreshold
	}
	return 3
}

func (r *Registry) ListActiveSources(ctx context.Context) ([]models.Source, error) {
	return r.Repo.ListSources(ctx, true)
}

// ListCandidateSources returns the default fan-out set: active sources whose
// consecutive-failure count is under the threshold. includeLowPriority keeps
// demoted sources in the set; an explicit single-source crawl bypasses this
// filter entirely by naming the source.
func (r *Registry) ListCandidateSources(ctx context.Context, includeLowPriority bool) ([]models.Source, error) {
	sources, err := r.Repo.ListSources(ctx, true)
	if err != nil {
		return nil, err
	}
	if includeLowPriority {
		return sources, nil
	}
	health, err := r.Repo.ListSourceHealth(ctx)
	if err != nil {
		return nil, err
	}
	demoted := make(map[uint64]bool, len(health))
	for _, h := range health {
		if h.ConsecutiveFailures >= r.failureThreshold() {
			demoted[h.SourceID] = true
		}
	}
	out := make([]models.Source, 0, len(sources))
	for _, s := range sources {
		if !demoted[s.ID] {
			out = append(out, s)
		}
	}
	return out, nil
}

// ProbeResult is one observation of a source, from a scheduled probe or a
// live fan-out call.
type ProbeResult struct {
	Success bool
	Status  string
	Latency time.Duration
	Err     error
}

// RecordProbe folds one observation into the source's rolling health row.
// Updates are whole-row overwrites scoped to one source, so concurrent
// probes are safe and idempotent.
func (r *Registry) RecordProbe(ctx context.Context, sourceID uint64, res ProbeResult) error {
	current, err := r.Repo.GetSourceHealth(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("load health for source %d: %w", sourceID, err)
	}
	health := models.SourceHealth{SourceID: sourceID, Status: models.HealthUnknown}
	if current != nil {
		health = *current
	}

	latencyMs := res.Latency.Milliseconds()
	if health.AvgResponseTimeMs == 0 {
		health.AvgResponseTimeMs = latencyMs
	} else {
		// EWMA, biased toward history so one spike does not flap status.
		health.AvgResponseTimeMs = (health.AvgResponseTimeMs*7 + latencyMs*3) / 10
	}

	sample := 0.0
	if res.Success {
		sample = 1.0
	}
	if health.LastCheckedAt == nil {
		health.SuccessRate = sample
	} else {
		health.SuccessRate = health.SuccessRate*0.8 + sample*0.2
	}

	if res.Success {
		health.ConsecutiveFailures = 0
		health.LastError = nil
	} else {
		health.ConsecutiveFailures++
		if res.Err != nil {
			msg := res.Err.Error()
			health.LastError = &msg
		}
	}
	if res.Status != "" {
		health.Status = res.Status
	}
	now := time.Now().UTC()
	health.LastCheckedAt = &now

	if err := r.Repo.UpsertSourceHealth(ctx, &health); err != nil {
		return fmt.Errorf("save health for source %d: %w", sourceID, err)
	}
	return nil
}

func (r *Registry) GetHealth(ctx context.Context, sourceID uint64) (*models.SourceHealth, error) {
	return r.Repo.GetSourceHealth(ctx, sourceID)
}

// LearnFormat persists an auto-detected response format back to the source
// row so later calls skip the probe. No-op unless the source still declares
// auto.
func (r *Registry) LearnFormat(ctx context.Context, src *models.Source, detected string) {
	if src == nil || detected == "" || detected == models.FormatAuto {
		return
	}
	if !strings.EqualFold(src.ResponseFormat, models.FormatAuto) {
		return
	}
	if err := r.Repo.UpdateSourceFormat(ctx, src.ID, detected); err != nil {
		if r.Logger != nil {
			r.Logger.Warn("format write-back failed",
				zap.String("source", src.Key),
				zap.String("format", detected),
				zap.Error(err),
			)
		}
		return
	}
	src.ResponseFormat = detected
	if r.Cache != nil {
		r.Cache.Invalidate("source:" + src.Key)
	}
	if r.Logger != nil {
		r.Logger.Info("learned source response format",
			zap.String("source", src.Key),
			zap.String("format", detected),
		)
	}
}
