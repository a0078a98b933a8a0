package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"vodhub/internal/collect"
	"vodhub/internal/models"
	"vodhub/internal/repository"
	"vodhub/internal/source"
)

// CategorySyncer pulls one source's own taxonomy from its list endpoint,
// classifies every entry into the canonical tree and persists the decisions
// as mappings. Running it once per source makes later collection exact
// instead of heuristic.
type CategorySyncer struct {
	Repo       repository.Repository
	Client     *source.Client
	Classifier *collect.Classifier
	Logger     *zap.Logger
}

// SyncReport summarizes one sync pass.
type SyncReport struct {
	SourceID     uint64 `json:"source_id"`
	Total        int    `json:"total"`
	Mapped       int    `json:"mapped"`
	Unclassified int    `json:"unclassified"`
}

// Sync fetches the source's category list and learns a mapping for each
// entry. Entries the heuristics cannot place are recorded with the fallback
// bucket so operators can find and correct them.
func (s *CategorySyncer) Sync(ctx context.Context, sourceID uint64) (SyncReport, error) {
	src, err := s.Repo.GetSource(ctx, sourceID)
	if err != nil {
		return SyncReport{}, err
	}
	if src == nil {
		return SyncReport{}, fmt.Errorf("source %d not found", sourceID)
	}

	res, err := s.Client.FetchList(ctx, *src, source.ListQuery{Page: 1})
	if err != nil {
		return SyncReport{}, fmt.Errorf("fetch taxonomy from %s: %w", src.Key, err)
	}
	if res.Page == nil || len(res.Page.Categories) == 0 {
		return SyncReport{}, errors.New("source returned no category list")
	}

	report := SyncReport{SourceID: sourceID, Total: len(res.Page.Categories)}
	for _, rc := range res.Page.Categories {
		if rc.ID == 0 {
			continue
		}
		cl := s.Classifier.Classify(ctx, sourceID, rc.ID, rc.Name, "")
		if cl.Method == collect.MethodMapped {
			// Already learned; nothing to write.
			report.Mapped++
			continue
		}
		if err := s.Classifier.LearnMapping(ctx, sourceID, rc.ID, rc.Name, cl); err != nil {
			if s.Logger != nil {
				s.Logger.Warn("category mapping save failed",
					zap.Uint64("source_id", sourceID),
					zap.Int("source_category_id", rc.ID),
					zap.Error(err),
				)
			}
			continue
		}
		if cl.CategoryID == models.CategoryUnclassified {
			report.Unclassified++
		} else {
			report.Mapped++
		}
	}

	if s.Logger != nil {
		s.Logger.Info("source taxonomy synced",
			zap.String("source", src.Key),
			zap.Int("total", report.Total),
			zap.Int("mapped", report.Mapped),
			zap.Int("unclassified", report.Unclassified),
		)
	}
	return report, nil
}
