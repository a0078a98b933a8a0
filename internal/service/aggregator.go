package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"vodhub/internal/cache"
	"vodhub/internal/collect"
	"vodhub/internal/metrics"
	"vodhub/internal/models"
	"vodhub/internal/repository"
	"vodhub/internal/source"
)

// Aggregator fans a single catalog request out to every candidate source,
// tolerates partial failure, and merges the normalized results. Failed
// sources are reported, never fatal.
type Aggregator struct {
	Repo       repository.Repository
	Registry   *Registry
	Client     *source.Client
	Classifier *collect.Classifier
	Merger     *collect.Merger
	Cache      *cache.Cache
	Metrics    *metrics.Metrics
	Logger     *zap.Logger

	// CacheTTL bounds the response cache; repeated identical queries within
	// it skip the fan-out entirely.
	CacheTTL time.Duration
	// DefaultTimeout bounds each per-source call when the request does not
	// set one.
	DefaultTimeout time.Duration
	// IncludeLowPriority keeps health-demoted sources in the fan-out set even
	// when the request does not ask for them.
	IncludeLowPriority bool
	// SlowThresholdMs marks succeeding calls over this latency as slow in the
	// source's health record. Zero disables the classification.
	SlowThresholdMs int64
}

type AggregateQuery struct {
	Keyword    string
	CategoryID int
	Page       int
}

type AggregateOptions struct {
	Timeout                   time.Duration
	IncludeLowPrioritySources bool
	// CacheOnly serves exclusively from the collected catalog store, for
	// surfaces that must never block on a live source.
	CacheOnly bool
}

type AggregateResult struct {
	Items            []models.CatalogItem `json:"items"`
	SucceededSources []string             `json:"succeeded_sources"`
	FailedSources    []string             `json:"failed_sources"`
}

type fanoutReply struct {
	src  models.Source
	page *source.ListPage
	err  error
}

func (a *Aggregator) timeout(opts AggregateOptions) time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	if a.DefaultTimeout > 0 {
		return a.DefaultTimeout
	}
	return 8 * time.Second
}

func (a *Aggregator) Aggregate(ctx context.Context, q AggregateQuery, opts AggregateOptions) (AggregateResult, error) {
	if opts.CacheOnly {
		return a.fromStore(ctx, q)
	}
	if a.IncludeLowPriority {
		opts.IncludeLowPrioritySources = true
	}

	key := aggregateCacheKey(q, opts)
	if a.Cache != nil {
		if v, ok := a.Cache.Get(key); ok {
			if cached, ok := v.(AggregateResult); ok {
				return cached, nil
			}
		}
	}

	candidates, err := a.Registry.ListCandidateSources(ctx, opts.IncludeLowPrioritySources)
	if err != nil {
		return AggregateResult{}, fmt.Errorf("list candidate sources: %w", err)
	}
	if len(candidates) == 0 {
		return a.fromStore(ctx, q)
	}

	replies := make(chan fanoutReply, len(candidates))
	perSource := a.timeout(opts)
	for _, src := range candidates {
		src := src
		go func() {
			callCtx, cancel := context.WithTimeout(ctx, perSource)
			defer cancel()
			res, err := a.Client.FetchList(callCtx, src, source.ListQuery{
				Page:       q.Page,
				Keyword:    q.Keyword,
				CategoryID: q.CategoryID,
			})
			a.observeFanout(src, res, err)
			if err == nil {
				a.Registry.LearnFormat(ctx, &src, res.DetectedFormat)
			}
			replies <- fanoutReply{src: src, page: res.Page, err: err}
		}()
	}

	result := AggregateResult{
		SucceededSources: []string{},
		FailedSources:    []string{},
	}
	merged := map[string]*models.CatalogItem{}
	for range candidates {
		reply := <-replies
		if reply.err != nil {
			result.FailedSources = append(result.FailedSources, reply.src.Key)
			continue
		}
		result.SucceededSources = append(result.SucceededSources, reply.src.Key)
		a.fold(ctx, merged, reply.src, reply.page)
	}
	sort.Strings(result.SucceededSources)
	sort.Strings(result.FailedSources)

	items := make([]models.CatalogItem, 0, len(merged))
	for _, item := range merged {
		items = append(items, *item)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].QualityScore.Equal(items[j].QualityScore) {
			return items[i].QualityScore.GreaterThan(items[j].QualityScore)
		}
		return items[i].ID < items[j].ID
	})
	result.Items = items

	a.offerToStore(ctx, items)
	if a.Cache != nil {
		a.Cache.Put(key, result, a.CacheTTL)
	}
	return result, nil
}

// fold runs one source's page through the classify/normalize/merge chain
// into the in-memory result set. Arrival order is irrelevant: the dedup key
// decides identity.
func (a *Aggregator) fold(ctx context.Context, merged map[string]*models.CatalogItem, src models.Source, page *source.ListPage) {
	if page == nil {
		return
	}
	for _, raw := range page.Items {
		cand := buildCandidate(ctx, a.Classifier, src, raw)
		if strings.TrimSpace(cand.Title) == "" {
			continue
		}
		groupKey := collect.GroupKey(cand.Title, cand.Year)
		item, _, err := a.Merger.Merge(merged[groupKey], cand)
		if err != nil {
			continue
		}
		merged[groupKey] = &item
	}
}

// offerToStore upserts the merged view so live discoveries land in the
// persistent catalog through the same dedup-key merge the task engine uses.
// Best effort: a store problem never degrades the response.
func (a *Aggregator) offerToStore(ctx context.Context, items []models.CatalogItem) {
	if a.Repo == nil {
		return
	}
	for i := range items {
		item := items[i]
		existing, err := a.Repo.GetCatalogItemByKey(ctx, item.TitleNorm, item.Year)
		if err == nil && existing != nil {
			// Fold the fresh play groups into the stored row instead of
			// clobbering it.
			cand := collect.Candidate{
				Title:        item.Title,
				Year:         item.Year,
				Area:         item.Area,
				CategoryID:   item.CategoryID,
				Synopsis:     item.Synopsis,
				Actors:       item.Actors,
				Director:     item.Director,
				CoverURL:     item.CoverURL,
				Play:         collect.PlaySourcesOf(item),
				SourceName:   item.SourceName,
				SourceWeight: item.SourceWeight,
			}
			folded, res, mergeErr := a.Merger.Merge(existing, cand)
			if mergeErr != nil || res == collect.MergeSkipped {
				continue
			}
			item = folded
		}
		if err := a.Repo.UpsertCatalogItem(ctx, &item); err != nil {
			if a.Logger != nil {
				a.Logger.Debug("aggregate store offer failed",
					zap.String("item", item.ID),
					zap.Error(err),
				)
			}
			return
		}
	}
}

func (a *Aggregator) fromStore(ctx context.Context, q AggregateQuery) (AggregateResult, error) {
	params := repository.ListCatalogParams{
		Keyword:   q.Keyword,
		ValidOnly: true,
		Limit:     20,
	}
	if q.CategoryID > 0 {
		cid := q.CategoryID
		params.CategoryID = &cid
	}
	if q.Page > 1 {
		params.Offset = (q.Page - 1) * params.Limit
	}
	items, err := a.Repo.ListCatalogItems(ctx, params)
	if err != nil {
		return AggregateResult{}, fmt.Errorf("catalog store query: %w", err)
	}
	return AggregateResult{
		Items:            items,
		SucceededSources: []string{},
		FailedSources:    []string{},
	}, nil
}

func (a *Aggregator) observeFanout(src models.Source, res source.FetchResult, err error) {
	outcome := "ok"
	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	if a.Metrics != nil {
		a.Metrics.FanoutRequests.WithLabelValues(src.Key, outcome).Inc()
		a.Metrics.FanoutLatency.WithLabelValues(src.Key).Observe(res.Latency.Seconds())
		var perr *source.ParseError
		if errors.As(err, &perr) {
			a.Metrics.ParseFailures.WithLabelValues(src.Key, perr.Format).Inc()
		}
	}

	probe := ProbeResult{Success: err == nil, Latency: res.Latency, Err: err}
	switch outcome {
	case "ok":
		probe.Status = models.HealthHealthy
		if a.SlowThresholdMs > 0 && res.Latency.Milliseconds() > a.SlowThresholdMs {
			probe.Status = models.HealthSlow
		}
	case "timeout":
		probe.Status = models.HealthTimeout
	default:
		probe.Status = models.HealthError
	}
	// Health writes ride on a short background budget so a slow store
	// cannot extend the user-facing call.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.Registry.RecordProbe(ctx, src.ID, probe); err != nil && a.Logger != nil {
			a.Logger.Debug("fanout health record failed", zap.String("source", src.Key), zap.Error(err))
		}
	}()
}

func aggregateCacheKey(q AggregateQuery, opts AggregateOptions) string {
	return fmt.Sprintf("agg:%s|%d|%d|%t", strings.TrimSpace(q.Keyword), q.CategoryID, q.Page, opts.IncludeLowPrioritySources)
}
