package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"vodhub/internal/collect"
	"vodhub/internal/models"
	"vodhub/internal/source"
)

func jsonListing(items ...string) string {
	list := ""
	for i, it := range items {
		if i > 0 {
			list += ","
		}
		list += it
	}
	return fmt.Sprintf(`{"code":1,"msg":"ok","page":1,"pagecount":1,"limit":20,"total":%d,"list":[%s]}`, len(items), list)
}

func jsonItem(title, year, playURL string) string {
	return fmt.Sprintf(`{"vod_id":1,"vod_name":%q,"type_id":6,"type_name":"科幻片","vod_year":%q,"vod_area":"大陆","vod_play_from":"m3u8","vod_play_url":%q}`, title, year, playURL)
}

func newTestAggregator(repo *stubRepo) *Aggregator {
	registry := &Registry{Repo: repo}
	return &Aggregator{
		Repo:       repo,
		Registry:   registry,
		Client:     source.NewClient(&http.Client{}, "test", nil),
		Classifier: &collect.Classifier{Store: repo},
		Merger:     &collect.Merger{},
	}
}

func addSource(t *testing.T, repo *stubRepo, key, endpoint string, weight int64) models.Source {
	t.Helper()
	src := models.Source{
		Key:            key,
		Name:           key,
		EndpointURL:    endpoint,
		ResponseFormat: models.FormatJSON,
		Weight:         decimal.NewFromInt(weight),
		Active:         true,
	}
	if err := repo.CreateSource(context.Background(), &src); err != nil {
		t.Fatalf("create source: %v", err)
	}
	return src
}

func TestAggregateMergesAcrossSourcesAndToleratesFailure(t *testing.T) {
	fast1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, jsonListing(
			jsonItem("流浪地球2", "2023", "第01集$https://cdn.a.example.com/1.m3u8"),
		))
	}))
	defer fast1.Close()
	fast2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, jsonListing(
			jsonItem("流浪 地球2", "2023", "第01集$https://cdn.b.example.com/1.m3u8"),
			jsonItem("狂飙", "2023", "第01集$https://cdn.b.example.com/88-1.m3u8"),
		))
	}))
	defer fast2.Close()
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		fmt.Fprint(w, jsonListing())
	}))
	defer slow.Close()

	repo := newStubRepo()
	addSource(t, repo, "a", fast1.URL, 5)
	addSource(t, repo, "b", fast2.URL, 1)
	addSource(t, repo, "c", slow.URL, 1)

	agg := newTestAggregator(repo)
	result, err := agg.Aggregate(context.Background(), AggregateQuery{Keyword: "地球", Page: 1}, AggregateOptions{
		Timeout: 300 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	if len(result.SucceededSources) != 2 {
		t.Fatalf("succeeded = %v", result.SucceededSources)
	}
	if len(result.FailedSources) != 1 || result.FailedSources[0] != "c" {
		t.Fatalf("failed = %v", result.FailedSources)
	}
	if len(result.Items) != 2 {
		t.Fatalf("items = %d, want 2 (deduped)", len(result.Items))
	}

	var earth *models.CatalogItem
	for i := range result.Items {
		if result.Items[i].TitleNorm == "流浪地球2" {
			earth = &result.Items[i]
		}
	}
	if earth == nil {
		t.Fatalf("merged item missing: %+v", result.Items)
	}
	groups := collect.PlaySourcesOf(*earth)
	if len(groups) != 2 {
		t.Fatalf("play groups = %+v", groups)
	}
	// Heavier source supplies the metadata.
	if earth.SourceName != "a" {
		t.Fatalf("source name = %q", earth.SourceName)
	}

	// The merged view was offered to the persistent store.
	stored, err := repo.GetCatalogItemByKey(context.Background(), "流浪地球2", 2023)
	if err != nil || stored == nil {
		t.Fatalf("store offer missing: %v %v", stored, err)
	}
}

func TestAggregateItemsSortedByQuality(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, jsonListing(
			jsonItem("单集片", "2020", "第01集$https://cdn.example.com/s/1.m3u8"),
			jsonItem("多集剧", "2020", "第01集$https://cdn.example.com/m/1.m3u8#第02集$https://cdn.example.com/m/2.m3u8#第03集$https://cdn.example.com/m/3.m3u8"),
		))
	}))
	defer srv.Close()

	repo := newStubRepo()
	addSource(t, repo, "a", srv.URL, 1)

	agg := newTestAggregator(repo)
	result, err := agg.Aggregate(context.Background(), AggregateQuery{Page: 1}, AggregateOptions{Timeout: time.Second})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(result.Items) != 2 {
		t.Fatalf("items = %d", len(result.Items))
	}
	if result.Items[0].TitleNorm != "多集剧" {
		t.Fatalf("order = %s, %s", result.Items[0].TitleNorm, result.Items[1].TitleNorm)
	}
}

func TestAggregateCacheOnlyServesFromStore(t *testing.T) {
	repo := newStubRepo()
	merger := &collect.Merger{}
	item, _, err := merger.Merge(nil, collect.Candidate{
		Title:        "狂飙",
		Year:         2023,
		CategoryID:   2,
		SourceName:   "a",
		SourceWeight: decimal.NewFromInt(1),
		Play: []collect.PlaySource{{
			Source:   "m3u8",
			Episodes: []collect.Episode{{Name: "第01集", URL: "https://cdn.example.com/1.m3u8"}},
		}},
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := repo.UpsertCatalogItem(context.Background(), &item); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	agg := newTestAggregator(repo)
	result, err := agg.Aggregate(context.Background(), AggregateQuery{Keyword: "狂飙"}, AggregateOptions{CacheOnly: true})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(result.Items) != 1 || result.Items[0].TitleNorm != "狂飙" {
		t.Fatalf("items = %+v", result.Items)
	}
	if len(result.FailedSources) != 0 {
		t.Fatalf("cache-only must not touch sources")
	}
}

func TestAggregateEmptySourceCountsAsSucceeded(t *testing.T) {
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, jsonListing())
	}))
	defer empty.Close()

	repo := newStubRepo()
	addSource(t, repo, "zero", empty.URL, 1)

	agg := newTestAggregator(repo)
	result, err := agg.Aggregate(context.Background(), AggregateQuery{Keyword: "不存在的片名"}, AggregateOptions{Timeout: time.Second})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	// A zero-hit source answered correctly; it must not be reported failed
	// or have its health docked.
	if len(result.FailedSources) != 0 {
		t.Fatalf("zero-hit source marked failed: %v", result.FailedSources)
	}
	if len(result.SucceededSources) != 1 || result.SucceededSources[0] != "zero" {
		t.Fatalf("succeeded = %v", result.SucceededSources)
	}
	if len(result.Items) != 0 {
		t.Fatalf("items = %+v", result.Items)
	}
}

func TestAggregateIncludeLowPriorityDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, jsonListing(jsonItem("流浪地球2", "2023", "第01集$https://cdn.example.com/1.m3u8")))
	}))
	defer srv.Close()

	repo := newStubRepo()
	src := addSource(t, repo, "shaky", srv.URL, 1)
	err := repo.UpsertSourceHealth(context.Background(), &models.SourceHealth{
		SourceID:            src.ID,
		Status:              models.HealthError,
		ConsecutiveFailures: 5,
	})
	if err != nil {
		t.Fatalf("seed health: %v", err)
	}

	agg := newTestAggregator(repo)
	result, err := agg.Aggregate(context.Background(), AggregateQuery{Keyword: "地球"}, AggregateOptions{Timeout: time.Second})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(result.SucceededSources) != 0 {
		t.Fatalf("demoted source queried by default: %v", result.SucceededSources)
	}

	agg.IncludeLowPriority = true
	result, err = agg.Aggregate(context.Background(), AggregateQuery{Keyword: "地球"}, AggregateOptions{Timeout: time.Second})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(result.SucceededSources) != 1 || result.SucceededSources[0] != "shaky" {
		t.Fatalf("configured default did not include demoted source: %v", result.SucceededSources)
	}
}

func TestAggregateRecordsSlowSources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(30 * time.Millisecond)
		fmt.Fprint(w, jsonListing(jsonItem("流浪地球2", "2023", "第01集$https://cdn.example.com/1.m3u8")))
	}))
	defer srv.Close()

	repo := newStubRepo()
	src := addSource(t, repo, "laggy", srv.URL, 1)
	agg := newTestAggregator(repo)
	agg.SlowThresholdMs = 1

	if _, err := agg.Aggregate(context.Background(), AggregateQuery{Page: 1}, AggregateOptions{Timeout: 2 * time.Second}); err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	// The health write rides a background goroutine; wait for it to land.
	deadline := time.Now().Add(2 * time.Second)
	for {
		h, _ := repo.GetSourceHealth(context.Background(), src.ID)
		if h != nil && h.Status == models.HealthSlow {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("health = %+v, want slow", h)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAggregateSkipsNoCandidates(t *testing.T) {
	repo := newStubRepo()
	agg := newTestAggregator(repo)
	result, err := agg.Aggregate(context.Background(), AggregateQuery{Keyword: "x"}, AggregateOptions{})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(result.Items) != 0 {
		t.Fatalf("items = %+v", result.Items)
	}
}
