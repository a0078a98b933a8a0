package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"vodhub/internal/collect"
	"vodhub/internal/models"
	"vodhub/internal/repository"
	"vodhub/internal/source"
)

func newTestEngine(repo *stubRepo) *TaskEngine {
	return &TaskEngine{
		Repo:       repo,
		Registry:   &Registry{Repo: repo},
		Client:     source.NewClient(&http.Client{}, "test", nil),
		Classifier: &collect.Classifier{Store: repo},
		Merger:     &collect.Merger{},
		Workers:    1,
	}
}

// pagedServer serves a two-page listing and records which pages were asked
// for.
func pagedServer(t *testing.T, pages *[]int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pg, _ := strconv.Atoi(r.URL.Query().Get("pg"))
		if pg == 0 {
			pg = 1
		}
		*pages = append(*pages, pg)
		var items string
		switch pg {
		case 1:
			items = jsonItem("流浪地球2", "2023", "第01集$https://cdn.example.com/21/1.m3u8")
		default:
			items = jsonItem("狂飙", "2023", "第01集$https://cdn.example.com/88/1.m3u8")
		}
		fmt.Fprintf(w, `{"code":1,"msg":"ok","page":%d,"pagecount":2,"limit":20,"total":2,"list":[%s]}`, pg, items)
	}))
}

func startTask(t *testing.T, repo *stubRepo, engine *TaskEngine, taskType string, cfg TaskConfig) *models.CollectionTask {
	t.Helper()
	task, err := engine.CreateTask(context.Background(), taskType, cfg)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	ok, err := repo.TransitionTask(context.Background(), task.ID, []string{models.TaskPending}, models.TaskRunning, nil)
	if err != nil || !ok {
		t.Fatalf("transition to running: ok=%v err=%v", ok, err)
	}
	return task
}

func TestTaskRunsToCompletion(t *testing.T) {
	var pages []int
	srv := pagedServer(t, &pages)
	defer srv.Close()

	repo := newStubRepo()
	addSource(t, repo, "a", srv.URL, 1)
	engine := newTestEngine(repo)

	task := startTask(t, repo, engine, models.TaskTypeFull, TaskConfig{})
	engine.Run(context.Background(), task.ID)

	final, _ := repo.GetTask(context.Background(), task.ID)
	if final.Status != models.TaskCompleted {
		t.Fatalf("status = %s, last error = %v", final.Status, final.LastError)
	}
	if final.CompletedAt == nil {
		t.Fatalf("completed_at not set")
	}
	if len(pages) != 2 || pages[0] != 1 || pages[1] != 2 {
		t.Fatalf("pages fetched = %v", pages)
	}
	if final.ProcessedCount != 2 || final.NewCount != 2 {
		t.Fatalf("counters = processed %d new %d", final.ProcessedCount, final.NewCount)
	}
	if len(repo.catalog) != 2 {
		t.Fatalf("catalog rows = %d", len(repo.catalog))
	}

	var cp TaskCheckpoint
	if err := json.Unmarshal([]byte(final.Checkpoint), &cp); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if len(cp.Done) != 1 {
		t.Fatalf("checkpoint done = %+v", cp)
	}
}

func TestTaskRedoIsIdempotent(t *testing.T) {
	var pages []int
	srv := pagedServer(t, &pages)
	defer srv.Close()

	repo := newStubRepo()
	addSource(t, repo, "a", srv.URL, 1)
	engine := newTestEngine(repo)

	first := startTask(t, repo, engine, models.TaskTypeFull, TaskConfig{})
	engine.Run(context.Background(), first.ID)

	second := startTask(t, repo, engine, models.TaskTypeFull, TaskConfig{})
	engine.Run(context.Background(), second.ID)

	final, _ := repo.GetTask(context.Background(), second.ID)
	if final.Status != models.TaskCompleted {
		t.Fatalf("status = %s", final.Status)
	}
	if final.NewCount != 0 {
		t.Fatalf("second run created rows: %d", final.NewCount)
	}
	if final.SkipCount != 2 {
		t.Fatalf("skip count = %d", final.SkipCount)
	}
	if len(repo.catalog) != 2 {
		t.Fatalf("catalog rows = %d", len(repo.catalog))
	}
}

func TestTaskRedoesPageAfterPersistFailure(t *testing.T) {
	var pages []int
	srv := pagedServer(t, &pages)
	defer srv.Close()

	repo := newStubRepo()
	addSource(t, repo, "a", srv.URL, 1)
	repo.txFailures = 1
	engine := newTestEngine(repo)

	task := startTask(t, repo, engine, models.TaskTypeFull, TaskConfig{})
	engine.Run(context.Background(), task.ID)

	final, _ := repo.GetTask(context.Background(), task.ID)
	if final.Status != models.TaskCompleted {
		t.Fatalf("status = %s, last error = %v", final.Status, final.LastError)
	}
	// The failed persist must not advance the cursor: page 1 is refetched
	// before the run moves on to page 2.
	if len(pages) != 3 || pages[0] != 1 || pages[1] != 1 || pages[2] != 2 {
		t.Fatalf("pages fetched = %v", pages)
	}
	// The rolled-back attempt must not leak into the counters.
	if final.ProcessedCount != 2 || final.NewCount != 2 {
		t.Fatalf("counters = processed %d new %d", final.ProcessedCount, final.NewCount)
	}
	if final.ErrorCount != 1 {
		t.Fatalf("error count = %d", final.ErrorCount)
	}
	if len(repo.catalog) != 2 {
		t.Fatalf("catalog rows = %d", len(repo.catalog))
	}
}

func TestTaskPageBudgetPausesWithCheckpoint(t *testing.T) {
	var pages []int
	srv := pagedServer(t, &pages)
	defer srv.Close()

	repo := newStubRepo()
	addSource(t, repo, "a", srv.URL, 1)
	engine := newTestEngine(repo)
	engine.MaxPagesPerRun = 1

	task := startTask(t, repo, engine, models.TaskTypeFull, TaskConfig{})
	engine.Run(context.Background(), task.ID)

	paused, _ := repo.GetTask(context.Background(), task.ID)
	if paused.Status != models.TaskPaused {
		t.Fatalf("status = %s", paused.Status)
	}
	if len(pages) != 1 {
		t.Fatalf("pages fetched = %v", pages)
	}
	var cp TaskCheckpoint
	if err := json.Unmarshal([]byte(paused.Checkpoint), &cp); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if next := cp.Cursors[cursorKey(1, 0)]; next != 2 {
		t.Fatalf("cursor = %d, want 2", next)
	}

	// Resuming continues from the cursor, not from page 1.
	engine.MaxPagesPerRun = 0
	ok, err := repo.TransitionTask(context.Background(), task.ID, []string{models.TaskPaused}, models.TaskRunning, nil)
	if err != nil || !ok {
		t.Fatalf("resume transition failed")
	}
	engine.Run(context.Background(), task.ID)

	final, _ := repo.GetTask(context.Background(), task.ID)
	if final.Status != models.TaskCompleted {
		t.Fatalf("status = %s", final.Status)
	}
	if len(pages) != 2 || pages[1] != 2 {
		t.Fatalf("pages fetched = %v", pages)
	}
}

func TestTaskTransitions(t *testing.T) {
	repo := newStubRepo()
	engine := newTestEngine(repo)

	task, err := engine.CreateTask(context.Background(), models.TaskTypeFull, TaskConfig{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Pause is only legal from running.
	if err := engine.Pause(context.Background(), task.ID); err == nil {
		t.Fatalf("pause of pending task must fail")
	}
	// Resume is only legal from paused.
	if err := engine.Resume(context.Background(), task.ID); err == nil {
		t.Fatalf("resume of pending task must fail")
	}
	// Cancel is legal from pending.
	if err := engine.Cancel(context.Background(), task.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	cancelled, _ := repo.GetTask(context.Background(), task.ID)
	if cancelled.Status != models.TaskCancelled || cancelled.CompletedAt == nil {
		t.Fatalf("task = %+v", cancelled)
	}
	// Terminal states refuse everything.
	if err := engine.Start(context.Background(), task.ID); err == nil {
		t.Fatalf("start of cancelled task must fail")
	}
	if err := engine.Cancel(context.Background(), task.ID); err == nil {
		t.Fatalf("cancel of cancelled task must fail")
	}
}

func TestCreateTaskValidation(t *testing.T) {
	repo := newStubRepo()
	engine := newTestEngine(repo)

	if _, err := engine.CreateTask(context.Background(), "bogus", TaskConfig{}); err == nil {
		t.Fatalf("unknown type must fail")
	}
	if _, err := engine.CreateTask(context.Background(), models.TaskTypeSource, TaskConfig{}); err == nil {
		t.Fatalf("source task without sources must fail")
	}
	if _, err := engine.CreateTask(context.Background(), models.TaskTypeCategory, TaskConfig{}); err == nil {
		t.Fatalf("category task without categories must fail")
	}
	if _, err := engine.CreateTask(context.Background(), models.TaskTypeFull, TaskConfig{StartPage: 9, EndPage: 3}); err == nil {
		t.Fatalf("inverted page range must fail")
	}

	task, err := engine.CreateTask(context.Background(), models.TaskTypeIncremental, TaskConfig{})
	if err != nil {
		t.Fatalf("incremental: %v", err)
	}
	var cfg TaskConfig
	if err := json.Unmarshal([]byte(task.Config), &cfg); err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.Hours != 24 {
		t.Fatalf("incremental default hours = %d", cfg.Hours)
	}

	shorts, err := engine.CreateTask(context.Background(), models.TaskTypeShorts, TaskConfig{})
	if err != nil {
		t.Fatalf("shorts: %v", err)
	}
	if err := json.Unmarshal([]byte(shorts.Config), &cfg); err != nil {
		t.Fatalf("config: %v", err)
	}
	if len(cfg.CategoryIDs) != 1 || cfg.CategoryIDs[0] != models.CategoryShorts {
		t.Fatalf("shorts categories = %v", cfg.CategoryIDs)
	}
}

func TestTaskFailsWithoutSources(t *testing.T) {
	repo := newStubRepo()
	engine := newTestEngine(repo)

	task := startTask(t, repo, engine, models.TaskTypeFull, TaskConfig{})
	engine.Run(context.Background(), task.ID)

	final, _ := repo.GetTask(context.Background(), task.ID)
	if final.Status != models.TaskFailed {
		t.Fatalf("status = %s", final.Status)
	}
	if final.LastError == nil {
		t.Fatalf("last error not recorded")
	}
}

func TestTaskAbandonsBrokenSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	repo := newStubRepo()
	addSource(t, repo, "broken", srv.URL, 1)
	engine := newTestEngine(repo)
	engine.SourceErrorLimit = 2

	task := startTask(t, repo, engine, models.TaskTypeFull, TaskConfig{})
	done := make(chan struct{})
	go func() {
		engine.Run(context.Background(), task.ID)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("run did not terminate")
	}

	final, _ := repo.GetTask(context.Background(), task.ID)
	if final.Status != models.TaskCompleted {
		t.Fatalf("status = %s", final.Status)
	}
	if final.ErrorCount < 2 {
		t.Fatalf("error count = %d", final.ErrorCount)
	}
}

func TestTaskScheduledIncrementalPassesHours(t *testing.T) {
	var sawHours []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawHours = append(sawHours, r.URL.Query().Get("h"))
		fmt.Fprint(w, jsonListing(jsonItem("流浪地球2", "2023", "第01集$https://cdn.example.com/1.m3u8")))
	}))
	defer srv.Close()

	repo := newStubRepo()
	addSource(t, repo, "a", srv.URL, 1)
	engine := newTestEngine(repo)

	if err := engine.RunScheduled(context.Background(), models.TaskTypeIncremental, TaskConfig{Hours: 6}); err != nil {
		t.Fatalf("run scheduled: %v", err)
	}
	if len(sawHours) == 0 || sawHours[0] != "6" {
		t.Fatalf("hours param = %v", sawHours)
	}
	tasks, _ := repo.ListTasks(context.Background(), repository.ListTasksParams{})
	if len(tasks) != 1 || tasks[0].Status != models.TaskCompleted {
		t.Fatalf("tasks = %+v", tasks)
	}
}
