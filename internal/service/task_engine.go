package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"vodhub/internal/collect"
	"vodhub/internal/metrics"
	"vodhub/internal/models"
	"vodhub/internal/repository"
	"vodhub/internal/source"
)

// TaskConfig is the immutable per-task configuration stored in the config
// column at creation time.
type TaskConfig struct {
	// SourceIDs restricts the crawl to specific sources; empty means every
	// active source.
	SourceIDs []uint64 `json:"source_ids,omitempty"`
	// CategoryIDs restricts to canonical top-level categories.
	CategoryIDs []int `json:"category_ids,omitempty"`
	StartPage   int   `json:"start_page,omitempty"`
	EndPage     int   `json:"end_page,omitempty"`
	// Hours bounds incremental crawls to recently updated items.
	Hours int `json:"hours,omitempty"`
}

// TaskCheckpoint is the resume cursor persisted after every page. Cursors are
// keyed per source (and per upstream category when one is targeted) and hold
// the next page to fetch, so an interrupted run redoes at most one page.
type TaskCheckpoint struct {
	Cursors map[string]int `json:"cursors,omitempty"`
	Done    []string       `json:"done,omitempty"`
}

func cursorKey(sourceID uint64, sourceCategoryID int) string {
	if sourceCategoryID > 0 {
		return strconv.FormatUint(sourceID, 10) + ":" + strconv.Itoa(sourceCategoryID)
	}
	return strconv.FormatUint(sourceID, 10)
}

// TaskEngine drives collection tasks through their lifecycle. Every status
// move is a compare-and-set against the database, so concurrent control calls
// and a crashed-and-restarted executor cannot corrupt the state machine.
type TaskEngine struct {
	Repo       repository.Repository
	Registry   *Registry
	Client     *source.Client
	Classifier *collect.Classifier
	Merger     *collect.Merger
	Metrics    *metrics.Metrics
	Logger     *zap.Logger

	Workers        int
	PageDelay      time.Duration
	MaxPagesPerRun int
	// SourceErrorLimit abandons a source within a run after this many
	// consecutive page failures.
	SourceErrorLimit int
}

func (e *TaskEngine) workers() int {
	if e.Workers > 0 {
		return e.Workers
	}
	return 2
}

func (e *TaskEngine) sourceErrorLimit() int {
	if e.SourceErrorLimit > 0 {
		return e.SourceErrorLimit
	}
	return 3
}

var validTaskTypes = map[string]bool{
	models.TaskTypeFull:        true,
	models.TaskTypeIncremental: true,
	models.TaskTypeCategory:    true,
	models.TaskTypeSource:      true,
	models.TaskTypeShorts:      true,
}

// CreateTask validates and persists a new pending task. It does not start
// execution.
func (e *TaskEngine) CreateTask(ctx context.Context, taskType string, cfg TaskConfig) (*models.CollectionTask, error) {
	taskType = strings.ToLower(strings.TrimSpace(taskType))
	if !validTaskTypes[taskType] {
		return nil, fmt.Errorf("unknown task type %q", taskType)
	}
	if taskType == models.TaskTypeSource && len(cfg.SourceIDs) == 0 {
		return nil, errors.New("source task requires source_ids")
	}
	if taskType == models.TaskTypeCategory && len(cfg.CategoryIDs) == 0 {
		return nil, errors.New("category task requires category_ids")
	}
	if cfg.EndPage > 0 && cfg.StartPage > cfg.EndPage {
		return nil, fmt.Errorf("start_page %d is past end_page %d", cfg.StartPage, cfg.EndPage)
	}
	for _, id := range cfg.SourceIDs {
		src, err := e.Repo.GetSource(ctx, id)
		if err != nil {
			return nil, err
		}
		if src == nil {
			return nil, fmt.Errorf("source %d not found", id)
		}
	}
	if taskType == models.TaskTypeShorts && len(cfg.CategoryIDs) == 0 {
		cfg.CategoryIDs = []int{models.CategoryShorts}
	}
	if taskType == models.TaskTypeIncremental && cfg.Hours == 0 {
		cfg.Hours = 24
	}

	rawCfg, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	task := &models.CollectionTask{
		Type:   taskType,
		Status: models.TaskPending,
		Config: rawCfg,
	}
	if err := e.Repo.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

// Start moves a pending task to running and launches the executor in the
// background. Restarting a paused task goes through Resume.
func (e *TaskEngine) Start(ctx context.Context, id uint64) error {
	now := time.Now().UTC()
	ok, err := e.Repo.TransitionTask(ctx, id, []string{models.TaskPending}, models.TaskRunning, map[string]any{
		"started_at": now,
	})
	if err != nil {
		return err
	}
	if !ok {
		return e.transitionRefused(ctx, id, "start")
	}
	e.launch(id)
	return nil
}

// Pause stops a running task at its next page boundary. The executor notices
// the status change when it reloads the task, so in-flight page work for the
// current page still lands.
func (e *TaskEngine) Pause(ctx context.Context, id uint64) error {
	now := time.Now().UTC()
	ok, err := e.Repo.TransitionTask(ctx, id, []string{models.TaskRunning}, models.TaskPaused, map[string]any{
		"paused_at": now,
	})
	if err != nil {
		return err
	}
	if !ok {
		return e.transitionRefused(ctx, id, "pause")
	}
	return nil
}

// Resume continues a paused task from its checkpoint.
func (e *TaskEngine) Resume(ctx context.Context, id uint64) error {
	ok, err := e.Repo.TransitionTask(ctx, id, []string{models.TaskPaused}, models.TaskRunning, map[string]any{
		"paused_at": nil,
	})
	if err != nil {
		return err
	}
	if !ok {
		return e.transitionRefused(ctx, id, "resume")
	}
	e.launch(id)
	return nil
}

// Cancel terminates a task from any non-terminal state. Terminal states
// refuse the move.
func (e *TaskEngine) Cancel(ctx context.Context, id uint64) error {
	now := time.Now().UTC()
	ok, err := e.Repo.TransitionTask(ctx, id,
		[]string{models.TaskPending, models.TaskRunning, models.TaskPaused},
		models.TaskCancelled,
		map[string]any{"completed_at": now},
	)
	if err != nil {
		return err
	}
	if !ok {
		return e.transitionRefused(ctx, id, "cancel")
	}
	return nil
}

func (e *TaskEngine) transitionRefused(ctx context.Context, id uint64, action string) error {
	task, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %d not found", id)
	}
	return fmt.Errorf("cannot %s task %d in status %s", action, id, task.Status)
}

func (e *TaskEngine) launch(id uint64) {
	go func() {
		defer func() {
			if r := recover(); r != nil && e.Logger != nil {
				e.Logger.Error("task executor panicked",
					zap.Uint64("task", id),
					zap.Any("panic", r),
				)
			}
		}()
		e.Run(context.Background(), id)
	}()
}

// RunScheduled creates and synchronously executes one task; the cron jobs use
// it so overlapping schedules never stack executors for the same run.
func (e *TaskEngine) RunScheduled(ctx context.Context, taskType string, cfg TaskConfig) error {
	task, err := e.CreateTask(ctx, taskType, cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	ok, err := e.Repo.TransitionTask(ctx, task.ID, []string{models.TaskPending}, models.TaskRunning, map[string]any{
		"started_at": now,
	})
	if err != nil || !ok {
		return fmt.Errorf("start scheduled task %d: %w", task.ID, err)
	}
	e.Run(ctx, task.ID)
	return nil
}

// Run executes a task that is already in running status until it finishes,
// pauses, is cancelled, or exhausts the page budget. Safe to call on a stale
// id: anything not running is left alone.
func (e *TaskEngine) Run(ctx context.Context, id uint64) {
	task, err := e.Repo.GetTask(ctx, id)
	if err != nil || task == nil {
		if e.Logger != nil {
			e.Logger.Warn("task load failed", zap.Uint64("task", id), zap.Error(err))
		}
		return
	}
	if task.Status != models.TaskRunning {
		return
	}

	run, err := e.newRun(task)
	if err != nil {
		e.fail(ctx, id, err)
		return
	}

	sources, err := run.resolveSources(ctx)
	if err != nil {
		e.fail(ctx, id, err)
		return
	}
	if len(sources) == 0 {
		e.fail(ctx, id, errors.New("no candidate sources"))
		return
	}

	e.logTask(ctx, id, "info", "task_start",
		fmt.Sprintf("type=%s sources=%d", task.Type, len(sources)), nil, nil)

	work := make(chan models.Source)
	var wg sync.WaitGroup
	for i := 0; i < e.workers(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for src := range work {
				run.collectSource(ctx, src)
			}
		}()
	}
	for _, src := range sources {
		if run.halted() {
			break
		}
		work <- src
	}
	close(work)
	wg.Wait()

	run.finish(ctx)
}

// taskRun is the in-memory side of one executor pass. Workers share it; all
// mutable state sits behind the mutex.
type taskRun struct {
	e    *TaskEngine
	mu   sync.Mutex
	task *models.CollectionTask
	cfg  TaskConfig
	cp   TaskCheckpoint

	pagesThisRun int
	budgetSpent  bool
	stopped      bool
	fatal        error
}

func (e *TaskEngine) newRun(task *models.CollectionTask) (*taskRun, error) {
	run := &taskRun{e: e, task: task}
	if len(task.Config) > 0 {
		if err := json.Unmarshal([]byte(task.Config), &run.cfg); err != nil {
			return nil, fmt.Errorf("task %d config unreadable: %w", task.ID, err)
		}
	}
	if len(task.Checkpoint) > 0 {
		if err := json.Unmarshal([]byte(task.Checkpoint), &run.cp); err != nil {
			// A corrupt checkpoint restarts the crawl; upserts make the redo
			// harmless.
			run.cp = TaskCheckpoint{}
		}
	}
	if run.cp.Cursors == nil {
		run.cp.Cursors = map[string]int{}
	}
	return run, nil
}

func (r *taskRun) resolveSources(ctx context.Context) ([]models.Source, error) {
	if len(r.cfg.SourceIDs) > 0 {
		out := make([]models.Source, 0, len(r.cfg.SourceIDs))
		for _, id := range r.cfg.SourceIDs {
			src, err := r.e.Repo.GetSource(ctx, id)
			if err != nil {
				return nil, err
			}
			if src == nil {
				return nil, fmt.Errorf("source %d not found", id)
			}
			// Naming a source explicitly overrides both the active flag and
			// health demotion.
			out = append(out, *src)
		}
		return out, nil
	}
	return r.e.Registry.ListActiveSources(ctx)
}

func (r *taskRun) halted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped || r.budgetSpent
}

func (r *taskRun) sourceDone(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.cp.Done {
		if d == key {
			return true
		}
	}
	return false
}

// collectSource walks one source's page range, one upstream category at a
// time, checkpointing after every page.
func (r *taskRun) collectSource(ctx context.Context, src models.Source) {
	targets, postFilter := r.targetsForSource(ctx, src)
	for _, sourceCatID := range targets {
		if r.halted() {
			return
		}
		key := cursorKey(src.ID, sourceCatID)
		if r.sourceDone(key) {
			continue
		}
		r.collectRange(ctx, src, sourceCatID, key, postFilter)
	}
}

// targetsForSource translates the task's canonical category filter into the
// source's own category ids via learned mappings. When no mapping covers the
// filter the whole listing is fetched and filtered after classification.
func (r *taskRun) targetsForSource(ctx context.Context, src models.Source) ([]int, bool) {
	if len(r.cfg.CategoryIDs) == 0 {
		return []int{0}, false
	}
	want := map[int]bool{}
	for _, id := range r.cfg.CategoryIDs {
		want[id] = true
	}
	mappings, err := r.e.Repo.ListCategoryMappings(ctx, src.ID)
	if err != nil || len(mappings) == 0 {
		return []int{0}, true
	}
	var targets []int
	for _, m := range mappings {
		if want[m.TargetCategoryID] {
			targets = append(targets, m.SourceCategoryID)
		}
	}
	if len(targets) == 0 {
		return []int{0}, true
	}
	return targets, false
}

func (r *taskRun) wantCategory(categoryID int) bool {
	if len(r.cfg.CategoryIDs) == 0 {
		return true
	}
	for _, id := range r.cfg.CategoryIDs {
		if id == categoryID {
			return true
		}
	}
	return false
}

func (r *taskRun) collectRange(ctx context.Context, src models.Source, sourceCatID int, key string, postFilter bool) {
	r.mu.Lock()
	page := r.cp.Cursors[key]
	r.mu.Unlock()
	if page == 0 {
		page = r.cfg.StartPage
	}
	if page == 0 {
		page = 1
	}

	consecutiveErrs := 0
	for {
		if r.reloadHalted(ctx) {
			return
		}

		res, err := r.e.Client.FetchList(ctx, src, source.ListQuery{
			Page:       page,
			CategoryID: sourceCatID,
			Hours:      r.cfg.Hours,
		})
		if err != nil {
			consecutiveErrs++
			r.notePageError(ctx, src, page, err)
			if consecutiveErrs >= r.e.sourceErrorLimit() {
				r.e.logTask(ctx, r.task.ID, "warn", "source_abandoned",
					fmt.Sprintf("source=%s after %d consecutive page errors", src.Key, consecutiveErrs), nil, nil)
				r.markDone(ctx, key)
				return
			}
			page++
			continue
		}
		r.e.Registry.LearnFormat(ctx, &src, res.DetectedFormat)

		if err := r.processPage(ctx, src, res.Page, page, key, postFilter); err != nil {
			// The cursor did not move, so the same page is redone next pass;
			// upserts are idempotent by dedup key.
			consecutiveErrs++
			r.notePageError(ctx, src, page, err)
			if consecutiveErrs >= r.e.sourceErrorLimit() {
				r.e.logTask(ctx, r.task.ID, "warn", "source_abandoned",
					fmt.Sprintf("source=%s after %d consecutive page errors", src.Key, consecutiveErrs), nil, nil)
				r.markDone(ctx, key)
				return
			}
		} else {
			consecutiveErrs = 0
			if r.e.Metrics != nil {
				r.e.Metrics.TaskPages.WithLabelValues("ok").Inc()
			}

			last := res.Page.PageCount
			if r.cfg.EndPage > 0 && (last == 0 || r.cfg.EndPage < last) {
				last = r.cfg.EndPage
			}
			if last > 0 && page >= last {
				r.markDone(ctx, key)
				return
			}
			if res.Page.PageCount == 0 && len(res.Page.Items) == 0 {
				r.markDone(ctx, key)
				return
			}
			page++
		}

		if r.spendPage() {
			return
		}
		if r.e.PageDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.e.PageDelay):
			}
		}
	}
}

// reloadHalted re-reads the task row so pause and cancel issued through the
// API take effect at the next page boundary.
func (r *taskRun) reloadHalted(ctx context.Context) bool {
	if ctx.Err() != nil {
		r.mu.Lock()
		r.stopped = true
		r.mu.Unlock()
		return true
	}
	fresh, err := r.e.Repo.GetTask(ctx, r.task.ID)
	if err != nil || fresh == nil || fresh.Status != models.TaskRunning {
		r.mu.Lock()
		r.stopped = true
		r.mu.Unlock()
		return true
	}
	return r.halted()
}

// spendPage counts one fetched page against the per-run budget. Exhausting
// the budget pauses the task; the checkpoint lets the next run continue.
func (r *taskRun) spendPage() bool {
	if r.e.MaxPagesPerRun <= 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pagesThisRun++
	if r.pagesThisRun >= r.e.MaxPagesPerRun {
		r.budgetSpent = true
		return true
	}
	return false
}

// processPage folds every item of one fetched page into the catalog and
// persists the advanced checkpoint in the same transaction, so a crash
// between pages never loses or double-counts a page.
func (r *taskRun) processPage(ctx context.Context, src models.Source, page *source.ListPage, pageNo int, key string, postFilter bool) error {
	if page == nil {
		return nil
	}

	type upsert struct {
		item   models.CatalogItem
		result collect.MergeResult
		title  string
	}
	var pending []upsert
	processed, skippedFilter, itemErrs := 0, 0, 0

	for _, raw := range page.Items {
		cand := buildCandidate(ctx, r.e.Classifier, src, raw)
		if strings.TrimSpace(cand.Title) == "" {
			itemErrs++
			continue
		}
		if postFilter && !r.wantCategory(cand.CategoryID) {
			skippedFilter++
			continue
		}
		processed++
		existing, err := r.e.Repo.GetCatalogItemByKey(ctx, collect.NormalizeTitle(cand.Title), cand.Year)
		if err != nil {
			itemErrs++
			continue
		}
		merged, result, err := r.e.Merger.Merge(existing, cand)
		if err != nil {
			itemErrs++
			r.e.logTask(ctx, r.task.ID, "warn", "item_error", err.Error(), nil, &cand.Title)
			continue
		}
		pending = append(pending, upsert{item: merged, result: result, title: cand.Title})
	}

	newCount, updateCount, skippedMerge := 0, 0, 0
	for _, p := range pending {
		switch p.result {
		case collect.MergeNew:
			newCount++
		case collect.MergeUpdated:
			updateCount++
		default:
			skippedMerge++
		}
	}

	// The snapshot carries this page's deltas and the advanced cursor without
	// touching the shared state yet; if the transaction rolls back, the live
	// counters and checkpoint still describe the last persisted page.
	r.mu.Lock()
	snapshot := *r.task
	snapshot.ProcessedCount += processed
	snapshot.SkipCount += skippedFilter + skippedMerge
	snapshot.ErrorCount += itemErrs
	snapshot.NewCount += newCount
	snapshot.UpdateCount += updateCount
	srcID := src.ID
	snapshot.CurrentSourceID = &srcID
	snapshot.CurrentPage = pageNo
	if page.PageCount > snapshot.TotalPages {
		snapshot.TotalPages = page.PageCount
	}
	advanced := TaskCheckpoint{Cursors: make(map[string]int, len(r.cp.Cursors)+1), Done: r.cp.Done}
	for k, v := range r.cp.Cursors {
		advanced.Cursors[k] = v
	}
	advanced.Cursors[key] = pageNo + 1
	rawCp, err := json.Marshal(advanced)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	snapshot.Checkpoint = rawCp
	r.mu.Unlock()

	err = r.e.Repo.InTx(ctx, func(tx *gorm.DB) error {
		for i := range pending {
			if pending[i].result == collect.MergeSkipped {
				continue
			}
			if err := r.e.Repo.UpsertCatalogItemTx(ctx, tx, &pending[i].item); err != nil {
				return err
			}
		}
		return r.e.Repo.SaveTaskProgressTx(ctx, tx, &snapshot)
	})
	if err != nil {
		return fmt.Errorf("persist page %d of %s: %w", pageNo, src.Key, err)
	}

	r.mu.Lock()
	r.task.ProcessedCount += processed
	r.task.SkipCount += skippedFilter + skippedMerge
	r.task.ErrorCount += itemErrs
	r.task.NewCount += newCount
	r.task.UpdateCount += updateCount
	r.task.CurrentSourceID = &srcID
	r.task.CurrentPage = pageNo
	if page.PageCount > r.task.TotalPages {
		r.task.TotalPages = page.PageCount
	}
	r.cp.Cursors[key] = pageNo + 1
	if live, merr := json.Marshal(r.cp); merr == nil {
		r.task.Checkpoint = live
	}
	r.mu.Unlock()

	if r.e.Metrics != nil {
		for _, p := range pending {
			r.e.Metrics.TaskItems.WithLabelValues(string(p.result)).Inc()
		}
	}
	return nil
}

func (r *taskRun) notePageError(ctx context.Context, src models.Source, page int, err error) {
	if r.e.Metrics != nil {
		r.e.Metrics.TaskPages.WithLabelValues("error").Inc()
	}
	r.mu.Lock()
	r.task.ErrorCount++
	msg := err.Error()
	r.task.LastError = &msg
	r.mu.Unlock()
	r.e.logTask(ctx, r.task.ID, "error", "page_error",
		fmt.Sprintf("source=%s page=%d: %v", src.Key, page, err), nil, nil)
}

// markDone records a finished cursor so a resumed run skips it.
func (r *taskRun) markDone(ctx context.Context, key string) {
	r.mu.Lock()
	r.cp.Done = append(r.cp.Done, key)
	rawCp, err := json.Marshal(r.cp)
	if err == nil {
		r.task.Checkpoint = rawCp
	}
	snapshot := *r.task
	r.mu.Unlock()
	if err != nil {
		return
	}
	saveErr := r.e.Repo.InTx(ctx, func(tx *gorm.DB) error {
		return r.e.Repo.SaveTaskProgressTx(ctx, tx, &snapshot)
	})
	if saveErr != nil && r.e.Logger != nil {
		r.e.Logger.Warn("checkpoint save failed",
			zap.Uint64("task", r.task.ID),
			zap.Error(saveErr),
		)
	}
}

// finish resolves the run's final status. Pause and cancel were already
// written by the control API; only natural completion, budget exhaustion and
// fatal errors are decided here.
func (r *taskRun) finish(ctx context.Context) {
	r.mu.Lock()
	stopped, budgetSpent, fatal := r.stopped, r.budgetSpent, r.fatal
	id := r.task.ID
	r.mu.Unlock()

	switch {
	case fatal != nil:
		r.e.fail(ctx, id, fatal)
	case budgetSpent:
		now := time.Now().UTC()
		ok, err := r.e.Repo.TransitionTask(ctx, id, []string{models.TaskRunning}, models.TaskPaused, map[string]any{
			"paused_at": now,
		})
		if err == nil && ok {
			r.e.logTask(ctx, id, "info", "task_paused", "page budget for this run exhausted", nil, nil)
		}
	case stopped:
		// Pause/cancel landed through the API; nothing to write.
	default:
		now := time.Now().UTC()
		ok, err := r.e.Repo.TransitionTask(ctx, id, []string{models.TaskRunning}, models.TaskCompleted, map[string]any{
			"completed_at": now,
		})
		if err == nil && ok {
			r.e.logTask(ctx, id, "info", "task_complete", "all sources finished", nil, nil)
		}
	}
}

func (e *TaskEngine) fail(ctx context.Context, id uint64, cause error) {
	now := time.Now().UTC()
	msg := cause.Error()
	_, err := e.Repo.TransitionTask(ctx, id,
		[]string{models.TaskPending, models.TaskRunning},
		models.TaskFailed,
		map[string]any{"completed_at": now, "last_error": msg},
	)
	if err != nil && e.Logger != nil {
		e.Logger.Error("task fail transition errored", zap.Uint64("task", id), zap.Error(err))
	}
	e.logTask(ctx, id, "error", "task_failed", msg, nil, nil)
}

func (e *TaskEngine) logTask(ctx context.Context, taskID uint64, level, action, message string, vodID, vodName *string) {
	entry := &models.CollectionLog{
		TaskID:  taskID,
		Level:   level,
		Action:  action,
		Message: message,
		VodID:   vodID,
		VodName: vodName,
	}
	if err := e.Repo.InsertCollectionLog(ctx, entry); err != nil && e.Logger != nil {
		e.Logger.Debug("collection log write failed", zap.Uint64("task", taskID), zap.Error(err))
	}
}

// PruneLogs deletes log lines older than the retention window; wired to the
// daily cron.
func (e *TaskEngine) PruneLogs(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	return e.Repo.PruneCollectionLogs(ctx, cutoff)
}
