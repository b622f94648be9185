package engine

import (
	"container/heap"
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/engramdev/engram/internal/store"
	"github.com/robfig/cron/v3"
)

// Scheduler drives the decay lifecycle on a fixed interval: scan long-term
// memories, enqueue phase transitions, and drain the queue through a
// bounded worker pool. One scheduler instance owns the whole decay path.
type Scheduler struct {
	db        *store.DB
	decay     *Decay
	interval  time.Duration
	batchSize int
	workers   int
	cron      *cron.Cron
	cancel    context.CancelFunc
	now       func() time.Time
}

// NewScheduler creates the periodic decay driver.
func NewScheduler(db *store.DB, decay *Decay, interval time.Duration, batchSize, workers int) *Scheduler {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if workers <= 0 {
		workers = 4
	}
	return &Scheduler{
		db:        db,
		decay:     decay,
		interval:  interval,
		batchSize: batchSize,
		workers:   workers,
		now:       time.Now,
	}
}

// Start runs one cycle immediately, then on every interval. The loop is
// supervised: a failing cycle is retried with exponential backoff instead
// of killing the ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.supervisedRun(runCtx)
	}); err != nil {
		cancel()
		return fmt.Errorf("register decay schedule: %w", err)
	}
	s.cron.Start()

	go s.supervisedRun(runCtx)

	log.Printf("scheduler: decay cycle every %s (batch %d, %d workers)", s.interval, s.batchSize, s.workers)
	return nil
}

// Stop cancels the running cycle and halts the ticker.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		s.cron.Stop()
	}
}

func (s *Scheduler) supervisedRun(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	result, err := backoff.Retry(ctx, func() (*CycleResult, error) {
		res, err := s.RunCycle(ctx)
		if err != nil {
			log.Printf("scheduler: cycle failed, retrying: %v", err)
			return nil, err
		}
		return res, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(5))
	if err != nil {
		log.Printf("scheduler: cycle gave up until next interval: %v", err)
		return
	}

	if result.Scheduled > 0 || result.Processed > 0 {
		log.Printf("scheduler: scheduled=%d processed=%d completed=%d failed=%d tokens_saved=%d",
			result.Scheduled, result.Processed, result.Completed, result.Failed, result.TokensSaved)
	}
}

// CycleResult aggregates one full scan-and-process cycle.
type CycleResult struct {
	Scheduled   int      `json:"scheduled"`
	Processed   int      `json:"processed"`
	Completed   int      `json:"completed"`
	Failed      int      `json:"failed"`
	Forgotten   int      `json:"forgotten"`
	TokensSaved int      `json:"tokens_saved"`
	Errors      []string `json:"errors,omitempty"`
}

// RunCycle performs one schedule-then-process pass and folds the savings
// into today's metrics row.
func (s *Scheduler) RunCycle(ctx context.Context) (*CycleResult, error) {
	scheduled, err := s.ScheduleBatch(ctx, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("schedule batch: %w", err)
	}

	proc, err := s.ProcessSchedule(ctx)
	if err != nil {
		return nil, fmt.Errorf("process schedule: %w", err)
	}

	avgRatio := 0.0
	if proc.compressions > 0 {
		avgRatio = proc.ratioSum / float64(proc.compressions)
	}
	if err := s.db.RecordCompressionMetrics(store.Day(s.now()), proc.compressions,
		proc.Forgotten, proc.TokensSaved, avgRatio); err != nil {
		log.Printf("scheduler: record metrics: %v", err)
	}

	return &CycleResult{
		Scheduled:   scheduled,
		Processed:   proc.Processed,
		Completed:   proc.Completed,
		Failed:      proc.Failed,
		Forgotten:   proc.Forgotten,
		TokensSaved: proc.TokensSaved,
		Errors:      proc.Errors,
	}, nil
}

// ScheduleBatch scans long-term memories not decayed in the last day,
// persists their refreshed strength, and enqueues a transition for every
// memory whose target phase differs from its current one. Returns the
// number of newly enqueued items.
func (s *Scheduler) ScheduleBatch(ctx context.Context, batchSize int) (int, error) {
	now := s.now()
	cutoff := now.Add(-24 * time.Hour).UnixMilli()

	memories, err := s.db.ListDecayable(cutoff)
	if err != nil {
		return 0, err
	}
	if batchSize > 0 && len(memories) > batchSize {
		memories = memories[:batchSize]
	}

	scheduled := 0
	for i := range memories {
		if ctx.Err() != nil {
			return scheduled, ctx.Err()
		}
		m := &memories[i]

		strength := Strength(m, now)
		if err := s.db.UpdateLongTermStrength(m.ID, strength, now.UnixMilli()); err != nil {
			log.Printf("scheduler: refresh strength %s: %v", m.ID, err)
			continue
		}

		target := PhaseForStrength(strength)
		if string(target) == m.MemoryPhase {
			continue
		}

		pending, err := s.db.HasPendingSchedule(m.ID)
		if err != nil {
			log.Printf("scheduler: pending check %s: %v", m.ID, err)
			continue
		}
		if pending {
			continue
		}

		item := &store.ScheduleItem{
			MemoryID:     m.ID,
			CurrentPhase: m.MemoryPhase,
			TargetPhase:  string(target),
			Priority:     decayPriority(strength, m.Importance),
			CreatedAt:    now.UnixMilli(),
			UpdatedAt:    now.UnixMilli(),
		}
		if err := s.db.InsertScheduleItem(item); err != nil {
			log.Printf("scheduler: enqueue %s: %v", m.ID, err)
			continue
		}
		scheduled++
	}
	return scheduled, nil
}

// decayPriority maps a transition onto the 1-10 task scale using the same
// shape as routing priority: weaker memories are more urgent to shrink,
// important ones more worth doing carefully first.
func decayPriority(strength, importance float64) int {
	p := int(math.Round((1-strength)*5 + importance*3 + 1))
	if p < 1 {
		p = 1
	}
	if p > 10 {
		p = 10
	}
	return p
}

// processResult aggregates one queue drain.
type processResult struct {
	Processed   int
	Completed   int
	Failed      int
	Forgotten   int
	TokensSaved int
	Errors      []string

	compressions int
	ratioSum     float64
}

// ProcessSchedule drains pending items through the worker pool. Failures
// on individual items are collected, never fatal to the batch.
func (s *Scheduler) ProcessSchedule(ctx context.Context) (*processResult, error) {
	now := s.now()

	// Age-boost items that have waited a full interval so a stream of hot
	// items cannot starve them.
	if _, err := s.db.AgePendingSchedule(now.Add(-s.interval).UnixMilli()); err != nil {
		log.Printf("scheduler: age pending: %v", err)
	}

	items, err := s.db.ListPendingSchedule(s.batchSize)
	if err != nil {
		return nil, err
	}

	result := &processResult{}
	if len(items) == 0 {
		return result, nil
	}

	queue := make(taskQueue, len(items))
	copy(queue, items)
	heap.Init(&queue)

	tasks := make(chan store.ScheduleItem)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range tasks {
				s.processItem(ctx, item, &mu, result)
			}
		}()
	}

feed:
	for queue.Len() > 0 {
		item := heap.Pop(&queue).(store.ScheduleItem)
		select {
		case tasks <- item:
		case <-ctx.Done():
			break feed
		}
	}
	close(tasks)
	wg.Wait()

	return result, nil
}

func (s *Scheduler) processItem(ctx context.Context, item store.ScheduleItem, mu *sync.Mutex, result *processResult) {
	nowMs := s.now().UnixMilli()

	claimed, err := s.db.ClaimScheduleItem(item.ID, nowMs)
	if err != nil || !claimed {
		if err != nil {
			log.Printf("scheduler: claim item %d: %v", item.ID, err)
		}
		return
	}

	mu.Lock()
	result.Processed++
	mu.Unlock()

	if Phase(item.TargetPhase) == PhaseForgotten {
		saved := 0
		if m, err := s.db.GetLongTerm(item.MemoryID); err == nil && m != nil {
			saved = m.TokenCount
		}
		if err := s.db.DeleteLongTerm(item.MemoryID); err != nil {
			s.failItem(item, err, mu, result)
			return
		}
		if err := s.db.CompleteScheduleItem(item.ID, saved, s.now().UnixMilli()); err != nil {
			log.Printf("scheduler: complete item %d: %v", item.ID, err)
		}
		mu.Lock()
		result.Completed++
		result.Forgotten++
		result.TokensSaved += saved
		mu.Unlock()
		return
	}

	res, err := s.decay.Compress(ctx, item.MemoryID, Phase(item.TargetPhase))
	if err != nil {
		s.failItem(item, err, mu, result)
		return
	}
	if err := s.db.CompleteScheduleItem(item.ID, res.TokensSaved, s.now().UnixMilli()); err != nil {
		log.Printf("scheduler: complete item %d: %v", item.ID, err)
	}

	mu.Lock()
	result.Completed++
	result.TokensSaved += res.TokensSaved
	result.compressions++
	result.ratioSum += res.Ratio
	mu.Unlock()
}

// failItem marks the item failed; the next scan re-enqueues the memory if
// the transition is still needed.
func (s *Scheduler) failItem(item store.ScheduleItem, cause error, mu *sync.Mutex, result *processResult) {
	if err := s.db.FailScheduleItem(item.ID, cause.Error(), s.now().UnixMilli()); err != nil {
		log.Printf("scheduler: fail item %d: %v", item.ID, err)
	}
	mu.Lock()
	result.Failed++
	result.Errors = append(result.Errors, fmt.Sprintf("memory %s: %v", item.MemoryID, cause))
	mu.Unlock()
}

// taskQueue is a max-heap over schedule items: highest priority first,
// oldest first within a priority.
type taskQueue []store.ScheduleItem

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority > q[j].Priority
	}
	if q[i].CreatedAt != q[j].CreatedAt {
		return q[i].CreatedAt < q[j].CreatedAt
	}
	return q[i].ID < q[j].ID
}

func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *taskQueue) Push(x any) { *q = append(*q, x.(store.ScheduleItem)) }

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
