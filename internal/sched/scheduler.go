// Package sched implements the event scheduler: a priority-ordered due-time
// queue driven by a single ticker goroutine, with execution offloaded to a
// bounded worker pool and a separate immediate queue for fire-and-forget
// work.
package sched

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"gamehub/server/internal/clock"
)

// Priority orders events that share a due time. Higher runs first.
type Priority int

const (
	Low Priority = iota
	Normal
	High
	Critical
)

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Normal:
		return "normal"
	case High:
		return "high"
	case Critical:
		return "critical"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// Unlimited marks an event with no execution cap.
const Unlimited = -1

// immediateCadence bounds how long a fire-and-forget submission waits before
// the ticker drains it.
const immediateCadence = 100 * time.Millisecond

// shutdownGrace bounds how long Stop waits for in-flight handlers.
const shutdownGrace = 5 * time.Second

// Action is an event handler. The context is canceled on scheduler
// shutdown.
type Action func(ctx context.Context) error

// Event is one scheduled entry. Configure the exported fields, then pass it
// to Schedule; the scheduler owns it afterwards.
type Event struct {
	Name          string
	Action        Action
	Priority      Priority
	Recurrence    Recurrence
	NextDue       time.Time // zero = due immediately (or per recurrence)
	MaxExecutions int       // Unlimited or a positive cap
	Coalesce      bool      // skip catch-up backlog when the scheduler falls behind

	id         int64
	executions int
	lastRun    time.Time
	enabled    bool
	tombstone  bool
}

// entry is a heap element. seq breaks ties among equal due/priority so
// insertion order is preserved.
type entry struct {
	ev    *Event
	due   time.Time
	seq   int64
	index int
}

type eventHeap []*entry

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if !h[i].due.Equal(h[j].due) {
		return h[i].due.Before(h[j].due)
	}
	if h[i].ev.Priority != h[j].ev.Priority {
		return h[i].ev.Priority > h[j].ev.Priority
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *eventHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Scheduler runs scheduled and immediate work. One ticker goroutine pops due
// entries; a worker pool executes them.
type Scheduler struct {
	clk     *clock.Clock
	workers int

	mu        sync.Mutex
	cond      *sync.Cond
	heap      eventHeap
	events    map[int64]*Event
	immediate []func(ctx context.Context) error
	nextID    int64
	nextSeq   int64
	running   bool

	jobs     chan job
	cancel   context.CancelFunc
	tickerWG sync.WaitGroup
	workerWG sync.WaitGroup

	// onRun, when set, observes completed executions (used by stats).
	onRun func(name string, err error)
}

type job struct {
	name string
	prio Priority
	fn   Action
}

// New builds a stopped scheduler. workers ≤ 0 selects NumCPU.
func New(clk *clock.Clock, workers int) *Scheduler {
	if workers <= 0 || workers > runtime.NumCPU() {
		workers = runtime.NumCPU()
	}
	s := &Scheduler{
		clk:     clk,
		workers: workers,
		events:  make(map[int64]*Event),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// OnRun registers an observer for completed executions. Must be called
// before Start.
func (s *Scheduler) OnRun(fn func(name string, err error)) {
	s.onRun = fn
}

// Schedule registers ev and returns its id. A zero NextDue means the first
// run is computed from the recurrence (immediately for Once/Every).
func (s *Scheduler) Schedule(ev *Event) int64 {
	if ev.MaxExecutions == 0 {
		ev.MaxExecutions = Unlimited
	}
	now := s.clk.Now()
	if ev.NextDue.IsZero() {
		switch ev.Recurrence.Kind {
		case Daily, Weekly, Monthly:
			ev.NextDue = ev.Recurrence.Next(now, now)
		default:
			ev.NextDue = now
		}
	}
	ev.enabled = true

	s.mu.Lock()
	s.nextID++
	ev.id = s.nextID
	s.events[ev.id] = ev
	s.pushLocked(ev, ev.NextDue)
	s.mu.Unlock()
	s.cond.Signal()

	slog.Debug("event scheduled", "event_id", ev.id, "name", ev.Name, "priority", ev.Priority.String(), "due", ev.NextDue)
	return ev.id
}

// Submit queues a fire-and-forget action on the immediate queue, drained at
// ≤100 ms cadence.
func (s *Scheduler) Submit(fn func(ctx context.Context) error) {
	s.mu.Lock()
	s.immediate = append(s.immediate, fn)
	s.mu.Unlock()
	s.cond.Signal()
}

// Cancel tombstones an event. The ticker skips tombstoned heap entries.
func (s *Scheduler) Cancel(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return false
	}
	ev.tombstone = true
	delete(s.events, id)
	return true
}

// SetEnabled toggles an event without removing it; disabled events are
// skipped at pop time and rescheduled per their recurrence.
func (s *Scheduler) SetEnabled(id int64, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return false
	}
	ev.enabled = enabled
	return true
}

// Executions returns how many times an event has run.
func (s *Scheduler) Executions(id int64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return 0, false
	}
	return ev.executions, true
}

// LastRun returns the last execution start time.
func (s *Scheduler) LastRun(id int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return time.Time{}, false
	}
	return ev.lastRun, true
}

// Len returns the number of registered events.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *Scheduler) pushLocked(ev *Event, due time.Time) {
	s.nextSeq++
	heap.Push(&s.heap, &entry{ev: ev, due: due, seq: s.nextSeq})
}

// Start launches the ticker and worker pool. Safe to call once.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.jobs = make(chan job, s.workers*4)

	for i := 0; i < s.workers; i++ {
		s.workerWG.Add(1)
		go s.worker(ctx)
	}
	s.tickerWG.Add(1)
	go s.tick(ctx)

	slog.Info("scheduler started", "workers", s.workers)
}

// Stop cancels the ticker, then waits up to shutdownGrace for in-flight
// handlers before detaching.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	s.cond.Broadcast()
	s.tickerWG.Wait()
	close(s.jobs)

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("scheduler stopped")
	case <-time.After(shutdownGrace):
		slog.Warn("scheduler stop timed out, detaching from in-flight handlers")
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.workerWG.Done()
	for j := range s.jobs {
		s.runOne(ctx, j)
	}
}

func (s *Scheduler) runOne(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduler handler panic", "name", j.name, "panic", r)
			if s.onRun != nil {
				s.onRun(j.name, fmt.Errorf("panic: %v", r))
			}
		}
	}()
	err := j.fn(ctx)
	if err != nil {
		slog.Error("scheduler handler failed", "name", j.name, "err", err)
	}
	if s.onRun != nil {
		s.onRun(j.name, err)
	}
}

// tick is the single ticker loop: wait for the earliest due entry (or the
// immediate cadence), pop everything due, and hand it to the workers in heap
// order.
func (s *Scheduler) tick(ctx context.Context) {
	defer s.tickerWG.Done()

	// Wake the cond when ctx dies so the loop can exit.
	go func() {
		<-ctx.Done()
		s.cond.Broadcast()
	}()

	for {
		s.mu.Lock()
		for ctx.Err() == nil && len(s.immediate) == 0 && !s.dueLocked() {
			wait := s.waitIntervalLocked()
			s.mu.Unlock()
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			s.mu.Lock()
		}
		if ctx.Err() != nil {
			s.mu.Unlock()
			return
		}

		// Drain the immediate queue first.
		imm := s.immediate
		s.immediate = nil

		// Pop everything due; heap order gives priority ordering within
		// the tick.
		now := s.clk.Now()
		var due []*entry
		for len(s.heap) > 0 && !s.heap[0].due.After(now) {
			due = append(due, heap.Pop(&s.heap).(*entry))
		}
		s.mu.Unlock()

		for _, fn := range imm {
			select {
			case s.jobs <- job{name: "immediate", prio: Normal, fn: fn}:
			case <-ctx.Done():
				return
			}
		}
		for _, e := range due {
			s.fire(ctx, e, now)
		}
	}
}

// dueLocked reports whether the heap head is due. Tombstoned heads are
// discarded here so they never delay live entries.
func (s *Scheduler) dueLocked() bool {
	now := s.clk.Now()
	for len(s.heap) > 0 {
		head := s.heap[0]
		if head.ev.tombstone {
			heap.Pop(&s.heap)
			continue
		}
		return !head.due.After(now)
	}
	return false
}

func (s *Scheduler) waitIntervalLocked() time.Duration {
	wait := immediateCadence
	if len(s.heap) > 0 {
		if d := s.heap[0].due.Sub(s.clk.Now()); d < wait {
			wait = d
		}
	}
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait
}

// fire dispatches one due entry and reschedules it per its recurrence.
func (s *Scheduler) fire(ctx context.Context, e *entry, now time.Time) {
	ev := e.ev

	s.mu.Lock()
	if ev.tombstone {
		s.mu.Unlock()
		return
	}
	if !ev.enabled {
		// Disabled events skip this run but keep their slot in the queue. A
		// disabled one-shot has no later due time to wait for, so it is
		// removed outright rather than left unreachable in the registry.
		next := ev.Recurrence.Next(e.due, now)
		if next.IsZero() {
			delete(s.events, ev.id)
		} else {
			s.pushLocked(ev, next)
		}
		s.mu.Unlock()
		return
	}
	ev.executions++
	ev.lastRun = now
	execs := ev.executions

	var next time.Time
	if ev.MaxExecutions == Unlimited || execs < ev.MaxExecutions {
		if ev.Coalesce {
			next = ev.Recurrence.CoalescedNext(e.due, now)
		} else {
			next = ev.Recurrence.Next(e.due, now)
		}
	}
	if next.IsZero() {
		// Exhausted or one-shot: removed at the end of this tick.
		delete(s.events, ev.id)
	} else {
		ev.NextDue = next
		s.pushLocked(ev, next)
	}
	s.mu.Unlock()

	select {
	case s.jobs <- job{name: ev.Name, prio: ev.Priority, fn: ev.Action}:
	case <-ctx.Done():
	}
}
