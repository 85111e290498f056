// Package scheduler fires one-shot notification jobs at (or shortly after)
// their target time.
//
// Jobs live only in memory: on restart unfired jobs are lost, and callers that
// need durability must re-derive them from the task store. A job fires at most
// once; its state only moves scheduled -> fired or scheduled -> cancelled.
package scheduler

import (
	"container/heap"
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kabinh07/team-bot/pkg/logx"
)

type job struct {
	id     JobID
	fireAt time.Time
	seq    uint64 // insertion order, breaks fireAt ties
	state  JobState
	p      Payload

	heapIdx int // -1 once popped
}

// jobHeap is a min-heap on (fireAt, seq).
type jobHeap []*job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].fireAt.Equal(h[j].fireAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].fireAt.Before(h[j].fireAt)
}
func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}
func (h *jobHeap) Push(x any) {
	j := x.(*job)
	j.heapIdx = len(*h)
	*h = append(*h, j)
}
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.heapIdx = -1
	*h = old[:n-1]
	return j
}

// Service is the in-memory one-shot job engine. One timing goroutine serves
// all chats; enqueue and cancel are O(log n) under a short-held lock, and the
// loop never holds that lock while dispatching a payload.
type Service struct {
	mu    sync.Mutex
	heap  jobHeap
	byID  map[JobID]*job
	seq   uint64
	wake  chan struct{}
	runs  bool
	close chan struct{}

	dispatch Dispatcher
	log      logx.Logger

	hmu         sync.Mutex
	history     []FiredItem
	historySize int
}

func New(cfg Config, dispatch Dispatcher, log logx.Logger) *Service {
	size := cfg.HistorySize
	if size <= 0 {
		size = 200
	}
	return &Service{
		byID:        map[JobID]*job{},
		wake:        make(chan struct{}, 1),
		dispatch:    dispatch,
		log:         log,
		historySize: size,
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.runs {
		s.mu.Unlock()
		return
	}
	s.runs = true
	s.close = make(chan struct{})
	done := s.close
	s.mu.Unlock()

	go s.loop(ctx, done)
	s.log.Info("scheduler started")
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.runs {
		s.mu.Unlock()
		return
	}
	s.runs = false
	close(s.close)
	s.mu.Unlock()
	s.log.Info("scheduler stopped")
}

// Schedule enqueues a job. A fireAt in the past is treated as due now and
// fires on the next loop tick.
func (s *Service) Schedule(fireAt time.Time, p Payload) JobID {
	j := &job{
		id:     JobID(uuid.NewString()),
		fireAt: fireAt,
		p:      p,
		state:  JobScheduled,
	}

	s.mu.Lock()
	s.seq++
	j.seq = s.seq
	heap.Push(&s.heap, j)
	s.byID[j.id] = j
	s.mu.Unlock()

	s.kick()
	s.log.Debug("job scheduled",
		logx.String("job", string(j.id)),
		logx.Time("fire_at", fireAt),
		logx.String("kind", p.Kind))
	return j.id
}

// Cancel marks a scheduled job cancelled. It returns false, never an error,
// when the job already fired, was already cancelled, or is unknown: by then
// cancellation is simply too late.
func (s *Service) Cancel(id JobID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.byID[id]
	if !ok || j.state != JobScheduled {
		return false
	}
	j.state = JobCancelled
	if j.heapIdx >= 0 {
		heap.Remove(&s.heap, j.heapIdx)
	}
	delete(s.byID, id)
	return true
}

// Pending reports the number of jobs still waiting to fire.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.heap)
}

// History returns a copy of the fired-job ring, oldest first.
func (s *Service) History() []FiredItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	out := make([]FiredItem, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Service) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) loop(ctx context.Context, done <-chan struct{}) {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		due, next := s.collectDue(time.Now())
		for _, j := range due {
			s.fire(j)
		}

		var wait <-chan time.Time
		if !next.IsZero() {
			d := time.Until(next)
			if d < 0 {
				d = 0
			}
			timer.Reset(d)
			wait = timer.C
		}

		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-s.wake:
			// new job may be earlier than the current wake target
		case <-wait:
		}
		if wait != nil && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

// collectDue pops every job with fireAt <= now, transitions it to fired, and
// returns the next wake target (zero when the heap is empty). Jobs are
// returned rather than dispatched so the caller can run callbacks without the
// lock.
func (s *Service) collectDue(now time.Time) (due []*job, next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.heap) > 0 {
		j := s.heap[0]
		if j.fireAt.After(now) {
			next = j.fireAt
			break
		}
		heap.Pop(&s.heap)
		delete(s.byID, j.id)
		j.state = JobFired
		due = append(due, j)
	}
	return due, next
}

// fire dispatches one job. A panicking dispatcher is contained: one bad
// notification must not take down the loop or suppress other jobs.
func (s *Service) fire(j *job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic dispatching job",
				logx.String("job", string(j.id)),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	firedAt := time.Now()
	if s.dispatch != nil {
		s.dispatch(j.p)
	}
	s.log.Debug("job fired",
		logx.String("job", string(j.id)),
		logx.Duration("late_by", firedAt.Sub(j.fireAt)),
		logx.String("kind", j.p.Kind))

	s.hmu.Lock()
	s.history = append(s.history, FiredItem{ID: j.id, FireAt: j.fireAt, Fired: firedAt, Kind: j.p.Kind})
	if len(s.history) > s.historySize {
		s.history = s.history[len(s.history)-s.historySize:]
	}
	s.hmu.Unlock()
}
