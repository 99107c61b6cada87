// Package scheduler 提供程序自有的單次定時任務服務，
// 取代由外部服務代管的定時器：回呼會在指定時刻或之後被執行
// 恰好一次，除非先被取消。
package scheduler

import (
	"container/heap"
	"log/slog"
	"sync"
	"time"
)

type entry struct {
	at        time.Time
	seq       int64
	fn        func()
	cancelled bool
	index     int
}

// entryHeap 以觸發時刻排序，時刻相同時以排入順序排序
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Scheduler 管理所有待觸發的單次任務。
// 單一 goroutine 盯著最近的到期時刻，到期的回呼各自在
// 獨立的 goroutine 中執行，不會互相拖延。
type Scheduler struct {
	mu      sync.Mutex
	entries entryHeap
	nextSeq int64

	wakeup chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool

	logger *slog.Logger
}

type schedulerOptions struct {
	logger *slog.Logger
}

type Option func(*schedulerOptions)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) Option {
	return func(o *schedulerOptions) {
		o.logger = logger
	}
}

// New 建立一個新的 Scheduler。
func New(opts ...Option) *Scheduler {
	options := schedulerOptions{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Scheduler{
		wakeup: make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: options.logger.With(slog.String("caller", "Scheduler")),
	}
}

// Start 啟動調度 goroutine。
// 應在呼叫 ScheduleAt 前先呼叫此方法。
func (s *Scheduler) Start() {
	s.logger.Info("starting scheduler")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.logger.Info("scheduler goroutine stopped")

		timer := time.NewTimer(time.Hour)
		defer timer.Stop()

		for {
			s.mu.Lock()
			var wait time.Duration = time.Hour
			if len(s.entries) > 0 {
				wait = time.Until(s.entries[0].at)
			}
			s.mu.Unlock()

			if wait <= 0 {
				s.fireDue()
				continue
			}

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(wait)

			select {
			case <-s.done:
				return
			case <-s.wakeup:
			case <-timer.C:
				s.fireDue()
			}
		}
	}()
}

// fireDue 取出所有已到期且未取消的任務並執行
func (s *Scheduler) fireDue() {
	now := time.Now()

	s.mu.Lock()
	var due []*entry
	for len(s.entries) > 0 && !s.entries[0].at.After(now) {
		e := heap.Pop(&s.entries).(*entry)
		if !e.cancelled {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		fn := e.fn
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			fn()
		}()
	}
}

// ScheduleAt 排定一個在 at 時刻（或之後）執行一次的回呼，
// 回傳的取消函式可以安全地重複呼叫。
func (s *Scheduler) ScheduleAt(at time.Time, fn func()) (cancel func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return func() {}
	}
	s.nextSeq++
	e := &entry{at: at, seq: s.nextSeq, fn: fn}
	heap.Push(&s.entries, e)
	s.mu.Unlock()

	// 喚醒調度 goroutine 重算最近的到期時刻
	select {
	case s.wakeup <- struct{}{}:
	default:
	}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		e.cancelled = true
	}
}

// Close 停止調度並等待已觸發的回呼執行完畢，
// 尚未到期的任務不會再被觸發。
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	s.logger.Info("scheduler closed")
}
