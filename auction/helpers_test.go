package auction_test

import (
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gavel/adapters/events"
	"gavel/auction"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	log.SetOutput(io.Discard)
}

// fakeScheduler 收集排定的定時器，由測試自行決定何時觸發
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	at        time.Time
	fn        func()
	cancelled bool
}

func (s *fakeScheduler) ScheduleAt(at time.Time, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer := &fakeTimer{at: at, fn: fn}
	s.timers = append(s.timers, timer)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		timer.cancelled = true
	}
}

// fire 觸發所有尚未取消的定時器
func (s *fakeScheduler) fire() {
	s.mu.Lock()
	timers := s.timers
	s.timers = nil
	s.mu.Unlock()

	for _, timer := range timers {
		if !timer.cancelled {
			timer.fn()
		}
	}
}

func (s *fakeScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, timer := range s.timers {
		if !timer.cancelled {
			count++
		}
	}
	return count
}

// fakeBackend 是可程式化的結算後端
type fakeBackend struct {
	mu            sync.Mutex
	settleErr     error
	refundStatus  auction.SettlementStatus
	refundErr     error
	onSettle      func(settlementID string, winning auction.Bid)
	settled       []auction.Bid
	settlementIDs []string
	refunded      []string
}

func (b *fakeBackend) Settle(settlementID string, winning auction.Bid) error {
	b.mu.Lock()
	if b.settleErr != nil {
		err := b.settleErr
		b.mu.Unlock()
		return err
	}
	b.settled = append(b.settled, winning)
	b.settlementIDs = append(b.settlementIDs, settlementID)
	onSettle := b.onSettle
	b.mu.Unlock()

	// 模擬付款供應商的非同步回呼
	if onSettle != nil {
		go onSettle(settlementID, winning)
	}
	return nil
}

func (b *fakeBackend) Refund(settlementID string) (auction.SettlementStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refundErr != nil {
		return auction.SettlementPending, b.refundErr
	}
	b.refunded = append(b.refunded, settlementID)
	return b.refundStatus, nil
}

func (b *fakeBackend) settledBids() []auction.Bid {
	b.mu.Lock()
	defer b.mu.Unlock()
	bids := make([]auction.Bid, len(b.settled))
	copy(bids, b.settled)
	return bids
}

func (b *fakeBackend) refundedIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, len(b.refunded))
	copy(ids, b.refunded)
	return ids
}

// recordingAudit 依呼叫順序記錄稽核事件的種類
type recordingAudit struct {
	mu    sync.Mutex
	kinds []string
}

func (r *recordingAudit) record(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
}

func (r *recordingAudit) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, len(r.kinds))
	copy(kinds, r.kinds)
	return kinds
}

func (r *recordingAudit) AuctionCreate(auction.Snapshot)          { r.record("auction.create") }
func (r *recordingAudit) AuctionToOpen(auction.Snapshot)          { r.record("auction.open") }
func (r *recordingAudit) AuctionToClose(auction.Snapshot)         { r.record("auction.close") }
func (r *recordingAudit) AuctionBid(auction.Snapshot, auction.Bid) { r.record("auction.bid") }
func (r *recordingAudit) AuctionBidAccept(auction.Bid)            { r.record("bid.accept") }
func (r *recordingAudit) AuctionBidReject(auction.Bid)            { r.record("bid.reject") }
func (r *recordingAudit) SettlementWillSettle(string, auction.Snapshot, auction.Bid) {
	r.record("settlement.will-settle")
}
func (r *recordingAudit) SettlementCompleted(string, string, auction.SettlementStatus) {
	r.record("settlement.completed")
}
func (r *recordingAudit) SettlementRefund(string) { r.record("settlement.refund") }

type fixture struct {
	registry  *auction.Registry
	hub       *events.Hub[auction.Event]
	scheduler *fakeScheduler
	backend   *fakeBackend
	audit     *recordingAudit

	subs []<-chan auction.Event
}

// setupTest 建立一組接上假協作者的註冊表，
// 回傳的cleanup會關閉註冊表、事件中樞並清空所有訂閱
func setupTest(t *testing.T) (*fixture, func()) {
	hub := events.NewHub[auction.Event]()
	hub.Start()

	f := &fixture{
		registry:  nil,
		hub:       hub,
		scheduler: &fakeScheduler{},
		backend:   &fakeBackend{},
		audit:     &recordingAudit{},
	}
	f.registry = auction.NewRegistry(auction.RegistryConfig{
		CloseDelay: time.Hour,
		Dependencies: auction.Dependencies{
			Audit:      f.audit,
			Events:     hub,
			Scheduler:  f.scheduler,
			Settlement: f.backend,
		},
	})

	return f, func() {
		f.registry.Close()
		f.hub.Done()
		for _, ch := range f.subs {
			for range ch {
			}
		}
	}
}

func (f *fixture) subscribe(t *testing.T, topic string) <-chan auction.Event {
	t.Helper()
	ch, err := f.hub.Subscribe(topic)
	require.NoError(t, err)
	f.subs = append(f.subs, ch)
	return ch
}

// collectEvents 從訂閱通道收集n個事件，逾時視為測試失敗
func collectEvents(t *testing.T, ch <-chan auction.Event, n int) []auction.Event {
	t.Helper()
	collected := make([]auction.Event, 0, n)
	for len(collected) < n {
		select {
		case event, ok := <-ch:
			require.True(t, ok, "subscription closed before all events arrived")
			collected = append(collected, event)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d of %d", len(collected)+1, n)
		}
	}
	return collected
}
