package auction

import (
	"context"
	"log/slog"
	"sync"

	"github.com/smallnest/chanx"
)

type task func()

// mailbox 讓單一拍賣成為 single-writer actor：
// 所有操作（客戶端呼叫、定時器回呼、結算回呼）都排入同一個無界佇列，
// 由一個 goroutine 依序執行，因此同一拍賣上不會有兩個操作並行。
// 排入佇列永不阻塞，慢速的下游不會回壓到呼叫端。
type mailbox struct {
	inbox *chanx.UnboundedChan[task]
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func newMailbox() *mailbox {
	m := &mailbox{
		inbox: chanx.NewUnboundedChan[task](context.Background(), 16),
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for t := range m.inbox.Out {
			t()
		}
	}()
	return m
}

// enqueue 將任務排入佇列，mailbox 已關閉時回傳 context.Canceled
func (m *mailbox) enqueue(t task) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return context.Canceled
	}
	m.inbox.In <- t
	return nil
}

// close 停止接收新任務，等待佇列中的任務全部執行完畢
func (m *mailbox) close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.inbox.In)
	m.mu.Unlock()

	m.wg.Wait()
}

// do 在 mailbox 中執行 fn 並等待結果。
// ctx 只取消等待，不取消已排入的任務本身。
func (a *Auction) do(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	if err := a.mailbox.enqueue(func() { done <- fn() }); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ID 回傳拍賣的編碼識別字串
func (a *Auction) ID() string {
	return a.id
}

// Open 開始接受出價並啟動結束定時器。
// 只能成功呼叫一次，之後的呼叫回傳 ErrIllegalState。
func (a *Auction) Open(ctx context.Context) error {
	return a.do(ctx, a.open)
}

// Bid 提交一筆出價，回傳是否被接受。
// 拒絕（金額不夠高）是正常結果；在非 OPEN 狀態出價才是錯誤。
func (a *Auction) Bid(ctx context.Context, userID string, amount int64) (bool, error) {
	var accepted bool
	err := a.do(ctx, func() error {
		var bidErr error
		accepted, bidErr = a.bid(userID, amount)
		return bidErr
	})
	return accepted, err
}

// Close 結束拍賣。有得標出價時會同時派送結算，
// 派送失敗會讓 Close 回傳錯誤（狀態仍停留在 CLOSED）。
func (a *Auction) Close(ctx context.Context) error {
	return a.do(ctx, a.close)
}

// Get 取得公開快照，任何狀態下都可用
func (a *Auction) Get(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := a.do(ctx, func() error {
		snap = a.snapshot()
		return nil
	})
	return snap, err
}

// SetWinner 管理者覆寫得標者
func (a *Auction) SetWinner(ctx context.Context, userID string) error {
	return a.do(ctx, func() error { return a.setWinner(userID) })
}

// ClearWinner 管理者清除得標者
func (a *Auction) ClearWinner(ctx context.Context) error {
	return a.do(ctx, a.clearWinner)
}

// Refund 對已結算的拍賣發起退款，
// 後端回報 ROLLED_BACK 時回傳 true。
func (a *Auction) Refund(ctx context.Context) (bool, error) {
	var rolledBack bool
	err := a.do(ctx, func() error {
		var refundErr error
		rolledBack, refundErr = a.refund()
		return refundErr
	})
	return rolledBack, err
}

// SetSettled 是結算後端的回呼進入點，作為獨立的序列化操作執行
func (a *Auction) SetSettled(ctx context.Context) error {
	return a.do(ctx, a.setSettled)
}

// SetRolledBack 是結算後端的回滾回呼進入點
func (a *Auction) SetRolledBack(ctx context.Context) error {
	return a.do(ctx, a.setRolledBack)
}

// onCloseTimer 將定時器回呼排入 mailbox，不等待結果。
// 任務執行時若拍賣已不在 OPEN 則為 no-op，因此定時器是冪等安全的。
func (a *Auction) onCloseTimer() {
	err := a.mailbox.enqueue(func() {
		if err := a.closeOnTimer(); err != nil {
			a.logger.Error("Fail to close auction on timer", slog.Any("error", err))
		}
	})
	if err != nil {
		a.logger.Debug("timer fired after auction teardown")
	}
}

// teardown 取消定時器並停止 mailbox，由 Registry 在關閉時呼叫
func (a *Auction) teardown() {
	if err := a.mailbox.enqueue(func() {
		if a.cancelTimer != nil {
			a.cancelTimer()
		}
	}); err == nil {
		a.mailbox.close()
	}
}
