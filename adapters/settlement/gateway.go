// Package settlement 實作結算後端：拍賣以得標出價結束後，
// 由這裡向付款供應商請款或退款，並把最終結果回報給拍賣。
// 付款供應商本身是不透明的外部系統，此處以程序內的閘道代表它。
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/smallnest/chanx"
	"gorm.io/gorm"

	"gavel/auction"
	"gavel/models"
)

// ErrGatewayClosed 表示閘道已關閉，結算工作無法派送
var ErrGatewayClosed = errors.New("settlement gateway is closed")

// CompletionFunc 是結算結果的回呼：閘道確定最終結果後，
// 以拍賣識別字串和結果呼叫，由接線端路由回對應的拍賣 actor。
// 回呼一律從閘道的背景 goroutine 發出，不會在 Settle 或 Refund
// 呼叫端的 goroutine 中執行：呼叫端可能正位於拍賣自己的序列化
// 操作裡，同步回呼會讓回呼路徑重入同一個 mailbox 而卡死。
type CompletionFunc func(auctionID string, status auction.SettlementStatus)

type job func()

// Gateway 是付款供應商的結算閘道。
// Settle 只負責把請款工作排入佇列（派送失敗是致命錯誤，
// 由觸發結算的 close 操作承擔）；實際請款由背景 goroutine
// 處理，完成後寫入結算紀錄並透過 CompletionFunc 回報。
type Gateway struct {
	db       *gorm.DB
	complete CompletionFunc

	jobs       *chanx.UnboundedChan[job]
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
	logger     *slog.Logger
	options    gatewayOptions
}

type gatewayOptions struct {
	logger     *slog.Logger
	audit      auction.AuditSink
	bufferSize int
}

type GatewayOption func(*gatewayOptions)

// WithGatewayLogger 設置日誌記錄器
func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(o *gatewayOptions) {
		o.logger = logger
	}
}

// WithGatewayAudit 設置稽核槽，記錄結算階段的事件
func WithGatewayAudit(audit auction.AuditSink) GatewayOption {
	return func(o *gatewayOptions) {
		o.audit = audit
	}
}

// WithGatewayBufferSize 設置緩衝大小
func WithGatewayBufferSize(size int) GatewayOption {
	return func(o *gatewayOptions) {
		o.bufferSize = size
	}
}

// NewGateway 建立一個新的結算閘道。
func NewGateway(db *gorm.DB, complete CompletionFunc, opts ...GatewayOption) (*Gateway, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if complete == nil {
		return nil, errors.New("completion callback cannot be nil")
	}

	options := gatewayOptions{
		logger:     slog.Default(),
		bufferSize: 16,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Gateway{
		db:       db,
		complete: complete,
		closed:   true,
		logger:   options.logger.With(slog.String("caller", "SettlementGateway")),
		options:  options,
	}, nil
}

// Start 啟動結算 goroutine。
func (g *Gateway) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	g.jobs = chanx.NewUnboundedChan[job](ctx, g.options.bufferSize)
	g.cancelFunc = cancel
	g.closed = false
	g.logger.Info("starting settlement gateway")

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer g.logger.Info("settlement goroutine stopped")

		for {
			select {
			case <-ctx.Done():
				return
			case run := <-g.jobs.Out:
				run()
			}
		}
	}()
}

// Close 停止結算 goroutine，佇列中尚未處理的工作會被丟棄。
func (g *Gateway) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.mu.Unlock()

	g.cancelFunc()
	g.wg.Wait()
	g.logger.Info("settlement gateway closed")
}

// Settle 派送一筆結算工作，閘道已關閉時回傳錯誤。
// 最終結果之後由 CompletionFunc 以另一個序列化操作回報。
func (g *Gateway) Settle(settlementID string, winning auction.Bid) error {
	const op = "Gateway.Settle"

	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return fmt.Errorf("[%s] err=%w", op, ErrGatewayClosed)
	}

	g.jobs.In <- func() { g.capture(settlementID, winning) }
	return nil
}

// capture 執行一筆請款：寫入結算紀錄後回報結果。
// 紀錄寫入失敗視為付款失敗，回報 ROLLED_BACK。
func (g *Gateway) capture(settlementID string, winning auction.Bid) {
	record := models.Settlement{
		ID:        settlementID,
		AuctionID: winning.AuctionID,
		BidderID:  winning.UserID,
		Amount:    winning.Amount,
		SaleID:    uuid.NewString(),
		Outcome:   string(auction.SettlementSettled),
	}

	status := auction.SettlementSettled
	if result := g.db.Create(&record); result.Error != nil {
		g.logger.Error("Fail to persist settlement record", slog.String("settlementID", settlementID), slog.Any("error", result.Error))
		status = auction.SettlementRolledBack
	}

	if g.options.audit != nil {
		g.options.audit.SettlementCompleted(settlementID, winning.AuctionID, status)
	}
	g.complete(winning.AuctionID, status)
}

// Refund 對已完成的結算發起退款。
// 結算紀錄更新為 ROLLED_BACK 後，透過 CompletionFunc
// 讓拍賣以回呼路徑轉移狀態；Refund 本身只回傳最終結果。
// 回呼經由工作佇列派送：Refund 通常是在拍賣自己的序列化操作
// 中被呼叫，在這裡同步回呼會重入同一個 mailbox。
func (g *Gateway) Refund(settlementID string) (auction.SettlementStatus, error) {
	const op = "Gateway.Refund"

	g.mu.RLock()
	if g.closed {
		g.mu.RUnlock()
		return auction.SettlementPending, fmt.Errorf("[%s] err=%w", op, ErrGatewayClosed)
	}
	g.mu.RUnlock()

	var record models.Settlement
	if result := g.db.First(&record, "id = ?", settlementID); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return auction.SettlementPending, fmt.Errorf("[%s] settlement %s not found, err=%w", op, settlementID, auction.ErrNotFound)
		}
		return auction.SettlementPending, fmt.Errorf("[%s] Fail to load settlement %s, err=%w", op, settlementID, result.Error)
	}

	record.Outcome = string(auction.SettlementRolledBack)
	if result := g.db.Save(&record); result.Error != nil {
		return auction.SettlementPending, fmt.Errorf("[%s] Fail to update settlement %s, err=%w", op, settlementID, result.Error)
	}

	if g.options.audit != nil {
		g.options.audit.SettlementCompleted(settlementID, record.AuctionID, auction.SettlementRolledBack)
	}

	auctionID := record.AuctionID
	g.mu.RLock()
	if g.closed {
		g.mu.RUnlock()
		g.logger.Warn("gateway closed before refund completion dispatch", slog.String("settlementID", settlementID))
		return auction.SettlementRolledBack, nil
	}
	g.jobs.In <- func() { g.complete(auctionID, auction.SettlementRolledBack) }
	g.mu.RUnlock()

	return auction.SettlementRolledBack, nil
}
