package settlement_test

import (
	"io"
	"log"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gavel/adapters/settlement"
	"gavel/auction"
	"gavel/models"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	log.SetOutput(io.Discard)
}

// setupDB 建立單連線的記憶體資料庫並完成遷移，
// 回傳的cleanup會關閉連線池
func setupDB(t *testing.T) (*gorm.DB, func()) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.Auction{}, &models.Bid{}, &models.Settlement{}))
	return db, func() { sqlDB.Close() }
}

type completion struct {
	auctionID string
	status    auction.SettlementStatus
}

// captureCompletions 回傳收集結算結果回呼的CompletionFunc
func captureCompletions() (settlement.CompletionFunc, <-chan completion) {
	ch := make(chan completion, 8)
	return func(auctionID string, status auction.SettlementStatus) {
		ch <- completion{auctionID: auctionID, status: status}
	}, ch
}

// countingAudit 只統計結算完成事件的次數
type countingAudit struct {
	mu        sync.Mutex
	completed int
}

func (a *countingAudit) completedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.completed
}

func (a *countingAudit) AuctionCreate(auction.Snapshot)                      {}
func (a *countingAudit) AuctionToOpen(auction.Snapshot)                      {}
func (a *countingAudit) AuctionToClose(auction.Snapshot)                     {}
func (a *countingAudit) AuctionBid(auction.Snapshot, auction.Bid)            {}
func (a *countingAudit) AuctionBidAccept(auction.Bid)                        {}
func (a *countingAudit) AuctionBidReject(auction.Bid)                        {}
func (a *countingAudit) SettlementWillSettle(string, auction.Snapshot, auction.Bid) {}
func (a *countingAudit) SettlementCompleted(string, string, auction.SettlementStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.completed++
}
func (a *countingAudit) SettlementRefund(string) {}
