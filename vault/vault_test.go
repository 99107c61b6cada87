package vault_test

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gavel/auction"
	"gavel/models"
	"gavel/vault"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	log.SetOutput(io.Discard)
}

// setupVault 建立接上單連線記憶體資料庫的Vault，
// 回傳的cleanup會關閉連線池
func setupVault(t *testing.T) (*vault.Vault, *gorm.DB, func()) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	v, err := vault.New(db)
	require.NoError(t, err)
	require.NoError(t, v.Migrate())
	return v, db, func() { sqlDB.Close() }
}

func TestNewVault(t *testing.T) {
	v, err := vault.New(nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "db cannot be nil")
	assert.Nil(t, v)
}

func TestVaultWrite(t *testing.T) {
	defer goleak.VerifyNone(t)
	v, db, closeDB := setupVault(t)
	defer closeDB()

	v.Start()
	defer v.Close()

	closeAt := time.Now().Add(15 * time.Second)
	v.Write(auction.Snapshot{
		ID:           "a1",
		Title:        "book",
		StartingBid:  15,
		CloseAt:      closeAt,
		OwnerID:      "owner",
		State:        auction.StateOpen,
		SettlementID: "s1",
		Bids: []auction.Bid{
			{AuctionID: "a1", UserID: "userA", Amount: 17},
			{AuctionID: "a1", UserID: "userB", Amount: 20},
		},
	})

	require.Eventually(t, func() bool {
		var count int64
		return db.Model(&models.Auction{}).Where("id = ?", "a1").Count(&count).Error == nil && count == 1
	}, 2*time.Second, 10*time.Millisecond)

	var record models.Auction
	require.NoError(t, db.First(&record, "id = ?", "a1").Error)
	assert.Equal(t, "book", record.Title)
	assert.Equal(t, int64(15), record.StartingBid)
	assert.Equal(t, "owner", record.OwnerID)
	assert.Equal(t, string(auction.StateOpen), record.State)
	assert.Equal(t, "s1", record.SettlementID)

	require.Eventually(t, func() bool {
		var count int64
		return db.Model(&models.Bid{}).Where("auction_id = ?", "a1").Count(&count).Error == nil && count == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestVaultUpsert(t *testing.T) {
	defer goleak.VerifyNone(t)
	v, db, closeDB := setupVault(t)
	defer closeDB()

	v.Start()
	defer v.Close()

	snap := auction.Snapshot{
		ID:           "a1",
		Title:        "book",
		StartingBid:  15,
		CloseAt:      time.Now().Add(15 * time.Second),
		OwnerID:      "owner",
		State:        auction.StateOpen,
		SettlementID: "s1",
		Bids: []auction.Bid{
			{AuctionID: "a1", UserID: "userA", Amount: 17},
		},
	}
	v.Write(snap)

	// 狀態變更後重寫同一拍賣，既有出價不得重複
	snap.State = auction.StateClosed
	snap.WinnerID = "userB"
	snap.Bids = append(snap.Bids, auction.Bid{AuctionID: "a1", UserID: "userB", Amount: 20})
	v.Write(snap)

	require.Eventually(t, func() bool {
		var record models.Auction
		if err := db.First(&record, "id = ?", "a1").Error; err != nil {
			return false
		}
		return record.State == string(auction.StateClosed) && record.WinnerID == "userB"
	}, 2*time.Second, 10*time.Millisecond)

	var auctionCount int64
	require.NoError(t, db.Model(&models.Auction{}).Where("id = ?", "a1").Count(&auctionCount).Error)
	assert.Equal(t, int64(1), auctionCount)

	var bidCount int64
	require.NoError(t, db.Model(&models.Bid{}).Where("auction_id = ?", "a1").Count(&bidCount).Error)
	assert.Equal(t, int64(2), bidCount)
}

func TestVaultLoadAll(t *testing.T) {
	defer goleak.VerifyNone(t)
	v, db, closeDB := setupVault(t)
	defer closeDB()

	v.Start()
	defer v.Close()

	v.Write(auction.Snapshot{
		ID:           "a1",
		Title:        "book",
		State:        auction.StateOpen,
		SettlementID: "s1",
		CloseAt:      time.Now(),
		Bids: []auction.Bid{
			{AuctionID: "a1", UserID: "userA", Amount: 17},
		},
	})

	require.Eventually(t, func() bool {
		var count int64
		return db.Model(&models.Bid{}).Count(&count).Error == nil && count == 1
	}, 2*time.Second, 10*time.Millisecond)

	records, err := v.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a1", records[0].ID)
	require.Len(t, records[0].Bids, 1)
	assert.Equal(t, "userA", records[0].Bids[0].UserID)
}

func TestVaultConcurrentWriteAndClose(t *testing.T) {
	defer goleak.VerifyNone(t)
	v, _, closeDB := setupVault(t)
	defer closeDB()

	v.Start()

	// 寫入與關閉並行時不得panic，關閉後的快照被丟棄
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				v.Write(auction.Snapshot{
					ID:      fmt.Sprintf("a%d", n),
					Title:   "book",
					CloseAt: time.Now(),
					State:   auction.StateOpen,
				})
			}
		}(i)
	}
	v.Close()
	wg.Wait()
}

func TestVaultWriteWhenStopped(t *testing.T) {
	defer goleak.VerifyNone(t)
	v, db, closeDB := setupVault(t)
	defer closeDB()

	// 未啟動時快照直接被丟棄，不會panic也不會阻塞
	v.Write(auction.Snapshot{ID: "a1", State: auction.StateOpen})

	v.Start()
	v.Close()
	// 重複關閉是安全的no-op
	v.Close()
	v.Write(auction.Snapshot{ID: "a2", State: auction.StateOpen})

	var count int64
	require.NoError(t, db.Model(&models.Auction{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}
