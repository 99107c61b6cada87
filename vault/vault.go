// Package vault 負責拍賣快照的持久化。
// 寫入採 write-behind：狀態變更把快照推進無界緩衝，
// 由背景 goroutine upsert 到資料庫，不阻塞拍賣的操作佇列。
// 程序在快照尚未寫出前中斷會遺失該筆更新（已知且可接受的缺口）。
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/smallnest/chanx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gavel/auction"
	"gavel/models"
)

// Vault 是拍賣快照的持久化層。
type Vault struct {
	db *gorm.DB

	in         *chanx.UnboundedChan[auction.Snapshot]
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
	logger     *slog.Logger
	options    vaultOptions
}

type vaultOptions struct {
	logger     *slog.Logger
	bufferSize int
}

type Option func(*vaultOptions)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) Option {
	return func(o *vaultOptions) {
		o.logger = logger
	}
}

// WithBufferSize 設置緩衝大小
func WithBufferSize(size int) Option {
	return func(o *vaultOptions) {
		o.bufferSize = size
	}
}

// New 建立一個新的 Vault。
func New(db *gorm.DB, opts ...Option) (*Vault, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}

	options := vaultOptions{
		logger:     slog.Default(),
		bufferSize: 100,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Vault{
		db:      db,
		closed:  true,
		logger:  options.logger.With(slog.String("caller", "Vault")),
		options: options,
	}, nil
}

// Migrate 建立拍賣相關的資料表
func (v *Vault) Migrate() error {
	const op = "Vault.Migrate"
	if err := v.db.AutoMigrate(&models.Auction{}, &models.Bid{}, &models.Settlement{}); err != nil {
		return fmt.Errorf("[%s] Fail to migrate tables, err=%w", op, err)
	}
	return nil
}

// Start 啟動持久化 goroutine。
func (v *Vault) Start() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	v.in = chanx.NewUnboundedChan[auction.Snapshot](ctx, v.options.bufferSize)
	v.cancelFunc = cancel
	v.closed = false
	v.logger.Info("starting vault worker")

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		defer v.logger.Info("vault worker stopped")

		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-v.in.Out:
				if err := v.save(snap); err != nil {
					v.logger.Error("Fail to save auction snapshot", slog.String("auctionID", snap.ID), slog.Any("error", err))
				}
			}
		}
	}()
}

// Close 停止持久化 goroutine，緩衝中尚未寫出的快照會被丟棄。
func (v *Vault) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()

	v.cancelFunc()
	v.wg.Wait()
	v.logger.Info("vault closed")
}

// Write 將快照排入持久化佇列，fire-and-forget。
func (v *Vault) Write(snap auction.Snapshot) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		v.logger.Debug("snapshot dropped, vault not running", slog.String("auctionID", snap.ID))
		return
	}
	v.in.In <- snap
}

// save 將快照 upsert 到資料庫：
// 拍賣列整列更新，已接受的出價以 (auction_id, seq) 去重後插入。
func (v *Vault) save(snap auction.Snapshot) error {
	const op = "Vault.save"

	record := models.Auction{
		ID:           snap.ID,
		Title:        snap.Title,
		StartingBid:  snap.StartingBid,
		OwnerID:      snap.OwnerID,
		CloseAt:      snap.CloseAt,
		State:        string(snap.State),
		WinnerID:     snap.WinnerID,
		SettlementID: snap.SettlementID,
	}
	if result := v.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"close_at", "state", "winner_id", "updated_at"}),
	}).Create(&record); result.Error != nil {
		return fmt.Errorf("[%s] Fail to upsert auction, err=%w", op, result.Error)
	}

	if len(snap.Bids) == 0 {
		return nil
	}
	bids := make([]models.Bid, len(snap.Bids))
	for i, bid := range snap.Bids {
		bids[i] = models.Bid{
			AuctionID: snap.ID,
			Seq:       i,
			UserID:    bid.UserID,
			Amount:    bid.Amount,
		}
	}
	if result := v.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&bids); result.Error != nil {
		return fmt.Errorf("[%s] Fail to insert bids, err=%w", op, result.Error)
	}
	return nil
}

// LoadAll 讀出所有持久化的拍賣紀錄（含出價），供啟動時檢視或報表使用。
func (v *Vault) LoadAll(ctx context.Context) ([]models.Auction, error) {
	const op = "Vault.LoadAll"
	var records []models.Auction
	if result := v.db.WithContext(ctx).Preload("Bids").Find(&records); result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to load auctions, err=%w", op, result.Error)
	}
	return records, nil
}
