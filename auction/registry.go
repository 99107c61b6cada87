package auction

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCloseDelay 是拍賣從建立到排定結束的預設間隔
const DefaultCloseDelay = 15 * time.Second

// RegistryConfig 是 Registry 的配置
type RegistryConfig struct {
	// CloseDelay 拍賣建立後多久排定結束，零值使用 DefaultCloseDelay
	CloseDelay time.Duration
	// Dependencies 注入給每個拍賣 actor 的外部協作者
	Dependencies Dependencies
}

// Registry 以唯一識別字串建立拍賣並將操作路由到正確的實體。
// 不同拍賣各自擁有獨立的 mailbox，彼此完全並行。
type Registry struct {
	mu       sync.RWMutex
	auctions map[string]*Auction
	active   bool

	nextID atomic.Int64

	config RegistryConfig
	logger *slog.Logger
}

// NewRegistry 建立一個新的拍賣註冊表
func NewRegistry(config RegistryConfig) *Registry {
	if config.CloseDelay <= 0 {
		config.CloseDelay = DefaultCloseDelay
	}
	if config.Dependencies.Logger == nil {
		config.Dependencies.Logger = slog.Default()
	}

	return &Registry{
		auctions: make(map[string]*Auction),
		active:   true,
		config:   config,
		logger:   config.Dependencies.Logger.With(slog.String("caller", "Registry")),
	}
}

// encodeID 將單調遞增的內部編號編碼為對外的識別字串
func encodeID(n int64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	return base64.RawURLEncoding.EncodeToString(buf[:])
}

// Create 建立一個新的拍賣並回傳其 actor。
// 標題為空或起標價為負時回傳 ErrInvalidArgument；
// 建立成功後拍賣處於 INIT，需再呼叫 Open 才開始接受出價。
func (r *Registry) Create(ctx context.Context, title string, startingBid int64, ownerID string) (*Auction, error) {
	const op = "Registry.Create"

	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return nil, context.Canceled
	}
	id := encodeID(r.nextID.Add(1))
	a := newAuction(id, r.config.Dependencies)
	r.auctions[id] = a
	r.mu.Unlock()

	err := a.do(ctx, func() error {
		return a.create(title, startingBid, ownerID, r.config.CloseDelay)
	})
	if err != nil {
		// 建立資料不合法，actor 不保留
		r.mu.Lock()
		delete(r.auctions, id)
		r.mu.Unlock()
		a.teardown()
		return nil, fmt.Errorf("[%s] Fail to create auction, err=%w", op, err)
	}

	r.logger.Info("auction created", slog.String("auctionID", id), slog.String("title", title))
	return a, nil
}

// Lookup 取得指定識別字串的拍賣，查無時回傳 ErrNotFound
func (r *Registry) Lookup(id string) (*Auction, error) {
	const op = "Registry.Lookup"

	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.auctions[id]
	if !ok {
		return nil, fmt.Errorf("[%s] auction %s, err=%w", op, id, ErrNotFound)
	}
	return a, nil
}

// FindIDsByTitle 回傳標題包含 query 的拍賣識別字串
func (r *Registry) FindIDsByTitle(ctx context.Context, query string) ([]string, error) {
	r.mu.RLock()
	auctions := make([]*Auction, 0, len(r.auctions))
	for _, a := range r.auctions {
		auctions = append(auctions, a)
	}
	r.mu.RUnlock()

	var ids []string
	for _, a := range auctions {
		snap, err := a.Get(ctx)
		if err != nil {
			return nil, err
		}
		if strings.Contains(snap.Title, query) {
			ids = append(ids, snap.ID)
		}
	}
	return ids, nil
}

// FindByTitle 回傳第一個標題完全相符的拍賣，查無時回傳 ErrNotFound
func (r *Registry) FindByTitle(ctx context.Context, title string) (*Auction, error) {
	const op = "Registry.FindByTitle"

	r.mu.RLock()
	auctions := make([]*Auction, 0, len(r.auctions))
	for _, a := range r.auctions {
		auctions = append(auctions, a)
	}
	r.mu.RUnlock()

	for _, a := range auctions {
		snap, err := a.Get(ctx)
		if err != nil {
			return nil, err
		}
		if snap.Title == title {
			return a, nil
		}
	}
	return nil, fmt.Errorf("[%s] title %q, err=%w", op, title, ErrNotFound)
}

// Close 停止所有拍賣 actor 並清空註冊表。
// 已排入各 mailbox 的任務會先執行完畢。
func (r *Registry) Close() {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}
	r.active = false
	auctions := r.auctions
	r.auctions = make(map[string]*Auction)
	r.mu.Unlock()

	for _, a := range auctions {
		a.teardown()
	}
	r.logger.Info("auction registry closed")
}
