package audit

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallnest/chanx"
	"github.com/vmihailenco/msgpack/v5"

	"gavel/auction"
)

// Entry 是寫入稽核串流的單筆紀錄
type Entry struct {
	Kind         string                   `msgpack:"kind"`
	At           time.Time                `msgpack:"at"`
	AuctionID    string                   `msgpack:"auction_id,omitempty"`
	SettlementID string                   `msgpack:"settlement_id,omitempty"`
	Bid          *auction.Bid             `msgpack:"bid,omitempty"`
	Status       auction.SettlementStatus `msgpack:"status,omitempty"`
	Snapshot     *auction.Snapshot        `msgpack:"snapshot,omitempty"`
}

// encodeEntry 將 Entry 序列化為 stream message
func encodeEntry(e Entry) (map[string]any, error) {
	bytes, err := msgpack.Marshal(e)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"data": base64.StdEncoding.EncodeToString(bytes),
	}, nil
}

// DecodeEntry 從 stream message 還原 Entry，供稽核串流的讀取端使用
func DecodeEntry(message map[string]any) (Entry, error) {
	var entry Entry
	dataStr, ok := message["data"].(string)
	if !ok {
		return entry, errors.New("data field not found or invalid type")
	}
	bytes, err := base64.StdEncoding.DecodeString(dataStr)
	if err != nil {
		return entry, err
	}
	if err := msgpack.Unmarshal(bytes, &entry); err != nil {
		return entry, err
	}
	return entry, nil
}

// StreamSink 將稽核紀錄寫入 Redis Stream。
// Record 永不阻塞也永不回傳錯誤：紀錄先進入無界緩衝，
// 由背景 goroutine XAdd，寫入失敗只記錄日誌。
type StreamSink struct {
	client *redis.Client
	stream string

	upstream   *chanx.UnboundedChan[Entry]
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
	logger     *slog.Logger
	options    streamSinkOptions
}

type streamSinkOptions struct {
	logger     *slog.Logger
	bufferSize int
}

type StreamSinkOption func(*streamSinkOptions)

// WithStreamSinkLogger 設置日誌記錄器
func WithStreamSinkLogger(logger *slog.Logger) StreamSinkOption {
	return func(o *streamSinkOptions) {
		o.logger = logger
	}
}

// WithStreamSinkBufferSize 設置緩衝大小
func WithStreamSinkBufferSize(size int) StreamSinkOption {
	return func(o *streamSinkOptions) {
		o.bufferSize = size
	}
}

// NewStreamSink 建立一個新的 StreamSink。
func NewStreamSink(client *redis.Client, stream string, opts ...StreamSinkOption) (*StreamSink, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	options := streamSinkOptions{
		logger:     slog.Default(),
		bufferSize: 100,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &StreamSink{
		client:  client,
		stream:  stream,
		closed:  true,
		logger:  options.logger.With(slog.String("caller", "AuditStreamSink"), slog.String("stream", stream)),
		options: options,
	}, nil
}

// Start 啟動寫入 goroutine。
func (s *StreamSink) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.upstream = chanx.NewUnboundedChan[Entry](ctx, s.options.bufferSize)
	s.cancelFunc = cancel
	s.closed = false
	s.logger.Info("starting audit stream sink")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.logger.Info("audit sink goroutine stopped")

		for {
			select {
			case <-ctx.Done():
				return
			case entry := <-s.upstream.Out:
				message, err := encodeEntry(entry)
				if err != nil {
					s.logger.Error("encode audit entry error", slog.Any("error", err))
					continue
				}
				id, err := s.client.XAdd(ctx, &redis.XAddArgs{
					Stream: s.stream,
					Values: message,
				}).Result()
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					s.logger.Error("write audit entry error", slog.Any("error", err))
					continue
				}
				s.logger.Debug("audit entry written", slog.String("messageId", id), slog.String("kind", entry.Kind))
			}
		}
	}()
}

// Close 停止寫入 goroutine，緩衝中尚未寫出的紀錄會被丟棄。
func (s *StreamSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.logger.Info("closing audit stream sink")
	s.closed = true
	s.mu.Unlock()

	s.cancelFunc()
	s.wg.Wait()
	s.logger.Info("audit stream sink closed")
}

// record 將紀錄排入緩衝。稽核是 fire-and-forget：
// sink 未啟動或已關閉時直接丟棄，不回傳錯誤。
func (s *StreamSink) record(entry Entry) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.Debug("audit entry dropped, sink not running", slog.String("kind", entry.Kind))
		return
	}
	entry.At = time.Now()
	s.upstream.In <- entry
}

func (s *StreamSink) AuctionCreate(a auction.Snapshot) {
	s.record(Entry{Kind: "auction.create", AuctionID: a.ID, Snapshot: &a})
}

func (s *StreamSink) AuctionToOpen(a auction.Snapshot) {
	s.record(Entry{Kind: "auction.open", AuctionID: a.ID, Snapshot: &a})
}

func (s *StreamSink) AuctionToClose(a auction.Snapshot) {
	s.record(Entry{Kind: "auction.close", AuctionID: a.ID, Snapshot: &a})
}

func (s *StreamSink) AuctionBid(a auction.Snapshot, bid auction.Bid) {
	s.record(Entry{Kind: "auction.bid", AuctionID: a.ID, Bid: &bid})
}

func (s *StreamSink) AuctionBidAccept(bid auction.Bid) {
	s.record(Entry{Kind: "bid.accept", AuctionID: bid.AuctionID, Bid: &bid})
}

func (s *StreamSink) AuctionBidReject(bid auction.Bid) {
	s.record(Entry{Kind: "bid.reject", AuctionID: bid.AuctionID, Bid: &bid})
}

func (s *StreamSink) SettlementWillSettle(settlementID string, a auction.Snapshot, bid auction.Bid) {
	s.record(Entry{Kind: "settlement.will-settle", AuctionID: a.ID, SettlementID: settlementID, Bid: &bid})
}

func (s *StreamSink) SettlementCompleted(settlementID, auctionID string, status auction.SettlementStatus) {
	s.record(Entry{Kind: "settlement.completed", AuctionID: auctionID, SettlementID: settlementID, Status: status})
}

func (s *StreamSink) SettlementRefund(settlementID string) {
	s.record(Entry{Kind: "settlement.refund", SettlementID: settlementID})
}
