package events

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrRelayClosed 表示轉發器已關閉
var ErrRelayClosed = errors.New("relay is closed")

// NatsRelay 透過 NATS subject 實現跨節點的事件轉發，
// 讓多個服務實例能夠對同一批訂閱者協同運作。
// 事件以 msgpack 編碼；NATS 保證同一個發布者在同一個 subject
// 上的訊息順序，因此單一拍賣的事件順序得以保留。
type NatsRelay[T any] struct {
	conn    *nats.Conn
	subject string

	sub        *nats.Subscription
	raw        chan *nats.Msg
	downstream chan Envelope[T]

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	logger *slog.Logger
}

type natsRelayOptions struct {
	logger     *slog.Logger
	bufferSize int
}

type NatsRelayOption func(*natsRelayOptions)

// WithNatsRelayLogger 設置日誌記錄器
func WithNatsRelayLogger(logger *slog.Logger) NatsRelayOption {
	return func(o *natsRelayOptions) {
		o.logger = logger
	}
}

// WithNatsRelayBufferSize 設置緩衝大小
func WithNatsRelayBufferSize(size int) NatsRelayOption {
	return func(o *natsRelayOptions) {
		o.bufferSize = size
	}
}

// NewNatsRelay 建立一個新的 NATS 轉發器。
func NewNatsRelay[T any](conn *nats.Conn, subject string, opts ...NatsRelayOption) (*NatsRelay[T], error) {
	if conn == nil {
		return nil, errors.New("nats connection cannot be nil")
	}
	if subject == "" {
		return nil, errors.New("subject cannot be empty")
	}

	options := natsRelayOptions{
		logger:     slog.Default(),
		bufferSize: 64,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &NatsRelay[T]{
		conn:       conn,
		subject:    subject,
		raw:        make(chan *nats.Msg, options.bufferSize),
		downstream: make(chan Envelope[T], options.bufferSize),
		logger:     options.logger.With(slog.String("caller", "NatsRelay"), slog.String("subject", subject)),
	}, nil
}

// Start 訂閱 subject 並開始解碼收到的事件。
func (r *NatsRelay[T]) Start() {
	sub, err := r.conn.ChanSubscribe(r.subject, r.raw)
	if err != nil {
		// 訂閱失敗時本節點收不到事件，但發布仍可運作
		r.logger.Error("Fail to subscribe to relay subject", slog.Any("error", err))
		close(r.downstream)
		return
	}
	r.sub = sub

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(r.downstream)
		defer r.logger.Info("relay goroutine stopped")

		for msg := range r.raw {
			var env Envelope[T]
			if err := msgpack.Unmarshal(msg.Data, &env); err != nil {
				r.logger.Error("unmarshal error", slog.Any("error", err))
				continue
			}
			r.downstream <- env
		}
	}()
}

// Publish 將事件發布到 subject，轉發器已關閉時回傳錯誤。
func (r *NatsRelay[T]) Publish(env Envelope[T]) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrRelayClosed
	}

	data, err := msgpack.Marshal(env)
	if err != nil {
		return err
	}
	return r.conn.Publish(r.subject, data)
}

// Subscribe 回傳解碼後的事件流。
func (r *NatsRelay[T]) Subscribe() <-chan Envelope[T] {
	return r.downstream
}

// Close 取消訂閱並停止轉發器。
func (r *NatsRelay[T]) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	if r.sub != nil {
		if err := r.sub.Unsubscribe(); err != nil {
			r.logger.Warn("Fail to unsubscribe from relay subject", slog.Any("error", err))
		}
	}
	close(r.raw)
	r.wg.Wait()
	r.logger.Info("relay closed")
}
