package events

import (
	"context"
	"log/slog"
	"sync"
)

// Envelope 表示一個發布請求，包含主題名稱和事件內容。
type Envelope[T any] struct {
	Topic   string `json:"topic" msgpack:"topic"`
	Message T      `json:"message" msgpack:"message"`
}

// Relay 定義了跨節點轉發的介面。
// 設定了 Relay 的 Hub 不會直接在本地廣播，而是先送進 Relay，
// 再由 Relay 的訂閱（包含自己發布的事件）驅動本地廣播，
// 確保多個節點看到相同的事件順序。
type Relay[T any] interface {
	Start()
	Publish(env Envelope[T]) error
	Subscribe() <-chan Envelope[T]
	Close()
}

// Hub 管理多個拍賣主題的訂閱與發布。
type Hub[T any] struct {
	mu     sync.RWMutex
	wg     sync.WaitGroup
	active bool

	channels map[string]*Channel[T]
	relay    Relay[T]
	logger   *slog.Logger
}

type hubOptions[T any] struct {
	logger *slog.Logger
	relay  Relay[T]
}

type HubOption[T any] func(*hubOptions[T])

// WithHubLogger 設置日誌記錄器
func WithHubLogger[T any](logger *slog.Logger) HubOption[T] {
	return func(o *hubOptions[T]) {
		o.logger = logger
	}
}

// WithHubRelay 設置跨節點轉發器
func WithHubRelay[T any](relay Relay[T]) HubOption[T] {
	return func(o *hubOptions[T]) {
		o.relay = relay
	}
}

// NewHub 建立一個新的事件中樞。
func NewHub[T any](opts ...HubOption[T]) *Hub[T] {
	options := hubOptions[T]{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Hub[T]{
		active:   true,
		channels: make(map[string]*Channel[T]),
		relay:    options.relay,
		logger:   options.logger.With(slog.String("caller", "EventHub")),
	}
}

// Start 啟動事件中樞。
// 應在呼叫其他方法前先呼叫此方法。
func (h *Hub[T]) Start() {
	if h.relay == nil {
		return
	}
	h.relay.Start()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for env := range h.relay.Subscribe() {
			h.broadcast(env.Topic, env.Message)
		}
	}()
}

// Done 停止事件中樞並關閉所有訂閱者的通道。
func (h *Hub[T]) Done() {
	h.mu.Lock()
	if !h.active {
		h.mu.Unlock()
		return
	}
	h.active = false
	h.mu.Unlock()

	if h.relay != nil {
		h.relay.Close()
	}
	h.wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, channel := range h.channels {
		channel.UnsubscribeAll()
	}
	clear(h.channels)
}

// Subscribe 訂閱指定的主題，回傳用於接收事件的唯讀通道。
func (h *Hub[T]) Subscribe(topic string) (<-chan T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.active {
		return nil, context.Canceled
	}

	c, ok := h.channels[topic]
	if !ok {
		c = NewChannel[T]()
		h.channels[topic] = c
	}
	return c.Subscribe(), nil
}

// Publish 發布事件到指定的主題。
func (h *Hub[T]) Publish(topic string, message T) error {
	h.mu.RLock()
	if !h.active {
		h.mu.RUnlock()
		return context.Canceled
	}
	relay := h.relay
	h.mu.RUnlock()

	if relay != nil {
		return relay.Publish(Envelope[T]{Topic: topic, Message: message})
	}

	h.broadcast(topic, message)
	return nil
}

// Unsubscribe 取消訂閱指定的主題，重複呼叫是安全的 no-op。
func (h *Hub[T]) Unsubscribe(topic string, ch <-chan T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.channels[topic]
	if !ok {
		return
	}

	c.Unsubscribe(ch)
	if c.IsIdle() {
		delete(h.channels, topic)
	}
}

func (h *Hub[T]) broadcast(topic string, message T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if channel, ok := h.channels[topic]; ok {
		channel.Broadcast(message)
	}
}
