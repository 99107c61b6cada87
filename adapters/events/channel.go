package events

import (
	"context"
	"sync"

	"github.com/smallnest/chanx"
)

// Channel 用於管理針對某個拍賣主題的所有訂閱者，
// 並將接收到的事件廣播給所有訂閱者。
// 每個訂閱者擁有自己的無界緩衝，因此 Broadcast 永不阻塞：
// 一個緩慢或斷線的訂閱者不會拖慢拍賣本身的操作佇列。
type Channel[T any] struct {
	subscribers map[<-chan T]*chanx.UnboundedChan[T]
	mu          sync.RWMutex
}

// NewChannel creates a new event channel.
func NewChannel[T any]() *Channel[T] {
	return &Channel[T]{
		subscribers: make(map[<-chan T]*chanx.UnboundedChan[T]),
	}
}

// Subscribe 建立一個新的訂閱，回傳用於接收事件的唯讀通道。
// 訂閱之後才發布的事件才會被收到，不重播過去的事件。
func (c *Channel[T]) Subscribe() <-chan T {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := chanx.NewUnboundedChan[T](context.Background(), 16)
	c.subscribers[ch.Out] = ch
	return ch.Out
}

// Unsubscribe 從訂閱清單中移除指定的通道並關閉它。
// 對已移除的通道重複呼叫是安全的 no-op。
func (c *Channel[T]) Unsubscribe(ch <-chan T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub, exists := c.subscribers[ch]; exists {
		delete(c.subscribers, ch)
		close(sub.In)
	}
}

// UnsubscribeAll 關閉所有訂閱者的通道並清空訂閱清單。
func (c *Channel[T]) UnsubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.subscribers {
		close(sub.In)
	}
	clear(c.subscribers)
}

// Broadcast 將事件廣播給所有仍在訂閱清單中的通道。
// 同一個訂閱者收到的事件順序就是廣播的順序。
func (c *Channel[T]) Broadcast(message T) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, sub := range c.subscribers {
		sub.In <- message
	}
}

// IsIdle 判斷是否沒有任何訂閱者。
func (c *Channel[T]) IsIdle() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscribers) == 0
}
