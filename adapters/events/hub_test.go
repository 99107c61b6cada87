package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"gavel/adapters/events"
)

func receiveOne(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case received, ok := <-ch:
		require.True(t, ok, "subscription closed unexpectedly")
		return received
	case <-time.After(time.Second):
		t.Fatal("did not receive message in time")
		return Message{}
	}
}

func TestHubPublishSubscribe(t *testing.T) {
	defer goleak.VerifyNone(t)
	hub := events.NewHub[Message]()
	hub.Start()
	defer hub.Done()

	subA, err := hub.Subscribe("auction-a")
	require.NoError(t, err)
	subB, err := hub.Subscribe("auction-b")
	require.NoError(t, err)

	require.NoError(t, hub.Publish("auction-a", Message{Data: "only for a"}))

	assert.Equal(t, "only for a", receiveOne(t, subA).Data)

	// 其他主題的訂閱者不應收到事件
	select {
	case received := <-subB:
		t.Fatalf("unexpected message on topic b: %+v", received)
	case <-time.After(100 * time.Millisecond):
	}

	hub.Unsubscribe("auction-a", subA)
	_, ok := <-subA
	assert.False(t, ok, "channel should be closed after unsubscribe")

	// 重複取消訂閱是安全的no-op
	hub.Unsubscribe("auction-a", subA)

	hub.Unsubscribe("auction-b", subB)
	for range subB {
	}
}

func TestHubDone(t *testing.T) {
	defer goleak.VerifyNone(t)
	hub := events.NewHub[Message]()
	hub.Start()

	sub, err := hub.Subscribe("auction-a")
	require.NoError(t, err)

	hub.Done()
	// 重複關閉是安全的no-op
	hub.Done()

	_, ok := <-sub
	assert.False(t, ok, "all subscriptions should be closed")

	_, err = hub.Subscribe("auction-a")
	assert.ErrorIs(t, err, context.Canceled)

	err = hub.Publish("auction-a", Message{Data: "late"})
	assert.ErrorIs(t, err, context.Canceled)
}

// loopbackRelay 以記憶體通道模擬跨節點轉發
type loopbackRelay struct {
	ch chan events.Envelope[Message]
}

func newLoopbackRelay() *loopbackRelay {
	return &loopbackRelay{ch: make(chan events.Envelope[Message], 64)}
}

func (r *loopbackRelay) Start() {}

func (r *loopbackRelay) Publish(env events.Envelope[Message]) error {
	r.ch <- env
	return nil
}

func (r *loopbackRelay) Subscribe() <-chan events.Envelope[Message] {
	return r.ch
}

func (r *loopbackRelay) Close() {
	close(r.ch)
}

func TestHubWithRelay(t *testing.T) {
	defer goleak.VerifyNone(t)
	hub := events.NewHub[Message](events.WithHubRelay[Message](newLoopbackRelay()))
	hub.Start()
	defer hub.Done()

	sub, err := hub.Subscribe("auction-a")
	require.NoError(t, err)

	// 本地廣播由轉發器的訂閱驅動
	require.NoError(t, hub.Publish("auction-a", Message{Data: "first"}))
	require.NoError(t, hub.Publish("auction-a", Message{Data: "second"}))

	assert.Equal(t, "first", receiveOne(t, sub).Data)
	assert.Equal(t, "second", receiveOne(t, sub).Data)

	hub.Unsubscribe("auction-a", sub)
	for range sub {
	}
}
