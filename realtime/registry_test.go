package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alwitt/adstudio/metrics"
	"github.com/apex/log"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSubscriberQueue(t *testing.T) {
	assert := assert.New(t)

	uut := newSubscriber("ut", time.Now())
	utCtxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Case 0: timeout when nothing queued
	_, err := uut.Next(utCtxt, time.Millisecond*10)
	assert.ErrorIs(err, ErrHeartbeatDue)

	// Case 1: FIFO
	for _, id := range []string{"a", "b", "c"} {
		assert.Nil(uut.Enqueue(Event{Type: EventCommentCreated, ID: id}))
	}
	assert.Equal(3, uut.Pending())
	for _, id := range []string{"a", "b", "c"} {
		evt, err := uut.Next(utCtxt, time.Second)
		assert.Nil(err)
		assert.Equal(id, evt.ID)
	}

	// Case 2: waiting reader wakes on enqueue
	go func() {
		time.Sleep(time.Millisecond * 20)
		_ = uut.Enqueue(Event{Type: EventChatCreated, ID: "d"})
	}()
	evt, err := uut.Next(utCtxt, time.Second*5)
	assert.Nil(err)
	assert.Equal("d", evt.ID)

	// Case 3: waiting reader wakes on close
	go func() {
		time.Sleep(time.Millisecond * 20)
		uut.close()
	}()
	_, err = uut.Next(utCtxt, time.Second*5)
	assert.ErrorIs(err, ErrSubscriberGone)
	assert.ErrorIs(uut.Enqueue(Event{Type: EventChatCreated}), ErrSubscriberGone)
	assert.True(uut.Closed())
	uut.close()

	// Case 4: context end
	other := newSubscriber("ut-2", time.Now())
	cancel()
	_, err = other.Next(utCtxt, time.Second*5)
	assert.ErrorIs(err, context.Canceled)
}

func TestRegistry(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	collectors := metrics.GetCollectors()
	uut := GetRegistry("ut-registry", 3, collectors)

	sub1, err := uut.Register()
	assert.Nil(err)
	sub2, err := uut.Register()
	assert.Nil(err)
	sub3, err := uut.Register()
	assert.Nil(err)
	assert.NotEqual(sub1.ID(), sub2.ID())
	assert.Equal(float64(3), testutil.ToFloat64(collectors.ActiveSubscribers))

	// Case 0: at capacity
	_, err = uut.Register()
	assert.ErrorIs(err, ErrTooManySubscribers)

	// Case 1: snapshot is a copy
	snapshot := uut.Snapshot()
	assert.Len(snapshot, 3)
	uut.Unregister(sub3)
	assert.Len(snapshot, 3)
	assert.Equal(2, uut.Len())
	assert.False(uut.Contains(sub3))
	assert.True(sub3.Closed())

	// Case 2: unregister is idempotent, and ignores unknown subscribers
	uut.Unregister(sub3)
	uut.Unregister(nil)
	stranger := GetRegistry("ut-other", 0, nil)
	sub4, err := stranger.Register()
	assert.Nil(err)
	uut.Unregister(sub4)
	assert.Equal(2, uut.Len())
	assert.True(uut.Contains(sub1))
	assert.True(uut.Contains(sub2))
	assert.Equal(float64(2), testutil.ToFloat64(collectors.ActiveSubscribers))

	// Case 3: room again
	_, err = uut.Register()
	assert.Nil(err)

	uut.CloseAll()
	assert.Equal(0, uut.Len())
	assert.True(sub1.Closed())

	// Case 4: closed registry refuses new subscribers
	_, err = uut.Register()
	assert.ErrorIs(err, ErrRegistryClosed)
	assert.Equal(0, uut.Len())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	assert := assert.New(t)

	uut := GetRegistry("ut-concurrent", 0, nil)
	wg := sync.WaitGroup{}
	for itr := 0; itr < 20; itr++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for round := 0; round < 50; round++ {
				sub, err := uut.Register()
				if err != nil {
					continue
				}
				for _, other := range uut.Snapshot() {
					_ = other.Enqueue(Event{Type: EventTyping})
				}
				uut.Unregister(sub)
				uut.Unregister(sub)
			}
		}()
	}
	wg.Wait()
	assert.Equal(0, uut.Len())
}

func TestRegistryEvictIdle(t *testing.T) {
	assert := assert.New(t)

	collectors := metrics.GetCollectors()
	uut := GetRegistry("ut-evict", 0, collectors)
	utCtxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	stale, err := uut.Register()
	assert.Nil(err)
	waiting, err := uut.Register()
	assert.Nil(err)

	// A reader blocked waiting for events is not idle
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, err := waiting.Next(utCtxt, time.Second); err != nil && err != ErrHeartbeatDue {
				return
			}
		}
	}()

	assert.Equal(0, uut.EvictIdle(0))
	time.Sleep(time.Millisecond * 100)
	assert.Equal(1, uut.EvictIdle(time.Millisecond*50))
	assert.False(uut.Contains(stale))
	assert.True(uut.Contains(waiting))
	assert.Equal(
		float64(1), testutil.ToFloat64(collectors.SubscribersDropped.WithLabelValues(DropReasonIdle)),
	)

	cancel()
	<-readerDone
}
