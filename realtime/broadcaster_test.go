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

func TestBroadcasterFanOut(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	collectors := metrics.GetCollectors()
	registry := GetRegistry("ut-fan-out", 0, collectors)
	uut, err := GetBroadcaster(utCtxt, registry, BroadcasterParams{
		Name: "ut-fan-out", EventBuffer: 16, Observer: collectors,
	})
	assert.Nil(err)
	assert.Nil(uut.Start(&wg))
	defer func() {
		assert.Nil(uut.Stop())
	}()

	subs := make([]*Subscriber, 4)
	for idx := range subs {
		subs[idx], err = uut.Registry().Register()
		assert.Nil(err)
	}
	uut.Registry().Unregister(subs[3])

	// Case 0: heartbeat and unknown types are rejected
	assert.NotNil(uut.Publish(utCtxt, NewHeartbeatEvent(EventPing, time.Now())))
	assert.NotNil(uut.Publish(utCtxt, Event{Type: "bogus"}))

	// Case 1: every active subscriber receives each event once, in order
	first, err := NewEntityEvent(EventCommentCreated, "p1", "c1", nil)
	assert.Nil(err)
	second, err := NewEntityEvent(EventCommentUpdated, "p1", "c1", nil)
	assert.Nil(err)
	assert.Nil(uut.Publish(utCtxt, first))
	assert.Nil(uut.Publish(utCtxt, second))

	for _, sub := range subs[:3] {
		sub := sub
		assert.Eventually(func() bool {
			return sub.Pending() == 2
		}, time.Second*5, time.Millisecond*10)
		evt, err := sub.Next(utCtxt, time.Second)
		assert.Nil(err)
		assert.Equal(EventCommentCreated, evt.Type)
		evt, err = sub.Next(utCtxt, time.Second)
		assert.Nil(err)
		assert.Equal(EventCommentUpdated, evt.Type)
		assert.Equal(0, sub.Pending())
	}
	assert.Equal(0, subs[3].Pending())
	assert.Equal(
		float64(1), testutil.ToFloat64(collectors.EventsBroadcast.WithLabelValues("comment_updated")),
	)
}

func TestBroadcasterPublishNeverWaits(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	collectors := metrics.GetCollectors()
	registry := GetRegistry("ut-intake", 0, collectors)
	uut, err := GetBroadcaster(utCtxt, registry, BroadcasterParams{
		Name: "ut-intake", EventBuffer: 1, Observer: collectors,
	})
	assert.Nil(err)
	sub, err := registry.Register()
	assert.Nil(err)

	// Fill the intake while the loop is not running
	typing := NewTypingEvent("p1", "alice", true, time.Now(), time.Second*6)
	assert.Nil(uut.Publish(context.Background(), typing))

	done := make(chan error, 1)
	go func() {
		done <- uut.Publish(context.Background(), typing)
	}()
	select {
	case err := <-done:
		assert.Nil(err)
	case <-time.After(time.Millisecond * 500):
		assert.Fail("Publish waited on a full intake")
	}
	assert.Equal(float64(1), testutil.ToFloat64(collectors.EventsDropped.WithLabelValues("typing")))

	// Only the queued event is delivered
	assert.Nil(uut.Start(&wg))
	defer func() {
		assert.Nil(uut.Stop())
	}()
	evt, err := sub.Next(utCtxt, time.Second*5)
	assert.Nil(err)
	assert.Equal(EventTyping, evt.Type)
	assert.Never(func() bool {
		return sub.Pending() > 0
	}, time.Millisecond*200, time.Millisecond*20)
}

func TestBroadcasterDropsGoneSubscriber(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	collectors := metrics.GetCollectors()
	registry := GetRegistry("ut-gone", 0, collectors)
	uut, err := GetBroadcaster(utCtxt, registry, BroadcasterParams{
		Name: "ut-gone", EventBuffer: 4, Observer: collectors,
	})
	assert.Nil(err)
	assert.Nil(uut.Start(&wg))
	defer func() {
		assert.Nil(uut.Stop())
	}()

	live, err := registry.Register()
	assert.Nil(err)
	gone, err := registry.Register()
	assert.Nil(err)
	// Queue closed while still registered
	gone.close()

	assert.Nil(uut.Publish(utCtxt, Event{Type: EventChatDeleted, PostID: "p1", ID: "m1"}))
	assert.Eventually(func() bool {
		return registry.Len() == 1
	}, time.Second*5, time.Millisecond*10)
	assert.True(registry.Contains(live))
	assert.Equal(1, live.Pending())
	assert.Equal(
		float64(1), testutil.ToFloat64(collectors.SubscribersDropped.WithLabelValues(DropReasonGone)),
	)
}

func TestBroadcasterIdleSweep(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := GetRegistry("ut-sweep", 0, nil)
	uut, err := GetBroadcaster(utCtxt, registry, BroadcasterParams{
		Name: "ut-sweep", EventBuffer: 4, IdleEviction: time.Millisecond * 100,
	})
	assert.Nil(err)
	assert.Nil(uut.Start(&wg))

	stale, err := registry.Register()
	assert.Nil(err)
	assert.Eventually(func() bool {
		return stale.Closed()
	}, time.Second*5, time.Millisecond*20)
	assert.Equal(0, registry.Len())

	// Stop closes what is left
	remaining, err := registry.Register()
	assert.Nil(err)
	assert.Nil(uut.Stop())
	assert.True(remaining.Closed())
	assert.Equal(0, registry.Len())
}

func TestBroadcasterInvalidParams(t *testing.T) {
	assert := assert.New(t)

	_, err := GetBroadcaster(context.Background(), nil, BroadcasterParams{EventBuffer: 1})
	assert.NotNil(err)
	_, err = GetBroadcaster(
		context.Background(), GetRegistry("ut", 0, nil), BroadcasterParams{EventBuffer: 0},
	)
	assert.NotNil(err)
}
