package realtime

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/alwitt/adstudio/common"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
)

// BroadcastObserver receives fan-out notifications
type BroadcastObserver interface {
	IncBroadcast(eventType string)
	IncEventDropped(eventType string)
}

// Broadcaster delivers events to every registered subscriber
type Broadcaster interface {
	// Publish queue an event for delivery to every subscriber
	//
	// Never waits. When the intake buffer is full the event is dropped and counted, and no
	// error is returned.
	Publish(ctxt context.Context, evt Event) error
	// Registry the subscriber registry the broadcaster delivers to
	Registry() *Registry
	// Start begin delivering events
	Start(wg *sync.WaitGroup) error
	// Stop stop delivering events, and close every subscriber
	Stop() error
}

// BroadcasterParams broadcaster settings
type BroadcasterParams struct {
	// Name broadcaster instance name
	Name string
	// EventBuffer number of events which can wait for fan-out. Events beyond it are dropped.
	EventBuffer int
	// IdleEviction remove subscribers which have not polled their queue for this long.
	// Disabled when 0.
	IdleEviction time.Duration
	// Relay optional relay for sharing events with other instances
	Relay Relay
	// Observer optional fan-out observer
	Observer BroadcastObserver
}

// broadcasterImpl implements Broadcaster
type broadcasterImpl struct {
	goutils.Component
	operationCtxt context.Context
	registry      *Registry
	tp            common.TaskProcessor
	params        BroadcasterParams
	sweepTimer    common.IntervalTimer
}

// GetBroadcaster define a new broadcaster over a registry
func GetBroadcaster(
	ctxt context.Context, registry *Registry, params BroadcasterParams,
) (Broadcaster, error) {
	if registry == nil {
		return nil, fmt.Errorf("subscriber registry is required")
	}
	logTags := log.Fields{
		"module": "realtime", "component": "broadcaster", "instance": params.Name,
	}
	tp, err := common.GetNewTaskProcessorInstance(ctxt, params.Name, params.EventBuffer)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define task processor")
		return nil, err
	}
	instance := &broadcasterImpl{
		Component:     goutils.Component{LogTags: logTags},
		operationCtxt: ctxt,
		registry:      registry,
		tp:            tp,
		params:        params,
	}
	if err := tp.AddToTaskExecutionMap(
		reflect.TypeOf(fanOutRequest{}), instance.processFanOut,
	); err != nil {
		return nil, err
	}
	if err := tp.AddToTaskExecutionMap(
		reflect.TypeOf(evictIdleRequest{}), instance.processEvictIdle,
	); err != nil {
		return nil, err
	}
	return instance, nil
}

// Registry the subscriber registry
func (b *broadcasterImpl) Registry() *Registry {
	return b.registry
}

// Start begin delivering events
func (b *broadcasterImpl) Start(wg *sync.WaitGroup) error {
	if err := b.tp.StartEventLoop(wg); err != nil {
		return err
	}
	if b.params.Relay != nil {
		if err := b.params.Relay.Subscribe(b.deliverRelayed); err != nil {
			log.WithError(err).WithFields(b.LogTags).Error("Unable to start relay")
			return err
		}
	}
	if b.params.IdleEviction > 0 {
		timer, err := common.GetIntervalTimerInstance(
			b.operationCtxt, wg, fmt.Sprintf("%s-idle-sweep", b.params.Name),
		)
		if err != nil {
			return err
		}
		sweepInterval := b.params.IdleEviction / 2
		if sweepInterval <= 0 {
			sweepInterval = b.params.IdleEviction
		}
		if err := timer.Start(sweepInterval, func() error {
			return b.tp.Submit(b.operationCtxt, evictIdleRequest{})
		}, false); err != nil {
			return err
		}
		b.sweepTimer = timer
	}
	return nil
}

// Stop stop delivering events
func (b *broadcasterImpl) Stop() error {
	if b.sweepTimer != nil {
		if err := b.sweepTimer.Stop(); err != nil {
			log.WithError(err).WithFields(b.LogTags).Error("Failed to stop idle sweep")
		}
	}
	if b.params.Relay != nil {
		if err := b.params.Relay.Close(); err != nil {
			log.WithError(err).WithFields(b.LogTags).Error("Failed to close relay")
		}
	}
	err := b.tp.StopEventLoop()
	b.registry.CloseAll()
	return err
}

// =========================================================================

type fanOutRequest struct {
	evt Event
}

// Publish queue an event for delivery to every subscriber
func (b *broadcasterImpl) Publish(ctxt context.Context, evt Event) error {
	if !evt.Type.Valid() {
		return fmt.Errorf("unknown event type '%s'", evt.Type)
	}
	if evt.Type.Heartbeat() {
		return fmt.Errorf("'%s' events are only sent by streaming sessions", evt.Type)
	}
	if b.params.Relay != nil {
		err := b.params.Relay.Publish(evt)
		if err == nil {
			return nil
		}
		log.WithError(err).WithFields(b.LogTags).Errorf(
			"Relay publish failed for '%s'. Delivering locally only.", evt.Type,
		)
	}
	return b.enqueue(ctxt, evt)
}

// enqueue hand an event to the fan-out loop without waiting
func (b *broadcasterImpl) enqueue(ctxt context.Context, evt Event) error {
	if err := ctxt.Err(); err != nil {
		return err
	}
	err := b.tp.TrySubmit(fanOutRequest{evt: evt})
	if errors.Is(err, common.ErrTaskBufferFull) {
		log.WithFields(b.LogTags).Warnf("Intake full. Dropped '%s' event.", evt.Type)
		if b.params.Observer != nil {
			b.params.Observer.IncEventDropped(string(evt.Type))
		}
		return nil
	}
	return err
}

// deliverRelayed queue an event received from the relay for local delivery
func (b *broadcasterImpl) deliverRelayed(evt Event) {
	if err := b.enqueue(b.operationCtxt, evt); err != nil {
		log.WithError(err).WithFields(b.LogTags).Errorf("Unable to queue relayed '%s'", evt.Type)
	}
}

func (b *broadcasterImpl) processFanOut(param interface{}) error {
	req, ok := param.(fanOutRequest)
	if !ok {
		return fmt.Errorf("can not process unknown type %s for fan-out", reflect.TypeOf(param))
	}
	delivered := 0
	for _, sub := range b.registry.Snapshot() {
		if err := sub.Enqueue(req.evt); err != nil {
			if b.registry.remove(sub, DropReasonGone) {
				log.WithFields(b.LogTags).Debugf("Dropped subscriber %s", sub.ID())
			}
			continue
		}
		delivered++
	}
	if b.params.Observer != nil {
		b.params.Observer.IncBroadcast(string(req.evt.Type))
	}
	log.WithFields(b.LogTags).Debugf("Fan-out '%s' to %d subscribers", req.evt.Type, delivered)
	return nil
}

// =========================================================================

type evictIdleRequest struct{}

func (b *broadcasterImpl) processEvictIdle(param interface{}) error {
	if _, ok := param.(evictIdleRequest); !ok {
		return fmt.Errorf("can not process unknown type %s for eviction", reflect.TypeOf(param))
	}
	if evicted := b.registry.EvictIdle(b.params.IdleEviction); evicted > 0 {
		log.WithFields(b.LogTags).Infof("Evicted %d idle subscribers", evicted)
	}
	return nil
}
