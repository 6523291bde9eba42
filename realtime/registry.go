package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/google/uuid"
)

// ErrTooManySubscribers the registry is at capacity
var ErrTooManySubscribers = errors.New("too many subscribers")

// ErrRegistryClosed the registry no longer accepts subscribers
var ErrRegistryClosed = errors.New("subscriber registry closed")

// RegistryObserver receives registry size changes and removals
type RegistryObserver interface {
	SetSubscribers(count int)
	IncDropped(reason string)
}

// Subscriber removal reasons
const (
	DropReasonGone = "gone"
	DropReasonIdle = "idle"
)

// Registry concurrency safe set of active subscribers
type Registry struct {
	goutils.Component
	lock           sync.RWMutex
	subscribers    map[string]*Subscriber
	maxSubscribers int
	observer       RegistryObserver
	closed         bool
}

// GetRegistry define a new subscriber registry
//
// maxSubscribers of 0 means unlimited. observer may be nil.
func GetRegistry(name string, maxSubscribers int, observer RegistryObserver) *Registry {
	logTags := log.Fields{
		"module": "realtime", "component": "registry", "instance": name,
	}
	return &Registry{
		Component:      goutils.Component{LogTags: logTags},
		subscribers:    make(map[string]*Subscriber),
		maxSubscribers: maxSubscribers,
		observer:       observer,
	}
}

// Register create and track a new subscriber
func (r *Registry) Register() (*Subscriber, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if r.maxSubscribers > 0 && len(r.subscribers) >= r.maxSubscribers {
		return nil, ErrTooManySubscribers
	}
	sub := newSubscriber(uuid.NewString(), time.Now())
	r.subscribers[sub.id] = sub
	r.report()
	log.WithFields(r.LogTags).Debugf("Registered subscriber %s", sub.id)
	return sub, nil
}

// Unregister stop tracking a subscriber, and close it
//
// Unknown or already removed subscribers are ignored.
func (r *Registry) Unregister(sub *Subscriber) {
	if sub == nil {
		return
	}
	r.remove(sub, "")
}

// remove untrack and close a subscriber, returning whether it was tracked
func (r *Registry) remove(sub *Subscriber, reason string) bool {
	r.lock.Lock()
	current, ok := r.subscribers[sub.id]
	if ok && current == sub {
		delete(r.subscribers, sub.id)
		r.report()
	} else {
		ok = false
	}
	r.lock.Unlock()
	sub.close()
	if ok {
		log.WithFields(r.LogTags).Debugf("Removed subscriber %s", sub.id)
		if reason != "" && r.observer != nil {
			r.observer.IncDropped(reason)
		}
	}
	return ok
}

// Snapshot copy of the currently registered subscribers
func (r *Registry) Snapshot() []*Subscriber {
	r.lock.RLock()
	defer r.lock.RUnlock()
	result := make([]*Subscriber, 0, len(r.subscribers))
	for _, sub := range r.subscribers {
		result = append(result, sub)
	}
	return result
}

// Len number of registered subscribers
func (r *Registry) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.subscribers)
}

// Contains whether the subscriber is registered
func (r *Registry) Contains(sub *Subscriber) bool {
	if sub == nil {
		return false
	}
	r.lock.RLock()
	defer r.lock.RUnlock()
	current, ok := r.subscribers[sub.id]
	return ok && current == sub
}

// EvictIdle remove subscribers whose queue has not been polled within window
func (r *Registry) EvictIdle(window time.Duration) int {
	if window <= 0 {
		return 0
	}
	now := time.Now()
	evicted := 0
	for _, sub := range r.Snapshot() {
		if sub.idleFor(now) > window && r.remove(sub, DropReasonIdle) {
			log.WithFields(r.LogTags).Infof("Evicted idle subscriber %s", sub.id)
			evicted++
		}
	}
	return evicted
}

// CloseAll remove every subscriber, and refuse any new ones
func (r *Registry) CloseAll() {
	r.lock.Lock()
	r.closed = true
	r.lock.Unlock()
	for _, sub := range r.Snapshot() {
		r.remove(sub, "")
	}
}

// report must be called with the lock held
func (r *Registry) report() {
	if r.observer != nil {
		r.observer.SetSubscribers(len(r.subscribers))
	}
}
