package realtime

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/alwitt/adstudio/core"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/nats-io/nats.go"
)

// Relay carries events between service instances
type Relay interface {
	// Publish send an event to every instance, including this one
	Publish(evt Event) error
	// Subscribe begin receiving events sent by every instance
	Subscribe(handler func(Event)) error
	// Close stop receiving events
	Close() error
}

// natsRelay Relay over a NATS subject
type natsRelay struct {
	goutils.Component
	client  *core.NatsClient
	subject string
	lock    sync.Mutex
	sub     *nats.Subscription
}

// GetNATSRelay define a Relay publishing to a NATS subject
func GetNATSRelay(client *core.NatsClient, subject string) (Relay, error) {
	if client == nil {
		return nil, fmt.Errorf("NATS client is required")
	}
	if subject == "" {
		return nil, fmt.Errorf("relay subject is required")
	}
	logTags := log.Fields{
		"module": "realtime", "component": "nats-relay", "subject": subject,
	}
	return &natsRelay{
		Component: goutils.Component{LogTags: logTags}, client: client, subject: subject,
	}, nil
}

// Publish send an event to every instance
func (r *natsRelay) Publish(evt Event) error {
	serialized, err := json.Marshal(&evt)
	if err != nil {
		return err
	}
	return r.client.NATs().Publish(r.subject, serialized)
}

// Subscribe begin receiving events
//
// NATS invokes the handler from a single goroutine per subscription, so events from
// one publisher arrive in the order sent.
func (r *natsRelay) Subscribe(handler func(Event)) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.sub != nil {
		return fmt.Errorf("relay already subscribed")
	}
	sub, err := r.client.NATs().Subscribe(r.subject, func(msg *nats.Msg) {
		var evt Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			log.WithError(err).WithFields(r.LogTags).Error("Unable to parse relayed event")
			return
		}
		if !evt.Type.Valid() {
			log.WithFields(r.LogTags).Errorf("Dropping relayed event of unknown type '%s'", evt.Type)
			return
		}
		handler(evt)
	})
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Error("Unable to subscribe")
		return err
	}
	r.sub = sub
	// Make sure the server knows about the subscription before any publish
	return r.client.NATs().Flush()
}

// Close stop receiving events
func (r *natsRelay) Close() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.sub == nil {
		return nil
	}
	err := r.sub.Unsubscribe()
	r.sub = nil
	return err
}
