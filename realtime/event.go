package realtime

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// EventType the kind of event
type EventType string

// Event types
const (
	EventHello          EventType = "hello"
	EventPing           EventType = "ping"
	EventTopPostCreated EventType = "toppost_created"
	EventCommentCreated EventType = "comment_created"
	EventCommentUpdated EventType = "comment_updated"
	EventCommentDeleted EventType = "comment_deleted"
	EventChatCreated    EventType = "chat_created"
	EventChatUpdated    EventType = "chat_updated"
	EventChatDeleted    EventType = "chat_deleted"
	EventTyping         EventType = "typing"
)

// Valid whether the type is one of the known event types
func (t EventType) Valid() bool {
	switch t {
	case EventHello, EventPing, EventTopPostCreated,
		EventCommentCreated, EventCommentUpdated, EventCommentDeleted,
		EventChatCreated, EventChatUpdated, EventChatDeleted, EventTyping:
		return true
	}
	return false
}

// Heartbeat whether the event is a keepalive rather than a domain event
func (t EventType) Heartbeat() bool {
	return t == EventHello || t == EventPing
}

// Event is an immutable record pushed to every subscriber
type Event struct {
	Type      EventType       `json:"type"`
	TS        string          `json:"ts,omitempty"`
	PostID    string          `json:"post_id,omitempty"`
	ID        string          `json:"id,omitempty"`
	Author    string          `json:"author,omitempty"`
	IsTyping  *bool           `json:"is_typing,omitempty"`
	ExpiresAt string          `json:"expires_at,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// FormatTimestamp ISO-8601 UTC timestamp used on the wire
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// NewHeartbeatEvent define a hello or ping event
func NewHeartbeatEvent(eventType EventType, now time.Time) Event {
	return Event{Type: eventType, TS: FormatTimestamp(now)}
}

// NewEntityEvent define an event about a created, updated, or deleted entity
//
// entity is serialized into the event data, and may be nil.
func NewEntityEvent(eventType EventType, postID, id string, entity interface{}) (Event, error) {
	if !eventType.Valid() || eventType.Heartbeat() || eventType == EventTyping {
		return Event{}, fmt.Errorf("'%s' is not an entity event", eventType)
	}
	evt := Event{Type: eventType, PostID: postID, ID: id}
	if entity != nil {
		serialized, err := json.Marshal(entity)
		if err != nil {
			return Event{}, err
		}
		evt.Data = serialized
	}
	return evt, nil
}

// NewTypingEvent define a typing indicator event which lapses after ttl
func NewTypingEvent(postID, author string, isTyping bool, now time.Time, ttl time.Duration) Event {
	return Event{
		Type:      EventTyping,
		TS:        FormatTimestamp(now),
		PostID:    postID,
		Author:    author,
		IsTyping:  &isTyping,
		ExpiresAt: FormatTimestamp(now.Add(ttl)),
	}
}

// SSE frame names
const (
	FramePing    = "ping"
	FrameMessage = "message"
)

// FrameName the SSE event name the event is sent under
func (e Event) FrameName() string {
	if e.Type.Heartbeat() {
		return FramePing
	}
	return FrameMessage
}

// WriteFrame write one server-sent-event frame
func WriteFrame(w io.Writer, evt Event) (int, error) {
	serialized, err := json.Marshal(&evt)
	if err != nil {
		return 0, err
	}
	return fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.FrameName(), serialized)
}
