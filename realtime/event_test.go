package realtime

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventFraming(t *testing.T) {
	assert := assert.New(t)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	// Case 0: hello is sent as a ping frame
	{
		buf := bytes.Buffer{}
		_, err := WriteFrame(&buf, NewHeartbeatEvent(EventHello, now))
		assert.Nil(err)
		assert.Equal(
			"event: ping\ndata: {\"type\":\"hello\",\"ts\":\"2024-03-01T12:00:00Z\"}\n\n", buf.String(),
		)
	}

	// Case 1: domain events are sent as message frames
	{
		evt, err := NewEntityEvent(
			EventCommentCreated, "post-1", "c-1", map[string]string{"text": "hi"},
		)
		assert.Nil(err)
		buf := bytes.Buffer{}
		_, err = WriteFrame(&buf, evt)
		assert.Nil(err)
		lines := strings.Split(buf.String(), "\n")
		assert.Len(lines, 4)
		assert.Equal("event: message", lines[0])
		assert.True(strings.HasPrefix(lines[1], "data: "))
		assert.Equal("", lines[2])
		var parsed map[string]interface{}
		assert.Nil(json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &parsed))
		assert.Equal("comment_created", parsed["type"])
		assert.Equal("post-1", parsed["post_id"])
		assert.Equal("c-1", parsed["id"])
		assert.Equal(map[string]interface{}{"text": "hi"}, parsed["data"])
	}

	// Case 2: typing carries an expiry
	{
		evt := NewTypingEvent("post-1", "ann", true, now, time.Second*6)
		assert.Equal(EventTyping, evt.Type)
		assert.Equal("2024-03-01T12:00:06Z", evt.ExpiresAt)
		assert.True(*evt.IsTyping)
		assert.Equal(FrameMessage, evt.FrameName())
	}

	// Case 3: heartbeat and typing types are not entity events
	_, err := NewEntityEvent(EventPing, "", "", nil)
	assert.NotNil(err)
	_, err = NewEntityEvent(EventTyping, "", "", nil)
	assert.NotNil(err)
	_, err = NewEntityEvent(EventType("bogus"), "", "", nil)
	assert.NotNil(err)
}
