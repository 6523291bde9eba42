package apis

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alwitt/adstudio/metrics"
	"github.com/alwitt/adstudio/realtime"
	"github.com/apex/log"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

type testInteractionStack struct {
	uut         APIRestInteractionHandler
	router      *mux.Router
	registry    *realtime.Registry
	broadcaster realtime.Broadcaster
	collectors  *metrics.Collectors
}

func defineInteractionStack(
	t *testing.T,
	ctxt context.Context,
	wg *sync.WaitGroup,
	maxSubscribers int,
	heartbeat time.Duration,
	limiter *rate.Limiter,
) testInteractionStack {
	collectors := metrics.GetCollectors()
	registry := realtime.GetRegistry("ut-apis", maxSubscribers, collectors)
	broadcaster, err := realtime.GetBroadcaster(ctxt, registry, realtime.BroadcasterParams{
		Name: "ut-apis", EventBuffer: 32, Observer: collectors,
	})
	assert.Nil(t, err)
	assert.Nil(t, broadcaster.Start(wg))
	t.Cleanup(func() {
		assert.Nil(t, broadcaster.Stop())
	})
	sessions, err := realtime.GetSessionManager(registry, heartbeat)
	assert.Nil(t, err)

	uut, err := GetAPIRestInteractionHandler(InteractionHandlerParams{
		Repo:           getTestRepository(t),
		Broadcaster:    broadcaster,
		Sessions:       sessions,
		ConnectLimiter: limiter,
		Observer:       collectors,
		TypingTTL:      time.Second * 6,
	}, getTestHTTPConfig())
	assert.Nil(t, err)

	router := mux.NewRouter()
	router.HandleFunc("/api/posts", uut.CreateTopPostHandler()).Methods("POST")
	router.HandleFunc("/api/posts", uut.ListTopPostsHandler()).Methods("GET")
	router.HandleFunc("/api/posts/{postID}/comments", uut.CreateCommentHandler()).Methods("POST")
	router.HandleFunc("/api/posts/{postID}/comments", uut.ListCommentsHandler()).Methods("GET")
	router.HandleFunc(
		"/api/posts/{postID}/comments/{commentID}", uut.UpdateCommentHandler(),
	).Methods("PUT")
	router.HandleFunc(
		"/api/posts/{postID}/comments/{commentID}", uut.DeleteCommentHandler(),
	).Methods("DELETE")
	router.HandleFunc("/api/posts/{postID}/chat", uut.CreateChatMessageHandler()).Methods("POST")
	router.HandleFunc("/api/posts/{postID}/chat", uut.ListChatMessagesHandler()).Methods("GET")
	router.HandleFunc(
		"/api/posts/{postID}/chat/{messageID}", uut.UpdateChatMessageHandler(),
	).Methods("PUT")
	router.HandleFunc(
		"/api/posts/{postID}/chat/{messageID}", uut.DeleteChatMessageHandler(),
	).Methods("DELETE")
	router.HandleFunc("/api/typing", uut.TypingHandler()).Methods("POST")
	router.HandleFunc("/api/stream", uut.StreamHandler()).Methods("GET")

	return testInteractionStack{
		uut:         uut,
		router:      router,
		registry:    registry,
		broadcaster: broadcaster,
		collectors:  collectors,
	}
}

func TestInteractionPostsAndMessages(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	stack := defineInteractionStack(t, utCtxt, &wg, 0, time.Second, nil)
	watcher, err := stack.registry.Register()
	assert.Nil(err)

	nextEvent := func() realtime.Event {
		evt, err := watcher.Next(utCtxt, time.Second*5)
		assert.Nil(err)
		return evt
	}

	// Case 0: top post
	var postID string
	{
		var resp APIRestRespTopPost
		code := doRequest(t, stack.router, "POST", "/api/posts", map[string]string{
			"title": "Launch", "body": "New line", "author": "ana",
		}, &resp)
		assert.Equal(http.StatusOK, code)
		postID = resp.Post.ID
		assert.NotEmpty(postID)

		evt := nextEvent()
		assert.Equal(realtime.EventTopPostCreated, evt.Type)
		assert.Equal(postID, evt.ID)
		assert.NotEmpty(evt.TS)

		var list APIRestRespTopPosts
		assert.Equal(http.StatusOK, doRequest(t, stack.router, "GET", "/api/posts", nil, &list))
		assert.Len(list.Items, 1)

		var errResp map[string]interface{}
		code = doRequest(t, stack.router, "POST", "/api/posts", map[string]string{
			"body": "no title",
		}, &errResp)
		assert.Equal(http.StatusBadRequest, code)
	}

	// Case 1: comments and chat share their life cycle
	type kindCase struct {
		path    string
		created realtime.EventType
		updated realtime.EventType
		deleted realtime.EventType
	}
	for _, kind := range []kindCase{
		{
			path:    "comments",
			created: realtime.EventCommentCreated,
			updated: realtime.EventCommentUpdated,
			deleted: realtime.EventCommentDeleted,
		},
		{
			path:    "chat",
			created: realtime.EventChatCreated,
			updated: realtime.EventChatUpdated,
			deleted: realtime.EventChatDeleted,
		},
	} {
		base := fmt.Sprintf("/api/posts/%s/%s", postID, kind.path)

		var created APIRestRespPostMessage
		code := doRequest(t, stack.router, "POST", base, map[string]string{
			"author": "ben", "text": "first",
		}, &created)
		assert.Equal(http.StatusOK, code)
		assert.Equal(postID, created.Message.PostID)
		evt := nextEvent()
		assert.Equal(kind.created, evt.Type)
		assert.Equal(postID, evt.PostID)
		assert.Equal(created.Message.ID, evt.ID)

		var updated APIRestRespPostMessage
		msgPath := fmt.Sprintf("%s/%s", base, created.Message.ID)
		code = doRequest(t, stack.router, "PUT", msgPath, map[string]string{"text": "edited"}, &updated)
		assert.Equal(http.StatusOK, code)
		assert.Equal("edited", updated.Message.Text)
		assert.Equal("ben", updated.Message.Author)
		evt = nextEvent()
		assert.Equal(kind.updated, evt.Type)
		var data map[string]interface{}
		assert.Nil(json.Unmarshal(evt.Data, &data))
		assert.Equal("edited", data["text"])

		var list APIRestRespPostMessages
		assert.Equal(http.StatusOK, doRequest(t, stack.router, "GET", base, nil, &list))
		assert.Len(list.Items, 1)

		// Message is not on another post
		var errResp map[string]interface{}
		otherPath := fmt.Sprintf("/api/posts/other/%s/%s", kind.path, created.Message.ID)
		code = doRequest(t, stack.router, "PUT", otherPath, map[string]string{"text": "x"}, &errResp)
		assert.Equal(http.StatusNotFound, code)
		code = doRequest(t, stack.router, "DELETE", otherPath, nil, &errResp)
		assert.Equal(http.StatusNotFound, code)

		var deleted APIRestRespDeleted
		assert.Equal(http.StatusOK, doRequest(t, stack.router, "DELETE", msgPath, nil, &deleted))
		assert.True(deleted.Deleted)
		evt = nextEvent()
		assert.Equal(kind.deleted, evt.Type)
		assert.Equal(created.Message.ID, evt.ID)

		code = doRequest(t, stack.router, "DELETE", msgPath, nil, &errResp)
		assert.Equal(http.StatusNotFound, code)
	}

	// Case 2: typing
	{
		var resp map[string]interface{}
		code := doRequest(t, stack.router, "POST", "/api/typing", map[string]interface{}{
			"post_id": postID, "author": "ana", "is_typing": true,
		}, &resp)
		assert.Equal(http.StatusOK, code)
		evt := nextEvent()
		assert.Equal(realtime.EventTyping, evt.Type)
		assert.Equal("ana", evt.Author)
		assert.True(*evt.IsTyping)
		ts, err := time.Parse(time.RFC3339Nano, evt.TS)
		assert.Nil(err)
		expires, err := time.Parse(time.RFC3339Nano, evt.ExpiresAt)
		assert.Nil(err)
		assert.Equal(time.Second*6, expires.Sub(ts))

		code = doRequest(t, stack.router, "POST", "/api/typing", map[string]interface{}{
			"author": "ana",
		}, &resp)
		assert.Equal(http.StatusBadRequest, code)
	}

	assert.Equal(0, watcher.Pending())
}

// readFrame read one SSE frame, returning its event name and data
func readFrame(t *testing.T, reader *bufio.Reader) (string, realtime.Event) {
	var name string
	var evt realtime.Event
	for {
		line, err := reader.ReadString('\n')
		assert.Nil(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			return name, evt
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			assert.Nil(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt))
		}
	}
}

func TestInteractionStream(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	stack := defineInteractionStack(t, utCtxt, &wg, 0, time.Millisecond*200, nil)
	server := httptest.NewServer(stack.router)
	defer server.Close()

	clientCtxt, clientCancel := context.WithCancel(utCtxt)
	req, err := http.NewRequestWithContext(clientCtxt, "GET", server.URL+"/api/stream", nil)
	assert.Nil(err)
	resp, err := http.DefaultClient.Do(req)
	assert.Nil(err)
	defer resp.Body.Close()
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal("text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal("no-cache", resp.Header.Get("Cache-Control"))

	reader := bufio.NewReader(resp.Body)

	// Hello first, under the ping frame name
	name, evt := readFrame(t, reader)
	assert.Equal(realtime.FramePing, name)
	assert.Equal(realtime.EventHello, evt.Type)
	assert.NotEmpty(evt.TS)
	assert.Equal(1, stack.registry.Len())

	// Domain event
	var created APIRestRespTopPost
	code := doRequest(t, stack.router, "POST", "/api/posts", map[string]string{
		"title": "Launch", "author": "ana",
	}, &created)
	assert.Equal(http.StatusOK, code)
	name, evt = readFrame(t, reader)
	assert.Equal(realtime.FrameMessage, name)
	assert.Equal(realtime.EventTopPostCreated, evt.Type)
	assert.Equal(created.Post.ID, evt.ID)

	// Idle heartbeat
	name, evt = readFrame(t, reader)
	assert.Equal(realtime.FramePing, name)
	assert.Equal(realtime.EventPing, evt.Type)

	// Disconnect removes the subscriber
	clientCancel()
	assert.Eventually(func() bool {
		return stack.registry.Len() == 0
	}, time.Second*5, time.Millisecond*20)
	assert.Equal(0.0, testutil.ToFloat64(stack.collectors.ActiveSubscribers))
}

func TestInteractionStreamRejects(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Case 0: registry full
	{
		stack := defineInteractionStack(t, utCtxt, &wg, 1, time.Second, nil)
		_, err := stack.registry.Register()
		assert.Nil(err)

		var resp map[string]interface{}
		code := doRequest(t, stack.router, "GET", "/api/stream", nil, &resp)
		assert.Equal(http.StatusServiceUnavailable, code)
		assert.Equal(false, resp["success"])
		assert.Equal(
			1.0,
			testutil.ToFloat64(stack.collectors.StreamRejected.WithLabelValues(RejectReasonCapacity)),
		)
	}

	// Case 1: connect rate exceeded
	{
		limiter := rate.NewLimiter(rate.Limit(0.001), 1)
		assert.True(limiter.Allow())
		stack := defineInteractionStack(t, utCtxt, &wg, 0, time.Second, limiter)

		var resp map[string]interface{}
		code := doRequest(t, stack.router, "GET", "/api/stream", nil, &resp)
		assert.Equal(http.StatusTooManyRequests, code)
		assert.Equal(0, stack.registry.Len())
		assert.Equal(
			1.0,
			testutil.ToFloat64(
				stack.collectors.StreamRejected.WithLabelValues(RejectReasonRateLimited),
			),
		)
	}

	// Case 2: stopped broadcaster
	{
		stack := defineInteractionStack(t, utCtxt, &wg, 0, time.Second, nil)
		assert.Nil(stack.broadcaster.Stop())

		var resp map[string]interface{}
		code := doRequest(t, stack.router, "GET", "/api/stream", nil, &resp)
		assert.Equal(http.StatusServiceUnavailable, code)
		assert.Equal(0, stack.registry.Len())
		assert.Equal(
			1.0,
			testutil.ToFloat64(stack.collectors.StreamRejected.WithLabelValues(RejectReasonShutdown)),
		)
	}

	// Case 3: bad params
	{
		_, err := GetAPIRestInteractionHandler(InteractionHandlerParams{}, getTestHTTPConfig())
		assert.NotNil(err)
	}
}
