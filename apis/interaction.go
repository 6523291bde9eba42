// Copyright 2021-2022 The adstudio Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package apis

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alwitt/adstudio/common"
	"github.com/alwitt/adstudio/realtime"
	"github.com/alwitt/adstudio/storage"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

// Stream connect rejection reasons
const (
	RejectReasonRateLimited = "rate_limited"
	RejectReasonCapacity    = "capacity"
	RejectReasonShutdown    = "shutdown"
)

// StreamObserver receives rejected stream connects
type StreamObserver interface {
	IncRejected(reason string)
}

// postMessageKind binds a message collection to the events it produces
type postMessageKind struct {
	name       string
	collection string
	idVar      string
	created    realtime.EventType
	updated    realtime.EventType
	deleted    realtime.EventType
}

var commentKind = postMessageKind{
	name:       "comment",
	collection: storage.CollectionComment,
	idVar:      "commentID",
	created:    realtime.EventCommentCreated,
	updated:    realtime.EventCommentUpdated,
	deleted:    realtime.EventCommentDeleted,
}

var chatKind = postMessageKind{
	name:       "chat message",
	collection: storage.CollectionChat,
	idVar:      "messageID",
	created:    realtime.EventChatCreated,
	updated:    realtime.EventChatUpdated,
	deleted:    realtime.EventChatDeleted,
}

// APIRestInteractionHandler REST handler for posts, comments, chat, typing, and the event stream
type APIRestInteractionHandler struct {
	goutils.RestAPIHandler
	repo        *storage.Repository
	broadcaster realtime.Broadcaster
	sessions    *realtime.SessionManager
	limiter     *rate.Limiter
	observer    StreamObserver
	typingTTL   time.Duration
	validate    *validator.Validate
}

// InteractionHandlerParams dependencies of APIRestInteractionHandler
type InteractionHandlerParams struct {
	Repo        *storage.Repository
	Broadcaster realtime.Broadcaster
	Sessions    *realtime.SessionManager
	// ConnectLimiter admits new stream connections. nil admits all.
	ConnectLimiter *rate.Limiter
	// Observer may be nil
	Observer  StreamObserver
	TypingTTL time.Duration
}

// GetAPIRestInteractionHandler define APIRestInteractionHandler
func GetAPIRestInteractionHandler(
	params InteractionHandlerParams, httpConfig *common.HTTPConfig,
) (APIRestInteractionHandler, error) {
	if params.Repo == nil || params.Broadcaster == nil || params.Sessions == nil {
		return APIRestInteractionHandler{}, fmt.Errorf(
			"interaction handler requires a repository, broadcaster, and session manager",
		)
	}
	if params.TypingTTL <= 0 {
		return APIRestInteractionHandler{}, fmt.Errorf(
			"typing TTL must be positive, got %s", params.TypingTTL,
		)
	}
	logTags := log.Fields{
		"module":    "apis",
		"component": "interaction",
	}
	return APIRestInteractionHandler{
		RestAPIHandler: defineRestAPIHandler(logTags, httpConfig),
		repo:           params.Repo,
		broadcaster:    params.Broadcaster,
		sessions:       params.Sessions,
		limiter:        params.ConnectLimiter,
		observer:       params.Observer,
		typingTTL:      params.TypingTTL,
		validate:       validator.New(),
	}, nil
}

// emit publish an event for a stored change. The change is already durable, so failures
// are only logged.
func (h APIRestInteractionHandler) emit(
	r *http.Request, localLogTags log.Fields, evt realtime.Event,
) {
	if err := h.broadcaster.Publish(r.Context(), evt); err != nil {
		log.WithError(err).WithFields(localLogTags).Errorf("Failed to broadcast '%s'", evt.Type)
	}
}

// emitEntity define and publish an entity event
func (h APIRestInteractionHandler) emitEntity(
	r *http.Request,
	localLogTags log.Fields,
	eventType realtime.EventType,
	postID, id string,
	entity interface{},
) {
	evt, err := realtime.NewEntityEvent(eventType, postID, id, entity)
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Errorf("Failed to define '%s' event", eventType)
		return
	}
	evt.TS = realtime.FormatTimestamp(time.Now())
	h.emit(r, localLogTags, evt)
}

// =======================================================================
// Top posts

// -----------------------------------------------------------------------

// APIRestRespTopPost response containing one top post
type APIRestRespTopPost struct {
	goutils.RestAPIBaseResponse
	Post common.TopPost `json:"post"`
}

// CreateTopPost godoc
// @Summary Create a top post
// @Description Store a new top post, and notify stream subscribers with toppost_created
// @tags Interaction
// @Accept json
// @Produce json
// @Param Adstudio-Request-ID header string false "User provided request ID to match against logs"
// @Param post body common.TopPostPayload true "Post content"
// @Success 200 {object} APIRestRespTopPost "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /api/posts [post]
func (h APIRestInteractionHandler) CreateTopPost(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	var payload common.TopPostPayload
	if err := decodeRequestBody(r, h.validate, &payload); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	post, err := h.repo.CreateTopPost(r.Context(), payload)
	if err != nil {
		msg := "Failed to store post"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}
	h.emitEntity(r, localLogTags, realtime.EventTopPostCreated, post.ID, post.ID, post)

	respCode = http.StatusOK
	respBody = APIRestRespTopPost{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()), Post: post,
	}
}

// CreateTopPostHandler Wrapper around CreateTopPost
func (h APIRestInteractionHandler) CreateTopPostHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.CreateTopPost(w, r)
	}
}

// -----------------------------------------------------------------------

// APIRestRespTopPosts response for listing top posts
type APIRestRespTopPosts struct {
	goutils.RestAPIBaseResponse
	Items []common.TopPost `json:"items"`
}

// ListTopPosts godoc
// @Summary List top posts
// @tags Interaction
// @Produce json
// @Param Adstudio-Request-ID header string false "User provided request ID to match against logs"
// @Param limit query integer false "Max number of posts to return"
// @Success 200 {object} APIRestRespTopPosts "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /api/posts [get]
func (h APIRestInteractionHandler) ListTopPosts(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	limit, err := readLimitQuery(r)
	if err != nil {
		msg := "Invalid limit"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	posts, err := h.repo.ListTopPosts(r.Context(), limit)
	if err != nil {
		msg := "Failed to list posts"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespTopPosts{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()), Items: posts,
	}
}

// ListTopPostsHandler Wrapper around ListTopPosts
func (h APIRestInteractionHandler) ListTopPostsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ListTopPosts(w, r)
	}
}

// =======================================================================
// Comments and chat messages

// APIRestRespPostMessage response containing one comment or chat message
type APIRestRespPostMessage struct {
	goutils.RestAPIBaseResponse
	Message common.PostMessage `json:"message"`
}

// APIRestRespPostMessages response for listing comments or chat messages
type APIRestRespPostMessages struct {
	goutils.RestAPIBaseResponse
	Items []common.PostMessage `json:"items"`
}

func (h APIRestInteractionHandler) createPostMessage(
	kind postMessageKind, w http.ResponseWriter, r *http.Request,
) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	postID := mux.Vars(r)["postID"]
	if postID == "" {
		msg := "No post ID provided"
		log.WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}
	var payload common.PostMessagePayload
	if err := decodeRequestBody(r, h.validate, &payload); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	stored, err := h.repo.CreatePostMessage(r.Context(), kind.collection, postID, payload)
	if err != nil {
		msg := fmt.Sprintf("Failed to store %s", kind.name)
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}
	h.emitEntity(r, localLogTags, kind.created, postID, stored.ID, stored)

	respCode = http.StatusOK
	respBody = APIRestRespPostMessage{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()), Message: stored,
	}
}

func (h APIRestInteractionHandler) listPostMessages(
	kind postMessageKind, w http.ResponseWriter, r *http.Request,
) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	postID := mux.Vars(r)["postID"]
	if postID == "" {
		msg := "No post ID provided"
		log.WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}
	limit, err := readLimitQuery(r)
	if err != nil {
		msg := "Invalid limit"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	messages, err := h.repo.ListPostMessages(r.Context(), kind.collection, postID, limit)
	if err != nil {
		msg := fmt.Sprintf("Failed to list %s", kind.name)
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespPostMessages{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()), Items: messages,
	}
}

func (h APIRestInteractionHandler) updatePostMessage(
	kind postMessageKind, w http.ResponseWriter, r *http.Request,
) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	vars := mux.Vars(r)
	postID, msgID := vars["postID"], vars[kind.idVar]
	if postID == "" || msgID == "" {
		msg := fmt.Sprintf("No post or %s ID provided", kind.name)
		log.WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}
	var update common.PostMessageUpdate
	if err := decodeRequestBody(r, h.validate, &update); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	stored, err := h.repo.UpdatePostMessage(r.Context(), kind.collection, postID, msgID, update)
	if err != nil {
		msg := fmt.Sprintf("Failed to update %s %s", kind.name, msgID)
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = errorToStatusCode(err)
		respBody = h.GetStdRESTErrorMsg(r.Context(), respCode, msg, err.Error())
		return
	}
	h.emitEntity(r, localLogTags, kind.updated, postID, stored.ID, stored)

	respCode = http.StatusOK
	respBody = APIRestRespPostMessage{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()), Message: stored,
	}
}

func (h APIRestInteractionHandler) deletePostMessage(
	kind postMessageKind, w http.ResponseWriter, r *http.Request,
) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	vars := mux.Vars(r)
	postID, msgID := vars["postID"], vars[kind.idVar]
	if postID == "" || msgID == "" {
		msg := fmt.Sprintf("No post or %s ID provided", kind.name)
		log.WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}

	if err := h.repo.DeletePostMessage(r.Context(), kind.collection, postID, msgID); err != nil {
		msg := fmt.Sprintf("Failed to delete %s %s", kind.name, msgID)
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = errorToStatusCode(err)
		respBody = h.GetStdRESTErrorMsg(r.Context(), respCode, msg, err.Error())
		return
	}
	h.emitEntity(r, localLogTags, kind.deleted, postID, msgID, nil)

	respCode = http.StatusOK
	respBody = APIRestRespDeleted{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()), Deleted: true,
	}
}

// -----------------------------------------------------------------------

// CreateComment godoc
// @Summary Comment on a post
// @Description Store a comment, and notify stream subscribers with comment_created
// @tags Interaction
// @Accept json
// @Produce json
// @Param Adstudio-Request-ID header string false "User provided request ID to match against logs"
// @Param postID path string true "Post ID"
// @Param comment body common.PostMessagePayload true "Comment"
// @Success 200 {object} APIRestRespPostMessage "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /api/posts/{postID}/comments [post]
func (h APIRestInteractionHandler) CreateComment(w http.ResponseWriter, r *http.Request) {
	h.createPostMessage(commentKind, w, r)
}

// CreateCommentHandler Wrapper around CreateComment
func (h APIRestInteractionHandler) CreateCommentHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.CreateComment(w, r)
	}
}

// ListComments godoc
// @Summary List the comments on a post, oldest first
// @tags Interaction
// @Produce json
// @Param postID path string true "Post ID"
// @Param limit query integer false "Max number of comments to return"
// @Success 200 {object} APIRestRespPostMessages "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /api/posts/{postID}/comments [get]
func (h APIRestInteractionHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	h.listPostMessages(commentKind, w, r)
}

// ListCommentsHandler Wrapper around ListComments
func (h APIRestInteractionHandler) ListCommentsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ListComments(w, r)
	}
}

// UpdateComment godoc
// @Summary Edit a comment
// @Description Change a comment's text, and notify stream subscribers with comment_updated
// @tags Interaction
// @Accept json
// @Produce json
// @Param postID path string true "Post ID"
// @Param commentID path string true "Comment ID"
// @Param update body common.PostMessageUpdate true "New text"
// @Success 200 {object} APIRestRespPostMessage "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /api/posts/{postID}/comments/{commentID} [put]
func (h APIRestInteractionHandler) UpdateComment(w http.ResponseWriter, r *http.Request) {
	h.updatePostMessage(commentKind, w, r)
}

// UpdateCommentHandler Wrapper around UpdateComment
func (h APIRestInteractionHandler) UpdateCommentHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.UpdateComment(w, r)
	}
}

// DeleteComment godoc
// @Summary Delete a comment
// @Description Remove a comment, and notify stream subscribers with comment_deleted
// @tags Interaction
// @Produce json
// @Param postID path string true "Post ID"
// @Param commentID path string true "Comment ID"
// @Success 200 {object} APIRestRespDeleted "success"
// @Failure 404 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /api/posts/{postID}/comments/{commentID} [delete]
func (h APIRestInteractionHandler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	h.deletePostMessage(commentKind, w, r)
}

// DeleteCommentHandler Wrapper around DeleteComment
func (h APIRestInteractionHandler) DeleteCommentHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.DeleteComment(w, r)
	}
}

// -----------------------------------------------------------------------

// CreateChatMessage godoc
// @Summary Send a chat message on a post
// @Description Store a chat message, and notify stream subscribers with chat_created
// @tags Interaction
// @Accept json
// @Produce json
// @Param postID path string true "Post ID"
// @Param message body common.PostMessagePayload true "Chat message"
// @Success 200 {object} APIRestRespPostMessage "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /api/posts/{postID}/chat [post]
func (h APIRestInteractionHandler) CreateChatMessage(w http.ResponseWriter, r *http.Request) {
	h.createPostMessage(chatKind, w, r)
}

// CreateChatMessageHandler Wrapper around CreateChatMessage
func (h APIRestInteractionHandler) CreateChatMessageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.CreateChatMessage(w, r)
	}
}

// ListChatMessages godoc
// @Summary List the chat messages on a post, oldest first
// @tags Interaction
// @Produce json
// @Param postID path string true "Post ID"
// @Param limit query integer false "Max number of messages to return"
// @Success 200 {object} APIRestRespPostMessages "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /api/posts/{postID}/chat [get]
func (h APIRestInteractionHandler) ListChatMessages(w http.ResponseWriter, r *http.Request) {
	h.listPostMessages(chatKind, w, r)
}

// ListChatMessagesHandler Wrapper around ListChatMessages
func (h APIRestInteractionHandler) ListChatMessagesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ListChatMessages(w, r)
	}
}

// UpdateChatMessage godoc
// @Summary Edit a chat message
// @Description Change a chat message's text, and notify stream subscribers with chat_updated
// @tags Interaction
// @Accept json
// @Produce json
// @Param postID path string true "Post ID"
// @Param messageID path string true "Chat message ID"
// @Param update body common.PostMessageUpdate true "New text"
// @Success 200 {object} APIRestRespPostMessage "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /api/posts/{postID}/chat/{messageID} [put]
func (h APIRestInteractionHandler) UpdateChatMessage(w http.ResponseWriter, r *http.Request) {
	h.updatePostMessage(chatKind, w, r)
}

// UpdateChatMessageHandler Wrapper around UpdateChatMessage
func (h APIRestInteractionHandler) UpdateChatMessageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.UpdateChatMessage(w, r)
	}
}

// DeleteChatMessage godoc
// @Summary Delete a chat message
// @Description Remove a chat message, and notify stream subscribers with chat_deleted
// @tags Interaction
// @Produce json
// @Param postID path string true "Post ID"
// @Param messageID path string true "Chat message ID"
// @Success 200 {object} APIRestRespDeleted "success"
// @Failure 404 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /api/posts/{postID}/chat/{messageID} [delete]
func (h APIRestInteractionHandler) DeleteChatMessage(w http.ResponseWriter, r *http.Request) {
	h.deletePostMessage(chatKind, w, r)
}

// DeleteChatMessageHandler Wrapper around DeleteChatMessage
func (h APIRestInteractionHandler) DeleteChatMessageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.DeleteChatMessage(w, r)
	}
}

// =======================================================================
// Typing

// Typing godoc
// @Summary Report a user typing on a post
// @Description Notify stream subscribers with a typing event which lapses after the typing TTL.
// Nothing is stored.
// @tags Interaction
// @Accept json
// @Produce json
// @Param notice body common.TypingNotice true "Typing notice"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /api/typing [post]
func (h APIRestInteractionHandler) Typing(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	var notice common.TypingNotice
	if err := decodeRequestBody(r, h.validate, &notice); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	evt := realtime.NewTypingEvent(
		notice.PostID, notice.Author, notice.IsTyping, time.Now(), h.typingTTL,
	)
	if err := h.broadcaster.Publish(r.Context(), evt); err != nil {
		msg := "Failed to broadcast typing notice"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// TypingHandler Wrapper around Typing
func (h APIRestInteractionHandler) TypingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Typing(w, r)
	}
}

// =======================================================================
// Event stream

// Stream godoc
// @Summary Subscribe to the realtime event stream
// @Description Long lived server-sent-event stream. A "ping" frame carrying a hello event is
// sent on connect, then "message" frames for each event, and "ping" frames when idle.
// @tags Interaction
// @Produce text/event-stream
// @Success 200 {string} string "event stream"
// @Failure 429 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Failure 503 {object} goutils.RestAPIBaseResponse "error"
// @Router /api/stream [get]
func (h APIRestInteractionHandler) Stream(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	streaming := false
	var respCode int
	var respBody interface{}
	defer func() {
		if streaming {
			return
		}
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	if h.limiter != nil && !h.limiter.Allow() {
		msg := "Too many stream connects"
		log.WithFields(localLogTags).Warn(msg)
		h.reject(RejectReasonRateLimited)
		respCode = http.StatusTooManyRequests
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusTooManyRequests, msg, msg)
		return
	}

	writeFlusher, ok := w.(http.Flusher)
	if !ok {
		msg := "Streaming not supported"
		log.WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, msg)
		return
	}

	session, err := h.sessions.Open()
	if err != nil {
		msg := "Unable to open stream"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		switch {
		case errors.Is(err, realtime.ErrTooManySubscribers):
			h.reject(RejectReasonCapacity)
			respCode = http.StatusServiceUnavailable
		case errors.Is(err, realtime.ErrRegistryClosed):
			h.reject(RejectReasonShutdown)
			respCode = http.StatusServiceUnavailable
		}
		respBody = h.GetStdRESTErrorMsg(r.Context(), respCode, msg, err.Error())
		return
	}
	localLogTags["subscriber"] = session.Subscriber().ID()

	// Send support headers for SSE first
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("X-Accel-Buffering", "no")
	reqID := h.ReadRequestIDFromContext(r.Context())
	if reqID != "" && h.CallRequestIDHeaderField != nil {
		w.Header().Set(*h.CallRequestIDHeaderField, reqID)
	}
	w.WriteHeader(http.StatusOK)
	streaming = true

	log.WithFields(localLogTags).Info("Stream opened")
	err = session.Run(r.Context(), sseStream{w: w, flusher: writeFlusher})
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Info("Stream ended")
	} else {
		log.WithFields(localLogTags).Info("Stream closed by client")
	}
}

// StreamHandler Wrapper around Stream
func (h APIRestInteractionHandler) StreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Stream(w, r)
	}
}

func (h APIRestInteractionHandler) reject(reason string) {
	if h.observer != nil {
		h.observer.IncRejected(reason)
	}
}

// sseStream pairs the response writer with its flusher
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s sseStream) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

func (s sseStream) Flush() {
	s.flusher.Flush()
}
