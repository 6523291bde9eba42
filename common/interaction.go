package common

import "time"

// TopPostPayload is the user supplied part of a top post
type TopPostPayload struct {
	// Title is the post title
	Title string `json:"title" validate:"required"`
	// Body is the post text
	Body string `json:"body"`
	// Author is who wrote the post
	Author string `json:"author" validate:"required"`
	// MediaURL is an optional image or video
	MediaURL *string `json:"media_url,omitempty" validate:"omitempty,url"`
}

// TopPost is a stored top post
type TopPost struct {
	TopPostPayload
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PostMessagePayload is the user supplied part of a comment or chat message
type PostMessagePayload struct {
	// Author is who wrote the message
	Author string `json:"author" validate:"required"`
	// Text is the message
	Text string `json:"text" validate:"required"`
}

// PostMessageUpdate is an edit to a comment or chat message
type PostMessageUpdate struct {
	Text string `json:"text" validate:"required"`
}

// PostMessage is a stored comment or chat message attached to a post
type PostMessage struct {
	PostMessagePayload
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TypingNotice reports a user typing on a post
type TypingNotice struct {
	PostID   string `json:"post_id" validate:"required"`
	Author   string `json:"author" validate:"required"`
	IsTyping bool   `json:"is_typing"`
}
