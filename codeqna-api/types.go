package main

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Name         string    `gorm:"not null" json:"name"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Role         string    `gorm:"not null;default:user" json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

type Channel struct {
	ID         uint   `gorm:"primaryKey"`
	Topic      string `gorm:"not null"`
	Content    string `gorm:"not null"`
	AuthorID   *uint  `gorm:"index"`
	Screenshot *string
	CreatedAt  time.Time
}

type Message struct {
	ID         uint   `gorm:"primaryKey"`
	ChannelID  uint   `gorm:"not null;index"`
	Content    string `gorm:"not null"`
	AuthorID   *uint  `gorm:"index"`
	Screenshot *string
	CreatedAt  time.Time
}

// Reply belongs either to a message or to a parent reply, never both.
type Reply struct {
	ID            uint   `gorm:"primaryKey"`
	MessageID     *uint  `gorm:"index"`
	ParentReplyID *uint  `gorm:"index"`
	Content       string `gorm:"not null"`
	AuthorID      *uint  `gorm:"index"`
	Screenshot    *string
	CreatedAt     time.Time
}

// Rating is one user's vote on exactly one channel, message or reply.
type Rating struct {
	ID        uint  `gorm:"primaryKey"`
	UserID    uint  `gorm:"not null;uniqueIndex:idx_rating_user_channel;uniqueIndex:idx_rating_user_message;uniqueIndex:idx_rating_user_reply"`
	ChannelID *uint `gorm:"uniqueIndex:idx_rating_user_channel"`
	MessageID *uint `gorm:"uniqueIndex:idx_rating_user_message"`
	ReplyID   *uint `gorm:"uniqueIndex:idx_rating_user_reply"`
	IsUpVote  bool  `gorm:"not null"`
	CreatedAt time.Time
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ChannelRequest struct {
	Topic      string  `json:"topic"`
	Content    string  `json:"content"`
	Screenshot *string `json:"screenshot"`
}

type MessageRequest struct {
	ChannelID  uint    `json:"channelId"`
	Content    string  `json:"content"`
	Screenshot *string `json:"screenshot"`
}

type ReplyRequest struct {
	MessageID     *uint   `json:"messageId"`
	ParentReplyID *uint   `json:"parentReplyId"`
	Content       string  `json:"content"`
	Screenshot    *string `json:"screenshot"`
}

type RateRequest struct {
	ChannelID *uint `json:"channelId"`
	MessageID *uint `json:"messageId"`
	ReplyID   *uint `json:"replyId"`
	IsUpVote  *bool `json:"isUpVote"`
}

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	ID      uint   `json:"id,omitempty"`
}

type ChannelSummary struct {
	ID           uint      `json:"id"`
	Topic        string    `json:"topic"`
	Content      string    `json:"content"`
	Screenshot   *string   `json:"screenshot,omitempty"`
	Author       *string   `json:"author,omitempty"`
	MessageCount int64     `json:"messageCount"`
	CreatedAt    time.Time `json:"timestamp"`
	Age          string    `json:"age" gorm:"-"`
}

type SearchHit struct {
	ID        uint    `json:"id"`
	ChannelID *uint   `json:"channelId,omitempty"`
	Topic     string  `json:"topic,omitempty"`
	Content   string  `json:"content"`
	Author    *string `json:"author,omitempty"`
}

type SearchResults struct {
	Channels []SearchHit `json:"channels"`
	Messages []SearchHit `json:"messages"`
	Replies  []SearchHit `json:"replies"`
}
