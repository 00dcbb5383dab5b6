// Package forum rebuilds a channel's threaded view from the flat rows of a
// channel/message/reply/rating left join.
package forum

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no row belongs to the requested channel.
var ErrNotFound = errors.New("forum: channel not found")

// Row is one denormalized row of the channel join. Pointer fields are NULL
// when the corresponding left join found nothing.
type Row struct {
	ChannelID         int64
	Topic             string
	ChannelContent    string
	ChannelTime       time.Time
	ChannelScreenshot *string
	ChannelAuthor     *string

	MessageID         *int64
	MessageContent    *string
	MessageTime       *time.Time
	MessageScreenshot *string
	MessageAuthor     *string

	ReplyID         *int64
	ReplyContent    *string
	ReplyTime       *time.Time
	ParentReplyID   *int64
	ReplyMessageID  *int64
	ReplyScreenshot *string
	ReplyAuthor     *string

	RatingChannelID *int64
	RatingMessageID *int64
	RatingReplyID   *int64
	IsUpVote        *bool
	RatingUserID    *int64
}

type Channel struct {
	ID         int64     `json:"id"`
	Topic      string    `json:"topic"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Screenshot *string   `json:"screenshot,omitempty"`
	Author     *string   `json:"author,omitempty"`
}

type Message struct {
	ID         int64     `json:"id"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Screenshot *string   `json:"screenshot,omitempty"`
	Author     *string   `json:"author,omitempty"`
	Replies    []*Reply  `json:"replies"`
}

type Reply struct {
	ID         int64     `json:"id"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Screenshot *string   `json:"screenshot,omitempty"`
	Author     *string   `json:"author,omitempty"`
	Replies    []*Reply  `json:"replies"`
}

// Thread is the normalized view of one channel.
type Thread struct {
	Channel  Channel    `json:"channel"`
	Messages []*Message `json:"messages"`
	Tally    Tally      `json:"ratings"`
}

// vote identifies one user's rating of one target. The join repeats a
// rating on every row of its fan-out, so votes are counted once per key.
type vote struct {
	target Target
	userID int64
}

type builder struct {
	channel *Channel

	messages     map[int64]*Message
	messageOrder []*Message

	replies    map[int64]*Reply
	replyOrder []int64
	parents    map[int64]Target

	seen  map[vote]struct{}
	tally Tally
}

// Build filters rows to channelID and reconstructs its messages, their
// nested reply trees and the rating tally.
//
// Nodes are deduplicated by id and keep the fields of their first row;
// children keep first-seen order. Replies with an invalid parent reference,
// a missing parent, or a parent cycle are dropped along with their
// descendants. The only error is ErrNotFound.
func Build(rows []Row, channelID int64) (*Thread, error) {
	b := &builder{
		messages: make(map[int64]*Message),
		replies:  make(map[int64]*Reply),
		parents:  make(map[int64]Target),
		seen:     make(map[vote]struct{}),
		tally:    make(Tally),
	}

	for i := range rows {
		row := &rows[i]
		if row.ChannelID != channelID {
			continue
		}
		b.add(row)
	}
	if b.channel == nil {
		return nil, ErrNotFound
	}
	return b.thread(), nil
}

func (b *builder) add(row *Row) {
	if b.channel == nil {
		b.channel = &Channel{
			ID:         row.ChannelID,
			Topic:      row.Topic,
			Content:    row.ChannelContent,
			Timestamp:  row.ChannelTime,
			Screenshot: row.ChannelScreenshot,
			Author:     row.ChannelAuthor,
		}
	}

	if row.MessageID != nil {
		if _, ok := b.messages[*row.MessageID]; !ok {
			m := &Message{
				ID:         *row.MessageID,
				Content:    deref(row.MessageContent),
				Timestamp:  derefTime(row.MessageTime),
				Screenshot: row.MessageScreenshot,
				Author:     row.MessageAuthor,
			}
			b.messages[m.ID] = m
			b.messageOrder = append(b.messageOrder, m)
		}
	}

	if row.ReplyID != nil {
		if _, ok := b.replies[*row.ReplyID]; !ok {
			if parent, valid := row.replyParent(); valid {
				r := &Reply{
					ID:         *row.ReplyID,
					Content:    deref(row.ReplyContent),
					Timestamp:  derefTime(row.ReplyTime),
					Screenshot: row.ReplyScreenshot,
					Author:     row.ReplyAuthor,
				}
				b.replies[r.ID] = r
				b.replyOrder = append(b.replyOrder, r.ID)
				b.parents[r.ID] = parent
			}
		}
	}

	if target, ok := row.ratingTarget(); ok {
		if row.RatingUserID != nil {
			key := vote{target: target, userID: *row.RatingUserID}
			if _, dup := b.seen[key]; dup {
				return
			}
			b.seen[key] = struct{}{}
		}
		b.tally.add(target, *row.IsUpVote)
	}
}

func (b *builder) thread() *Thread {
	children := make(map[Target][]*Reply, len(b.replyOrder))
	for _, id := range b.replyOrder {
		parent := b.parents[id]
		children[parent] = append(children[parent], b.replies[id])
	}

	b.tally.seed(Target{Kind: KindChannel, ID: b.channel.ID})

	visited := make(map[int64]struct{}, len(b.replyOrder))
	messages := make([]*Message, 0, len(b.messageOrder))
	for _, m := range b.messageOrder {
		b.tally.seed(Target{Kind: KindMessage, ID: m.ID})
		m.Replies = b.attach(children, Target{Kind: KindMessage, ID: m.ID}, visited)
		messages = append(messages, m)
	}

	return &Thread{
		Channel:  *b.channel,
		Messages: messages,
		Tally:    b.tally,
	}
}

// attach returns the subtree hanging off parent. Only replies reachable from a
// message are ever visited, so orphans and cycles fall out naturally.
func (b *builder) attach(children map[Target][]*Reply, parent Target, visited map[int64]struct{}) []*Reply {
	out := make([]*Reply, 0, len(children[parent]))
	for _, r := range children[parent] {
		if _, ok := visited[r.ID]; ok {
			continue
		}
		visited[r.ID] = struct{}{}
		b.tally.seed(Target{Kind: KindReply, ID: r.ID})
		r.Replies = b.attach(children, Target{Kind: KindReply, ID: r.ID}, visited)
		out = append(out, r)
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
