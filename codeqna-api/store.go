package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"codeqna/forum"
)

const PER_PAGE = 30

// maxReplyDepth bounds walks up a reply's parent chain.
const maxReplyDepth = 256

var errUnknownTarget = errors.New("unknown rating target")

// threadRepliesCTE collects the replies of one channel: those posted on its
// messages and everything nested below them. Each reply carries the message
// at the root of its chain so it is joined exactly once. UNION discards
// repeats, which keeps a parent cycle from recursing forever.
const threadRepliesCTE = `
WITH RECURSIVE thread_replies AS (
	SELECT replies.id, replies.message_id, replies.parent_reply_id, replies.content,
		replies.created_at, replies.screenshot, replies.author_id,
		replies.message_id AS root_message_id
	FROM replies
	JOIN messages ON messages.id = replies.message_id
	WHERE messages.channel_id = @channel
	UNION
	SELECT r.id, r.message_id, r.parent_reply_id, r.content,
		r.created_at, r.screenshot, r.author_id,
		t.root_message_id
	FROM replies r
	JOIN thread_replies t ON r.parent_reply_id = t.id
)`

// channelTreeQuery produces one row per message and reply of a channel, or a
// single channel-only row when it has no messages.
const channelTreeQuery = threadRepliesCTE + `
SELECT
	channels.id AS channel_id,
	channels.topic AS topic,
	channels.content AS channel_content,
	channels.created_at AS channel_time,
	channels.screenshot AS channel_screenshot,
	cu.name AS channel_author,
	messages.id AS message_id,
	messages.content AS message_content,
	messages.created_at AS message_time,
	messages.screenshot AS message_screenshot,
	mu.name AS message_author,
	replies.id AS reply_id,
	replies.content AS reply_content,
	replies.created_at AS reply_time,
	replies.parent_reply_id AS parent_reply_id,
	replies.message_id AS reply_message_id,
	replies.screenshot AS reply_screenshot,
	ru.name AS reply_author
FROM channels
LEFT JOIN users cu ON cu.id = channels.author_id
LEFT JOIN messages ON messages.channel_id = channels.id
LEFT JOIN users mu ON mu.id = messages.author_id
LEFT JOIN thread_replies replies ON replies.root_message_id = messages.id
LEFT JOIN users ru ON ru.id = replies.author_id
WHERE channels.id = @channel
ORDER BY messages.created_at DESC, messages.id DESC, replies.created_at ASC, replies.id ASC`

// channelRatingsQuery returns every rating on the channel, its messages or
// its replies, one row each.
const channelRatingsQuery = threadRepliesCTE + `
SELECT
	ratings.channel_id AS rating_channel_id,
	ratings.message_id AS rating_message_id,
	ratings.reply_id AS rating_reply_id,
	ratings.is_up_vote AS is_up_vote,
	ratings.user_id AS rating_user_id
FROM ratings
WHERE ratings.channel_id = @channel
	OR ratings.message_id IN (SELECT id FROM messages WHERE channel_id = @channel)
	OR ratings.reply_id IN (SELECT id FROM thread_replies)
ORDER BY ratings.id`

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(&User{}, &Channel{}, &Message{}, &Reply{}, &Rating{})
}

// channelRows fetches the flat rows for a channel: its tree rows followed by
// one row per rating. A missing channel yields no rows.
func channelRows(db *gorm.DB, channelID uint) ([]forum.Row, error) {
	args := map[string]interface{}{"channel": channelID}

	var rows []forum.Row
	if err := db.Raw(channelTreeQuery, args).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying channel %d: %w", channelID, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var ratings []forum.Row
	if err := db.Raw(channelRatingsQuery, args).Scan(&ratings).Error; err != nil {
		return nil, fmt.Errorf("querying ratings of channel %d: %w", channelID, err)
	}
	for i := range ratings {
		ratings[i].ChannelID = int64(channelID)
	}
	return append(rows, ratings...), nil
}

// loadThread fetches the flat rows for a channel and rebuilds its tree.
func loadThread(db *gorm.DB, channelID uint) (*forum.Thread, error) {
	rows, err := channelRows(db, channelID)
	if err != nil {
		return nil, err
	}
	return forum.Build(rows, int64(channelID))
}

func listChannels(db *gorm.DB) ([]ChannelSummary, error) {
	channels := []ChannelSummary{}
	err := db.Table("channels").
		Select("channels.id, channels.topic, channels.content, channels.screenshot, users.name AS author, channels.created_at, COUNT(messages.id) AS message_count").
		Joins("LEFT JOIN users ON users.id = channels.author_id").
		Joins("LEFT JOIN messages ON messages.channel_id = channels.id").
		Group("channels.id, users.name").
		Order("channels.created_at DESC, channels.id DESC").
		Scan(&channels).Error
	if err != nil {
		return nil, err
	}
	for i := range channels {
		channels[i].Age = humanize.Time(channels[i].CreatedAt)
	}
	return channels, nil
}

func exists(db *gorm.DB, model interface{}, id uint) (bool, error) {
	var count int64
	if err := db.Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func targetColumn(kind forum.TargetKind) (string, interface{}, error) {
	switch kind {
	case forum.KindChannel:
		return "channel_id", &Channel{}, nil
	case forum.KindMessage:
		return "message_id", &Message{}, nil
	case forum.KindReply:
		return "reply_id", &Reply{}, nil
	}
	return "", nil, errUnknownTarget
}

// upsertRating stores userID's vote on target, replacing any earlier vote by
// the same user. It reports whether a new row was created.
func upsertRating(db *gorm.DB, userID uint, target forum.Target, up bool) (bool, error) {
	column, model, err := targetColumn(target.Kind)
	if err != nil {
		return false, err
	}
	id := uint(target.ID)

	created := false
	err = db.Transaction(func(tx *gorm.DB) error {
		ok, err := exists(tx, model, id)
		if err != nil {
			return err
		}
		if !ok {
			return errUnknownTarget
		}

		var previous int64
		if err := tx.Model(&Rating{}).Where("user_id = ? AND "+column+" = ?", userID, id).Count(&previous).Error; err != nil {
			return err
		}
		created = previous == 0

		rating := Rating{UserID: userID, IsUpVote: up}
		switch target.Kind {
		case forum.KindChannel:
			rating.ChannelID = &id
		case forum.KindMessage:
			rating.MessageID = &id
		case forum.KindReply:
			rating.ReplyID = &id
		}
		return saveRating(tx, &rating, column)
	})
	return created, err
}

// saveRating inserts rating or, when the user already rated that target,
// overwrites the stored vote. column is the target's foreign key.
func saveRating(tx *gorm.DB, rating *Rating, column string) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: column}},
		DoUpdates: clause.AssignmentColumns([]string{"is_up_vote"}),
	}).Create(rating).Error
}

// replySubtree returns roots and every reply nested below them.
func replySubtree(tx *gorm.DB, roots []uint) ([]uint, error) {
	seen := make(map[uint]struct{}, len(roots))
	all := make([]uint, 0, len(roots))
	frontier := roots
	for len(frontier) > 0 {
		next := []uint{}
		for _, id := range frontier {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			all = append(all, id)
			next = append(next, id)
		}
		if len(next) == 0 {
			break
		}
		var children []uint
		if err := tx.Model(&Reply{}).Where("parent_reply_id IN ?", next).Pluck("id", &children).Error; err != nil {
			return nil, err
		}
		frontier = children
	}
	return all, nil
}

func deleteReplies(tx *gorm.DB, roots []uint) error {
	if len(roots) == 0 {
		return nil
	}
	ids, err := replySubtree(tx, roots)
	if err != nil {
		return err
	}
	if err := tx.Where("reply_id IN ?", ids).Delete(&Rating{}).Error; err != nil {
		return err
	}
	return tx.Where("id IN ?", ids).Delete(&Reply{}).Error
}

func deleteMessages(tx *gorm.DB, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	var direct []uint
	if err := tx.Model(&Reply{}).Where("message_id IN ?", ids).Pluck("id", &direct).Error; err != nil {
		return err
	}
	if err := deleteReplies(tx, direct); err != nil {
		return err
	}
	if err := tx.Where("message_id IN ?", ids).Delete(&Rating{}).Error; err != nil {
		return err
	}
	return tx.Where("id IN ?", ids).Delete(&Message{}).Error
}

func deleteChannel(db *gorm.DB, id uint) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var messages []uint
		if err := tx.Model(&Message{}).Where("channel_id = ?", id).Pluck("id", &messages).Error; err != nil {
			return err
		}
		if err := deleteMessages(tx, messages); err != nil {
			return err
		}
		if err := tx.Where("channel_id = ?", id).Delete(&Rating{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Channel{}, id).Error
	})
}

func deleteMessage(db *gorm.DB, id uint) error {
	return db.Transaction(func(tx *gorm.DB) error {
		return deleteMessages(tx, []uint{id})
	})
}

func deleteReply(db *gorm.DB, id uint) error {
	return db.Transaction(func(tx *gorm.DB) error {
		return deleteReplies(tx, []uint{id})
	})
}

// deleteUser removes the account and its votes. Posts stay and lose their
// author.
func deleteUser(db *gorm.DB, id uint) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&Rating{}).Error; err != nil {
			return err
		}
		for _, model := range []interface{}{&Channel{}, &Message{}, &Reply{}} {
			if err := tx.Model(model).Where("author_id = ?", id).Update("author_id", nil).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&User{}, id).Error
	})
}

func promoteUser(db *gorm.DB, email string) error {
	res := db.Model(&User{}).Where("email = ?", email).Update("role", RoleAdmin)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// replyChannel walks up the parent chain of a reply to its channel.
func replyChannel(db *gorm.DB, id uint) (*uint, error) {
	for depth := 0; depth < maxReplyDepth; depth++ {
		var reply Reply
		err := db.Select("id", "message_id", "parent_reply_id").First(&reply, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if reply.MessageID != nil {
			var msg Message
			err := db.Select("id", "channel_id").First(&msg, *reply.MessageID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			return &msg.ChannelID, nil
		}
		if reply.ParentReplyID == nil {
			return nil, nil
		}
		id = *reply.ParentReplyID
	}
	return nil, nil
}

func search(db *gorm.DB, query string) (*SearchResults, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	results := &SearchResults{
		Channels: []SearchHit{},
		Messages: []SearchHit{},
		Replies:  []SearchHit{},
	}

	err := db.Table("channels").
		Select("channels.id, channels.id AS channel_id, channels.topic, channels.content, users.name AS author").
		Joins("LEFT JOIN users ON users.id = channels.author_id").
		Where("LOWER(channels.topic) LIKE ? OR LOWER(channels.content) LIKE ?", pattern, pattern).
		Order("channels.created_at DESC").
		Limit(PER_PAGE).
		Scan(&results.Channels).Error
	if err != nil {
		return nil, fmt.Errorf("searching channels: %w", err)
	}

	err = db.Table("messages").
		Select("messages.id, messages.channel_id, messages.content, users.name AS author").
		Joins("LEFT JOIN users ON users.id = messages.author_id").
		Where("LOWER(messages.content) LIKE ?", pattern).
		Order("messages.created_at DESC").
		Limit(PER_PAGE).
		Scan(&results.Messages).Error
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}

	err = db.Table("replies").
		Select("replies.id, replies.content, users.name AS author").
		Joins("LEFT JOIN users ON users.id = replies.author_id").
		Where("LOWER(replies.content) LIKE ?", pattern).
		Order("replies.created_at DESC").
		Limit(PER_PAGE).
		Scan(&results.Replies).Error
	if err != nil {
		return nil, fmt.Errorf("searching replies: %w", err)
	}
	for i := range results.Replies {
		channelID, err := replyChannel(db, results.Replies[i].ID)
		if err != nil {
			return nil, fmt.Errorf("resolving reply %d: %w", results.Replies[i].ID, err)
		}
		results.Replies[i].ChannelID = channelID
	}

	return results, nil
}
