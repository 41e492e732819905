package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Tyrowin/hexatalk/internal/model"
)

// CreateMessage persists m and records its sender as the first reader in the
// same transaction.
func (s *Store) CreateMessage(ctx context.Context, m *model.Message) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(m).Error; err != nil {
			return err
		}
		read := model.MessageRead{MessageID: m.ID, UserID: m.FromID, CreatedAt: m.CreatedAt}
		if err := tx.Create(&read).Error; err != nil {
			return err
		}
		m.ReadBy = []model.MessageRead{read}
		return nil
	})
	return translate(err)
}

const markReadSQL = `INSERT INTO message_reads (message_id, user_id, created_at)
SELECT m.id, ?, ? FROM messages m
WHERE m.from_id = ? AND m.to_id = ?
AND NOT EXISTS (
	SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.user_id = ?
)`

// MarkRead adds reader to every direct message from sender to reader it has
// not read yet and returns how many were marked. Calling it again with no new
// messages is a no-op.
func (s *Store) MarkRead(ctx context.Context, sender, reader string) (int64, error) {
	exec := func() *gorm.DB {
		return s.db.WithContext(ctx).Exec(markReadSQL, reader, now(), sender, reader, reader)
	}
	res := exec()
	if res.Error != nil && errors.Is(res.Error, gorm.ErrDuplicatedKey) {
		// a concurrent MarkRead for the same pair inserted some rows first
		res = exec()
	}
	if res.Error != nil {
		return 0, translate(res.Error)
	}
	return res.RowsAffected, nil
}

// UnreadFor lists direct messages addressed to userID that userID has not
// read, oldest first.
func (s *Store) UnreadFor(ctx context.Context, userID string) ([]model.Message, error) {
	var msgs []model.Message
	err := s.db.WithContext(ctx).
		Where("to_id = ?", userID).
		Where("NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = messages.id AND r.user_id = ?)", userID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, translate(err)
	}
	return msgs, nil
}

// CountUnread counts direct messages from sender that reader has not read.
func (s *Store) CountUnread(ctx context.Context, sender, reader string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("from_id = ? AND to_id = ?", sender, reader).
		Where("NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = messages.id AND r.user_id = ?)", reader).
		Count(&n).Error
	if err != nil {
		return 0, translate(err)
	}
	return n, nil
}

// DirectHistory returns up to limit direct messages exchanged between a and
// b, newest first. A non-empty cursor restricts the page to messages older
// than the message with that id.
func (s *Store) DirectHistory(ctx context.Context, a, b, cursor string, limit int) ([]model.Message, error) {
	q := s.db.WithContext(ctx).
		Preload("ReadBy").
		Where("((from_id = ? AND to_id = ?) OR (from_id = ? AND to_id = ?))", a, b, b, a)
	if cursor != "" {
		q = q.Where("id < ?", cursor)
	}
	var msgs []model.Message
	if err := q.Order("id DESC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, translate(err)
	}
	return msgs, nil
}

// MessagesInChat returns every message of a chat, oldest first.
func (s *Store) MessagesInChat(ctx context.Context, chatID string) ([]model.Message, error) {
	var msgs []model.Message
	err := s.db.WithContext(ctx).
		Preload("ReadBy").
		Where("chat_id = ?", chatID).
		Order("id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, translate(err)
	}
	return msgs, nil
}

// ReaderIDs lists who has read messageID.
func (s *Store) ReaderIDs(ctx context.Context, messageID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&model.MessageRead{}).
		Where("message_id = ?", messageID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, translate(err)
	}
	return ids, nil
}
