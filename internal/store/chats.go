package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Tyrowin/hexatalk/internal/model"
)

// FindOrCreateDirectChat returns the direct chat between a and b, creating
// it on first contact. The unique pair key arbitrates concurrent first
// contact: the losing insert is a no-op and both callers read back the same
// row.
func (s *Store) FindOrCreateDirectChat(ctx context.Context, a, b string) (*model.Chat, error) {
	key := model.DirectPairKey(a, b)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chat := &model.Chat{PairKey: key}
		res := tx.Omit(clause.Associations).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(chat)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		members := []model.ChatMember{
			{ChatID: chat.ID, UserID: a, CreatedAt: now()},
			{ChatID: chat.ID, UserID: b, CreatedAt: now()},
		}
		return tx.Create(&members).Error
	})
	if err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, translate(err)
	}

	var chat model.Chat
	if err := s.db.WithContext(ctx).Preload("Members").Where("pair_key = ?", key).First(&chat).Error; err != nil {
		return nil, translate(err)
	}
	return &chat, nil
}

// GroupExists reports whether adminID already administers a group named name.
func (s *Store) GroupExists(ctx context.Context, adminID, name string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Chat{}).
		Where("is_group_chat = ? AND admin_id = ? AND name = ?", true, adminID, name).
		Count(&n).Error
	if err != nil {
		return false, translate(err)
	}
	return n > 0, nil
}

// CreateGroupChat persists a group administered by adminID whose members are
// memberIDs. The caller includes the admin in memberIDs.
func (s *Store) CreateGroupChat(ctx context.Context, adminID, name string, memberIDs []string) (*model.Chat, error) {
	admin := adminID
	chat := &model.Chat{Name: name, IsGroupChat: true, AdminID: &admin}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(chat).Error; err != nil {
			return err
		}
		members := make([]model.ChatMember, 0, len(memberIDs))
		for _, id := range memberIDs {
			members = append(members, model.ChatMember{ChatID: chat.ID, UserID: id, CreatedAt: now()})
		}
		if err := tx.Create(&members).Error; err != nil {
			return err
		}
		chat.Members = members
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return chat, nil
}

// MemberChat loads the group chat chatID with its members, provided userID
// is one of them. Anything else, including a direct chat id, is ErrNotFound.
func (s *Store) MemberChat(ctx context.Context, chatID, userID string) (*model.Chat, error) {
	var chat model.Chat
	err := s.db.WithContext(ctx).
		Preload("Members").
		Joins("JOIN chat_members ON chat_members.chat_id = chats.id AND chat_members.user_id = ?", userID).
		Where("chats.id = ? AND chats.is_group_chat = ?", chatID, true).
		First(&chat).Error
	if err != nil {
		return nil, translate(err)
	}
	return &chat, nil
}

// ChatIDsForUser lists every chat, direct or group, that userID belongs to.
func (s *Store) ChatIDsForUser(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&model.ChatMember{}).
		Where("user_id = ?", userID).
		Pluck("chat_id", &ids).Error
	if err != nil {
		return nil, translate(err)
	}
	return ids, nil
}

// ChatByID loads a chat with its members.
func (s *Store) ChatByID(ctx context.Context, id string) (*model.Chat, error) {
	var chat model.Chat
	if err := s.db.WithContext(ctx).Preload("Members").Where("id = ?", id).First(&chat).Error; err != nil {
		return nil, translate(err)
	}
	return &chat, nil
}

// RefreshLastMessage points the chat at its newest message, or clears the
// pointer when the chat has none.
func (s *Store) RefreshLastMessage(ctx context.Context, chatID string) error {
	var last model.Message
	var lastID *string
	err := s.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at DESC, id DESC").
		Limit(1).
		Find(&last).Error
	if err != nil {
		return translate(err)
	}
	if last.ID != "" {
		lastID = &last.ID
	}
	return translate(s.db.WithContext(ctx).Model(&model.Chat{}).
		Where("id = ?", chatID).
		Update("last_message_id", lastID).Error)
}
