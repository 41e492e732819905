package store

import (
	"context"

	"gorm.io/gorm/clause"

	"github.com/Tyrowin/hexatalk/internal/model"
)

// CreateUser inserts u. A taken username yields ErrDuplicate.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	return translate(s.db.WithContext(ctx).Create(u).Error)
}

// UserByID returns ErrNotFound for unknown ids.
func (s *Store) UserByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *Store) UserByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// UsersByIDs loads the users that exist among ids, keyed by id.
func (s *Store) UsersByIDs(ctx context.Context, ids []string) (map[string]*model.User, error) {
	out := make(map[string]*model.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []model.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, translate(err)
	}
	for i := range users {
		out[users[i].ID] = &users[i]
	}
	return out, nil
}

// AddFriendship records the edge in both directions. Existing edges are kept.
func (s *Store) AddFriendship(ctx context.Context, a, b string) error {
	edges := []model.Friendship{
		{UserID: a, FriendID: b, CreatedAt: now()},
		{UserID: b, FriendID: a, CreatedAt: now()},
	}
	return translate(s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&edges).Error)
}

// AreFriends reports whether friendID is in userID's friend set.
func (s *Store) AreFriends(ctx context.Context, userID, friendID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Friendship{}).
		Where("user_id = ? AND friend_id = ?", userID, friendID).
		Count(&n).Error
	if err != nil {
		return false, translate(err)
	}
	return n > 0, nil
}

// FriendIDs lists every friend of userID.
func (s *Store) FriendIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&model.Friendship{}).
		Where("user_id = ?", userID).
		Pluck("friend_id", &ids).Error
	if err != nil {
		return nil, translate(err)
	}
	return ids, nil
}
