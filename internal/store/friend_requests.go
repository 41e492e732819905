package store

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Tyrowin/hexatalk/internal/model"
)

// PendingRequestsFor lists requests addressed to userID still awaiting an
// answer, oldest first.
func (s *Store) PendingRequestsFor(ctx context.Context, userID string) ([]model.FriendRequest, error) {
	var reqs []model.FriendRequest
	err := s.db.WithContext(ctx).
		Where("to_id = ? AND status = ?", userID, model.FriendRequestPending).
		Order("created_at ASC, id ASC").
		Find(&reqs).Error
	if err != nil {
		return nil, translate(err)
	}
	return reqs, nil
}

// FindPendingRequest returns a pending request between the two users in
// either direction.
func (s *Store) FindPendingRequest(ctx context.Context, a, b string) (*model.FriendRequest, error) {
	var req model.FriendRequest
	err := s.db.WithContext(ctx).
		Where("status = ?", model.FriendRequestPending).
		Where("(from_id = ? AND to_id = ?) OR (from_id = ? AND to_id = ?)", a, b, b, a).
		First(&req).Error
	if err != nil {
		return nil, translate(err)
	}
	return &req, nil
}

func (s *Store) CreateFriendRequest(ctx context.Context, from, to string) (*model.FriendRequest, error) {
	req := &model.FriendRequest{FromID: from, ToID: to, Status: model.FriendRequestPending}
	if err := s.db.WithContext(ctx).Create(req).Error; err != nil {
		return nil, translate(err)
	}
	return req, nil
}

func (s *Store) FriendRequestByID(ctx context.Context, id string) (*model.FriendRequest, error) {
	var req model.FriendRequest
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&req).Error; err != nil {
		return nil, translate(err)
	}
	return &req, nil
}

// AcceptFriendRequest marks a pending request ACCEPTED and records the
// friendship both ways in one transaction. A request that is no longer
// pending yields ErrNotFound.
func (s *Store) AcceptFriendRequest(ctx context.Context, id string) (*model.FriendRequest, error) {
	var req model.FriendRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND status = ?", id, model.FriendRequestPending).First(&req).Error; err != nil {
			return err
		}
		res := tx.Model(&model.FriendRequest{}).
			Where("id = ? AND status = ?", id, model.FriendRequestPending).
			Update("status", model.FriendRequestAccepted)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		req.Status = model.FriendRequestAccepted

		edges := []model.Friendship{
			{UserID: req.FromID, FriendID: req.ToID, CreatedAt: now()},
			{UserID: req.ToID, FriendID: req.FromID, CreatedAt: now()},
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&edges).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return &req, nil
}

// RejectFriendRequest marks a pending request REJECTED.
func (s *Store) RejectFriendRequest(ctx context.Context, id string) (*model.FriendRequest, error) {
	var req model.FriendRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND status = ?", id, model.FriendRequestPending).First(&req).Error; err != nil {
			return err
		}
		res := tx.Model(&model.FriendRequest{}).
			Where("id = ? AND status = ?", id, model.FriendRequestPending).
			Update("status", model.FriendRequestRejected)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		req.Status = model.FriendRequestRejected
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return &req, nil
}
