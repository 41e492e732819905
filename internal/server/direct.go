package server

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Tyrowin/hexatalk/internal/model"
	"github.com/Tyrowin/hexatalk/internal/store"
)

// resolveFriend checks that id names an existing user who is a friend of
// caller.
func (s *Server) resolveFriend(ctx context.Context, caller *model.User, id string) (*model.User, error) {
	if !model.ValidID(id) {
		return nil, validationError("Invalid Recipient Id")
	}
	friend, err := s.store.UserByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFoundError("Recipient not found")
	}
	if err != nil {
		return nil, persistenceError("Failed to look up recipient", err)
	}
	ok, err := s.store.AreFriends(ctx, caller.ID, friend.ID)
	if err != nil {
		return nil, persistenceError("Failed to check friendship", err)
	}
	if !ok {
		return nil, permissionError("You are not friends with %s.", friend.Username)
	}
	return friend, nil
}

// handleSendMessage stores a direct message and pushes it to the recipient
// if they are online. Offline recipients find it in their digest and
// history later; nothing is queued for them.
func (s *Server) handleSendMessage(ctx context.Context, c *Client, in SendMessage) error {
	recipient, err := s.resolveFriend(ctx, c.user, in.To)
	if err != nil {
		return err
	}

	chat, err := s.store.FindOrCreateDirectChat(ctx, c.UserID(), recipient.ID)
	if err != nil {
		return persistenceError("Failed to open chat", err)
	}

	msg := &model.Message{
		ChatID: chat.ID,
		FromID: c.UserID(),
		ToID:   &recipient.ID,
		Body:   in.Message,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return persistenceError("Failed to send message", err)
	}

	delivered := s.hub.Deliver(recipient.ID, newDirectMessage(c.user, msg))
	s.log.Debug("direct message stored",
		zap.String("message_id", msg.ID),
		zap.String("from", c.UserID()),
		zap.String("to", recipient.ID),
		zap.Bool("delivered", delivered))
	return nil
}

// handleReadMessages marks everything the partner sent the caller as read,
// sends the caller a fresh digest and tells an online partner.
func (s *Server) handleReadMessages(ctx context.Context, c *Client, in ReadMessages) error {
	partner, err := s.resolveFriend(ctx, c.user, in.To)
	if err != nil {
		return err
	}

	if _, err := s.store.MarkRead(ctx, partner.ID, c.UserID()); err != nil {
		return persistenceError("Failed to mark messages as read", err)
	}

	digest, err := s.unreadDigest(ctx, c.UserID())
	if err != nil {
		return persistenceError("Failed to mark messages as read", err)
	}
	s.hub.Send(c, newUnreadCount(digest))
	s.hub.Deliver(partner.ID, newMessagesRead(c.UserID(), partner.ID))
	return nil
}
