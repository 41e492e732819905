package server

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/Tyrowin/hexatalk/internal/model"
	"github.com/Tyrowin/hexatalk/internal/store"
)

func (s *Server) handleCreateGroupChat(ctx context.Context, c *Client, in CreateGroupChat) error {
	name := strings.TrimSpace(in.Name)

	exists, err := s.store.GroupExists(ctx, c.UserID(), name)
	if err != nil {
		return persistenceError("Failed to create group", err)
	}
	if exists {
		return permissionError("You have already created a group with this name")
	}

	members := in.effectiveMembers(c.UserID())
	others := members[1:]
	for _, id := range others {
		if !model.ValidID(id) {
			return validationError("Invalid member id %q", id)
		}
	}

	friendIDs, err := s.store.FriendIDs(ctx, c.UserID())
	if err != nil {
		return persistenceError("Failed to create group", err)
	}
	friends := make(map[string]struct{}, len(friendIDs))
	for _, id := range friendIDs {
		friends[id] = struct{}{}
	}
	for _, id := range others {
		if _, ok := friends[id]; !ok {
			return permissionError("You can create a group only with your friends")
		}
	}

	chat, err := s.store.CreateGroupChat(ctx, c.UserID(), name, members)
	if err != nil {
		return persistenceError("Failed to create group", err)
	}

	notified := s.hub.DeliverAll(others, newGroupNotification(name, c.Username(), chat.ID))
	s.hub.Send(c, newNewGroupCreated(chat))

	s.log.Info("group created",
		zap.String("chat_id", chat.ID),
		zap.String("admin", c.UserID()),
		zap.Int("members", len(members)),
		zap.Int("notified", notified))
	return nil
}

func (s *Server) handleGroupMessage(ctx context.Context, c *Client, in GroupMessage) error {
	const notMember = "Group not found or you are not a member of this group"

	if !model.ValidID(in.ChatID) {
		return notFoundError(notMember)
	}

	chat, err := s.store.MemberChat(ctx, in.ChatID, c.UserID())
	if errors.Is(err, store.ErrNotFound) {
		return permissionError(notMember)
	}
	if err != nil {
		return persistenceError("Failed to send message", err)
	}

	msg := &model.Message{
		ChatID: chat.ID,
		FromID: c.UserID(),
		Body:   in.Message,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return persistenceError("Failed to send message", err)
	}

	recipients := make([]string, 0, len(chat.Members))
	for _, id := range chat.MemberIDs() {
		if id != c.UserID() {
			recipients = append(recipients, id)
		}
	}
	s.hub.DeliverAll(recipients, newGroupMessagePush(msg))
	s.hub.Send(c, newGroupMessageSent(msg))
	return nil
}
