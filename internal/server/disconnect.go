package server

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const lastMessageRefreshTimeout = 10 * time.Second

// onClose tears down a session. Ephemeral state goes first, under the hub
// lock; then every chat of the user gets its last-message pointer
// recomputed. Refresh failures are logged and otherwise ignored.
func (s *Server) onClose(c *Client) {
	if !s.hub.Detach(c) {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), lastMessageRefreshTimeout)
	defer cancel()
	s.refreshLastMessages(ctx, c.UserID())
}

func (s *Server) refreshLastMessages(ctx context.Context, userID string) {
	chatIDs, err := s.store.ChatIDsForUser(ctx, userID)
	if err != nil {
		s.log.Warn("failed to list chats for last-message refresh", zap.String("user_id", userID), zap.Error(err))
		return
	}
	for _, id := range chatIDs {
		if err := s.store.RefreshLastMessage(ctx, id); err != nil {
			s.log.Warn("failed to refresh last message", zap.String("chat_id", id), zap.Error(err))
		}
	}
}
