package server

import (
	"context"
	"sort"
	"time"

	"github.com/Tyrowin/hexatalk/internal/model"
)

// DigestEntry summarises what one sender has written that the user has not
// read yet.
type DigestEntry struct {
	FriendID    string        `json:"friendId"`
	Username    string        `json:"username"`
	UnreadCount int           `json:"unreadCount"`
	LastMessage DigestMessage `json:"lastMessage"`
}

type DigestMessage struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// buildDigest groups unread messages (oldest first) by sender, keeping the
// newest one per sender, and orders senders by that message, newest first.
// Senders missing from users are left out.
func buildDigest(unread []model.Message, users map[string]*model.User) []DigestEntry {
	bySender := make(map[string]*DigestEntry)
	var order []string

	for i := range unread {
		m := &unread[i]
		u, ok := users[m.FromID]
		if !ok {
			continue
		}
		e, ok := bySender[m.FromID]
		if !ok {
			e = &DigestEntry{FriendID: m.FromID, Username: u.Username}
			bySender[m.FromID] = e
			order = append(order, m.FromID)
		}
		e.UnreadCount++
		e.LastMessage = DigestMessage{Text: m.Body, CreatedAt: m.CreatedAt}
	}

	out := make([]DigestEntry, 0, len(order))
	for _, id := range order {
		out = append(out, *bySender[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessage.CreatedAt.After(out[j].LastMessage.CreatedAt)
	})
	return out
}

// unreadDigest computes userID's digest from the store.
func (s *Server) unreadDigest(ctx context.Context, userID string) ([]DigestEntry, error) {
	unread, err := s.store.UnreadFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(unread) == 0 {
		return []DigestEntry{}, nil
	}

	senders := make([]string, 0)
	seen := make(map[string]struct{})
	for _, m := range unread {
		if _, ok := seen[m.FromID]; !ok {
			seen[m.FromID] = struct{}{}
			senders = append(senders, m.FromID)
		}
	}
	users, err := s.store.UsersByIDs(ctx, senders)
	if err != nil {
		return nil, err
	}
	return buildDigest(unread, users), nil
}
