package server

import (
	"context"

	"github.com/Tyrowin/hexatalk/internal/model"
)

// Store is the persistence the chat server consumes. *store.Store
// implements it.
type Store interface {
	UserByID(ctx context.Context, id string) (*model.User, error)
	UserByUsername(ctx context.Context, username string) (*model.User, error)
	UsersByIDs(ctx context.Context, ids []string) (map[string]*model.User, error)
	AreFriends(ctx context.Context, userID, friendID string) (bool, error)
	FriendIDs(ctx context.Context, userID string) ([]string, error)

	PendingRequestsFor(ctx context.Context, userID string) ([]model.FriendRequest, error)
	FindPendingRequest(ctx context.Context, a, b string) (*model.FriendRequest, error)
	CreateFriendRequest(ctx context.Context, from, to string) (*model.FriendRequest, error)
	FriendRequestByID(ctx context.Context, id string) (*model.FriendRequest, error)
	AcceptFriendRequest(ctx context.Context, id string) (*model.FriendRequest, error)
	RejectFriendRequest(ctx context.Context, id string) (*model.FriendRequest, error)

	FindOrCreateDirectChat(ctx context.Context, a, b string) (*model.Chat, error)
	GroupExists(ctx context.Context, adminID, name string) (bool, error)
	CreateGroupChat(ctx context.Context, adminID, name string, memberIDs []string) (*model.Chat, error)
	MemberChat(ctx context.Context, chatID, userID string) (*model.Chat, error)
	ChatIDsForUser(ctx context.Context, userID string) ([]string, error)
	RefreshLastMessage(ctx context.Context, chatID string) error

	CreateMessage(ctx context.Context, m *model.Message) error
	MarkRead(ctx context.Context, sender, reader string) (int64, error)
	UnreadFor(ctx context.Context, userID string) ([]model.Message, error)
	CountUnread(ctx context.Context, sender, reader string) (int64, error)
	DirectHistory(ctx context.Context, a, b, cursor string, limit int) ([]model.Message, error)
}

// Authenticator resolves a bearer token to a user. *auth.Authenticator
// implements it.
type Authenticator interface {
	Resolve(ctx context.Context, token string) (*model.User, error)
}
