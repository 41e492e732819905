package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Tyrowin/hexatalk/internal/model"
	"github.com/Tyrowin/hexatalk/internal/store"
)

type userHandlerFunc func(w http.ResponseWriter, r *http.Request, user *model.User)

// requireUser resolves the bearer credential before calling next.
func (s *Server) requireUser(next userHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, asError(err).Message)
			return
		}
		next(w, r, user)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

// HistoryPage is one page of a direct conversation, oldest message first.
type HistoryPage struct {
	Message     string        `json:"message"`
	Messages    []MessageView `json:"messages"`
	NextCursor  *string       `json:"nextCursor"`
	HasMore     bool          `json:"hasMore"`
	Limit       int           `json:"limit"`
	UnreadCount int64         `json:"unreadCount"`
}

// historyHandler serves GET /api/v1/messages/{friendId}. Pages walk
// backwards from the newest message; nextCursor is the id of the oldest
// message returned. Fetching a page marks the friend's messages to the
// caller as read.
func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request, user *model.User) {
	ctx := r.Context()
	friendID := r.PathValue("friendId")
	if !model.ValidID(friendID) {
		writeError(w, http.StatusBadRequest, "Please enter a valid userId")
		return
	}

	friend, err := s.store.UserByID(ctx, friendID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "No such user exists")
		return
	}
	if err != nil {
		s.internalError(w, "history: lookup friend", err)
		return
	}
	ok, err := s.store.AreFriends(ctx, user.ID, friend.ID)
	if err != nil {
		s.internalError(w, "history: check friendship", err)
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "You are not friends with "+friend.Username)
		return
	}

	cursor := r.URL.Query().Get("cursor")
	if cursor != "" && !model.ValidID(cursor) {
		writeError(w, http.StatusBadRequest, "Invalid cursor")
		return
	}
	limit := s.pageLimit(r.URL.Query().Get("limit"))

	msgs, err := s.store.DirectHistory(ctx, user.ID, friend.ID, cursor, limit+1)
	if err != nil {
		s.internalError(w, "history: load messages", err)
		return
	}
	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}

	page := HistoryPage{
		Message:  "Your messages with " + friend.Username + " fetched successfully",
		Messages: make([]MessageView, 0, len(msgs)),
		HasMore:  hasMore,
		Limit:    limit,
	}
	if len(msgs) > 0 {
		next := msgs[len(msgs)-1].ID
		page.NextCursor = &next
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		page.Messages = append(page.Messages, newMessageView(&msgs[i]))
	}

	marked, err := s.store.MarkRead(ctx, friend.ID, user.ID)
	if err != nil {
		s.internalError(w, "history: mark read", err)
		return
	}
	if marked > 0 {
		s.hub.Deliver(friend.ID, newMessagesRead(user.ID, friend.ID))
	}
	if page.UnreadCount, err = s.store.CountUnread(ctx, friend.ID, user.ID); err != nil {
		s.internalError(w, "history: count unread", err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

func (s *Server) pageLimit(raw string) int {
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		limit = s.cfg.HistoryPageSize
	}
	if limit > s.cfg.HistoryMaxPageSize {
		limit = s.cfg.HistoryMaxPageSize
	}
	return limit
}

type friendRequestBody struct {
	Username string `json:"username"`
}

// listFriendRequestsHandler serves GET /api/v1/friends/requests.
func (s *Server) listFriendRequestsHandler(w http.ResponseWriter, r *http.Request, user *model.User) {
	reqs, err := s.store.PendingRequestsFor(r.Context(), user.ID)
	if err != nil {
		s.internalError(w, "friend requests: list", err)
		return
	}
	if reqs == nil {
		reqs = []model.FriendRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": reqs})
}

// sendFriendRequestHandler serves POST /api/v1/friends/requests and pushes
// FRIEND_REQUEST to the receiver when they are online.
func (s *Server) sendFriendRequestHandler(w http.ResponseWriter, r *http.Request, user *model.User) {
	ctx := r.Context()

	var body friendRequestBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	username := strings.TrimSpace(body.Username)
	if username == "" {
		writeError(w, http.StatusBadRequest, "Username is required")
		return
	}

	target, err := s.store.UserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		s.internalError(w, "friend requests: lookup", err)
		return
	}
	if target.ID == user.ID {
		writeError(w, http.StatusBadRequest, "You cannot send a friend request to yourself")
		return
	}

	friends, err := s.store.AreFriends(ctx, user.ID, target.ID)
	if err != nil {
		s.internalError(w, "friend requests: check friendship", err)
		return
	}
	if friends {
		writeError(w, http.StatusConflict, "You are already friends with "+target.Username)
		return
	}

	_, err = s.store.FindPendingRequest(ctx, user.ID, target.ID)
	switch {
	case err == nil:
		writeError(w, http.StatusConflict, "A friend request between you is already pending")
		return
	case !errors.Is(err, store.ErrNotFound):
		s.internalError(w, "friend requests: find pending", err)
		return
	}

	req, err := s.store.CreateFriendRequest(ctx, user.ID, target.ID)
	if err != nil {
		s.internalError(w, "friend requests: create", err)
		return
	}

	s.hub.Deliver(target.ID, newFriendRequestNotice(user, req))
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Friend request sent to " + target.Username,
		"data":    req,
	})
}

// respondFriendRequestHandler serves the accept and reject endpoints. Only
// the addressee may answer.
func (s *Server) respondFriendRequestHandler(accept bool) userHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, user *model.User) {
		ctx := r.Context()
		id := r.PathValue("id")
		if !model.ValidID(id) {
			writeError(w, http.StatusBadRequest, "Invalid request id")
			return
		}

		req, err := s.store.FriendRequestByID(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Friend request not found")
			return
		}
		if err != nil {
			s.internalError(w, "friend requests: load", err)
			return
		}
		if req.ToID != user.ID {
			writeError(w, http.StatusForbidden, "Only the receiver can respond to this request")
			return
		}

		if accept {
			req, err = s.store.AcceptFriendRequest(ctx, id)
		} else {
			req, err = s.store.RejectFriendRequest(ctx, id)
		}
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusConflict, "Friend request has already been answered")
			return
		}
		if err != nil {
			s.internalError(w, "friend requests: respond", err)
			return
		}

		msg := "Friend request rejected"
		if accept {
			msg = "Friend request accepted"
			s.hub.Deliver(req.FromID, newFriendRequestAccepted(user, req))
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": msg, "data": req})
	}
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.log.Error("request failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Something went wrong")
}

