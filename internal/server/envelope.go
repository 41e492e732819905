package server

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/Tyrowin/hexatalk/internal/model"
)

// Inbound frame types.
const (
	TypeSendMessage     = "SEND_MESSAGE"
	TypeReadMessages    = "READ_MESSAGES"
	TypeRandomChatInit  = "RANDOM_CHAT_INIT"
	TypeRandomChat      = "RANDOM_CHAT"
	TypeCreateGroupChat = "CREATE_GROUP_CHAT"
	TypeGroupMessage    = "GROUP_MESSAGE"
)

// Outbound envelope types.
const (
	TypeWelcome                = "WELCOME"
	TypePendingRequests        = "PENDING_REQUESTS"
	TypeUnreadCount            = "UNREAD_MSG_COUNT"
	TypeError                  = "ERROR"
	TypeRandomChatWaiting      = "RANDOM_CHAT_WAITING"
	TypeRandomChatConnected    = "RANDOM_CHAT_CONNECTED"
	TypeRandomChatMessage      = "RANDOM_CHAT_MESSAGE"
	TypeRandomChatDisconnected = "RANDOM_CHAT_DISCONNECTED"
	TypeMessagesRead           = "MESSAGES_READ"
	TypeNotification           = "NOTIFICATION"
	TypeNewGroupCreated        = "NEW_GROUP_CREATED"
	TypeGroupMessageSent       = "GROUP_MESSAGE_SENT"
	TypeDirectMessage          = "DIRECT_MESSAGE"
	TypeFriendRequest          = "FRIEND_REQUEST"
	TypeFriendRequestAccepted  = "FRIEND_REQUEST_ACCEPTED"
)

// Inbound is one decoded client frame. The set of implementations is closed:
// each variant dispatches to its own method on inboundHandler, so adding a
// variant without a handler does not compile.
type Inbound interface {
	validate(senderID string, minGroupMembers int) error
	dispatch(ctx context.Context, h inboundHandler, c *Client) error
}

type inboundHandler interface {
	handleSendMessage(ctx context.Context, c *Client, in SendMessage) error
	handleReadMessages(ctx context.Context, c *Client, in ReadMessages) error
	handleRandomChatInit(ctx context.Context, c *Client, in RandomChatInit) error
	handleRandomChat(ctx context.Context, c *Client, in RandomChat) error
	handleCreateGroupChat(ctx context.Context, c *Client, in CreateGroupChat) error
	handleGroupMessage(ctx context.Context, c *Client, in GroupMessage) error
}

type SendMessage struct {
	To      string
	Message string
}

type ReadMessages struct {
	To string
}

type RandomChatInit struct{}

type RandomChat struct {
	Message string
}

type CreateGroupChat struct {
	Name    string
	Members []string
}

type GroupMessage struct {
	ChatID  string
	Message string
}

// inboundFrame is the wire shape shared by every variant.
type inboundFrame struct {
	Type    string   `json:"type"`
	To      string   `json:"to"`
	Message string   `json:"message"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
	ChatID  string   `json:"chatId"`
}

// DecodeInbound parses a raw frame. Malformed JSON and unknown types are
// validation errors.
func DecodeInbound(raw []byte) (Inbound, error) {
	var f inboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, &Error{Kind: KindValidation, Message: "Invalid message format", Err: err}
	}

	switch f.Type {
	case TypeSendMessage:
		return SendMessage{To: f.To, Message: f.Message}, nil
	case TypeReadMessages:
		return ReadMessages{To: f.To}, nil
	case TypeRandomChatInit:
		return RandomChatInit{}, nil
	case TypeRandomChat:
		return RandomChat{Message: f.Message}, nil
	case TypeCreateGroupChat:
		return CreateGroupChat{Name: f.Name, Members: f.Members}, nil
	case TypeGroupMessage:
		return GroupMessage{ChatID: f.ChatID, Message: f.Message}, nil
	default:
		return nil, validationError("Unknown message type")
	}
}

func requireBody(msg string) error {
	if strings.TrimSpace(msg) == "" {
		return validationError("Message is required")
	}
	return nil
}

func requireRecipient(to string) error {
	if strings.TrimSpace(to) == "" {
		return validationError("Recipient Id is required")
	}
	return nil
}

func (in SendMessage) validate(string, int) error {
	if err := requireBody(in.Message); err != nil {
		return err
	}
	return requireRecipient(in.To)
}

func (in ReadMessages) validate(string, int) error { return requireRecipient(in.To) }

func (RandomChatInit) validate(string, int) error { return nil }

func (in RandomChat) validate(string, int) error { return requireBody(in.Message) }

func (in CreateGroupChat) validate(senderID string, minGroupMembers int) error {
	if strings.TrimSpace(in.Name) == "" {
		return validationError("Group Name is required")
	}
	if n := len(in.effectiveMembers(senderID)); n < minGroupMembers {
		return validationError("At least %d members should be there in a group", minGroupMembers)
	}
	return nil
}

// effectiveMembers is the requested members plus the creator, deduplicated,
// creator first.
func (in CreateGroupChat) effectiveMembers(creatorID string) []string {
	seen := map[string]struct{}{creatorID: {}}
	out := []string{creatorID}
	for _, id := range in.Members {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (in GroupMessage) validate(string, int) error {
	if err := requireBody(in.Message); err != nil {
		return err
	}
	if strings.TrimSpace(in.ChatID) == "" {
		return validationError("Chat Id is required")
	}
	return nil
}

func (in SendMessage) dispatch(ctx context.Context, h inboundHandler, c *Client) error {
	return h.handleSendMessage(ctx, c, in)
}

func (in ReadMessages) dispatch(ctx context.Context, h inboundHandler, c *Client) error {
	return h.handleReadMessages(ctx, c, in)
}

func (in RandomChatInit) dispatch(ctx context.Context, h inboundHandler, c *Client) error {
	return h.handleRandomChatInit(ctx, c, in)
}

func (in RandomChat) dispatch(ctx context.Context, h inboundHandler, c *Client) error {
	return h.handleRandomChat(ctx, c, in)
}

func (in CreateGroupChat) dispatch(ctx context.Context, h inboundHandler, c *Client) error {
	return h.handleCreateGroupChat(ctx, c, in)
}

func (in GroupMessage) dispatch(ctx context.Context, h inboundHandler, c *Client) error {
	return h.handleGroupMessage(ctx, c, in)
}

// Outbound is an envelope the server pushes to a session. Only types in
// this package embed header, so the set is closed.
type Outbound interface {
	Kind() string
}

type header struct {
	Type string `json:"type"`
}

func (h header) Kind() string { return h.Type }

type Welcome struct {
	header
	Message string `json:"message"`
}

func newWelcome(u *model.User) Welcome {
	return Welcome{header{TypeWelcome}, "Welcome " + u.Username}
}

type PendingRequests struct {
	header
	Data []model.FriendRequest `json:"data"`
}

func newPendingRequests(reqs []model.FriendRequest) PendingRequests {
	return PendingRequests{header{TypePendingRequests}, reqs}
}

type UnreadCount struct {
	header
	Data []DigestEntry `json:"data"`
}

func newUnreadCount(entries []DigestEntry) UnreadCount {
	if entries == nil {
		entries = []DigestEntry{}
	}
	return UnreadCount{header{TypeUnreadCount}, entries}
}

type ErrorEnvelope struct {
	header
	Message string `json:"message"`
}

func newErrorEnvelope(msg string) ErrorEnvelope {
	return ErrorEnvelope{header{TypeError}, msg}
}

type RandomChatWaiting struct {
	header
	Message string `json:"message"`
}

func newRandomChatWaiting() RandomChatWaiting {
	return RandomChatWaiting{header{TypeRandomChatWaiting}, "Waiting for another user..."}
}

type RandomChatConnected struct {
	header
	Message         string `json:"message"`
	PartnerUsername string `json:"partnerUsername"`
}

func newRandomChatConnected(partner string) RandomChatConnected {
	return RandomChatConnected{header{TypeRandomChatConnected}, "You are now connected to a random user!", partner}
}

type RandomChatMessage struct {
	header
	From    string `json:"from"`
	Message string `json:"message"`
}

func newRandomChatMessage(from, msg string) RandomChatMessage {
	return RandomChatMessage{header{TypeRandomChatMessage}, from, msg}
}

type RandomChatDisconnected struct {
	header
	Message string `json:"message"`
}

func newRandomChatDisconnected() RandomChatDisconnected {
	return RandomChatDisconnected{header{TypeRandomChatDisconnected}, "Your chat partner has disconnected."}
}

type MessagesReadData struct {
	By       string `json:"by"`
	ChatWith string `json:"chatWith"`
}

// MessagesRead tells a sender that By has caught up on their messages.
type MessagesRead struct {
	header
	Data MessagesReadData `json:"data"`
}

func newMessagesRead(by, chatWith string) MessagesRead {
	return MessagesRead{header{TypeMessagesRead}, MessagesReadData{by, chatWith}}
}

type Notification struct {
	header
	Message string `json:"message"`
	ChatID  string `json:"chatId,omitempty"`
}

func newGroupNotification(groupName, creator, chatID string) Notification {
	return Notification{
		header{TypeNotification},
		`You are added to a new group "` + groupName + `" by ` + creator,
		chatID,
	}
}

// ChatView is the client representation of a chat.
type ChatView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	IsGroupChat bool      `json:"isGroupChat"`
	Admin       string    `json:"admin,omitempty"`
	Members     []string  `json:"members"`
	CreatedAt   time.Time `json:"createdAt"`
}

func newChatView(c *model.Chat) ChatView {
	v := ChatView{
		ID:          c.ID,
		Name:        c.Name,
		IsGroupChat: c.IsGroupChat,
		Members:     c.MemberIDs(),
		CreatedAt:   c.CreatedAt,
	}
	if c.AdminID != nil {
		v.Admin = *c.AdminID
	}
	return v
}

type NewGroupCreated struct {
	header
	Message string   `json:"message"`
	Data    ChatView `json:"data"`
}

func newNewGroupCreated(c *model.Chat) NewGroupCreated {
	return NewGroupCreated{header{TypeNewGroupCreated}, "New group " + c.Name + " created successfully", newChatView(c)}
}

// MessageView is the client representation of a stored message.
type MessageView struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	From      string    `json:"from"`
	To        string    `json:"to,omitempty"`
	Message   string    `json:"message"`
	ReadBy    []string  `json:"readBy"`
	CreatedAt time.Time `json:"createdAt"`
}

func newMessageView(m *model.Message) MessageView {
	v := MessageView{
		ID:        m.ID,
		ChatID:    m.ChatID,
		From:      m.FromID,
		Message:   m.Body,
		ReadBy:    m.ReaderIDs(),
		CreatedAt: m.CreatedAt,
	}
	if m.ToID != nil {
		v.To = *m.ToID
	}
	return v
}

type GroupMessageSent struct {
	header
	Data MessageView `json:"data"`
}

func newGroupMessageSent(m *model.Message) GroupMessageSent {
	return GroupMessageSent{header{TypeGroupMessageSent}, newMessageView(m)}
}

type GroupMessageData struct {
	ChatID    string    `json:"chatId"`
	Message   string    `json:"message"`
	From      string    `json:"from"`
	CreatedAt time.Time `json:"createdAt"`
}

// GroupMessagePush is the fan-out copy of a group message.
type GroupMessagePush struct {
	header
	Data GroupMessageData `json:"data"`
}

func newGroupMessagePush(m *model.Message) GroupMessagePush {
	return GroupMessagePush{header{TypeGroupMessage}, GroupMessageData{m.ChatID, m.Body, m.FromID, m.CreatedAt}}
}

// DirectMessage is the live push of a direct message; From is the sender's
// username.
type DirectMessage struct {
	header
	From    string `json:"from"`
	FromID  string `json:"fromId"`
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
}

func newDirectMessage(sender *model.User, m *model.Message) DirectMessage {
	return DirectMessage{header{TypeDirectMessage}, sender.Username, sender.ID, m.ChatID, m.Body}
}

type FriendRequestNotice struct {
	header
	From      string `json:"from"`
	Username  string `json:"username"`
	RequestID string `json:"requestId"`
}

func newFriendRequestNotice(from *model.User, req *model.FriendRequest) FriendRequestNotice {
	return FriendRequestNotice{header{TypeFriendRequest}, from.ID, from.Username, req.ID}
}

type FriendRequestAccepted struct {
	header
	By        string `json:"by"`
	Username  string `json:"username"`
	RequestID string `json:"requestId"`
}

func newFriendRequestAccepted(by *model.User, req *model.FriendRequest) FriendRequestAccepted {
	return FriendRequestAccepted{header{TypeFriendRequestAccepted}, by.ID, by.Username, req.ID}
}

func encode(env Outbound) ([]byte, error) {
	return json.Marshal(env)
}
