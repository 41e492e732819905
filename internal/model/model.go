// Package model defines the persistent records behind HexaTalk: users and
// their friend graph, friend requests, chats, messages and read receipts.
package model

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NewID returns a time-ordered (v7) identifier. Ordering by id is ordering by
// creation, which the history cursor relies on.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ValidID reports whether s is a well-formed identifier.
func ValidID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// User is a registered account. Credentials live with the identity service.
type User struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Username  string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	Fullname  string    `gorm:"type:varchar(128)" json:"fullname"`
	Email     string    `gorm:"type:varchar(255);index" json:"email"`
	AvatarURL string    `gorm:"type:varchar(512)" json:"avatarUrl"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = NewID()
	}
	return nil
}

// Friendship is one direction of a friend edge; accepted requests store both.
type Friendship struct {
	UserID    string `gorm:"type:varchar(36);primaryKey"`
	FriendID  string `gorm:"type:varchar(36);primaryKey"`
	CreatedAt time.Time
}

// FriendRequestStatus is the lifecycle of a FriendRequest.
type FriendRequestStatus string

const (
	FriendRequestPending  FriendRequestStatus = "PENDING"
	FriendRequestAccepted FriendRequestStatus = "ACCEPTED"
	FriendRequestRejected FriendRequestStatus = "REJECTED"
)

type FriendRequest struct {
	ID        string              `gorm:"type:varchar(36);primaryKey" json:"id"`
	FromID    string              `gorm:"type:varchar(36);index;not null" json:"from"`
	ToID      string              `gorm:"type:varchar(36);index;not null" json:"to"`
	Status    FriendRequestStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

func (r *FriendRequest) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	return nil
}

// Chat is either a direct conversation between exactly two users or a named
// group with an admin.
//
// PairKey is unique across all chats: "direct:<lo>:<hi>" for direct chats,
// which makes a second direct chat for the same pair impossible, and
// "group:<id>" for groups.
type Chat struct {
	ID            string       `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name          string       `gorm:"type:varchar(128);index" json:"name,omitempty"`
	IsGroupChat   bool         `gorm:"not null;default:false" json:"isGroupChat"`
	PairKey       string       `gorm:"type:varchar(96);uniqueIndex;not null" json:"-"`
	AdminID       *string      `gorm:"type:varchar(36);index" json:"admin,omitempty"`
	LastMessageID *string      `gorm:"type:varchar(36)" json:"lastMessage,omitempty"`
	Members       []ChatMember `gorm:"foreignKey:ChatID" json:"-"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

func (c *Chat) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	if c.PairKey == "" {
		c.PairKey = "group:" + c.ID
	}
	return nil
}

// MemberIDs lists the loaded members.
func (c *Chat) MemberIDs() []string {
	ids := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// DirectPairKey is the order-independent key of a direct chat.
func DirectPairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return "direct:" + pair[0] + ":" + pair[1]
}

type ChatMember struct {
	ChatID    string `gorm:"type:varchar(36);primaryKey"`
	UserID    string `gorm:"type:varchar(36);primaryKey;index"`
	CreatedAt time.Time
}

// Message belongs to exactly one chat. ToID is only set for direct messages.
type Message struct {
	ID        string        `gorm:"type:varchar(36);primaryKey"`
	ChatID    string        `gorm:"type:varchar(36);index;not null"`
	FromID    string        `gorm:"type:varchar(36);index;not null"`
	ToID      *string       `gorm:"type:varchar(36);index"`
	Body      string        `gorm:"type:text;not null"`
	ReadBy    []MessageRead `gorm:"foreignKey:MessageID"`
	CreatedAt time.Time     `gorm:"index"`
	UpdatedAt time.Time
}

func (m *Message) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	return nil
}

// ReaderIDs lists the loaded readers.
func (m *Message) ReaderIDs() []string {
	ids := make([]string, 0, len(m.ReadBy))
	for _, r := range m.ReadBy {
		ids = append(ids, r.UserID)
	}
	return ids
}

// MessageRead records that UserID has read MessageID.
type MessageRead struct {
	MessageID string `gorm:"type:varchar(36);primaryKey"`
	UserID    string `gorm:"type:varchar(36);primaryKey;index"`
	CreatedAt time.Time
}

// RevokedToken is a bearer token that must no longer be accepted.
type RevokedToken struct {
	Token     string    `gorm:"type:varchar(512);primaryKey"`
	ExpiresAt time.Time `gorm:"index;not null"`
}

// All lists every model for migration.
func All() []any {
	return []any{
		&User{},
		&Friendship{},
		&FriendRequest{},
		&Chat{},
		&ChatMember{},
		&Message{},
		&MessageRead{},
		&RevokedToken{},
	}
}
