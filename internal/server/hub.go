package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrHubClosed is returned by Register once Shutdown has begun.
var ErrHubClosed = errors.New("hub is shut down")

// Hub owns every piece of live session state: the connection registry
// (one session per user), the random-chat waiting pool and the pairing
// table. A single RWMutex guards all three, so a check and the mutation
// that follows it are never split by another session.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Client
	waiting  *waitingPool
	pairs    map[string]string
	closing  bool

	wg  sync.WaitGroup
	log *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		sessions: make(map[string]*Client),
		waiting:  newWaitingPool(),
		pairs:    make(map[string]string),
		log:      log,
	}
}

// Register installs c as its user's session. A previous session for the same
// user is closed with "session replaced"; c inherits its waiting-pool entry
// or pairing, both of which are keyed by user.
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closing {
		return ErrHubClosed
	}
	if prev, ok := h.sessions[c.UserID()]; ok && prev != c {
		prev.closeLocked(websocket.CloseNormalClosure, "session replaced")
		h.log.Info("session replaced", zap.String("user_id", c.UserID()), zap.String("previous", prev.addr))
	}
	h.sessions[c.UserID()] = c
	h.log.Info("session registered",
		zap.String("user_id", c.UserID()),
		zap.String("remote", c.addr),
		zap.Int("sessions", len(h.sessions)))
	return nil
}

// Start launches c's pumps. The hub waits for them on Shutdown.
func (h *Hub) Start(ctx context.Context, c *Client, handle func(context.Context, *Client, []byte), onClose func(*Client)) {
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump(ctx, handle, onClose)
	}()
}

// Lookup returns the live session of userID, or nil.
func (h *Hub) Lookup(userID string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[userID]
}

func (h *Hub) Online(userID string) bool {
	return h.Lookup(userID) != nil
}

// Count returns the number of live sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Deliver pushes env to userID's live session without blocking. It reports
// false, and nothing else happens, when the user is offline or their queue
// is full.
func (h *Hub) Deliver(userID string, env Outbound) bool {
	payload, ok := h.encode(env)
	if !ok {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.sessions[userID]
	if !ok {
		return false
	}
	return c.enqueue(payload)
}

// DeliverAll pushes env to each listed user that is online and returns how
// many sessions accepted it.
func (h *Hub) DeliverAll(userIDs []string, env Outbound) int {
	payload, ok := h.encode(env)
	if !ok {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, id := range userIDs {
		if c, ok := h.sessions[id]; ok && c.enqueue(payload) {
			n++
		}
	}
	return n
}

// Send pushes env to the given session, registered or not, unless it has
// been closed. Replies to the acting session go through Send so they reach
// the socket the request came from.
func (h *Hub) Send(c *Client, env Outbound) bool {
	payload, ok := h.encode(env)
	if !ok {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.enqueue(payload)
}

func (h *Hub) encode(env Outbound) ([]byte, bool) {
	payload, err := encode(env)
	if err != nil {
		h.log.Error("failed to encode envelope", zap.String("type", env.Kind()), zap.Error(err))
		return nil, false
	}
	return payload, true
}

// JoinRandom moves c's user from idle into the waiting pool, or pairs them
// with a uniformly chosen waiting user. Both sides of a new pairing are
// notified before the lock is released, so a concurrent disconnect can
// only be observed after the pairing.
func (h *Hub) JoinRandom(c *Client) (paired bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	uid := c.UserID()
	if h.sessions[uid] != c {
		return false, errPartnerGone
	}
	if _, ok := h.pairs[uid]; ok {
		return false, errAlreadyPair
	}

	if h.waiting.Contains(uid) || h.waiting.Len() == 0 {
		h.waiting.Add(uid)
		h.sendLocked(c, newRandomChatWaiting())
		return false, nil
	}

	partnerID, _ := h.waiting.PickRandom()
	partner := h.sessions[partnerID]
	h.pairs[uid] = partnerID
	h.pairs[partnerID] = uid

	h.sendLocked(c, newRandomChatConnected(partner.Username()))
	h.sendLocked(partner, newRandomChatConnected(c.Username()))
	h.log.Info("random pair formed", zap.String("user_id", uid), zap.String("partner_id", partnerID))
	return true, nil
}

// RelayRandom forwards text to c's random-chat partner.
func (h *Hub) RelayRandom(c *Client, text string) error {
	env := newRandomChatMessage(c.Username(), text)

	h.mu.RLock()
	defer h.mu.RUnlock()

	partnerID, ok := h.pairs[c.UserID()]
	if !ok {
		return errNotPaired
	}
	partner, ok := h.sessions[partnerID]
	if !ok || partner.closed {
		return errPartnerGone
	}
	h.sendLocked(partner, env)
	return nil
}

// sendLocked is Send for callers already holding the lock.
func (h *Hub) sendLocked(c *Client, env Outbound) bool {
	if c == nil {
		return false
	}
	payload, ok := h.encode(env)
	if !ok {
		return false
	}
	return c.enqueue(payload)
}

// Detach closes c's queue and, when c is still its user's registered
// session, removes the user from the registry, the waiting pool and any
// pairing, telling a connected partner. It reports whether c was the
// registered session. A superseded session leaves the state alone because
// its replacement owns it now.
func (h *Hub) Detach(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.closeLocked(websocket.CloseNormalClosure, "")

	uid := c.UserID()
	if h.sessions[uid] != c {
		return false
	}
	delete(h.sessions, uid)

	if h.waiting.Remove(uid) {
		h.log.Info("removed from waiting pool", zap.String("user_id", uid))
	}
	if partnerID, ok := h.pairs[uid]; ok {
		delete(h.pairs, uid)
		delete(h.pairs, partnerID)
		h.sendLocked(h.sessions[partnerID], newRandomChatDisconnected())
		h.log.Info("random pair dissolved", zap.String("user_id", uid), zap.String("partner_id", partnerID))
	}

	h.log.Info("session unregistered",
		zap.String("user_id", uid),
		zap.String("remote", c.addr),
		zap.Int("sessions", len(h.sessions)))
	return true
}

// IsWaiting reports whether userID is in the waiting pool.
func (h *Hub) IsWaiting(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.waiting.Contains(userID)
}

// PartnerOf returns userID's random-chat partner.
func (h *Hub) PartnerOf(userID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.pairs[userID]
	return p, ok
}

// WaitingCount returns the size of the waiting pool.
func (h *Hub) WaitingCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.waiting.Len()
}

// Shutdown closes every session and waits for their pumps to exit, or for
// timeout to pass.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")

	h.mu.Lock()
	h.closing = true
	n := len(h.sessions)
	for _, c := range h.sessions {
		c.closeLocked(websocket.CloseGoingAway, "server shutting down")
	}
	clear(h.sessions)
	clear(h.pairs)
	h.waiting.Clear()
	h.mu.Unlock()

	h.log.Info("closed client sessions", zap.Int("sessions", n))

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached, some pumps may still be running")
		return context.DeadlineExceeded
	}
}
