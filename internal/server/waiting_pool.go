package server

import "math/rand/v2"

// waitingPool holds the users asking for a random partner. Members live in a
// slice so a uniformly random one can be picked and removed in O(1) by
// swapping it with the last element; index maps a user to its slot.
//
// Selection is uniform at random, not first come first served. The pool is
// not safe for concurrent use; Hub guards it with its mutex.
type waitingPool struct {
	users []string
	index map[string]int
	pick  func(n int) int
}

func newWaitingPool() *waitingPool {
	return &waitingPool{
		index: make(map[string]int),
		pick:  rand.IntN,
	}
}

func (p *waitingPool) Len() int { return len(p.users) }

func (p *waitingPool) Contains(userID string) bool {
	_, ok := p.index[userID]
	return ok
}

// Add inserts userID; adding a present user is a no-op.
func (p *waitingPool) Add(userID string) {
	if p.Contains(userID) {
		return
	}
	p.index[userID] = len(p.users)
	p.users = append(p.users, userID)
}

// Remove deletes userID and reports whether it was present.
func (p *waitingPool) Remove(userID string) bool {
	i, ok := p.index[userID]
	if !ok {
		return false
	}
	p.removeAt(i)
	return true
}

// PickRandom removes and returns a uniformly chosen member.
func (p *waitingPool) PickRandom() (string, bool) {
	if len(p.users) == 0 {
		return "", false
	}
	i := p.pick(len(p.users))
	userID := p.users[i]
	p.removeAt(i)
	return userID, true
}

func (p *waitingPool) Clear() {
	p.users = nil
	clear(p.index)
}

func (p *waitingPool) removeAt(i int) {
	last := len(p.users) - 1
	removed := p.users[i]
	if i != last {
		moved := p.users[last]
		p.users[i] = moved
		p.index[moved] = i
	}
	p.users[last] = ""
	p.users = p.users[:last]
	delete(p.index, removed)
}
