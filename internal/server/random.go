package server

import "context"

// handleRandomChatInit puts the caller in the waiting pool or pairs them.
// All notifications are sent by the hub while it holds its lock.
func (s *Server) handleRandomChatInit(_ context.Context, c *Client, _ RandomChatInit) error {
	_, err := s.hub.JoinRandom(c)
	return err
}

// handleRandomChat relays text to the caller's partner. Nothing is stored.
func (s *Server) handleRandomChat(_ context.Context, c *Client, in RandomChat) error {
	return s.hub.RelayRandom(c, in.Message)
}
