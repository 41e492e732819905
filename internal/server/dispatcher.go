package server

import (
	"context"

	"go.uber.org/zap"
)

// handleFrame decodes, validates and routes one inbound frame. Every failure
// is reported to c as a single ERROR envelope; the session stays open.
func (s *Server) handleFrame(ctx context.Context, c *Client, raw []byte) {
	in, err := DecodeInbound(raw)
	if err == nil {
		err = in.validate(c.UserID(), s.cfg.MinGroupMembers)
	}
	if err == nil {
		err = in.dispatch(ctx, s, c)
	}
	if err != nil {
		s.reportError(c, err)
	}
}

func (s *Server) reportError(c *Client, err error) {
	e := asError(err)
	fields := []zap.Field{
		zap.String("user_id", c.UserID()),
		zap.Stringer("kind", e.Kind),
		zap.String("message", e.Message),
	}
	if e.Err != nil {
		fields = append(fields, zap.Error(e.Err))
	}
	if e.Kind == KindPersistence {
		s.log.Error("frame handling failed", fields...)
	} else {
		s.log.Debug("frame rejected", fields...)
	}
	s.hub.Send(c, newErrorEnvelope(e.Message))
}
