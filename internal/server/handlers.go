package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/hexatalk/internal/auth"
	"github.com/Tyrowin/hexatalk/internal/model"
)

// WebSocketHandler upgrades the request, authenticates it and admits the
// session. Authentication happens after the upgrade so a failure can be
// reported with one ERROR envelope before the close frame.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	user, err := s.authenticate(r)
	if err != nil {
		e := asError(err)
		s.log.Info("rejected websocket session",
			zap.String("remote", r.RemoteAddr),
			zap.String("reason", e.Message),
			zap.NamedError("cause", e.Err))
		s.reject(conn, websocket.ClosePolicyViolation, e.Message)
		return
	}

	client := NewClient(conn, s.hub, user, r.RemoteAddr, s.cfg, s.log)
	if err := s.hub.Register(client); err != nil {
		s.reject(conn, websocket.CloseGoingAway, "server shutting down")
		return
	}

	s.welcome(s.ctx, client)
	s.hub.Start(s.ctx, client, s.handleFrame, s.onClose)
}

func (s *Server) authenticate(r *http.Request) (*model.User, error) {
	user, err := s.auth.Resolve(r.Context(), auth.TokenFromRequest(r))
	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, auth.ErrMissingToken):
		return nil, authError("No authorization header", err)
	case errors.Is(err, auth.ErrRevokedToken):
		return nil, authError("Token has been revoked", err)
	case errors.Is(err, auth.ErrUnknownUser):
		return nil, authError("User not found", err)
	case errors.Is(err, auth.ErrInvalidToken):
		return nil, authError("Invalid token", err)
	default:
		return nil, authError("Authentication failed", err)
	}
}

// reject writes one ERROR envelope and a close frame, then drops conn.
func (s *Server) reject(conn *websocket.Conn, code int, reason string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if payload, err := encode(newErrorEnvelope(reason)); err == nil {
		_ = conn.WriteMessage(websocket.TextMessage, payload)
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	_ = conn.Close()
}

// welcome queues the greeting, then pending friend requests and the unread
// digest when there are any. Lookup failures only cost the optional parts.
func (s *Server) welcome(ctx context.Context, c *Client) {
	s.hub.Send(c, newWelcome(c.user))

	reqs, err := s.store.PendingRequestsFor(ctx, c.UserID())
	if err != nil {
		s.log.Warn("failed to load pending friend requests", zap.String("user_id", c.UserID()), zap.Error(err))
	} else if len(reqs) > 0 {
		s.hub.Send(c, newPendingRequests(reqs))
	}

	digest, err := s.unreadDigest(ctx, c.UserID())
	if err != nil {
		s.log.Warn("failed to compute unread digest", zap.String("user_id", c.UserID()), zap.Error(err))
	} else if len(digest) > 0 {
		s.hub.Send(c, newUnreadCount(digest))
	}
}

// HealthHandler reports liveness and the number of live sessions.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "HexaTalk server is running! sessions=%d", s.hub.Count())
}

// TestPageHandler serves a small HTML client that speaks the envelope
// protocol, for poking at a running server by hand.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		s.log.Debug("error writing test page", zap.Error(err))
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>HexaTalk WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #log { border: 1px solid #ccc; height: 320px; padding: 10px; overflow-y: scroll; margin: 10px 0; background: #f9f9f9; font-family: monospace; }
        input, select { padding: 5px; margin: 2px 6px 2px 0; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>HexaTalk WebSocket Test</h1>
    <div id="status" class="status disconnected">Disconnected</div>
    <div>
        <input type="text" id="token" placeholder="Bearer token" size="60">
        <button onclick="toggle()" id="connect">Connect</button>
    </div>
    <div>
        <select id="type">
            <option>SEND_MESSAGE</option>
            <option>READ_MESSAGES</option>
            <option>RANDOM_CHAT_INIT</option>
            <option>RANDOM_CHAT</option>
            <option>CREATE_GROUP_CHAT</option>
            <option>GROUP_MESSAGE</option>
        </select>
        <input type="text" id="target" placeholder="to / chatId / group name">
        <input type="text" id="members" placeholder="member ids, comma separated">
        <input type="text" id="message" placeholder="message">
        <button onclick="send()">Send</button>
    </div>
    <div id="log"></div>
    <script>
        let ws = null;
        const $ = (id) => document.getElementById(id);

        function log(line) {
            const el = document.createElement('div');
            el.textContent = line;
            $('log').appendChild(el);
            $('log').scrollTop = $('log').scrollHeight;
        }

        function setStatus(connected) {
            $('status').textContent = connected ? 'Connected' : 'Disconnected';
            $('status').className = 'status ' + (connected ? 'connected' : 'disconnected');
            $('connect').textContent = connected ? 'Disconnect' : 'Connect';
        }

        function toggle() {
            if (ws && ws.readyState === WebSocket.OPEN) { ws.close(); return; }
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws?token=' + encodeURIComponent($('token').value.trim()));
            ws.onopen = () => { log('connected'); setStatus(true); };
            ws.onmessage = (e) => log('<- ' + e.data);
            ws.onclose = (e) => { log('closed ' + e.code + ' ' + e.reason); setStatus(false); ws = null; };
        }

        function send() {
            if (!ws || ws.readyState !== WebSocket.OPEN) return;
            const type = $('type').value, target = $('target').value.trim(), text = $('message').value;
            const frame = { type };
            if (type === 'SEND_MESSAGE' || type === 'READ_MESSAGES') frame.to = target;
            if (type === 'GROUP_MESSAGE') frame.chatId = target;
            if (type === 'CREATE_GROUP_CHAT') {
                frame.name = target;
                frame.members = $('members').value.split(',').map((s) => s.trim()).filter(Boolean);
            }
            if (['SEND_MESSAGE', 'RANDOM_CHAT', 'GROUP_MESSAGE'].includes(type)) frame.message = text;
            const raw = JSON.stringify(frame);
            ws.send(raw);
            log('-> ' + raw);
            $('message').value = '';
        }
    </script>
</body>
</html>`
