package server

import "net/http"

// Routes builds the ServeMux for every endpoint.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.HealthHandler)
	mux.HandleFunc("GET /health", s.HealthHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.HandleFunc("GET /test", s.TestPageHandler)

	mux.HandleFunc("GET /api/v1/messages/{friendId}", s.requireUser(s.historyHandler))
	mux.HandleFunc("GET /api/v1/friends/requests", s.requireUser(s.listFriendRequestsHandler))
	mux.HandleFunc("POST /api/v1/friends/requests", s.requireUser(s.sendFriendRequestHandler))
	mux.HandleFunc("POST /api/v1/friends/requests/{id}/accept", s.requireUser(s.respondFriendRequestHandler(true)))
	mux.HandleFunc("POST /api/v1/friends/requests/{id}/reject", s.requireUser(s.respondFriendRequestHandler(false)))
	return mux
}
