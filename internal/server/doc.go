// Package server is the live-delivery core of HexaTalk.
//
// A Hub owns all session state: one websocket session per user, the
// random-chat waiting pool and the pairing table. Each session runs a read
// pump that handles its frames strictly in order and a write pump that
// drains its outbound queue. Inbound frames decode into a closed set of
// variants (see Inbound) that the Server routes to the direct-message,
// read-receipt, random-pairing and group handlers. Persistence and identity
// are consumed through the Store and Authenticator interfaces.
//
// Besides the /ws endpoint the package serves the paginated history API, the
// friend-request API that drives FRIEND_REQUEST pushes, a health check and a
// manual test page.
package server
