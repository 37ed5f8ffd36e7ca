// Package ws implements the WebSocket hub for aeroledger-server.
//
// Hub manages a set of connected clients and pushes two kinds of message:
// every audit event appended to the ledger (the hub is an audit subscriber),
// and a device overview on a configurable interval (default 5s).
//
// New(snapshot, interval) creates a Hub.
// Hub.Run(ctx) starts the broadcast ticker and blocks until ctx is cancelled,
// then closes all active connections.
// Hub.Publish(event) queues an audit event for every client.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket, sends the device
// overview immediately on connect, then streams updates.
//
// Message format sent to clients:
//
//	{"event": "devices", "data": { /* same schema as GET /api/v1/dashboard/devices */ }}
//	{"event": "audit",   "data": { /* one audit event */ }}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. WebSocket endpoint is mounted at /ws/stream by the server.
package ws
