// Package ws implements the WebSocket hub for the pitwall server.
//
// Hub subscribes to the race-state store and pushes every published state to
// all connected clients. A heartbeat re-sends the current state every
// interval so that idle clients stay fresh.
//
// New(store, interval, gauge) creates a Hub.
// Hub.Run(ctx) subscribes and starts the heartbeat; it blocks until ctx is
// cancelled, then closes all active connections.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket and sends the
// current state immediately on connect.
//
// Message format sent to clients:
//
//	{
//	  "event": "state_update",
//	  "data":  { /* same schema as GET /api/v1/snapshot */ }
//	}
//
// A client may send {"type":"ping"}; the hub answers {"event":"pong"}.
// A client whose outgoing buffer fills up is disconnected.
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. The endpoint is mounted at /ws by the server.
package ws
