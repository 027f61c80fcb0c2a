// Package connection implements the stream connection manager.
//
// The Manager:
//   - Owns exactly one live transport at a time, created through a TransportFactory
//   - Tracks the connecting/open/closed lifecycle with an orthogonal error flag
//   - Reconnects after unintended closes at a fixed interval, up to a ceiling
//   - Decodes inbound frames and republishes them on its eventbus.Bus
//   - Reports parse and transport failures through an injected Reporter
//
// The default transport is a gorilla/websocket client with a ping/pong
// heartbeat and stale connection detection.
package connection
