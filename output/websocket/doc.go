// Package websocket provides the orchd.sinks.WebSocketSink sink.
//
// The sink dials the server when it is configured, so an unreachable
// endpoint fails reaction provisioning. Each payload is written as one
// message: text for JSON, binary for CBOR unless message_type overrides
// it. When the server drops the connection the next payload redials once
// before failing.
//
// Properties: url (ws or wss, required), header.<Name>, write_timeout
// (default 10s), handshake_timeout (default 10s), codec, message_type and
// the tls.* client settings of pkg/tlsutil.
package websocket
