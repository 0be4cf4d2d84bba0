// Package udp provides the orchd.sensors.UDPListener probe.
//
// The listener binds a UDP socket when it is configured and reads packets
// in a background goroutine into a bounded ring (oldest packets are dropped
// when the sensor samples slower than packets arrive). Each Sense call
// drains the ring and emits one event per packet:
//
//	{
//	  "source":      "10.0.0.7:50123",
//	  "size":        42,
//	  "received_at": "2026-01-02T15:04:05.999999999Z",
//	  "payload":     "<packet text, or decoded JSON when parse_json is set>"
//	}
//
// When nothing has arrived Sense waits up to read_timeout and returns
// without emitting, so a sensor with a zero sampling interval does not spin.
//
// Parameters:
//
//	bind          listen address (default 0.0.0.0:14550; port 0 picks a free port)
//	read_timeout  how long one Sense waits for a packet (default 1s)
//	max_packet    largest packet read, longer packets are truncated (default 65535)
//	buffer_size   packets held between samples (default 1000)
//	max_batch     packets emitted per Sense (default 100)
//	event_name    name of emitted events (default io.orchd.events.udp.Packet)
//	parse_json    decode JSON object payloads (default false)
package udp
