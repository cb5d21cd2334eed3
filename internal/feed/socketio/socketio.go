// Package socketio implements the minimal Engine.IO/Socket.IO v2/3 wire
// framing the upstream feed speaks (§6): a single-character packet-type
// prefix optionally followed by a numeric Socket.IO sub-type and a JSON
// array payload `["eventName", data...]`.
//
// There is no maintained Socket.IO client library in this module's
// dependency pack; the framing is hand-rolled in the same spirit as the
// teacher's internal/itch binary/JSON codecs — a small, explicit decoder
// over a fixed wire format, not a generic parser.
package socketio

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// EnginePacketType is the single leading digit of an Engine.IO frame.
type EnginePacketType byte

const (
	EngineOpen    EnginePacketType = '0'
	EngineClose   EnginePacketType = '1'
	EnginePing    EnginePacketType = '2'
	EnginePong    EnginePacketType = '3'
	EngineMessage EnginePacketType = '4'
)

// SocketPacketType is the Socket.IO sub-type carried inside an Engine.IO
// MESSAGE frame (the second digit, e.g. the "2" in "42").
type SocketPacketType byte

const (
	SocketConnect    SocketPacketType = '0'
	SocketDisconnect SocketPacketType = '1'
	SocketEvent      SocketPacketType = '2'
	SocketAck        SocketPacketType = '3'
	SocketError      SocketPacketType = '4'
)

// Frame is a decoded Engine.IO/Socket.IO packet.
type Frame struct {
	Engine EnginePacketType
	Socket SocketPacketType // only meaningful when Engine == EngineMessage
	Event  string           // only set for SocketEvent frames
	Data   json.RawMessage  // the event's argument array, or the raw body otherwise
}

// Decode parses a single raw text frame as received over the WebSocket
// transport. It never returns an error for unrecognized event bodies —
// those are preserved verbatim in Data so the caller can persist them as
// an unknown event — but it does report malformed framing (empty frame,
// non-JSON array body for an EVENT packet).
func Decode(raw string) (Frame, error) {
	if len(raw) == 0 {
		return Frame{}, fmt.Errorf("socketio: empty frame")
	}

	f := Frame{Engine: EnginePacketType(raw[0])}
	if f.Engine != EngineMessage {
		f.Data = json.RawMessage(raw[1:])
		return f, nil
	}

	body := raw[1:]
	if len(body) == 0 {
		return Frame{}, fmt.Errorf("socketio: empty message body")
	}
	f.Socket = SocketPacketType(body[0])
	rest := body[1:]

	// Socket.IO namespaces and ack ids are optional numeric/string
	// prefixes before the JSON payload; skip over anything that isn't
	// the start of a JSON array.
	if idx := strings.Index(rest, ","); idx >= 0 && strings.HasPrefix(rest, "/") {
		rest = rest[idx+1:]
	}
	rest = strings.TrimLeft(rest, "0123456789")

	if f.Socket != SocketEvent && f.Socket != SocketAck {
		f.Data = json.RawMessage(rest)
		return f, nil
	}

	var args []json.RawMessage
	if err := json.Unmarshal([]byte(rest), &args); err != nil {
		return Frame{}, fmt.Errorf("socketio: decode event array: %w", err)
	}
	if len(args) == 0 {
		return Frame{}, fmt.Errorf("socketio: empty event array")
	}

	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return Frame{}, fmt.Errorf("socketio: decode event name: %w", err)
	}
	f.Event = name

	if len(args) == 2 {
		f.Data = args[1]
	} else if len(args) > 2 {
		combined, _ := json.Marshal(args[1:])
		f.Data = combined
	}
	return f, nil
}

// EncodeEvent builds the Engine.IO MESSAGE / Socket.IO EVENT wire frame
// for emitting `event` with a single JSON-encodable argument.
func EncodeEvent(event string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("socketio: encode payload: %w", err)
	}
	nameJSON, _ := json.Marshal(event)
	return string(EngineMessage) + string(SocketEvent) + "[" + string(nameJSON) + "," + string(raw) + "]", nil
}

// EncodePing/EncodePong build bare Engine.IO heartbeat frames.
func EncodePing() string { return string(EnginePing) }
func EncodePong() string { return string(EnginePong) }

// ParseOpenPayload extracts the ping interval/timeout (ms) from an
// Engine.IO OPEN handshake payload. The Feed Ingestor does not call it
// and runs no heartbeat loop of its own.
func ParseOpenPayload(data json.RawMessage) (pingIntervalMs, pingTimeoutMs int, err error) {
	var v struct {
		PingInterval int `json:"pingInterval"`
		PingTimeout  int `json:"pingTimeout"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, 0, fmt.Errorf("socketio: decode open payload: %w", err)
	}
	return v.PingInterval, v.PingTimeout, nil
}

// FormatSeq renders a numeric ack id in the form that precedes the JSON
// body of a Socket.IO packet. No package in this module calls it.
func FormatSeq(n uint64) string {
	return strconv.FormatUint(n, 10)
}
