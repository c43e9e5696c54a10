package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/banshee-data/yawtrack/internal/attitude"
)

// Line types exchanged with the serial bridge. Each line is one JSON object
// with a "type" discriminator and the matching payload field.
const (
	LineHeartbeat       = "heartbeat"
	LineAttitude        = "attitude"
	LineAttitudeTarget  = "attitude_target"
	LineMessageInterval = "message_interval"
	LineAck             = "ack"
	LineHello           = "hello"
)

// Line is the envelope of one bridge message.
type Line struct {
	Type      string              `json:"type"`
	Heartbeat *attitude.Heartbeat `json:"heartbeat,omitempty"`
	Attitude  *attitude.Sample    `json:"attitude,omitempty"`
	Target    *attitude.Target    `json:"target,omitempty"`
	Interval  *IntervalRequest    `json:"interval,omitempty"`
	Ack       *Ack                `json:"ack,omitempty"`
	Hello     *Hello              `json:"hello,omitempty"`
}

// IntervalRequest asks the bridge to emit a message every IntervalUs
// microseconds. A negative interval disables the message.
type IntervalRequest struct {
	Message    string  `json:"message"`
	IntervalUs float64 `json:"interval_us"`
}

// Ack answers an IntervalRequest.
type Ack struct {
	Request  string `json:"request"`
	Accepted bool   `json:"accepted"`
	Detail   string `json:"detail,omitempty"`
}

// Hello is written when the bridge is initialised.
type Hello struct {
	Client  string `json:"client"`
	Version string `json:"version"`
}

// EncodeLine renders l as a single JSON line without the trailing newline.
func EncodeLine(l Line) (string, error) {
	b, err := json.Marshal(l)
	if err != nil {
		return "", fmt.Errorf("encode %s line: %w", l.Type, err)
	}
	return string(b), nil
}

// DecodeLine parses one bridge line and checks that the payload named by
// its type is present.
func DecodeLine(s string) (Line, error) {
	var l Line
	s = strings.TrimSpace(s)
	if s == "" {
		return l, fmt.Errorf("empty line")
	}
	if err := json.Unmarshal([]byte(s), &l); err != nil {
		return l, fmt.Errorf("decode line: %w", err)
	}

	var missing bool
	switch l.Type {
	case LineHeartbeat:
		missing = l.Heartbeat == nil
	case LineAttitude:
		missing = l.Attitude == nil
	case LineAttitudeTarget:
		missing = l.Target == nil
	case LineMessageInterval:
		missing = l.Interval == nil
	case LineAck:
		missing = l.Ack == nil
	case LineHello:
	default:
		return l, fmt.Errorf("unknown line type %q", l.Type)
	}
	if missing {
		return l, fmt.Errorf("%s line without %s payload", l.Type, l.Type)
	}
	return l, nil
}

// splitLines returns the non-empty lines of a datagram payload.
func splitLines(payload []byte) []string {
	var out []string
	for _, raw := range bytes.Split(payload, []byte("\n")) {
		if line := strings.TrimSpace(string(raw)); line != "" {
			out = append(out, line)
		}
	}
	return out
}
