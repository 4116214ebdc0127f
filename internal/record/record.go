// Package record defines the stream events produced by capture and the
// line-oriented encoding they take inside a log file.
package record

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hpungsan/wsdump/internal/errors"
)

// FileVersion is the log file format this package reads and writes.
const FileVersion = 0

// Protocol identity written by the websocket capture client.
const (
	ProtocolWebsocket        = "websocket"
	ProtocolWebsocketVersion = 0
)

// EOSPlaceholder is written in place of an absent eos payload.
const EOSPlaceholder = "None"

const (
	timeLayout      = "2006-01-02 15:04:05.000000"
	timeParseLayout = "2006-01-02 15:04:05" // also accepts a fractional second
)

// Kind classifies a stream event.
type Kind int

const (
	Opened Kind = iota
	Received
	Emitted
	Errored
	Closed
)

var kindTags = [...]string{
	Opened:   "head",
	Received: "msg",
	Emitted:  "emit",
	Errored:  "error",
	Closed:   "eos",
}

// Tag returns the line tag for the kind.
func (k Kind) Tag() string {
	if k < Opened || k > Closed {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindTags[k]
}

func (k Kind) String() string {
	return k.Tag()
}

// KindFromTag maps a line tag back to its kind.
func KindFromTag(tag string) (Kind, bool) {
	for k, t := range kindTags {
		if t == tag {
			return Kind(k), true
		}
	}
	return 0, false
}

// StreamEvent is one observation from a live connection.
type StreamEvent struct {
	Kind       Kind
	Payload    string
	HasPayload bool
	Time       time.Time
}

// NewEvent builds an event stamped at t, normalised to UTC microseconds.
func NewEvent(kind Kind, payload string, t time.Time) StreamEvent {
	return StreamEvent{
		Kind:       kind,
		Payload:    payload,
		HasPayload: true,
		Time:       Stamp(t),
	}
}

// Stamp normalises t to the precision stored in log files.
func Stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// FormatTime renders t as YYYY-MM-DD HH:MM:SS.ffffff in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a log timestamp with or without the fractional part.
func ParseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(timeParseLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, errors.NewInvalidFormat(fmt.Sprintf("invalid timestamp %q", s), err)
	}
	return t, nil
}

// ProtocolHead joins a protocol identity and its data, e.g. "websocket,0,wss://host/path".
func ProtocolHead(name string, version int, data string) string {
	return name + "," + strconv.Itoa(version) + "," + data
}

// SplitProtocolHead is the inverse of ProtocolHead. data may be empty and may contain commas.
func SplitProtocolHead(head string) (name string, version int, data string, err error) {
	name, rest, ok := strings.Cut(head, ",")
	if !ok || name == "" {
		return "", 0, "", errors.NewInvalidFormat(fmt.Sprintf("invalid protocol head %q", head), nil)
	}
	verStr, data, _ := strings.Cut(rest, ",")
	version, err = parseDecimal(verStr)
	if err != nil {
		return "", 0, "", errors.NewInvalidFormat(fmt.Sprintf("invalid protocol version %q", verStr), nil)
	}
	return name, version, data, nil
}

// parseDecimal accepts only unsigned base-10 integers.
func parseDecimal(s string) (int, error) {
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.Atoi(s)
}
