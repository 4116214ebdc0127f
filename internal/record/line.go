package record

import (
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/wsdump/internal/errors"
)

// Header is the first line of every log file.
type Header struct {
	FileVersion     int
	OpenedAt        time.Time // zero when the head line carries no open time
	ProtocolName    string
	ProtocolVersion int
	ProtocolHead    string // "<name>,<version>,<data>"
}

// HeadData returns the protocol-specific part of the head, e.g. the stream URL.
func (h Header) HeadData() string {
	_, _, data, err := SplitProtocolHead(h.ProtocolHead)
	if err != nil {
		return ""
	}
	return data
}

// NewHeader builds a version 0 header from a protocol head string.
func NewHeader(protocolHead string, openedAt time.Time) (Header, error) {
	name, version, _, err := SplitProtocolHead(protocolHead)
	if err != nil {
		return Header{}, err
	}
	return Header{
		FileVersion:     FileVersion,
		OpenedAt:        Stamp(openedAt),
		ProtocolName:    name,
		ProtocolVersion: version,
		ProtocolHead:    protocolHead,
	}, nil
}

// EncodeHeader renders the head line without its terminating newline.
func EncodeHeader(h Header) string {
	return fmt.Sprintf("%s,%d,%s,%s", Opened.Tag(), h.FileVersion, FormatTime(h.OpenedAt), sanitize(h.ProtocolHead))
}

// ParseHeader parses a head line. Both "head,<fv>,<opened>,<name>,<ver>,<data>"
// and the shorter "head,<fv>,<name>,<ver>,<data>" are accepted.
func ParseHeader(line string) (Header, error) {
	tag, rest, ok := strings.Cut(line, ",")
	if !ok || tag != Opened.Tag() {
		return Header{}, errors.NewInvalidFormat("log file does not start with a head line", nil)
	}
	fvStr, rest, _ := strings.Cut(rest, ",")
	fv, err := parseDecimal(fvStr)
	if err != nil {
		return Header{}, errors.NewInvalidFormat(fmt.Sprintf("invalid file version %q", fvStr), nil)
	}
	if fv != FileVersion {
		return Header{}, errors.NewUnknownFileVersion(fv)
	}

	h := Header{FileVersion: fv}
	if first, after, found := strings.Cut(rest, ","); found {
		if t, err := ParseTime(first); err == nil {
			h.OpenedAt = t
			rest = after
		}
	}

	name, version, _, err := SplitProtocolHead(rest)
	if err != nil {
		return Header{}, err
	}
	h.ProtocolName = name
	h.ProtocolVersion = version
	h.ProtocolHead = rest
	return h, nil
}

// Line is one parsed record line after the header.
type Line struct {
	Kind    Kind
	Time    time.Time
	Payload string
}

// EncodeEvent renders a non-head event as a line without its terminating newline.
func EncodeEvent(ev StreamEvent) string {
	payload := ev.Payload
	if ev.Kind == Closed && !ev.HasPayload {
		payload = EOSPlaceholder
	}
	return EncodeLine(ev.Kind, ev.Time, payload)
}

// EncodeLine renders "<tag>,<timestamp>,<payload>".
func EncodeLine(kind Kind, t time.Time, payload string) string {
	return kind.Tag() + "," + FormatTime(t) + "," + sanitize(payload)
}

// ParseLine parses "<tag>,<timestamp>,<payload>". The payload may contain commas.
func ParseLine(line string) (Line, error) {
	tag, rest, ok := strings.Cut(line, ",")
	if !ok {
		return Line{}, errors.NewInvalidFormat(fmt.Sprintf("malformed line %q", abbreviate(line)), nil)
	}
	kind, known := KindFromTag(tag)
	if !known {
		return Line{}, errors.NewInvalidFormat(fmt.Sprintf("unknown line tag %q", tag), nil)
	}
	if kind == Opened {
		return Line{}, errors.NewInvalidFormat("head line after the start of the file", nil)
	}
	ts, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Line{}, errors.NewInvalidFormat(fmt.Sprintf("line has no payload field: %q", abbreviate(line)), nil)
	}
	t, err := ParseTime(ts)
	if err != nil {
		return Line{}, err
	}
	return Line{Kind: kind, Time: t, Payload: payload}, nil
}

var newlineReplacer = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// sanitize keeps one record on one line.
func sanitize(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return newlineReplacer.Replace(s)
}

func abbreviate(s string) string {
	const max = 80
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
