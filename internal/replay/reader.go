// Package replay reads capture files back and drives their decoders.
package replay

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hpungsan/wsdump/internal/errors"
	"github.com/hpungsan/wsdump/internal/logfile"
	"github.com/hpungsan/wsdump/internal/record"
	"github.com/hpungsan/wsdump/internal/registry"
	"github.com/hpungsan/wsdump/internal/sink"
)

// Reader walks one capture file, handing each record to the decoder chosen
// by the file's header.
//
// The pointed time starts at the header's open time and never moves
// backwards: a record stamped earlier than its predecessor is dispatched at
// the predecessor's time.
type Reader struct {
	sc      *logfile.Scanner
	out     sink.Sink
	logger  zerolog.Logger
	header  record.Header
	decoder registry.Decoder

	pointed   time.Time
	records   int
	sawEOS    bool
	truncated bool
	done      bool
}

// Open reads the header from r and builds its decoder.
func Open(r io.Reader, reg *registry.Registry, out sink.Sink, logger zerolog.Logger) (*Reader, error) {
	sc := logfile.NewScanner(r)
	line, ok := sc.Next()
	if !ok {
		if err := sc.Err(); err != nil && !sc.Truncated() {
			return nil, errors.NewInvalidFormat("read header", err)
		}
		return nil, errors.NewUnexpectedEOF("file ends before its header")
	}

	h, err := record.ParseHeader(line)
	if err != nil {
		return nil, err
	}
	factory, err := reg.Protocol(h.ProtocolName, h.ProtocolVersion)
	if err != nil {
		return nil, err
	}
	dec, err := factory(reg, h, logger)
	if err != nil {
		return nil, err
	}

	return &Reader{
		sc:      sc,
		out:     out,
		logger:  logger,
		header:  h,
		decoder: dec,
		pointed: h.OpenedAt,
	}, nil
}

// Header returns the file header.
func (r *Reader) Header() record.Header { return r.header }

// PointedTime returns the time of the last dispatched record.
func (r *Reader) PointedTime() time.Time { return r.pointed }

// Lines returns the number of lines read, header included.
func (r *Reader) Lines() int { return r.sc.Line() }

// Records returns the number of records dispatched, a synthesized eos included.
func (r *Reader) Records() int { return r.records }

// Truncated reports whether the file ended without eos or mid-line.
func (r *Reader) Truncated() bool { return r.truncated }

// Exchange names the exchange behind the decoder, or "".
func (r *Reader) Exchange() string {
	if e, ok := r.decoder.(interface{ Exchange() string }); ok {
		return e.Exchange()
	}
	return ""
}

// Next dispatches one record. It returns false once the file is exhausted;
// a file that ends without eos gets one synthesized so the decoder can
// check completeness.
func (r *Reader) Next() (bool, error) {
	if r.done {
		return false, nil
	}
	for {
		line, ok := r.sc.Next()
		if !ok {
			return false, r.finish()
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		n := r.sc.Line()
		if r.sawEOS {
			r.done = true
			return false, errors.NewInvalidFormat(fmt.Sprintf("line %d: record after eos", n), nil)
		}

		l, err := record.ParseLine(line)
		if err != nil {
			r.done = true
			return false, fmt.Errorf("line %d: %w", n, err)
		}
		r.advance(l.Time, n)
		if l.Kind == record.Closed {
			r.sawEOS = true
		}
		if err := r.dispatch(l.Kind, l.Payload); err != nil {
			r.done = true
			return false, fmt.Errorf("line %d: %w", n, err)
		}
		return true, nil
	}
}

func (r *Reader) advance(t time.Time, line int) {
	if t.Before(r.pointed) {
		r.logger.Warn().
			Int("line", line).
			Time("record_time", t).
			Time("pointed_time", r.pointed).
			Msg("record time went backwards, keeping pointed time")
		return
	}
	r.pointed = t
}

func (r *Reader) dispatch(kind record.Kind, payload string) error {
	r.records++
	return r.decoder.Dispatch(r.out, registry.Record{Kind: kind, Time: r.pointed, Payload: payload})
}

func (r *Reader) finish() error {
	r.done = true
	if err := r.sc.Err(); err != nil && !r.sc.Truncated() {
		return errors.NewInvalidFormat(fmt.Sprintf("read line %d", r.sc.Line()+1), err)
	}
	if r.sc.Truncated() {
		r.truncated = true
		r.logger.Warn().Int("lines", r.sc.Line()).Msg("file ends mid-record")
	}
	if r.sawEOS {
		return nil
	}
	r.truncated = true
	r.logger.Warn().Time("pointed_time", r.pointed).Msg("file ends without eos, synthesizing one")
	return r.dispatch(record.Closed, record.EOSPlaceholder)
}
