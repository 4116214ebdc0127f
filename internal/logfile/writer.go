package logfile

import (
	"bufio"
	"compress/gzip"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/hpungsan/wsdump/internal/record"
)

// RotatedPayload is the eos payload written when a file is closed by rotation
// rather than by the end of the stream.
const RotatedPayload = "rotated"

// maxSeq bounds the same-second collision search.
const maxSeq = 1000

// WriterConfig configures a Writer.
type WriterConfig struct {
	Dir              string
	Prefix           string
	RotationInterval time.Duration // zero disables age-based rotation
	Compress         bool

	// Now stamps events that arrive without a time. Defaults to time.Now.
	Now func() time.Time

	// OnClose is called with the path of every file after it is closed.
	OnClose func(path string)

	// Handshake reports whether a record belongs to the connection's
	// subscribe exchange. Those records are repeated at the top of every
	// file opened by rotation, so later files correlate data on their own.
	Handshake func(ev record.StreamEvent) bool
}

// Writer persists stream events into rotating log files.
//
// Record never fails: I/O errors are logged and the record is dropped, so a
// disk fault cannot take down the capture loop. A Writer is not safe for
// concurrent use; the stream client drives it from one goroutine.
type Writer struct {
	cfg    WriterConfig
	logger zerolog.Logger

	file   *os.File
	gz     *gzip.Writer
	out    *bufio.Writer
	path   string
	header record.Header

	handshake []record.StreamEvent // reset by every Opened event
}

// NewWriter creates a Writer. No file is opened until the first Opened event.
func NewWriter(cfg WriterConfig, logger zerolog.Logger) *Writer {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Writer{
		cfg:    cfg,
		logger: logger.With().Str("component", "logfile").Str("prefix", cfg.Prefix).Logger(),
	}
}

// Path returns the file currently open, or "".
func (w *Writer) Path() string {
	return w.path
}

// Record writes one event.
func (w *Writer) Record(ev record.StreamEvent) {
	if ev.Time.IsZero() {
		ev.Time = record.Stamp(w.cfg.Now())
	}

	switch ev.Kind {
	case record.Opened:
		h, err := record.NewHeader(ev.Payload, ev.Time)
		if err != nil {
			w.logger.Error().Err(err).Msg("dropping open event with invalid protocol head")
			return
		}
		if w.file != nil {
			w.logger.Warn().Str("path", w.path).Msg("stream reopened without eos, closing previous file")
			w.finish(record.StreamEvent{Kind: record.Closed, Time: ev.Time})
		}
		w.handshake = nil
		w.open(h)

	case record.Closed:
		if w.file == nil {
			w.logger.Warn().Msg("eos without an open log file")
			return
		}
		w.finish(ev)

	default:
		if w.file == nil {
			w.logger.Error().Str("kind", ev.Kind.Tag()).Msg("write to closed log file, dropping record")
			return
		}
		if w.cfg.RotationInterval > 0 && ev.Time.Sub(w.header.OpenedAt) >= w.cfg.RotationInterval {
			w.rotate(ev.Time)
			if w.file == nil {
				return
			}
		}
		if w.cfg.Handshake != nil && w.cfg.Handshake(ev) {
			w.handshake = append(w.handshake, ev)
		}
		w.writeLine(record.EncodeEvent(ev))
	}
}

// Close closes the current file, if any, without writing eos.
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	return w.closeFile()
}

// rotate ends the current file and continues the stream in a new one that
// starts with a copy of the current header followed by the handshake records,
// restamped with the rotation time.
func (w *Writer) rotate(at time.Time) {
	h := w.header
	h.OpenedAt = at
	w.logger.Info().Str("path", w.path).Int("handshake", len(w.handshake)).Msg("rotating log file")
	w.finish(record.NewEvent(record.Closed, RotatedPayload, at))
	w.open(h)
	if w.file == nil {
		return
	}
	for _, ev := range w.handshake {
		ev.Time = at
		w.writeLine(record.EncodeEvent(ev))
	}
}

func (w *Writer) finish(eos record.StreamEvent) {
	w.writeLine(record.EncodeEvent(eos))
	if err := w.closeFile(); err != nil {
		w.logger.Error().Err(err).Msg("failed to close log file")
	}
}

func (w *Writer) open(h record.Header) {
	if err := os.MkdirAll(w.cfg.Dir, 0700); err != nil {
		w.logger.Error().Err(err).Str("dir", w.cfg.Dir).Msg("failed to create log directory")
		return
	}

	name := Name{Prefix: w.cfg.Prefix, OpenedAt: h.OpenedAt, Compressed: w.cfg.Compress}
	var (
		file *os.File
		err  error
	)
	for name.Seq = 0; name.Seq < maxSeq; name.Seq++ {
		path := filepath.Join(w.cfg.Dir, name.String())
		file, err = createExclusive(path)
		if err == nil || !stderrors.Is(err, fs.ErrExist) {
			break
		}
	}
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to open log file")
		return
	}

	w.file = file
	w.path = file.Name()
	w.header = h
	if w.cfg.Compress {
		w.gz = gzip.NewWriter(file)
		w.out = bufio.NewWriter(w.gz)
	} else {
		w.out = bufio.NewWriter(file)
	}
	w.logger.Info().Str("path", w.path).Msg("opened log file")
	w.writeLine(record.EncodeHeader(h))
}

// writeLine appends one line and pushes it through to the file.
func (w *Writer) writeLine(line string) {
	if _, err := w.out.WriteString(line); err != nil {
		w.logger.Error().Err(err).Msg("failed to write record")
		return
	}
	if err := w.out.WriteByte('\n'); err != nil {
		w.logger.Error().Err(err).Msg("failed to write record")
		return
	}
	if err := w.out.Flush(); err != nil {
		w.logger.Error().Err(err).Msg("failed to flush record")
		return
	}
	if w.gz != nil {
		if err := w.gz.Flush(); err != nil {
			w.logger.Error().Err(err).Msg("failed to flush compressed record")
		}
	}
}

func (w *Writer) closeFile() error {
	var errs []error
	if err := w.out.Flush(); err != nil {
		errs = append(errs, err)
	}
	if w.gz != nil {
		if err := w.gz.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := w.file.Close(); err != nil {
		errs = append(errs, err)
	}

	path := w.path
	w.file, w.gz, w.out, w.path = nil, nil, nil, ""
	w.logger.Info().Str("path", path).Msg("closed log file")
	if w.cfg.OnClose != nil {
		w.cfg.OnClose(path)
	}
	if len(errs) > 0 {
		return fmt.Errorf("close %s: %w", path, stderrors.Join(errs...))
	}
	return nil
}
