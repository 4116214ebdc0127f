package logfile

import (
	"bufio"
	"compress/gzip"
	stderrors "errors"
	"io"
	"os"
	"strings"

	"github.com/hpungsan/wsdump/internal/errors"
)

// Open opens a log file for reading, decompressing .gz files transparently.
func Open(path string) (io.ReadCloser, error) {
	f, err := openForRead(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, GzipExtension) {
		return f, nil
	}

	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		if stderrors.Is(err, io.EOF) {
			return nil, errors.NewUnexpectedEOF("empty compressed log file: " + path)
		}
		return nil, errors.NewInvalidFormat("invalid gzip stream in "+path, err)
	}
	return &gzipFile{Reader: gz, file: f}, nil
}

type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipFile) Close() error {
	return stderrors.Join(g.Reader.Close(), g.file.Close())
}

// Scanner yields the lines of a log file without their terminators.
//
// A final line without a newline was cut off mid-write; it is discarded and
// Err reports io.ErrUnexpectedEOF, as it does when a gzip stream ends early.
type Scanner struct {
	r    *bufio.Reader
	line int
	err  error
}

// NewScanner creates a Scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next line. It returns false at the end of input or on error.
func (s *Scanner) Next() (string, bool) {
	if s.err != nil {
		return "", false
	}
	line, err := s.r.ReadString('\n')
	if err == nil {
		s.line++
		return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"), true
	}
	switch {
	case stderrors.Is(err, io.EOF):
		if line != "" {
			s.err = io.ErrUnexpectedEOF
		} else {
			s.err = io.EOF
		}
	default:
		s.err = err
	}
	return "", false
}

// Line returns the number of lines returned so far.
func (s *Scanner) Line() int {
	return s.line
}

// Err returns nil after a clean end of input, io.ErrUnexpectedEOF when the
// input was truncated, and any other read error as-is.
func (s *Scanner) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}

// Truncated reports whether input ended prematurely.
func (s *Scanner) Truncated() bool {
	return stderrors.Is(s.err, io.ErrUnexpectedEOF)
}
