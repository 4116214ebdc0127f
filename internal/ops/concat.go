package ops

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/hpungsan/wsdump/internal/errors"
	"github.com/hpungsan/wsdump/internal/logfile"
)

// ConcatOutput reports what Concat wrote.
type ConcatOutput struct {
	Files     int      `json:"files"`
	Lines     int      `json:"lines"`
	Truncated []string `json:"truncated,omitempty"`
}

// Concat writes every line of every log file in dir to w, files in name
// order. A file cut off mid-write is logged and listed in Truncated; the
// lines read before the cut are kept and the next file continues.
func Concat(ctx context.Context, dir string, w io.Writer, logger zerolog.Logger) (*ConcatOutput, error) {
	files, err := listLogFiles(dir)
	if err != nil {
		return nil, err
	}

	bw := bufio.NewWriter(w)
	out := &ConcatOutput{}
	for _, f := range files {
		if ctx.Err() != nil {
			return nil, errors.NewCancelled("concat " + dir)
		}
		n, truncated, err := copyLines(ctx, f.path, bw)
		out.Lines += n
		if err != nil {
			return nil, err
		}
		out.Files++
		if truncated {
			logger.Warn().Str("path", f.path).Int("lines", n).Msg("unexpected end of file")
			out.Truncated = append(out.Truncated, f.path)
		}
	}
	if err := bw.Flush(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("write output: %w", err))
	}
	return out, nil
}

func copyLines(ctx context.Context, path string, w *bufio.Writer) (int, bool, error) {
	rc, err := logfile.Open(path)
	if err != nil {
		if errors.Is(err, errors.ErrUnexpectedEOF) {
			return 0, true, nil
		}
		return 0, false, err
	}
	defer rc.Close()

	sc := logfile.NewScanner(rc)
	n := 0
	for {
		line, ok := sc.Next()
		if !ok {
			break
		}
		if n%4096 == 0 && ctx.Err() != nil {
			return n, false, errors.NewCancelled("concat " + path)
		}
		if _, err := w.WriteString(line); err != nil {
			return n, false, errors.NewInternal(fmt.Errorf("write output: %w", err))
		}
		if err := w.WriteByte('\n'); err != nil {
			return n, false, errors.NewInternal(fmt.Errorf("write output: %w", err))
		}
		n++
	}
	if sc.Truncated() {
		return n, true, nil
	}
	if err := sc.Err(); err != nil {
		return n, false, errors.NewInternal(fmt.Errorf("read %s: %w", path, err))
	}
	return n, false, nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
