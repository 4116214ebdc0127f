package ops

import (
	"fmt"
	"time"

	"github.com/hpungsan/wsdump/internal/errors"
	"github.com/hpungsan/wsdump/internal/logfile"
	"github.com/hpungsan/wsdump/internal/record"
)

// FileInfo summarizes one capture file.
type FileInfo struct {
	Path       string    `json:"path"`
	Prefix     string    `json:"prefix"`
	OpenedAt   time.Time `json:"opened_at"`
	Seq        int       `json:"seq,omitempty"`
	Compressed bool      `json:"compressed"`
	Size       int64     `json:"size"`

	// Parsed from the head line. Empty when Error is set.
	Protocol string `json:"protocol,omitempty"`
	Version  int    `json:"version"`
	URL      string `json:"url,omitempty"`

	Error string `json:"error,omitempty"`
}

// InventoryOutput contains the result of the Inventory operation.
type InventoryOutput struct {
	Dir   string     `json:"dir"`
	Items []FileInfo `json:"items"`
	Total int        `json:"total"`
	Bytes int64      `json:"bytes"`
}

// Inventory lists the capture files in dir with their header summaries.
// A file whose header cannot be read is listed with Error set.
func Inventory(dir string) (*InventoryOutput, error) {
	files, err := listLogFiles(dir)
	if err != nil {
		return nil, err
	}

	out := &InventoryOutput{Dir: dir, Items: make([]FileInfo, 0, len(files))}
	for _, f := range files {
		info := FileInfo{
			Path:       f.path,
			Prefix:     f.name.Prefix,
			OpenedAt:   f.name.OpenedAt,
			Seq:        f.name.Seq,
			Compressed: f.name.Compressed,
		}
		if size, err := fileSize(f.path); err == nil {
			info.Size = size
			out.Bytes += size
		}
		h, err := readHeader(f.path)
		if err != nil {
			info.Error = err.Error()
		} else {
			info.Protocol = h.ProtocolName
			info.Version = h.ProtocolVersion
			info.URL = h.HeadData()
		}
		out.Items = append(out.Items, info)
	}
	out.Total = len(out.Items)
	return out, nil
}

func readHeader(path string) (record.Header, error) {
	rc, err := logfile.Open(path)
	if err != nil {
		return record.Header{}, err
	}
	defer rc.Close()

	sc := logfile.NewScanner(rc)
	line, ok := sc.Next()
	if !ok {
		if sc.Err() != nil {
			return record.Header{}, errors.NewUnexpectedEOF(fmt.Sprintf("%s: %v", path, sc.Err()))
		}
		return record.Header{}, errors.NewUnexpectedEOF("empty log file: " + path)
	}
	return record.ParseHeader(line)
}
