package logfile

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// Extension is the suffix of every log file before compression.
	Extension = ".json.lines"
	// GzipExtension is appended to compressed log files.
	GzipExtension = ".gz"

	nameTimeLayout = "2006_01_02_15_04_05"
	seqWidth       = 3
)

// Name is the parsed form of <prefix>.<YYYY_MM_DD_HH_MM_SS>[_<seq>].json.lines[.gz].
// Seq disambiguates files opened within the same second. It is zero-padded
// so plain lexical order of names within one prefix is chronological.
type Name struct {
	Prefix     string
	OpenedAt   time.Time
	Seq        int
	Compressed bool
}

// String renders the base file name.
func (n Name) String() string {
	var b strings.Builder
	b.WriteString(n.Prefix)
	b.WriteByte('.')
	b.WriteString(n.OpenedAt.UTC().Format(nameTimeLayout))
	if n.Seq > 0 {
		fmt.Fprintf(&b, "_%0*d", seqWidth, n.Seq)
	}
	b.WriteString(Extension)
	if n.Compressed {
		b.WriteString(GzipExtension)
	}
	return b.String()
}

// Before orders names by prefix, then open time, then sequence.
func (n Name) Before(o Name) bool {
	if n.Prefix != o.Prefix {
		return n.Prefix < o.Prefix
	}
	if !n.OpenedAt.Equal(o.OpenedAt) {
		return n.OpenedAt.Before(o.OpenedAt)
	}
	return n.Seq < o.Seq
}

// FileName returns the base name of the first file opened for prefix at t.
func FileName(prefix string, t time.Time, compress bool) string {
	return Name{Prefix: prefix, OpenedAt: t, Compressed: compress}.String()
}

// ParseFileName parses a base file name produced by the writer.
func ParseFileName(base string) (Name, bool) {
	var n Name
	stem := base
	if strings.HasSuffix(stem, GzipExtension) {
		n.Compressed = true
		stem = strings.TrimSuffix(stem, GzipExtension)
	}
	if !strings.HasSuffix(stem, Extension) {
		return Name{}, false
	}
	stem = strings.TrimSuffix(stem, Extension)

	prefix, stamp, ok := cutLast(stem)
	if !ok {
		return Name{}, false
	}
	if len(stamp) == len(nameTimeLayout)+1+seqWidth && stamp[len(nameTimeLayout)] == '_' {
		seq, err := strconv.Atoi(stamp[len(nameTimeLayout)+1:])
		if err != nil || seq < 1 {
			return Name{}, false
		}
		n.Seq = seq
		stamp = stamp[:len(nameTimeLayout)]
	}
	t, err := time.ParseInLocation(nameTimeLayout, stamp, time.UTC)
	if err != nil {
		return Name{}, false
	}
	n.Prefix, n.OpenedAt = prefix, t
	return n, true
}

// IsLogFile reports whether base looks like a log file name.
func IsLogFile(base string) bool {
	_, ok := ParseFileName(base)
	return ok
}

func cutLast(s string) (before, after string, ok bool) {
	i := strings.LastIndexByte(s, '.')
	if i <= 0 || i == len(s)-1 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}
