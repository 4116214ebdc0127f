package logfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hpungsan/wsdump/internal/record"
)

const testHead = "websocket,0,wss://ws.lightstream.bitflyer.com/json-rpc"

var t0 = time.Date(2019, 4, 11, 0, 0, 0, 0, time.UTC)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open(%s) error = %v", path, err)
	}
	defer r.Close()

	s := NewScanner(r)
	var lines []string
	for {
		line, ok := s.Next()
		if !ok {
			break
		}
		lines = append(lines, line)
	}
	if err := s.Err(); err != nil {
		t.Fatalf("scan %s: %v", path, err)
	}
	return lines
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestWriter_SessionLifecycle(t *testing.T) {
	dir := t.TempDir()
	var closed []string
	w := NewWriter(WriterConfig{
		Dir:      dir,
		Prefix:   "bitflyer",
		Compress: true,
		OnClose:  func(path string) { closed = append(closed, path) },
	}, zerolog.Nop())

	w.Record(record.NewEvent(record.Opened, testHead, t0))
	w.Record(record.NewEvent(record.Emitted, `{"method":"subscribe","params":{"channel":"lightning_ticker_BTC_JPY"},"id":1}`, t0.Add(time.Millisecond)))
	w.Record(record.NewEvent(record.Received, `{"jsonrpc":"2.0","id":1,"result":true}`, t0.Add(2*time.Millisecond)))
	w.Record(record.StreamEvent{Kind: record.Closed, Time: t0.Add(3 * time.Millisecond)})

	files := listFiles(t, dir)
	if len(files) != 1 || files[0] != "bitflyer.2019_04_11_00_00_00.json.lines.gz" {
		t.Fatalf("files = %v", files)
	}
	if len(closed) != 1 || closed[0] != filepath.Join(dir, files[0]) {
		t.Errorf("OnClose paths = %v", closed)
	}
	if w.Path() != "" {
		t.Errorf("Path() = %q after eos, want empty", w.Path())
	}

	lines := readLines(t, filepath.Join(dir, files[0]))
	want := []string{
		"head,0,2019-04-11 00:00:00.000000," + testHead,
		`emit,2019-04-11 00:00:00.001000,{"method":"subscribe","params":{"channel":"lightning_ticker_BTC_JPY"},"id":1}`,
		`msg,2019-04-11 00:00:00.002000,{"jsonrpc":"2.0","id":1,"result":true}`,
		"eos,2019-04-11 00:00:00.003000,None",
	}
	if strings.Join(lines, "\n") != strings.Join(want, "\n") {
		t.Errorf("lines =\n%s\nwant\n%s", strings.Join(lines, "\n"), strings.Join(want, "\n"))
	}
}

func TestWriter_DropsRecordsWithoutOpenFile(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(WriterConfig{Dir: dir, Prefix: "bitflyer"}, zerolog.Nop())

	w.Record(record.NewEvent(record.Received, "{}", t0))
	w.Record(record.StreamEvent{Kind: record.Closed, Time: t0})
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if files := listFiles(t, dir); len(files) != 0 {
		t.Fatalf("files = %v, want none", files)
	}

	w.Record(record.NewEvent(record.Opened, testHead, t0))
	w.Record(record.StreamEvent{Kind: record.Closed, Time: t0.Add(time.Second)})
	w.Record(record.NewEvent(record.Received, "late", t0.Add(2*time.Second)))

	files := listFiles(t, dir)
	if len(files) != 1 {
		t.Fatalf("files = %v, want 1", files)
	}
	lines := readLines(t, filepath.Join(dir, files[0]))
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "eos,") {
		t.Errorf("lines = %q, want head then eos", lines)
	}
}

func TestWriter_InvalidProtocolHeadDropped(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(WriterConfig{Dir: dir, Prefix: "x"}, zerolog.Nop())

	w.Record(record.NewEvent(record.Opened, "websocket", t0))
	if files := listFiles(t, dir); len(files) != 0 {
		t.Errorf("files = %v, want none", files)
	}
}

func TestWriter_Rotation(t *testing.T) {
	dir := t.TempDir()
	var closed []string
	w := NewWriter(WriterConfig{
		Dir:              dir,
		Prefix:           "bitflyer",
		RotationInterval: 24 * time.Hour,
		OnClose:          func(path string) { closed = append(closed, path) },
	}, zerolog.Nop())

	w.Record(record.NewEvent(record.Opened, testHead, t0))
	w.Record(record.NewEvent(record.Received, "a", t0.Add(23*time.Hour)))
	w.Record(record.NewEvent(record.Received, "b", t0.Add(24*time.Hour)))
	w.Record(record.NewEvent(record.Received, "c", t0.Add(25*time.Hour)))
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	files := listFiles(t, dir)
	if len(files) != 2 {
		t.Fatalf("files = %v, want 2", files)
	}
	if len(closed) != 2 {
		t.Errorf("OnClose calls = %d, want 2", len(closed))
	}

	first := readLines(t, filepath.Join(dir, "bitflyer.2019_04_11_00_00_00.json.lines"))
	if len(first) != 3 || first[2] != "eos,2019-04-12 00:00:00.000000,"+RotatedPayload {
		t.Errorf("first file = %q", first)
	}

	second := readLines(t, filepath.Join(dir, "bitflyer.2019_04_12_00_00_00.json.lines"))
	want := []string{
		"head,0,2019-04-12 00:00:00.000000," + testHead,
		"msg,2019-04-12 00:00:00.000000,b",
		"msg,2019-04-12 01:00:00.000000,c",
	}
	if strings.Join(second, "\n") != strings.Join(want, "\n") {
		t.Errorf("second file = %q", second)
	}
}

func TestWriter_RotationRepeatsHandshake(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(WriterConfig{
		Dir:              dir,
		Prefix:           "bitfinex",
		RotationInterval: 24 * time.Hour,
		Handshake: func(ev record.StreamEvent) bool {
			return ev.Kind == record.Emitted || strings.HasPrefix(ev.Payload, "ack")
		},
	}, zerolog.Nop())

	// The first connection's handshake must not leak into the second one.
	w.Record(record.NewEvent(record.Opened, testHead, t0))
	w.Record(record.NewEvent(record.Emitted, "old", t0))
	w.Record(record.StreamEvent{Kind: record.Closed, Time: t0.Add(time.Second)})

	w.Record(record.NewEvent(record.Opened, testHead, t0.Add(time.Hour)))
	w.Record(record.NewEvent(record.Emitted, "sub", t0.Add(time.Hour)))
	w.Record(record.NewEvent(record.Received, "ack", t0.Add(time.Hour)))
	w.Record(record.NewEvent(record.Received, "data", t0.Add(2*time.Hour)))
	w.Record(record.NewEvent(record.Received, "late", t0.Add(26*time.Hour)))
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	rotated := readLines(t, filepath.Join(dir, "bitfinex.2019_04_12_02_00_00.json.lines"))
	want := []string{
		"head,0,2019-04-12 02:00:00.000000," + testHead,
		"emit,2019-04-12 02:00:00.000000,sub",
		"msg,2019-04-12 02:00:00.000000,ack",
		"msg,2019-04-12 02:00:00.000000,late",
	}
	if strings.Join(rotated, "\n") != strings.Join(want, "\n") {
		t.Errorf("rotated file = %q, want %q", rotated, want)
	}
}

func TestWriter_SameSecondReconnect(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(WriterConfig{Dir: dir, Prefix: "bitflyer"}, zerolog.Nop())

	w.Record(record.NewEvent(record.Opened, testHead, t0))
	w.Record(record.StreamEvent{Kind: record.Closed, Time: t0.Add(100 * time.Millisecond)})
	w.Record(record.NewEvent(record.Opened, testHead, t0.Add(200*time.Millisecond)))
	w.Record(record.StreamEvent{Kind: record.Closed, Time: t0.Add(300 * time.Millisecond)})

	files := listFiles(t, dir)
	if len(files) != 2 {
		t.Fatalf("files = %v, want 2", files)
	}
	if files[0] != "bitflyer.2019_04_11_00_00_00.json.lines" || files[1] != "bitflyer.2019_04_11_00_00_00_001.json.lines" {
		t.Errorf("files = %v", files)
	}
}

func TestWriter_ReopenWithoutEOS(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(WriterConfig{Dir: dir, Prefix: "bitflyer"}, zerolog.Nop())

	w.Record(record.NewEvent(record.Opened, testHead, t0))
	w.Record(record.NewEvent(record.Opened, testHead, t0.Add(2*time.Second)))
	w.Close()

	first := readLines(t, filepath.Join(dir, "bitflyer.2019_04_11_00_00_00.json.lines"))
	if len(first) != 2 || first[1] != "eos,2019-04-11 00:00:02.000000,None" {
		t.Errorf("first file = %q", first)
	}
	second := readLines(t, filepath.Join(dir, "bitflyer.2019_04_11_00_00_02.json.lines"))
	if len(second) != 1 {
		t.Errorf("second file = %q", second)
	}
}
