package sink

import (
	"testing"
	"time"
)

func TestRecorder(t *testing.T) {
	at := time.Date(2019, 4, 11, 0, 0, 0, 0, time.UTC)
	r := &Recorder{}

	steps := []func() error{
		func() error { return r.BoardStart(at, "p") },
		func() error { return r.BoardClear(at, "p") },
		func() error { return r.BoardInsert(at, "p", Bid, 99.5, 2) },
		func() error { return r.TradeStart(at, "e") },
		func() error { return r.TradeInsert(at, "e", `{"id":1}`) },
		r.EOS,
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	want := []string{"board_start p", "board_clear p", "board_insert p bid 2@99.5", "trade_start e", "trade_insert e", "eos"}
	if len(r.Events) != len(want) {
		t.Fatalf("len(Events) = %d, want %d", len(r.Events), len(want))
	}
	for i, e := range r.Events {
		if got := e.String(); got != want[i] {
			t.Errorf("Events[%d] = %q, want %q", i, got, want[i])
		}
	}
	if r.Events[4].Raw != `{"id":1}` {
		t.Errorf("Raw = %q", r.Events[4].Raw)
	}
}

func TestRecorder_FailOn(t *testing.T) {
	r := &Recorder{FailOn: OpTickerInsert}
	at := time.Now()
	if err := r.TickerStart(at, "t"); err != nil {
		t.Fatalf("TickerStart: %v", err)
	}
	if err := r.TickerInsert(at, "t", TickerData{LastPrice: 1}); err == nil {
		t.Fatal("expected TickerInsert to fail")
	}
	if len(r.Events) != 1 {
		t.Errorf("failed op must not be recorded, got %d events", len(r.Events))
	}
}

func TestStringers(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{Ask.String(), "ask"},
		{Bid.String(), "bid"},
		{Side(7).String(), "side(7)"},
		{Board.String(), "board"},
		{BoardSnapshot.String(), "board_snapshot"},
		{Ticker.String(), "ticker"},
		{Execution.String(), "execution"},
		{ChannelKind(9).String(), "channel(9)"},
	}
	for _, tc := range tests {
		if tc.got != tc.want {
			t.Errorf("got %q, want %q", tc.got, tc.want)
		}
	}
}
