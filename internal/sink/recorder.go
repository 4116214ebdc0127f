package sink

import (
	"fmt"
	"time"
)

// Op names a Sink method.
type Op string

const (
	OpBoardStart   Op = "board_start"
	OpBoardClear   Op = "board_clear"
	OpBoardInsert  Op = "board_insert"
	OpTickerStart  Op = "ticker_start"
	OpTickerInsert Op = "ticker_insert"
	OpTradeStart   Op = "trade_start"
	OpTradeInsert  Op = "trade_insert"
	OpEOS          Op = "eos"
)

// Event is one recorded Sink call.
type Event struct {
	Op     Op
	Time   time.Time
	Pair   string
	Side   Side
	Price  float64
	Size   float64
	Ticker TickerData
	Raw    string
}

func (e Event) String() string {
	switch e.Op {
	case OpBoardInsert:
		return fmt.Sprintf("%s %s %s %g@%g", e.Op, e.Pair, e.Side, e.Size, e.Price)
	case OpEOS:
		return string(e.Op)
	default:
		return fmt.Sprintf("%s %s", e.Op, e.Pair)
	}
}

// Recorder is an in-memory Sink. FailOn makes the named op return an error.
type Recorder struct {
	Events []Event
	FailOn Op
}

var _ Sink = (*Recorder)(nil)

// Ops returns the recorded operations in order.
func (r *Recorder) Ops() []Op {
	ops := make([]Op, len(r.Events))
	for i, e := range r.Events {
		ops[i] = e.Op
	}
	return ops
}

func (r *Recorder) add(e Event) error {
	if r.FailOn != "" && e.Op == r.FailOn {
		return fmt.Errorf("recorder: %s failed", e.Op)
	}
	r.Events = append(r.Events, e)
	return nil
}

func (r *Recorder) BoardStart(at time.Time, pair string) error {
	return r.add(Event{Op: OpBoardStart, Time: at, Pair: pair})
}

func (r *Recorder) BoardClear(at time.Time, pair string) error {
	return r.add(Event{Op: OpBoardClear, Time: at, Pair: pair})
}

func (r *Recorder) BoardInsert(at time.Time, pair string, side Side, price, size float64) error {
	return r.add(Event{Op: OpBoardInsert, Time: at, Pair: pair, Side: side, Price: price, Size: size})
}

func (r *Recorder) TickerStart(at time.Time, pair string) error {
	return r.add(Event{Op: OpTickerStart, Time: at, Pair: pair})
}

func (r *Recorder) TickerInsert(at time.Time, pair string, t TickerData) error {
	return r.add(Event{Op: OpTickerInsert, Time: at, Pair: pair, Ticker: t})
}

func (r *Recorder) TradeStart(at time.Time, pair string) error {
	return r.add(Event{Op: OpTradeStart, Time: at, Pair: pair})
}

func (r *Recorder) TradeInsert(at time.Time, pair string, raw string) error {
	return r.add(Event{Op: OpTradeInsert, Time: at, Pair: pair, Raw: raw})
}

func (r *Recorder) EOS() error {
	return r.add(Event{Op: OpEOS})
}
