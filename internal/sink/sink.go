// Package sink defines the domain events produced by exchange decoders.
package sink

import (
	"fmt"
	"time"
)

// Side is the book side of a board entry.
type Side int

const (
	Ask Side = iota
	Bid
)

func (s Side) String() string {
	switch s {
	case Ask:
		return "ask"
	case Bid:
		return "bid"
	default:
		return fmt.Sprintf("side(%d)", int(s))
	}
}

// ChannelKind classifies an exchange channel.
type ChannelKind int

const (
	Board ChannelKind = iota
	BoardSnapshot
	Ticker
	Execution
)

func (k ChannelKind) String() string {
	switch k {
	case Board:
		return "board"
	case BoardSnapshot:
		return "board_snapshot"
	case Ticker:
		return "ticker"
	case Execution:
		return "execution"
	default:
		return fmt.Sprintf("channel(%d)", int(k))
	}
}

// TickerData is one ticker observation.
type TickerData struct {
	ExchangeTime    time.Time // zero when the exchange sent none
	BestBid         float64
	BestAsk         float64
	BestBidSize     float64
	BestAskSize     float64
	TotalBidDepth   float64
	TotalAskDepth   float64
	LastPrice       float64
	Volume          float64
	VolumeByProduct float64
}

// Sink consumes decoded market data. Every call carries the reader's
// monotonic pointed time. An error aborts the replay of the current file.
type Sink interface {
	BoardStart(at time.Time, pair string) error
	BoardClear(at time.Time, pair string) error
	BoardInsert(at time.Time, pair string, side Side, price, size float64) error
	TickerStart(at time.Time, pair string) error
	TickerInsert(at time.Time, pair string, t TickerData) error
	TradeStart(at time.Time, pair string) error
	TradeInsert(at time.Time, pair string, raw string) error
	// EOS is called once when a stream ends cleanly.
	EOS() error
}
