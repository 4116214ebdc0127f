package bitflyer

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hpungsan/wsdump/internal/errors"
	"github.com/hpungsan/wsdump/internal/payload"
	"github.com/hpungsan/wsdump/internal/record"
	"github.com/hpungsan/wsdump/internal/registry"
	"github.com/hpungsan/wsdump/internal/sink"
)

// Register adds the bitFlyer host and decoder to reg.
func Register(reg *registry.Registry) error {
	if err := reg.RegisterHost("bitflyer.com", Name); err != nil {
		return err
	}
	return reg.RegisterExchange(Name, time.Time{}, func(_ string, logger zerolog.Logger) (registry.Decoder, error) {
		return NewDecoder(logger), nil
	})
}

// State is the decoder's position in the stream.
type State int

const (
	AwaitingSubscriptions State = iota
	Streaming
	Ended
)

func (s State) String() string {
	switch s {
	case AwaitingSubscriptions:
		return "awaiting_subscriptions"
	case Streaming:
		return "streaming"
	case Ended:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Classify maps a channel name to its kind.
func Classify(channel string) (sink.ChannelKind, bool) {
	switch {
	case strings.HasPrefix(channel, PrefixBoardSnapshot):
		return sink.BoardSnapshot, true
	case strings.HasPrefix(channel, PrefixBoard):
		return sink.Board, true
	case strings.HasPrefix(channel, PrefixTicker):
		return sink.Ticker, true
	case strings.HasPrefix(channel, PrefixExecutions):
		return sink.Execution, true
	default:
		return 0, false
	}
}

// Decoder turns one bitFlyer log file into sink events.
type Decoder struct {
	logger  zerolog.Logger
	state   State
	pending map[int64]string // request id -> channel, awaiting confirmation
	active  map[string]sink.ChannelKind
}

// NewDecoder creates a Decoder in the AwaitingSubscriptions state.
func NewDecoder(logger zerolog.Logger) *Decoder {
	return &Decoder{
		logger:  logger,
		pending: make(map[int64]string),
		active:  make(map[string]sink.ChannelKind),
	}
}

// State returns the current state.
func (d *Decoder) State() State {
	return d.state
}

// Dispatch implements registry.Decoder.
func (d *Decoder) Dispatch(out sink.Sink, rec registry.Record) error {
	if d.state == Ended {
		return errors.NewInvalidFormat(fmt.Sprintf("%s record after end of stream", rec.Kind), nil)
	}
	switch rec.Kind {
	case record.Emitted:
		return d.onEmit(rec)
	case record.Received:
		return d.onMessage(out, rec)
	case record.Errored:
		d.logger.Debug().Str("error", rec.Payload).Msg("transport error recorded in stream")
		return nil
	case record.Closed:
		return d.onEOS(out)
	default:
		return errors.NewInvalidFormat(fmt.Sprintf("unexpected %s record", rec.Kind), nil)
	}
}

func (d *Decoder) onEmit(rec registry.Record) error {
	msg, err := payload.DecodeObject(rec.Payload)
	if err != nil {
		return err
	}
	method, err := msg.String("method")
	if err != nil {
		return err
	}
	if method != "subscribe" {
		return errors.NewMalformedPayload(fmt.Sprintf("unexpected request method %q", method))
	}
	id, err := msg.Int("id")
	if err != nil {
		return err
	}
	params, err := msg.Object("params")
	if err != nil {
		return err
	}
	channel, err := params.String("channel")
	if err != nil {
		return err
	}
	if prev, dup := d.pending[id]; dup {
		return errors.NewMalformedPayload(fmt.Sprintf("request id %d reused (%s, %s)", id, prev, channel))
	}
	d.pending[id] = channel
	return nil
}

func (d *Decoder) onMessage(out sink.Sink, rec registry.Record) error {
	msg, err := payload.DecodeObject(rec.Payload)
	if err != nil {
		return err
	}
	if msg.Has("method") {
		return d.onChannelMessage(out, rec.Time, msg)
	}
	return d.onResponse(out, rec.Time, msg)
}

// onResponse handles a subscribe confirmation.
func (d *Decoder) onResponse(out sink.Sink, at time.Time, msg payload.Object) error {
	id, err := msg.Int("id")
	if err != nil {
		return err
	}
	channel, ok := d.pending[id]
	if !ok {
		return errors.NewUnmatchedID(id)
	}
	if msg.Has("error") {
		reason, _ := payload.Raw(msg["error"])
		return errors.NewSubscribeDenied(channel, reason)
	}
	result, err := msg.Bool("result")
	if err != nil {
		return err
	}
	if !result {
		return errors.NewSubscribeDenied(channel, "result is false")
	}
	delete(d.pending, id)

	kind, ok := Classify(channel)
	if !ok {
		return errors.NewMalformedPayload(fmt.Sprintf("unknown channel %q", channel))
	}
	return d.start(out, at, channel, kind)
}

// start opens a channel once and moves the decoder to Streaming.
func (d *Decoder) start(out sink.Sink, at time.Time, channel string, kind sink.ChannelKind) error {
	d.state = Streaming
	if _, ok := d.active[channel]; ok {
		return nil
	}
	d.active[channel] = kind
	switch kind {
	case sink.Board, sink.BoardSnapshot:
		return out.BoardStart(at, channel)
	case sink.Ticker:
		return out.TickerStart(at, channel)
	default:
		return out.TradeStart(at, channel)
	}
}

func (d *Decoder) onChannelMessage(out sink.Sink, at time.Time, msg payload.Object) error {
	method, err := msg.String("method")
	if err != nil {
		return err
	}
	if method != "channelMessage" {
		return errors.NewMalformedPayload(fmt.Sprintf("unexpected method %q", method))
	}
	params, err := msg.Object("params")
	if err != nil {
		return err
	}
	channel, err := params.String("channel")
	if err != nil {
		return err
	}
	body, ok := params["message"]
	if !ok {
		return errors.NewMalformedPayload(`missing key "message"`)
	}
	kind, ok := Classify(channel)
	if !ok {
		return errors.NewMalformedPayload(fmt.Sprintf("unknown channel %q", channel))
	}

	if _, ok := d.active[channel]; !ok {
		// Continuation files after a rotation carry data for channels
		// subscribed in an earlier file.
		d.logger.Debug().Str("channel", channel).Msg("data for channel without confirmation in this file")
		if err := d.start(out, at, channel, kind); err != nil {
			return err
		}
	}

	switch kind {
	case sink.Board, sink.BoardSnapshot:
		return d.onBoard(out, at, channel, body)
	case sink.Ticker:
		return d.onTicker(out, at, channel, body)
	default:
		return d.onExecutions(out, at, channel, body)
	}
}

func (d *Decoder) onBoard(out sink.Sink, at time.Time, channel string, body any) error {
	board, err := payload.AsObject(body, "board message")
	if err != nil {
		return err
	}
	asks, err := boardEntries(board, "asks")
	if err != nil {
		return err
	}
	bids, err := boardEntries(board, "bids")
	if err != nil {
		return err
	}

	if err := out.BoardClear(at, channel); err != nil {
		return err
	}
	for _, e := range asks {
		if err := out.BoardInsert(at, channel, sink.Ask, e.price, e.size); err != nil {
			return err
		}
	}
	for _, e := range bids {
		if err := out.BoardInsert(at, channel, sink.Bid, e.price, e.size); err != nil {
			return err
		}
	}
	return nil
}

type boardEntry struct {
	price, size float64
}

func boardEntries(board payload.Object, key string) ([]boardEntry, error) {
	rows, err := board.Array(key)
	if err != nil {
		return nil, err
	}
	entries := make([]boardEntry, 0, len(rows))
	for i, row := range rows {
		obj, err := payload.AsObject(row, fmt.Sprintf("%s[%d]", key, i))
		if err != nil {
			return nil, err
		}
		price, err := obj.Float("price")
		if err != nil {
			return nil, err
		}
		size, err := obj.Float("size")
		if err != nil {
			return nil, err
		}
		entries = append(entries, boardEntry{price: price, size: size})
	}
	return entries, nil
}

func (d *Decoder) onTicker(out sink.Sink, at time.Time, channel string, body any) error {
	msg, err := payload.AsObject(body, "ticker message")
	if err != nil {
		return err
	}

	var t sink.TickerData
	for _, f := range []struct {
		key string
		dst *float64
	}{
		{"best_bid", &t.BestBid},
		{"best_ask", &t.BestAsk},
		{"best_bid_size", &t.BestBidSize},
		{"best_ask_size", &t.BestAskSize},
		{"total_bid_depth", &t.TotalBidDepth},
		{"total_ask_depth", &t.TotalAskDepth},
		{"ltp", &t.LastPrice},
		{"volume", &t.Volume},
		{"volume_by_product", &t.VolumeByProduct},
	} {
		if *f.dst, err = msg.Float(f.key); err != nil {
			return err
		}
	}

	if msg.Has("timestamp") {
		ts, err := msg.String("timestamp")
		if err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return errors.NewMalformedPayload(fmt.Sprintf("invalid ticker timestamp %q", ts))
		}
		t.ExchangeTime = parsed.UTC()
	}
	return out.TickerInsert(at, channel, t)
}

func (d *Decoder) onExecutions(out sink.Sink, at time.Time, channel string, body any) error {
	execs, err := payload.AsArray(body, "executions message")
	if err != nil {
		return err
	}
	for _, e := range execs {
		raw, err := payload.Raw(e)
		if err != nil {
			return err
		}
		if err := out.TradeInsert(at, channel, raw); err != nil {
			return err
		}
	}
	return nil
}

// onEOS checks that every subscription was confirmed before the stream ended.
func (d *Decoder) onEOS(out sink.Sink) error {
	d.state = Ended
	if len(d.pending) > 0 {
		missing := make([]string, 0, len(d.pending))
		for _, channel := range d.pending {
			missing = append(missing, channel)
		}
		sort.Strings(missing)
		return errors.NewIncompleteStream(missing)
	}
	return out.EOS()
}
