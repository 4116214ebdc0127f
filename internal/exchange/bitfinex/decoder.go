package bitfinex

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/hpungsan/wsdump/internal/errors"
	"github.com/hpungsan/wsdump/internal/payload"
	"github.com/hpungsan/wsdump/internal/record"
	"github.com/hpungsan/wsdump/internal/registry"
	"github.com/hpungsan/wsdump/internal/sink"
)

// Register adds the Bitfinex host and decoder to reg.
func Register(reg *registry.Registry) error {
	if err := reg.RegisterHost("bitfinex.com", Name); err != nil {
		return err
	}
	return reg.RegisterExchange(Name, time.Time{}, func(_ string, logger zerolog.Logger) (registry.Decoder, error) {
		return NewDecoder(logger), nil
	})
}

// ChannelName is the sink-facing name of a subscription, e.g. book_tBTCUSD.
func ChannelName(channel, symbol string) string {
	return channel + "_" + symbol
}

type subscription struct {
	name    string
	channel string
}

// Decoder turns one Bitfinex log file into sink events.
type Decoder struct {
	logger  zerolog.Logger
	ended   bool
	pending map[string]subscription // subId -> requested subscription
	chans   map[int64]subscription  // chanId -> confirmed subscription
}

// NewDecoder creates a Decoder with no subscriptions.
func NewDecoder(logger zerolog.Logger) *Decoder {
	return &Decoder{
		logger:  logger,
		pending: make(map[string]subscription),
		chans:   make(map[int64]subscription),
	}
}

// Dispatch implements registry.Decoder.
func (d *Decoder) Dispatch(out sink.Sink, rec registry.Record) error {
	if d.ended {
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

// subID accepts the correlation id as a string or a number.
func subID(msg payload.Object) (string, error) {
	v, ok := msg["subId"]
	if !ok {
		return "", errors.NewMalformedPayload(`missing key "subId"`)
	}
	switch id := v.(type) {
	case string:
		return id, nil
	case json.Number:
		return id.String(), nil
	default:
		return "", errors.NewMalformedPayload(`key "subId" is not a string or number`)
	}
}

func (d *Decoder) onEmit(rec registry.Record) error {
	msg, err := payload.DecodeObject(rec.Payload)
	if err != nil {
		return err
	}
	event, err := msg.String("event")
	if err != nil {
		return err
	}
	if event != "subscribe" {
		return errors.NewMalformedPayload(fmt.Sprintf("unexpected request event %q", event))
	}
	channel, err := msg.String("channel")
	if err != nil {
		return err
	}
	if channel != ChannelTrades && channel != ChannelBook {
		return errors.NewMalformedPayload(fmt.Sprintf("unknown channel %q", channel))
	}
	symbol, err := msg.String("symbol")
	if err != nil {
		return err
	}
	id, err := subID(msg)
	if err != nil {
		return err
	}
	if prev, dup := d.pending[id]; dup {
		return errors.NewMalformedPayload(fmt.Sprintf("subId %s reused (%s)", id, prev.name))
	}
	d.pending[id] = subscription{name: ChannelName(channel, symbol), channel: channel}
	return nil
}

func (d *Decoder) onMessage(out sink.Sink, rec registry.Record) error {
	v, err := payload.Decode(rec.Payload)
	if err != nil {
		return err
	}
	switch msg := v.(type) {
	case map[string]any:
		return d.onEvent(out, rec.Time, payload.Object(msg))
	case []any:
		return d.onData(out, rec.Time, msg)
	default:
		return errors.NewMalformedPayload("message is neither an event nor a channel update")
	}
}

func (d *Decoder) onEvent(out sink.Sink, at time.Time, msg payload.Object) error {
	event, err := msg.String("event")
	if err != nil {
		return err
	}
	switch event {
	case "info", "conf", "pong", "unsubscribed":
		d.logger.Debug().Str("event", event).Msg("ignored event")
		return nil
	case "subscribed":
		return d.onSubscribed(out, at, msg)
	case "error":
		id, err := subID(msg)
		if err != nil {
			return err
		}
		sub, ok := d.pending[id]
		if !ok {
			return errors.NewUnmatchedID(id)
		}
		reason, _ := msg.String("msg")
		return errors.NewSubscribeDenied(sub.name, reason)
	default:
		return errors.NewMalformedPayload(fmt.Sprintf("unknown event %q", event))
	}
}

func (d *Decoder) onSubscribed(out sink.Sink, at time.Time, msg payload.Object) error {
	id, err := subID(msg)
	if err != nil {
		return err
	}
	sub, ok := d.pending[id]
	if !ok {
		return errors.NewUnmatchedID(id)
	}
	chanID, err := msg.Int("chanId")
	if err != nil {
		return err
	}
	if prev, dup := d.chans[chanID]; dup {
		return errors.NewMalformedPayload(fmt.Sprintf("chanId %d reused (%s, %s)", chanID, prev.name, sub.name))
	}
	delete(d.pending, id)
	d.chans[chanID] = sub

	if sub.channel == ChannelBook {
		return out.BoardStart(at, sub.name)
	}
	return out.TradeStart(at, sub.name)
}

func (d *Decoder) onData(out sink.Sink, at time.Time, msg []any) error {
	if len(msg) < 2 {
		return errors.NewMalformedPayload(fmt.Sprintf("channel update has %d elements", len(msg)))
	}
	chanID, err := payload.AsInt(msg[0], "channel id")
	if err != nil {
		return err
	}
	sub, ok := d.chans[chanID]
	if !ok {
		return errors.NewUnmatchedID(chanID)
	}
	if tag, ok := msg[1].(string); ok && tag == "hb" {
		return nil
	}
	if sub.channel == ChannelBook {
		return d.onBook(out, at, sub.name, msg[1])
	}
	return d.onTrades(out, at, sub.name, msg[1:])
}

type bookEntry struct {
	side        sink.Side
	price, size float64
}

// parseBookEntry reads [price, count, amount]. Positive amounts are bids,
// negative amounts asks; a zero count removes the level.
func parseBookEntry(v any) (bookEntry, error) {
	row, err := payload.AsArray(v, "book entry")
	if err != nil {
		return bookEntry{}, err
	}
	if len(row) < 3 {
		return bookEntry{}, errors.NewMalformedPayload(fmt.Sprintf("book entry has %d elements", len(row)))
	}
	price, err := payload.AsFloat(row[0], "book price")
	if err != nil {
		return bookEntry{}, err
	}
	count, err := payload.AsInt(row[1], "book count")
	if err != nil {
		return bookEntry{}, err
	}
	amount, err := payload.AsFloat(row[2], "book amount")
	if err != nil {
		return bookEntry{}, err
	}
	e := bookEntry{side: sink.Bid, price: price, size: math.Abs(amount)}
	if amount < 0 {
		e.side = sink.Ask
	}
	if count == 0 {
		e.size = 0
	}
	return e, nil
}

func (d *Decoder) onBook(out sink.Sink, at time.Time, name string, body any) error {
	rows, err := payload.AsArray(body, "book update")
	if err != nil {
		return err
	}

	// An update is a single entry; a snapshot is an array of entries.
	if len(rows) > 0 {
		if _, nested := rows[0].([]any); !nested {
			e, err := parseBookEntry(rows)
			if err != nil {
				return err
			}
			return out.BoardInsert(at, name, e.side, e.price, e.size)
		}
	}

	entries := make([]bookEntry, 0, len(rows))
	for _, row := range rows {
		e, err := parseBookEntry(row)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}
	if err := out.BoardClear(at, name); err != nil {
		return err
	}
	for _, e := range entries {
		if err := out.BoardInsert(at, name, e.side, e.price, e.size); err != nil {
			return err
		}
	}
	return nil
}

func (d *Decoder) onTrades(out sink.Sink, at time.Time, name string, body []any) error {
	if tag, ok := body[0].(string); ok {
		switch tag {
		case "te":
			if len(body) < 2 {
				return errors.NewMalformedPayload("trade execution without trade")
			}
			return d.trade(out, at, name, body[1])
		case "tu":
			// Same trade as the preceding te, with its id filled in.
			return nil
		default:
			return errors.NewMalformedPayload(fmt.Sprintf("unknown trades tag %q", tag))
		}
	}

	trades, err := payload.AsArray(body[0], "trades snapshot")
	if err != nil {
		return err
	}
	for _, t := range trades {
		if err := d.trade(out, at, name, t); err != nil {
			return err
		}
	}
	return nil
}

func (d *Decoder) trade(out sink.Sink, at time.Time, name string, v any) error {
	if _, err := payload.AsArray(v, "trade"); err != nil {
		return err
	}
	raw, err := payload.Raw(v)
	if err != nil {
		return err
	}
	return out.TradeInsert(at, name, raw)
}

func (d *Decoder) onEOS(out sink.Sink) error {
	d.ended = true
	if len(d.pending) > 0 {
		missing := make([]string, 0, len(d.pending))
		for _, sub := range d.pending {
			missing = append(missing, sub.name)
		}
		sort.Strings(missing)
		return errors.NewIncompleteStream(missing)
	}
	return out.EOS()
}
