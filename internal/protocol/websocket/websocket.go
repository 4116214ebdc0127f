// Package websocket decodes files captured by the websocket stream client.
// The protocol head carries the stream URL, whose host selects the exchange
// decoder that interprets the payloads.
package websocket

import (
	"fmt"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/hpungsan/wsdump/internal/errors"
	"github.com/hpungsan/wsdump/internal/record"
	"github.com/hpungsan/wsdump/internal/registry"
	"github.com/hpungsan/wsdump/internal/sink"
)

// Register adds the websocket v0 protocol to reg.
func Register(reg *registry.Registry) error {
	return reg.RegisterProtocol(record.ProtocolWebsocket, record.ProtocolWebsocketVersion, New)
}

// Decoder forwards records to the exchange decoder chosen from the URL.
type Decoder struct {
	exchange string
	url      string
	next     registry.Decoder
}

// New implements registry.ProtocolFactory.
func New(reg *registry.Registry, h record.Header, logger zerolog.Logger) (registry.Decoder, error) {
	raw := h.HeadData()
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.NewInvalidFormat(fmt.Sprintf("invalid stream url %q", raw), err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return nil, errors.NewInvalidFormat(fmt.Sprintf("stream url %q is not a websocket url", raw), nil)
	}
	if u.Hostname() == "" {
		return nil, errors.NewInvalidFormat(fmt.Sprintf("stream url %q has no host", raw), nil)
	}

	exchange, err := reg.ResolveHost(u.Hostname())
	if err != nil {
		return nil, err
	}
	factory, err := reg.Exchange(exchange, h.OpenedAt)
	if err != nil {
		return nil, err
	}
	next, err := factory(raw, logger.With().Str("exchange", exchange).Logger())
	if err != nil {
		return nil, err
	}
	return &Decoder{exchange: exchange, url: raw, next: next}, nil
}

// Exchange returns the name of the exchange the stream belongs to.
func (d *Decoder) Exchange() string {
	return d.exchange
}

// URL returns the stream URL from the header.
func (d *Decoder) URL() string {
	return d.url
}

// Dispatch implements registry.Decoder.
func (d *Decoder) Dispatch(out sink.Sink, rec registry.Record) error {
	return d.next.Dispatch(out, rec)
}
