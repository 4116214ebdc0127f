// Package bitflyer captures and decodes the bitFlyer Lightning realtime API.
package bitflyer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hpungsan/wsdump/internal/payload"
	"github.com/hpungsan/wsdump/internal/record"
	"github.com/hpungsan/wsdump/internal/stream"
)

const (
	// Name identifies the exchange in file prefixes and the registry.
	Name = "bitflyer"

	DefaultURL        = "wss://ws.lightstream.bitflyer.com/json-rpc"
	DefaultMarketsURL = "https://api.bitflyer.com/v1/markets"
)

// Channel name prefixes, in subscription order.
const (
	PrefixExecutions    = "lightning_executions_"
	PrefixBoardSnapshot = "lightning_board_snapshot_"
	PrefixBoard         = "lightning_board_"
	PrefixTicker        = "lightning_ticker_"
)

var subscribePrefixes = []string{PrefixExecutions, PrefixBoardSnapshot, PrefixBoard, PrefixTicker}

// SessionConfig configures a capture session.
type SessionConfig struct {
	URL        string
	MarketsURL string
}

// Session subscribes to every channel of every market listed by the REST API.
type Session struct {
	cfg          SessionConfig
	client       *http.Client
	logger       zerolog.Logger
	productCodes []string
}

// NewSession creates a Session. Empty URLs fall back to the public endpoints.
func NewSession(cfg SessionConfig, client *http.Client, logger zerolog.Logger) *Session {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.MarketsURL == "" {
		cfg.MarketsURL = DefaultMarketsURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Session{cfg: cfg, client: client, logger: logger.With().Str("exchange", Name).Logger()}
}

func (s *Session) Name() string { return Name }

func (s *Session) URL() string { return s.cfg.URL }

// ProductCodes returns the markets found by Prepare.
func (s *Session) ProductCodes() []string { return s.productCodes }

type market struct {
	ProductCode string `json:"product_code"`
}

// Prepare fetches the market list.
func (s *Session) Prepare(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.MarketsURL, nil)
	if err != nil {
		return fmt.Errorf("bitflyer markets request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("bitflyer markets: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bitflyer markets: unexpected status %s", resp.Status)
	}

	var markets []market
	if err := json.NewDecoder(resp.Body).Decode(&markets); err != nil {
		return fmt.Errorf("bitflyer markets: decode: %w", err)
	}
	codes := make([]string, 0, len(markets))
	for _, m := range markets {
		if m.ProductCode != "" {
			codes = append(codes, m.ProductCode)
		}
	}
	if len(codes) == 0 {
		return fmt.Errorf("bitflyer markets: no product codes")
	}
	s.productCodes = codes
	s.logger.Info().Int("markets", len(codes)).Msg("fetched markets")
	return nil
}

type subscribeParams struct {
	Channel string `json:"channel"`
}

type subscribeRequest struct {
	Method string          `json:"method"`
	Params subscribeParams `json:"params"`
	ID     int             `json:"id"`
}

// Subscribe sends one request per (market, channel). Ids start at 1 on every
// connection so each log file correlates on its own.
func (s *Session) Subscribe(snd stream.Sender) error {
	id := 1
	for _, code := range s.productCodes {
		for _, prefix := range subscribePrefixes {
			b, err := json.Marshal(subscribeRequest{
				Method: "subscribe",
				Params: subscribeParams{Channel: prefix + code},
				ID:     id,
			})
			if err != nil {
				return err
			}
			if err := snd.Send(string(b)); err != nil {
				return err
			}
			id++
		}
	}
	return nil
}

// Handshake reports whether ev is a subscribe request or its JSON-RPC
// response. Channel messages carry a method; responses do not.
func (s *Session) Handshake(ev record.StreamEvent) bool {
	switch ev.Kind {
	case record.Emitted:
		return true
	case record.Received:
		if strings.Contains(ev.Payload, `"method":`) {
			return false
		}
		msg, err := payload.DecodeObject(ev.Payload)
		return err == nil && msg.Has("id")
	default:
		return false
	}
}
