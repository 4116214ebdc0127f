// Package bitfinex captures and decodes the Bitfinex v2 public websocket API.
package bitfinex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hpungsan/wsdump/internal/payload"
	"github.com/hpungsan/wsdump/internal/record"
	"github.com/hpungsan/wsdump/internal/stream"
)

const (
	// Name identifies the exchange in file prefixes and the registry.
	Name = "bitfinex"

	DefaultURL        = "wss://api-pub.bitfinex.com/ws/2"
	DefaultTickersURL = "https://api-pub.bitfinex.com/v2/tickers?symbols=ALL"

	// DefaultChannelLimit is the number of channels one connection may open.
	DefaultChannelLimit = 30
)

// Channels subscribed per symbol, in order.
const (
	ChannelTrades = "trades"
	ChannelBook   = "book"
)

// Positions in a trading ticker array.
const (
	tickerSymbol    = 0
	tickerLastPrice = 7
	tickerVolume    = 8
)

// SessionConfig configures a capture session.
type SessionConfig struct {
	URL          string
	TickersURL   string
	ChannelLimit int
}

// Session subscribes to trades and book channels of the symbols with the
// highest USD volume, as many as the channel limit allows.
type Session struct {
	cfg     SessionConfig
	client  *http.Client
	logger  zerolog.Logger
	symbols []string
}

// NewSession creates a Session. Zero values fall back to the public defaults.
func NewSession(cfg SessionConfig, client *http.Client, logger zerolog.Logger) *Session {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.TickersURL == "" {
		cfg.TickersURL = DefaultTickersURL
	}
	if cfg.ChannelLimit <= 0 {
		cfg.ChannelLimit = DefaultChannelLimit
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Session{cfg: cfg, client: client, logger: logger.With().Str("exchange", Name).Logger()}
}

func (s *Session) Name() string { return Name }

func (s *Session) URL() string { return s.cfg.URL }

// Symbols returns the symbols chosen by Prepare, highest volume first.
func (s *Session) Symbols() []string { return s.symbols }

// Prepare fetches all tickers and picks the symbols to subscribe to.
func (s *Session) Prepare(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.TickersURL, nil)
	if err != nil {
		return fmt.Errorf("bitfinex tickers request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("bitfinex tickers: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bitfinex tickers: unexpected status %s", resp.Status)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var rows [][]any
	if err := dec.Decode(&rows); err != nil {
		return fmt.Errorf("bitfinex tickers: decode: %w", err)
	}
	tickers, err := parseTickers(rows)
	if err != nil {
		return fmt.Errorf("bitfinex tickers: %w", err)
	}

	ranked := RankByUSDVolume(tickers, func(symbol string) {
		s.logger.Warn().Str("symbol", symbol).Msg("no USD market to price volume")
	})
	if n := s.cfg.ChannelLimit / 2; len(ranked) > n {
		ranked = ranked[:n]
	}
	if len(ranked) == 0 {
		return fmt.Errorf("bitfinex tickers: no trading symbols")
	}
	s.symbols = ranked
	s.logger.Info().Int("symbols", len(ranked)).Strs("selected", ranked).Msg("ranked symbols by volume")
	return nil
}

// Ticker is the part of a trading ticker used for ranking.
type Ticker struct {
	Symbol    string
	LastPrice decimal.Decimal
	Volume    decimal.Decimal
}

func parseTickers(rows [][]any) ([]Ticker, error) {
	tickers := make([]Ticker, 0, len(rows))
	for i, row := range rows {
		if len(row) <= tickerSymbol {
			continue
		}
		symbol, ok := row[tickerSymbol].(string)
		if !ok {
			return nil, fmt.Errorf("ticker %d: symbol is not a string", i)
		}
		// Funding tickers start with 'f' and have a different layout.
		if !strings.HasPrefix(symbol, "t") {
			continue
		}
		if len(row) <= tickerVolume {
			return nil, fmt.Errorf("ticker %s: %d fields", symbol, len(row))
		}
		price, err := decimalField(row[tickerLastPrice])
		if err != nil {
			return nil, fmt.Errorf("ticker %s last price: %w", symbol, err)
		}
		volume, err := decimalField(row[tickerVolume])
		if err != nil {
			return nil, fmt.Errorf("ticker %s volume: %w", symbol, err)
		}
		tickers = append(tickers, Ticker{Symbol: symbol, LastPrice: price, Volume: volume})
	}
	return tickers, nil
}

func decimalField(v any) (decimal.Decimal, error) {
	n, ok := v.(json.Number)
	if !ok {
		return decimal.Zero, fmt.Errorf("not a number: %v", v)
	}
	return decimal.NewFromString(n.String())
}

// BaseCurrency returns XXX of tXXXYYY, or the part before ':' for long names
// such as tDOGE:USD.
func BaseCurrency(symbol string) string {
	s := strings.TrimPrefix(symbol, "t")
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i]
	}
	if len(s) > 3 {
		return s[:3]
	}
	return s
}

// RankByUSDVolume orders symbols by volume converted to USD through the last
// price of the base currency's USD market. Symbols without such a market
// rank as zero and are reported to unpriced.
func RankByUSDVolume(tickers []Ticker, unpriced func(symbol string)) []string {
	prices := make(map[string]decimal.Decimal, len(tickers))
	for _, t := range tickers {
		prices[t.Symbol] = t.LastPrice
	}

	type ranked struct {
		symbol string
		usd    decimal.Decimal
	}
	rows := make([]ranked, 0, len(tickers))
	for _, t := range tickers {
		base := BaseCurrency(t.Symbol)
		usd := decimal.Zero
		if price, ok := prices["t"+base+"USD"]; ok {
			usd = t.Volume.Mul(price)
		} else if price, ok := prices["t"+base+":USD"]; ok {
			usd = t.Volume.Mul(price)
		} else if unpriced != nil {
			unpriced(t.Symbol)
		}
		rows = append(rows, ranked{symbol: t.Symbol, usd: usd})
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].usd.GreaterThan(rows[j].usd) })
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.symbol
	}
	return out
}

type subscribeRequest struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
	SubID   string `json:"subId"`
}

// Subscribe sends trades subscriptions for every symbol, then book
// subscriptions. Each request carries a subId echoed by the server.
func (s *Session) Subscribe(snd stream.Sender) error {
	id := 1
	for _, channel := range []string{ChannelTrades, ChannelBook} {
		for _, symbol := range s.symbols {
			b, err := json.Marshal(subscribeRequest{
				Event:   "subscribe",
				Channel: channel,
				Symbol:  symbol,
				SubID:   strconv.Itoa(id),
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

// Handshake reports whether ev is a subscribe request or the server's answer
// to one. chanIds are only announced there, so rotated files need them.
func (s *Session) Handshake(ev record.StreamEvent) bool {
	switch ev.Kind {
	case record.Emitted:
		return true
	case record.Received:
		// Channel data is an array; only events are objects.
		if !strings.HasPrefix(ev.Payload, "{") {
			return false
		}
		msg, err := payload.DecodeObject(ev.Payload)
		if err != nil {
			return false
		}
		event, _ := msg.String("event")
		return event == "subscribed" || (event == "error" && msg.Has("subId"))
	default:
		return false
	}
}
