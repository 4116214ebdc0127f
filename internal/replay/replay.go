package replay

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hpungsan/wsdump/internal/errors"
	"github.com/hpungsan/wsdump/internal/exchange/bitfinex"
	"github.com/hpungsan/wsdump/internal/exchange/bitflyer"
	"github.com/hpungsan/wsdump/internal/logfile"
	"github.com/hpungsan/wsdump/internal/protocol/websocket"
	"github.com/hpungsan/wsdump/internal/registry"
	"github.com/hpungsan/wsdump/internal/sink"
)

// NewRegistry returns a registry with every protocol and exchange decoder.
func NewRegistry() (*registry.Registry, error) {
	reg := registry.New()
	for _, register := range []func(*registry.Registry) error{
		websocket.Register,
		bitflyer.Register,
		bitfinex.Register,
	} {
		if err := register(reg); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Summary describes a replayed file.
type Summary struct {
	Path      string    `json:"path"`
	Exchange  string    `json:"exchange,omitempty"`
	OpenedAt  time.Time `json:"opened_at"`
	LastTime  time.Time `json:"last_time"`
	Lines     int       `json:"lines"`
	Records   int       `json:"records"`
	Truncated bool      `json:"truncated"`
}

// ReplayFile replays the file at path into out. The context is checked
// between records.
func ReplayFile(ctx context.Context, path string, reg *registry.Registry, out sink.Sink, logger zerolog.Logger) (*Summary, error) {
	rc, err := logfile.Open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	logger = logger.With().Str("path", path).Logger()
	r, err := Open(rc, reg, out, logger)
	if err != nil {
		return nil, err
	}

	for {
		if ctx.Err() != nil {
			return nil, errors.NewCancelled("replay " + path)
		}
		ok, err := r.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
	}

	s := &Summary{
		Path:      path,
		Exchange:  r.Exchange(),
		OpenedAt:  r.Header().OpenedAt,
		LastTime:  r.PointedTime(),
		Lines:     r.Lines(),
		Records:   r.Records(),
		Truncated: r.Truncated(),
	}
	logger.Info().
		Str("exchange", s.Exchange).
		Int("records", s.Records).
		Bool("truncated", s.Truncated).
		Msg("replayed file")
	return s, nil
}
