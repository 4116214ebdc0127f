// Package capture runs exchange sessions and records their streams to rotating
// log files.
package capture

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/wsdump/internal/config"
	"github.com/hpungsan/wsdump/internal/errors"
	"github.com/hpungsan/wsdump/internal/exchange/bitfinex"
	"github.com/hpungsan/wsdump/internal/exchange/bitflyer"
	"github.com/hpungsan/wsdump/internal/exchange/bitmex"
	"github.com/hpungsan/wsdump/internal/logfile"
	"github.com/hpungsan/wsdump/internal/record"
	"github.com/hpungsan/wsdump/internal/registry"
	"github.com/hpungsan/wsdump/internal/stream"
)

// Session is one exchange's capture logic.
type Session interface {
	// Name is the exchange name; it is also the file prefix and subdirectory.
	Name() string
	URL() string
	// Prepare fetches metadata once before the first connection.
	Prepare(ctx context.Context) error
	// Subscribe runs on every connection before messages are read.
	Subscribe(s stream.Sender) error
}

// Handshaker is implemented by sessions whose log files need the subscribe
// exchange repeated after rotation to be replayed on their own.
type Handshaker interface {
	Handshake(ev record.StreamEvent) bool
}

// Options configures Run.
type Options struct {
	// Dir is the capture root; each session writes to Dir/<name>.
	Dir              string
	RotationInterval time.Duration
	Compress         bool
	Policy           stream.BackoffPolicy
	ReadTimeout      time.Duration

	// Dialer defaults to stream.WebsocketDialer.
	Dialer stream.Dialer

	// Registry, when set, is used to warn about captures that cannot be replayed.
	Registry *registry.Registry

	// OnClose is called with the path of every closed log file.
	OnClose func(path string)

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewOptions derives Options from cfg.
func NewOptions(cfg *config.Config) Options {
	return Options{
		Dir:              cfg.OutputDir,
		RotationInterval: cfg.RotationInterval.Std(),
		Compress:         !cfg.DisableCompression,
		Policy: stream.BackoffPolicy{
			Threshold: cfg.BurstThreshold.Std(),
			Min:       cfg.MinReconnect.Std(),
			Max:       cfg.MaxReconnect.Std(),
		},
		ReadTimeout: cfg.ReadTimeout.Std(),
	}
}

// NewSessionID returns a sortable id tagging one capture run in the logs.
func NewSessionID() string {
	return ulid.Make().String()
}

// handler records every stream event and subscribes on open.
type handler struct {
	sess   Session
	writer *logfile.Writer
}

func (h *handler) OnOpen(s stream.Sender) error { return h.sess.Subscribe(s) }

func (h *handler) OnEvent(ev record.StreamEvent) { h.writer.Record(ev) }

// Run prepares sess and captures its stream until ctx is cancelled. Only a
// Prepare failure is returned; connection and disk faults are logged and
// retried.
func Run(ctx context.Context, sess Session, opts Options, logger zerolog.Logger) error {
	logger = logger.With().Str("exchange", sess.Name()).Str("session", NewSessionID()).Logger()

	if err := sess.Prepare(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		logger.Error().Err(err).Msg("prepare failed")
		return fmt.Errorf("%s: prepare: %w", sess.Name(), err)
	}
	if opts.Registry != nil {
		checkDecodable(opts.Registry, sess.URL(), logger)
	}

	wcfg := logfile.WriterConfig{
		Dir:              filepath.Join(opts.Dir, sess.Name()),
		Prefix:           sess.Name(),
		RotationInterval: opts.RotationInterval,
		Compress:         opts.Compress,
		Now:              opts.Now,
		OnClose:          opts.OnClose,
	}
	if hs, ok := sess.(Handshaker); ok {
		wcfg.Handshake = hs.Handshake
	}
	writer := logfile.NewWriter(wcfg, logger)
	defer func() {
		if err := writer.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close log file")
		}
	}()

	client := &stream.Client{
		URL:         sess.URL(),
		Dialer:      opts.Dialer,
		Handler:     &handler{sess: sess, writer: writer},
		Policy:      opts.Policy,
		ReadTimeout: opts.ReadTimeout,
		Logger:      logger,
		Now:         opts.Now,
		Sleep:       opts.Sleep,
	}
	logger.Info().Str("url", sess.URL()).Msg("capture started")
	err := client.Run(ctx)
	logger.Info().Msg("capture stopped")
	return err
}

func checkDecodable(reg *registry.Registry, rawURL string, logger zerolog.Logger) {
	u, err := url.Parse(rawURL)
	if err != nil {
		logger.Warn().Err(err).Msg("capture URL does not parse; files will not replay")
		return
	}
	name, err := reg.ResolveHost(u.Hostname())
	if err == nil {
		_, err = reg.Exchange(name, time.Now())
	}
	if err != nil {
		logger.Warn().Err(err).Msg("no decoder for this stream; files are capture only")
	}
}

// RunAll runs every session concurrently. A failing session does not stop
// the others; all failures are returned together once every session ends.
func RunAll(ctx context.Context, sessions []Session, opts Options, logger zerolog.Logger) error {
	var g errgroup.Group
	errs := make([]error, len(sessions))
	for i, sess := range sessions {
		g.Go(func() error {
			errs[i] = Run(ctx, sess, opts, logger)
			return errs[i]
		})
	}
	_ = g.Wait()
	return stderrors.Join(errs...)
}

// Sessions builds the named sessions from cfg.
func Sessions(names []string, cfg *config.Config, client *http.Client, logger zerolog.Logger) ([]Session, error) {
	sessions := make([]Session, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		switch name {
		case bitflyer.Name:
			sessions = append(sessions, bitflyer.NewSession(bitflyer.SessionConfig{
				MarketsURL: cfg.BitflyerMarketsURL,
			}, client, logger))
		case bitfinex.Name:
			sessions = append(sessions, bitfinex.NewSession(bitfinex.SessionConfig{
				TickersURL:   cfg.BitfinexTickersURL,
				ChannelLimit: cfg.BitfinexChannelLimit,
			}, client, logger))
		case bitmex.Name:
			sessions = append(sessions, bitmex.NewSession(nil))
		default:
			return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown exchange %q", name))
		}
	}
	return sessions, nil
}
