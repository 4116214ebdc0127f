package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/hpungsan/wsdump/internal/errors"
	"github.com/hpungsan/wsdump/internal/sink"
)

// Board row types.
const (
	BoardClearAll  = 0
	BoardInsertAsk = 3 // sell side
	BoardInsertBid = 4 // buy side
)

// Replay run states.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

const (
	boardColumns = "`timestamp` INTEGER NOT NULL, `type` INTEGER(3) NOT NULL, `price` REAL, `size` REAL"

	tickerColumns = "`timestamp` INTEGER NOT NULL, `best_bid` REAL NOT NULL, `best_ask` REAL NOT NULL, " +
		"`best_bid_size` REAL NOT NULL, `best_ask_size` REAL NOT NULL, `total_bid_depth` REAL NOT NULL, " +
		"`total_ask_depth` REAL NOT NULL, `last_traded_price` REAL NOT NULL, `volume` REAL NOT NULL, " +
		"`volume_by_product` REAL NOT NULL, `exchange_timestamp` INTEGER"

	tradeColumns = "`timestamp` INTEGER NOT NULL, `payload` TEXT NOT NULL"
)

// TableName returns the table holding kind data for pair. Characters outside
// [A-Za-z0-9_] are replaced so the name never needs escaping.
func TableName(kind, pair string) string {
	var b strings.Builder
	b.WriteString(kind)
	b.WriteByte('_')
	for _, r := range pair {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// micros converts a pointed time to the stored integer form.
func micros(t time.Time) int64 {
	return t.UnixMicro()
}

// Sink writes one replay into a single transaction. EOS commits it; Close
// without EOS rolls it back and marks the run failed.
type Sink struct {
	db     *sql.DB
	tx     *sql.Tx
	runID  string
	logger zerolog.Logger

	tables map[string]*sql.Stmt // table -> prepared insert
	rows   int
	done   bool
}

var _ sink.Sink = (*Sink)(nil)

// Open initializes the database at path and starts a replay run for source.
func Open(ctx context.Context, path, source string, logger zerolog.Logger) (*Sink, error) {
	db, err := Init(path)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	runID := ulid.Make().String()
	_, err = db.ExecContext(ctx,
		`INSERT INTO replay_runs (id, source, status, started_at) VALUES (?, ?, ?, ?)`,
		runID, source, StatusRunning, time.Now().Unix())
	if err != nil {
		db.Close()
		return nil, errors.NewInternal(err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		db.Close()
		return nil, errors.NewInternal(err)
	}

	return &Sink{
		db:     db,
		tx:     tx,
		runID:  runID,
		logger: logger.With().Str("component", "sqlite").Str("run_id", runID).Logger(),
		tables: make(map[string]*sql.Stmt),
	}, nil
}

// RunID returns the id of this replay run.
func (s *Sink) RunID() string { return s.runID }

// Rows returns the number of rows inserted so far.
func (s *Sink) Rows() int { return s.rows }

func (s *Sink) table(kind, pair, columns string, n int) (*sql.Stmt, error) {
	if s.done {
		return nil, errors.NewInvalidRequest("sink already finished")
	}
	name := TableName(kind, pair)
	if stmt, ok := s.tables[name]; ok {
		return stmt, nil
	}
	if _, err := s.tx.Exec(fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", name, columns)); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("create table %s: %w", name, err))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", n), ",")
	stmt, err := s.tx.Prepare(fmt.Sprintf("INSERT INTO %s VALUES (%s)", name, placeholders))
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("prepare insert into %s: %w", name, err))
	}
	s.tables[name] = stmt
	s.logger.Debug().Str("table", name).Msg("table ready")
	return stmt, nil
}

func (s *Sink) insert(stmt *sql.Stmt, args ...any) error {
	if _, err := stmt.Exec(args...); err != nil {
		return errors.NewInternal(err)
	}
	s.rows++
	return nil
}

func (s *Sink) boardTable(pair string) (*sql.Stmt, error) {
	return s.table("board", pair, boardColumns, 4)
}

func (s *Sink) BoardStart(_ time.Time, pair string) error {
	_, err := s.boardTable(pair)
	return err
}

func (s *Sink) BoardClear(at time.Time, pair string) error {
	stmt, err := s.boardTable(pair)
	if err != nil {
		return err
	}
	return s.insert(stmt, micros(at), BoardClearAll, nil, nil)
}

func (s *Sink) BoardInsert(at time.Time, pair string, side sink.Side, price, size float64) error {
	stmt, err := s.boardTable(pair)
	if err != nil {
		return err
	}
	typ := BoardInsertBid
	if side == sink.Ask {
		typ = BoardInsertAsk
	}
	return s.insert(stmt, micros(at), typ, price, size)
}

func (s *Sink) tickerTable(pair string) (*sql.Stmt, error) {
	return s.table("ticker", pair, tickerColumns, 11)
}

func (s *Sink) TickerStart(_ time.Time, pair string) error {
	_, err := s.tickerTable(pair)
	return err
}

func (s *Sink) TickerInsert(at time.Time, pair string, t sink.TickerData) error {
	stmt, err := s.tickerTable(pair)
	if err != nil {
		return err
	}
	var exchangeTime sql.NullInt64
	if !t.ExchangeTime.IsZero() {
		exchangeTime = sql.NullInt64{Int64: micros(t.ExchangeTime), Valid: true}
	}
	return s.insert(stmt, micros(at),
		t.BestBid, t.BestAsk, t.BestBidSize, t.BestAskSize,
		t.TotalBidDepth, t.TotalAskDepth, t.LastPrice, t.Volume, t.VolumeByProduct,
		exchangeTime)
}

func (s *Sink) tradeTable(pair string) (*sql.Stmt, error) {
	return s.table("trade", pair, tradeColumns, 2)
}

func (s *Sink) TradeStart(_ time.Time, pair string) error {
	_, err := s.tradeTable(pair)
	return err
}

func (s *Sink) TradeInsert(at time.Time, pair string, raw string) error {
	stmt, err := s.tradeTable(pair)
	if err != nil {
		return err
	}
	return s.insert(stmt, micros(at), raw)
}

// EOS marks the run complete and commits everything written.
func (s *Sink) EOS() error {
	if s.done {
		return errors.NewInvalidRequest("eos after the run finished")
	}
	s.done = true
	_, err := s.tx.Exec(`UPDATE replay_runs SET status = ?, finished_at = ? WHERE id = ?`,
		StatusComplete, time.Now().Unix(), s.runID)
	if err != nil {
		_ = s.tx.Rollback()
		s.markFailed(err)
		return errors.NewInternal(err)
	}
	if err := s.tx.Commit(); err != nil {
		s.markFailed(err)
		return errors.NewInternal(err)
	}
	s.logger.Info().Int("rows", s.rows).Msg("replay committed")
	return nil
}

// Fail rolls back an unfinished run, recording cause.
func (s *Sink) Fail(cause error) {
	if s.done {
		return
	}
	s.done = true
	if err := s.tx.Rollback(); err != nil {
		s.logger.Error().Err(err).Msg("rollback failed")
	}
	s.markFailed(cause)
}

func (s *Sink) markFailed(cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.db.Exec(`UPDATE replay_runs SET status = ?, finished_at = ?, error = ? WHERE id = ?`,
		StatusFailed, time.Now().Unix(), msg, s.runID)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to mark run failed")
	}
	s.logger.Warn().Str("error", msg).Msg("replay rolled back")
}

// Close releases the database. An unfinished run is rolled back.
func (s *Sink) Close() error {
	s.Fail(errClosedEarly)
	return s.db.Close()
}

var errClosedEarly = stderrors.New("closed before end of stream")
