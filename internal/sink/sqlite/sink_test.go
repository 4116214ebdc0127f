package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/wsdump/internal/errors"
	"github.com/hpungsan/wsdump/internal/sink"
)

var t0 = time.Date(2019, 4, 11, 5, 14, 12, 123456000, time.UTC)

func openDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := Init(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
	require.NoError(t, err)
	return n == 1
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "replay.db")
	db := openDB(t, path)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode))
	require.Equal(t, "wal", journalMode)

	version, err := GetUserVersion(db)
	require.NoError(t, err)
	require.Equal(t, CurrentSchemaVersion, version)
	require.True(t, tableExists(t, db, "replay_runs"))

	// A second Init skips applied migrations.
	db2, err := Init(path)
	require.NoError(t, err)
	defer db2.Close()
	version, err = GetUserVersion(db2)
	require.NoError(t, err)
	require.Equal(t, CurrentSchemaVersion, version)
}

func TestTableName(t *testing.T) {
	tests := map[[2]string]string{
		{"board", "lightning_board_BTC_JPY"}: "board_lightning_board_BTC_JPY",
		{"trade", "trades_tBTCUSD"}:          "trade_trades_tBTCUSD",
		{"book", "book_tDOGE:USD"}:           "book_book_tDOGE_USD",
		{"ticker", `x"; DROP TABLE y; --`}:   "ticker_x___DROP_TABLE_y____",
	}
	for in, want := range tests {
		if got := TableName(in[0], in[1]); got != want {
			t.Errorf("TableName(%q, %q) = %q, want %q", in[0], in[1], got, want)
		}
	}
}

func TestSink_CommitOnEOS(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "replay.db")

	s, err := Open(ctx, path, "bitflyer.2019_04_11_05_14_10.json.lines.gz", zerolog.Nop())
	require.NoError(t, err)

	board := "lightning_board_snapshot_BTC_JPY"
	require.NoError(t, s.BoardStart(t0, board))
	require.NoError(t, s.BoardClear(t0, board))
	require.NoError(t, s.BoardInsert(t0, board, sink.Ask, 580100, 0.5))
	require.NoError(t, s.BoardInsert(t0, board, sink.Bid, 580000, 1.5))

	ticker := "lightning_ticker_BTC_JPY"
	require.NoError(t, s.TickerStart(t0, ticker))
	require.NoError(t, s.TickerInsert(t0.Add(time.Second), ticker, sink.TickerData{
		BestBid: 1, BestAsk: 2, BestBidSize: 3, BestAskSize: 4,
		TotalBidDepth: 5, TotalAskDepth: 6, LastPrice: 7, Volume: 8, VolumeByProduct: 9,
		ExchangeTime: t0,
	}))

	trades := "lightning_executions_BTC_JPY"
	require.NoError(t, s.TradeStart(t0, trades))
	require.NoError(t, s.TradeInsert(t0, trades, `{"id":1}`))

	require.Equal(t, 5, s.Rows())
	require.NoError(t, s.EOS())
	runID := s.RunID()
	require.NoError(t, s.Close())

	db := openDB(t, path)

	rows, err := db.Query("SELECT timestamp, type, price, size FROM board_lightning_board_snapshot_BTC_JPY ORDER BY rowid")
	require.NoError(t, err)
	defer rows.Close()
	type boardRow struct {
		ts    int64
		typ   int
		price sql.NullFloat64
		size  sql.NullFloat64
	}
	var got []boardRow
	for rows.Next() {
		var r boardRow
		require.NoError(t, rows.Scan(&r.ts, &r.typ, &r.price, &r.size))
		got = append(got, r)
	}
	require.NoError(t, rows.Err())
	require.Len(t, got, 3)
	require.Equal(t, t0.UnixMicro(), got[0].ts)
	require.Equal(t, BoardClearAll, got[0].typ)
	require.False(t, got[0].price.Valid)
	require.Equal(t, BoardInsertAsk, got[1].typ)
	require.Equal(t, 580100.0, got[1].price.Float64)
	require.Equal(t, BoardInsertBid, got[2].typ)
	require.Equal(t, 1.5, got[2].size.Float64)

	var ltp float64
	var exchangeTS sql.NullInt64
	require.NoError(t, db.QueryRow("SELECT last_traded_price, exchange_timestamp FROM ticker_lightning_ticker_BTC_JPY").Scan(&ltp, &exchangeTS))
	require.Equal(t, 7.0, ltp)
	require.Equal(t, t0.UnixMicro(), exchangeTS.Int64)

	var payload string
	require.NoError(t, db.QueryRow("SELECT payload FROM trade_lightning_executions_BTC_JPY").Scan(&payload))
	require.Equal(t, `{"id":1}`, payload)

	runs, err := ListRuns(ctx, db, "")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, runID, runs[0].ID)
	require.Equal(t, StatusComplete, runs[0].Status)
	require.NotNil(t, runs[0].FinishedAt)
}

func TestSink_RollbackWithoutEOS(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "replay.db")

	s, err := Open(ctx, path, "a.json.lines", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.BoardStart(t0, "p"))
	require.NoError(t, s.BoardClear(t0, "p"))
	require.NoError(t, s.Close())

	db := openDB(t, path)
	require.False(t, tableExists(t, db, "board_p"), "rolled back tables must not exist")

	runs, err := ListRuns(ctx, db, "a.json.lines")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, StatusFailed, runs[0].Status)
	require.Equal(t, "closed before end of stream", runs[0].Error)
}

func TestSink_FailRecordsCause(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "replay.db")

	s, err := Open(ctx, path, "b.json.lines", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.TradeStart(t0, "t"))
	s.Fail(errors.NewIncompleteStream([]string{"trades_tBTCUSD"}))

	err = s.TradeInsert(t0, "t", "{}")
	require.True(t, errors.Is(err, errors.ErrInvalidRequest), "insert after failure: %v", err)
	require.True(t, errors.Is(s.EOS(), errors.ErrInvalidRequest))
	require.NoError(t, s.Close())

	db := openDB(t, path)
	runs, err := ListRuns(ctx, db, "b.json.lines")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, StatusFailed, runs[0].Status)
	require.Contains(t, runs[0].Error, "INCOMPLETE_STREAM")

	none, err := ListRuns(ctx, db, "other.json.lines")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestSink_EOSOnce(t *testing.T) {
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "replay.db"), "c.json.lines", zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.EOS())
	require.True(t, errors.Is(s.EOS(), errors.ErrInvalidRequest))
}
