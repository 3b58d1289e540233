package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"WxEdge/internal/domain/models"
	domrepo "WxEdge/internal/domain/repository"
)

// SQLiteStore implements AnalysisStore on an embedded SQLite database, for
// single-node deployments that do not run ClickHouse. modernc's driver allows
// one writer at a time, so writes are serialized behind a mutex.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.Mutex
	log zerolog.Logger
}

// NewSQLiteStore opens (or creates) the database file and runs migrations.
func NewSQLiteStore(path string, log zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL keeps the API readable while an analysis run is being written.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, log: log.With().Str("component", "sqlite_store").Logger()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.log.Info().Str("path", path).Msg("SQLite store opened")
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS analyses (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			city           TEXT NOT NULL,
			date           TEXT NOT NULL,
			analyzed_at    INTEGER NOT NULL,
			forecast_mean  REAL,
			forecast_std   REAL,
			observed_high  REAL,
			forecast_count INTEGER,
			bracket_count  INTEGER,
			signal_count   INTEGER,
			payload        TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analyses_city_date ON analyses(city, date, analyzed_at)`,

		`CREATE TABLE IF NOT EXISTS signals (
			id         TEXT PRIMARY KEY,
			city       TEXT NOT NULL,
			date       TEXT NOT NULL,
			ticker     TEXT NOT NULL,
			side       TEXT NOT NULL,
			model_prob REAL,
			market_prob REAL,
			edge       REAL,
			confidence REAL,
			reasoning  TEXT,
			bracket    TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_city_date ON signals(city, date, created_at)`,

		`CREATE TABLE IF NOT EXISTS settlements (
			city           TEXT NOT NULL,
			date           TEXT NOT NULL,
			high           REAL NOT NULL,
			low            REAL,
			source         TEXT,
			station        TEXT,
			fetched_at     INTEGER NOT NULL,
			forecast_mean  REAL,
			forecast_std   REAL,
			abs_error      REAL,
			within_sigma   INTEGER,
			winning_ticker TEXT,
			verified       INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (city, date)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) StoreAnalysis(ctx context.Context, a *models.MarketAnalysis) error {
	if a == nil {
		return errors.New("analysis is nil")
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}
	observed := 0.0
	if a.Observation != nil {
		observed = a.Observation.ObservedHigh
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO analyses
		(city, date, analyzed_at, forecast_mean, forecast_std, observed_high,
		 forecast_count, bracket_count, signal_count, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.City, a.Date, a.AnalyzedAt.Unix(), a.ForecastMean, a.ForecastStd, observed,
		len(a.Forecasts), len(a.Brackets), len(a.Signals), string(payload),
	); err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}

	for _, sig := range a.Signals {
		bracket, err := json.Marshal(sig.Bracket)
		if err != nil {
			return fmt.Errorf("marshal bracket %s: %w", sig.Bracket.Ticker, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO signals
			(id, city, date, ticker, side, model_prob, market_prob, edge,
			 confidence, reasoning, bracket, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sig.ID, a.City, a.Date, sig.Bracket.Ticker, sig.Side,
			sig.ModelProb, sig.MarketProb, sig.Edge,
			sig.Confidence, sig.Reasoning, string(bracket), sig.CreatedAt.Unix(),
		); err != nil {
			return fmt.Errorf("insert signal: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit analysis: %w", err)
	}
	return nil
}

// StoreSettlement upserts on (city, date) so a later verification pass
// overwrites the bare record.
func (s *SQLiteStore) StoreSettlement(ctx context.Context, rec *models.SettlementRecord, v *models.SettlementVerification) error {
	if rec == nil {
		return errors.New("settlement record is nil")
	}
	var low interface{}
	if rec.Low != nil {
		low = *rec.Low
	}
	var (
		mean, std, absErr float64
		withinSigma       int
		winning           string
		verified          int
	)
	if v != nil {
		mean, std, absErr = v.ForecastMean, v.ForecastStd, v.AbsError
		if v.WithinOneSigma {
			withinSigma = 1
		}
		winning = v.WinningTicker
		verified = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO settlements
		(city, date, high, low, source, station, fetched_at,
		 forecast_mean, forecast_std, abs_error, within_sigma, winning_ticker, verified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.City, rec.Date, rec.High, low, rec.Source, rec.StationName, rec.FetchedAt.Unix(),
		mean, std, absErr, withinSigma, winning, verified,
	); err != nil {
		return fmt.Errorf("insert settlement: %w", err)
	}
	return nil
}

func (s *SQLiteStore) QuerySignals(ctx context.Context, city, date string, limit int) ([]models.TradingSignal, error) {
	var (
		where = "city = ?"
		args  = []interface{}{city}
	)
	if date != "" {
		where += " AND date = ?"
		args = append(args, date)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT id, ticker, side,
		model_prob, market_prob, edge, confidence, reasoning, bracket, created_at
		FROM signals WHERE %s ORDER BY created_at DESC LIMIT ?`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var out []models.TradingSignal
	for rows.Next() {
		var (
			sig       models.TradingSignal
			ticker    string
			bracket   string
			createdAt int64
		)
		if err := rows.Scan(&sig.ID, &ticker, &sig.Side, &sig.ModelProb, &sig.MarketProb,
			&sig.Edge, &sig.Confidence, &sig.Reasoning, &bracket, &createdAt); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		sig.CreatedAt = time.Unix(createdAt, 0).UTC()
		if err := json.Unmarshal([]byte(bracket), &sig.Bracket); err != nil {
			sig.Bracket = models.MarketBracket{Ticker: ticker}
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) QuerySettlements(ctx context.Context, city string, limit int) ([]models.SettlementRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT city, date, high, low, source, station, fetched_at
		FROM settlements WHERE city = ? ORDER BY date DESC LIMIT ?`, city, limit)
	if err != nil {
		return nil, fmt.Errorf("query settlements: %w", err)
	}
	defer rows.Close()

	var out []models.SettlementRecord
	for rows.Next() {
		var (
			rec       models.SettlementRecord
			low       sql.NullFloat64
			fetchedAt int64
		)
		if err := rows.Scan(&rec.City, &rec.Date, &rec.High, &low,
			&rec.Source, &rec.StationName, &fetchedAt); err != nil {
			return nil, fmt.Errorf("scan settlement: %w", err)
		}
		if low.Valid {
			v := low.Float64
			rec.Low = &v
		}
		rec.FetchedAt = time.Unix(fetchedAt, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LatestAnalysis(ctx context.Context, city, date string) (*models.MarketAnalysis, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM analyses
		WHERE city = ? AND date = ? ORDER BY analyzed_at DESC LIMIT 1`, city, date).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest analysis: %w", err)
	}
	var a models.MarketAnalysis
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		return nil, fmt.Errorf("decode analysis payload: %w", err)
	}
	return &a, nil
}

func (s *SQLiteStore) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ domrepo.AnalysisStore = (*SQLiteStore)(nil)
