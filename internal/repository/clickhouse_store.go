package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"WxEdge/internal/domain/models"
	domrepo "WxEdge/internal/domain/repository"
)

// ClickHouseStore implements AnalysisStore on ClickHouse. Schema is created
// by the client provider at boot; tables live under the configured database.
type ClickHouseStore struct {
	db       *sql.DB
	database string
}

// NewClickHouseStore creates ClickHouse-backed analysis storage.
func NewClickHouseStore(db *sql.DB, database string) *ClickHouseStore {
	return &ClickHouseStore{db: db, database: database}
}

// Schema returns the DDL the client runs at boot. Settlements use a
// ReplacingMergeTree so re-verification overwrites instead of duplicating.
func Schema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.analyses (
			city String, date String, analyzed_at DateTime,
			forecast_mean Float64, forecast_std Float64, observed_high Float64,
			forecast_count UInt16, bracket_count UInt16, signal_count UInt16,
			payload String
		) ENGINE=MergeTree ORDER BY (city, date, analyzed_at)`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.signals (
			id String, city String, date String, ticker String, side String,
			model_prob Float64, market_prob Float64, edge Float64,
			confidence Float64, reasoning String, bracket String,
			created_at DateTime
		) ENGINE=MergeTree ORDER BY (city, date, created_at)`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.settlements (
			city String, date String, high Float64, low Float64, has_low UInt8,
			source String, station String, fetched_at DateTime,
			forecast_mean Float64, forecast_std Float64, abs_error Float64,
			within_sigma UInt8, winning_ticker String, verified UInt8
		) ENGINE=ReplacingMergeTree(fetched_at) ORDER BY (city, date)`, database),
	}
}

func (s *ClickHouseStore) table(name string) string {
	return s.database + "." + name
}

func (s *ClickHouseStore) Init(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseStore) StoreAnalysis(ctx context.Context, a *models.MarketAnalysis) error {
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
	q := fmt.Sprintf(`INSERT INTO %s
		(city, date, analyzed_at, forecast_mean, forecast_std, observed_high,
		 forecast_count, bracket_count, signal_count, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table("analyses"))
	if _, err := s.db.ExecContext(ctx, q,
		a.City, a.Date, a.AnalyzedAt, a.ForecastMean, a.ForecastStd, observed,
		uint16(len(a.Forecasts)), uint16(len(a.Brackets)), uint16(len(a.Signals)),
		string(payload),
	); err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}

	return s.storeSignals(ctx, a.City, a.Date, a.Signals)
}

// storeSignals writes the run's signals as one multi-row insert per chunk to
// keep round-trips down.
func (s *ClickHouseStore) storeSignals(ctx context.Context, city, date string, signals []models.TradingSignal) error {
	if len(signals) == 0 {
		return nil
	}
	const chunkSize = 500
	for start := 0; start < len(signals); start += chunkSize {
		end := start + chunkSize
		if end > len(signals) {
			end = len(signals)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*12)
		for _, sig := range signals[start:end] {
			bracket, err := json.Marshal(sig.Bracket)
			if err != nil {
				return fmt.Errorf("marshal bracket %s: %w", sig.Bracket.Ticker, err)
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				sig.ID, city, date, sig.Bracket.Ticker, sig.Side,
				sig.ModelProb, sig.MarketProb, sig.Edge,
				sig.Confidence, sig.Reasoning, string(bracket),
				sig.CreatedAt,
			)
		}
		q := fmt.Sprintf(`INSERT INTO %s
			(id, city, date, ticker, side, model_prob, market_prob, edge,
			 confidence, reasoning, bracket, created_at)
			VALUES %s`, s.table("signals"), strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert signals: %w", err)
		}
	}
	return nil
}

func (s *ClickHouseStore) StoreSettlement(ctx context.Context, rec *models.SettlementRecord, v *models.SettlementVerification) error {
	if rec == nil {
		return errors.New("settlement record is nil")
	}
	low, hasLow := 0.0, uint8(0)
	if rec.Low != nil {
		low, hasLow = *rec.Low, 1
	}
	var (
		mean, std, absErr float64
		withinSigma       uint8
		winning           string
		verified          uint8
	)
	if v != nil {
		mean, std, absErr = v.ForecastMean, v.ForecastStd, v.AbsError
		if v.WithinOneSigma {
			withinSigma = 1
		}
		winning = v.WinningTicker
		verified = 1
	}

	q := fmt.Sprintf(`INSERT INTO %s
		(city, date, high, low, has_low, source, station, fetched_at,
		 forecast_mean, forecast_std, abs_error, within_sigma, winning_ticker, verified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table("settlements"))
	if _, err := s.db.ExecContext(ctx, q,
		rec.City, rec.Date, rec.High, low, hasLow,
		rec.Source, rec.StationName, rec.FetchedAt,
		mean, std, absErr, withinSigma, winning, verified,
	); err != nil {
		return fmt.Errorf("insert settlement: %w", err)
	}
	return nil
}

func (s *ClickHouseStore) QuerySignals(ctx context.Context, city, date string, limit int) ([]models.TradingSignal, error) {
	var (
		where = "city = ?"
		args  = []interface{}{city}
	)
	if date != "" {
		where += " AND date = ?"
		args = append(args, date)
	}
	args = append(args, limit)

	q := fmt.Sprintf(`SELECT id, ticker, side, model_prob, market_prob, edge,
		confidence, reasoning, bracket, created_at
		FROM %s WHERE %s ORDER BY created_at DESC LIMIT ?`, s.table("signals"), where)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var out []models.TradingSignal
	for rows.Next() {
		var (
			sig     models.TradingSignal
			ticker  string
			bracket string
		)
		if err := rows.Scan(&sig.ID, &ticker, &sig.Side, &sig.ModelProb, &sig.MarketProb,
			&sig.Edge, &sig.Confidence, &sig.Reasoning, &bracket, &sig.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		if err := json.Unmarshal([]byte(bracket), &sig.Bracket); err != nil {
			// A bad stored bracket still leaves ticker and pricing usable.
			sig.Bracket = models.MarketBracket{Ticker: ticker}
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func (s *ClickHouseStore) QuerySettlements(ctx context.Context, city string, limit int) ([]models.SettlementRecord, error) {
	q := fmt.Sprintf(`SELECT city, date, high, low, has_low, source, station, fetched_at
		FROM %s FINAL WHERE city = ? ORDER BY date DESC LIMIT ?`, s.table("settlements"))
	rows, err := s.db.QueryContext(ctx, q, city, limit)
	if err != nil {
		return nil, fmt.Errorf("query settlements: %w", err)
	}
	defer rows.Close()

	var out []models.SettlementRecord
	for rows.Next() {
		var (
			rec    models.SettlementRecord
			low    float64
			hasLow uint8
		)
		if err := rows.Scan(&rec.City, &rec.Date, &rec.High, &low, &hasLow,
			&rec.Source, &rec.StationName, &rec.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan settlement: %w", err)
		}
		if hasLow == 1 {
			rec.Low = &low
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *ClickHouseStore) LatestAnalysis(ctx context.Context, city, date string) (*models.MarketAnalysis, error) {
	q := fmt.Sprintf(`SELECT payload FROM %s
		WHERE city = ? AND date = ? ORDER BY analyzed_at DESC LIMIT 1`, s.table("analyses"))
	var payload string
	err := s.db.QueryRowContext(ctx, q, city, date).Scan(&payload)
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

func (s *ClickHouseStore) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close is a no-op; the connection pool is owned by the ClickHouse client.
func (s *ClickHouseStore) Close() error {
	return nil
}

var _ domrepo.AnalysisStore = (*ClickHouseStore)(nil)
