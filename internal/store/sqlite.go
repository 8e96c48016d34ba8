package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/Masterora/agent-arena/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ StrategyStore = (*SQLiteStore)(nil)
var _ MatchStore = (*SQLiteStore)(nil)

// SQLiteStore implements StrategyStore and MatchStore backed by a SQLite
// database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema migrations and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string, log *slog.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = slog.Default()
	}
	dsn := sqliteDSN(dbPath)
	if err := Migrate(dsn, log); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer; serialise through one connection.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dbPath, err)
	}
	return &SQLiteStore{db: db}, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// StrategyStore implementation
// ---------------------------------------------------------------------------

const strategyColumns = `id, name, type, params, code, description,
	total_matches, wins, win_rate, avg_return, sharpe_ratio, max_drawdown,
	created_at, updated_at`

// CreateStrategy inserts a new strategy into the database.
func (s *SQLiteStore) CreateStrategy(ctx context.Context, st *domain.StrategySpec) error {
	params, err := json.Marshal(st.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO strategies (`+strategyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.Name, st.Type, string(params), st.Code, st.Description,
		st.Stats.TotalMatches, st.Stats.Wins, st.Stats.WinRate, st.Stats.AvgReturn,
		st.Stats.SharpeRatio, st.Stats.MaxDrawdown,
		formatTime(st.CreatedAt), formatTime(st.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert strategy %s: %w", st.ID, err)
	}
	return nil
}

// GetStrategy retrieves a single strategy by its ID.
func (s *SQLiteStore) GetStrategy(ctx context.Context, id string) (*domain.StrategySpec, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+strategyColumns+` FROM strategies WHERE id = ?`, id)
	st, err := scanStrategy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("strategy %s: %w", id, domain.ErrNotFound)
	}
	return st, err
}

// ListStrategies returns every strategy ordered by creation time.
func (s *SQLiteStore) ListStrategies(ctx context.Context) ([]domain.StrategySpec, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+strategyColumns+` FROM strategies ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list strategies: %w", err)
	}
	defer rows.Close()

	var out []domain.StrategySpec
	for rows.Next() {
		st, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// UpdateStrategy persists the editable fields of a strategy.
func (s *SQLiteStore) UpdateStrategy(ctx context.Context, st *domain.StrategySpec) error {
	params, err := json.Marshal(st.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE strategies
		SET name = ?, type = ?, params = ?, code = ?, description = ?, updated_at = ?
		WHERE id = ?`,
		st.Name, st.Type, string(params), st.Code, st.Description, formatTime(st.UpdatedAt), st.ID)
	if err != nil {
		return fmt.Errorf("update strategy %s: %w", st.ID, err)
	}
	return expectRow(res, "strategy", st.ID)
}

// DeleteStrategy removes a strategy. Past match results keep its id.
func (s *SQLiteStore) DeleteStrategy(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM strategies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete strategy %s: %w", id, err)
	}
	return expectRow(res, "strategy", id)
}

// UpdateStrategyStats reads, transforms and writes a strategy's stats in one
// transaction.
func (s *SQLiteStore) UpdateStrategyStats(ctx context.Context, id string, fn func(domain.StrategyStats) domain.StrategyStats) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var st domain.StrategyStats
	err = tx.QueryRowContext(ctx, `SELECT total_matches, wins, win_rate, avg_return, sharpe_ratio, max_drawdown
		FROM strategies WHERE id = ?`, id).
		Scan(&st.TotalMatches, &st.Wins, &st.WinRate, &st.AvgReturn, &st.SharpeRatio, &st.MaxDrawdown)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("strategy %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read stats %s: %w", id, err)
	}

	st = fn(st)
	_, err = tx.ExecContext(ctx, `UPDATE strategies
		SET total_matches = ?, wins = ?, win_rate = ?, avg_return = ?, sharpe_ratio = ?, max_drawdown = ?, updated_at = ?
		WHERE id = ?`,
		st.TotalMatches, st.Wins, st.WinRate, st.AvgReturn, st.SharpeRatio, st.MaxDrawdown,
		formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("write stats %s: %w", id, err)
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// MatchStore implementation
// ---------------------------------------------------------------------------

const matchColumns = `id, status, config, strategy_ids, market_source, market_kind,
	start_time, end_time, error_message, created_at`

// CreateMatch inserts a match header.
func (s *SQLiteStore) CreateMatch(ctx context.Context, m *domain.Match) error {
	cfg, err := json.Marshal(m.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	ids, err := json.Marshal(m.StrategyIDs)
	if err != nil {
		return fmt.Errorf("encode strategy ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO matches (`+matchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, string(m.Status), string(cfg), string(ids), m.MarketSource, m.MarketKind,
		nullTime(m.StartTime), nullTime(m.EndTime), m.ErrorMessage, formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert match %s: %w", m.ID, err)
	}
	return nil
}

// UpdateMatchStatus persists the lifecycle fields of a match.
func (s *SQLiteStore) UpdateMatchStatus(ctx context.Context, m *domain.Match) error {
	return updateMatchHeader(ctx, s.db, m)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateMatchHeader(ctx context.Context, db execer, m *domain.Match) error {
	res, err := db.ExecContext(ctx, `UPDATE matches
		SET status = ?, start_time = ?, end_time = ?, error_message = ?
		WHERE id = ?`,
		string(m.Status), nullTime(m.StartTime), nullTime(m.EndTime), m.ErrorMessage, m.ID)
	if err != nil {
		return fmt.Errorf("update match %s: %w", m.ID, err)
	}
	return expectRow(res, "match", m.ID)
}

// CompleteMatch writes the final header, results, value histories and step
// log atomically.
func (s *SQLiteStore) CompleteMatch(ctx context.Context, m *domain.Match, histories map[string][]float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := updateMatchHeader(ctx, tx, m); err != nil {
		return err
	}

	pstmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO match_participants
		(match_id, strategy_id, final_value, return_pct, total_trades, win_trades, sell_trades,
		 win_rate, rank, max_drawdown, sharpe_ratio, value_history)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer pstmt.Close()
	for _, r := range m.Results {
		hist, err := json.Marshal(histories[r.StrategyID])
		if err != nil {
			return fmt.Errorf("encode value history: %w", err)
		}
		if _, err := pstmt.ExecContext(ctx, m.ID, r.StrategyID, r.FinalValue, r.ReturnPct,
			r.TotalTrades, r.WinTrades, r.SellTrades, r.WinRate, r.Rank, r.MaxDrawdown,
			r.SharpeRatio, string(hist)); err != nil {
			return fmt.Errorf("insert result %s/%s: %w", m.ID, r.StrategyID, err)
		}
	}

	lstmt, err := tx.PrepareContext(ctx, `INSERT INTO match_logs (match_id, step, strategy_id, entry)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer lstmt.Close()
	for _, entry := range m.Log {
		b, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("encode log entry: %w", err)
		}
		if _, err := lstmt.ExecContext(ctx, m.ID, entry.Step, entry.StrategyID, string(b)); err != nil {
			return fmt.Errorf("insert log %s step %d: %w", m.ID, entry.Step, err)
		}
	}
	return tx.Commit()
}

// GetMatch retrieves a match with its ranked results.
func (s *SQLiteStore) GetMatch(ctx context.Context, id string, includeLogs bool) (*domain.Match, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = ?`, id)
	m, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("match %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if m.Results, err = s.results(ctx, id); err != nil {
		return nil, err
	}
	if includeLogs {
		if m.Log, err = s.logs(ctx, id); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ListMatches returns match headers with results, newest first.
func (s *SQLiteStore) ListMatches(ctx context.Context, limit int) ([]domain.Match, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+matchColumns+` FROM matches
		ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	var out []domain.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if out[i].Results, err = s.results(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ValueHistory returns the stored value history of one participant.
func (s *SQLiteStore) ValueHistory(ctx context.Context, matchID, strategyID string) ([]float64, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value_history FROM match_participants
		WHERE match_id = ? AND strategy_id = ?`, matchID, strategyID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("match %s strategy %s: %w", matchID, strategyID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var values []float64
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("decode value history: %w", err)
	}
	return values, nil
}

func (s *SQLiteStore) results(ctx context.Context, matchID string) ([]domain.MatchResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT strategy_id, final_value, return_pct, total_trades,
		win_trades, sell_trades, win_rate, rank, max_drawdown, sharpe_ratio
		FROM match_participants WHERE match_id = ? ORDER BY rank`, matchID)
	if err != nil {
		return nil, fmt.Errorf("load results %s: %w", matchID, err)
	}
	defer rows.Close()

	var out []domain.MatchResult
	for rows.Next() {
		var r domain.MatchResult
		if err := rows.Scan(&r.StrategyID, &r.FinalValue, &r.ReturnPct, &r.TotalTrades,
			&r.WinTrades, &r.SellTrades, &r.WinRate, &r.Rank, &r.MaxDrawdown, &r.SharpeRatio); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) logs(ctx context.Context, matchID string) ([]domain.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT entry FROM match_logs WHERE match_id = ? ORDER BY id`, matchID)
	if err != nil {
		return nil, fmt.Errorf("load logs %s: %w", matchID, err)
	}
	defer rows.Close()

	var out []domain.LogEntry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var entry domain.LogEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("decode log entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Row helpers
// ---------------------------------------------------------------------------

type scanner interface {
	Scan(dest ...any) error
}

func scanStrategy(row scanner) (*domain.StrategySpec, error) {
	var (
		st               domain.StrategySpec
		params           string
		created, updated string
	)
	if err := row.Scan(&st.ID, &st.Name, &st.Type, &params, &st.Code, &st.Description,
		&st.Stats.TotalMatches, &st.Stats.Wins, &st.Stats.WinRate, &st.Stats.AvgReturn,
		&st.Stats.SharpeRatio, &st.Stats.MaxDrawdown, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &st.Params); err != nil {
		return nil, fmt.Errorf("decode params of %s: %w", st.ID, err)
	}
	st.CreatedAt = parseTime(created)
	st.UpdatedAt = parseTime(updated)
	return &st, nil
}

func scanMatch(row scanner) (*domain.Match, error) {
	var (
		m          domain.Match
		status     string
		cfg, ids   string
		start, end sql.NullString
		created    string
	)
	if err := row.Scan(&m.ID, &status, &cfg, &ids, &m.MarketSource, &m.MarketKind,
		&start, &end, &m.ErrorMessage, &created); err != nil {
		return nil, err
	}
	m.Status = domain.MatchStatus(status)
	if err := json.Unmarshal([]byte(cfg), &m.Config); err != nil {
		return nil, fmt.Errorf("decode config of %s: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(ids), &m.StrategyIDs); err != nil {
		return nil, fmt.Errorf("decode strategy ids of %s: %w", m.ID, err)
	}
	m.StartTime = parseNullTime(start)
	m.EndTime = parseNullTime(end)
	m.CreatedAt = parseTime(created)
	return &m, nil
}

func expectRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
