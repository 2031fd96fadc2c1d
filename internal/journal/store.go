// Package journal хранит диагностические события и решения детектора в
// SQLite для последующей настройки порогов.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"falldetect-service/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS diagnostics (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL,
	kind        TEXT NOT NULL,
	state       TEXT NOT NULL,
	value       REAL NOT NULL,
	sample_ts   INTEGER NOT NULL,
	detail_json TEXT,
	created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_diagnostics_kind ON diagnostics(kind);

CREATE TABLE IF NOT EXISTS verdicts (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id        TEXT NOT NULL,
	outcome           TEXT NOT NULL,
	impact_at         INTEGER NOT NULL,
	stillness_ratio   REAL NOT NULL,
	still_samples     INTEGER NOT NULL,
	total_samples     INTEGER NOT NULL,
	mean_magnitude    REAL NOT NULL,
	max_magnitude     REAL NOT NULL,
	insufficient_data INTEGER NOT NULL,
	decided_at        TEXT NOT NULL
);
`

// Store журнал в SQLite
type Store struct {
	db *sql.DB
}

// NewStore открывает базу и применяет схему
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// один писатель, иначе SQLITE_BUSY при параллельной записи
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close закрывает соединение
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping проверяет доступность базы
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Record записывает диагностическое событие
func (s *Store) Record(e models.DiagnosticEvent) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	var detail any
	if len(e.Detail) > 0 {
		raw, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshal detail: %w", err)
		}
		detail = string(raw)
	}

	_, err := s.db.Exec(
		`INSERT INTO diagnostics (session_id, kind, state, value, sample_ts, detail_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID,
		string(e.Kind),
		e.State,
		e.Value,
		int64(e.Timestamp),
		detail,
		e.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record diagnostic: %w", err)
	}
	return nil
}

// RecordVerdict записывает решение
func (s *Store) RecordVerdict(v models.Verdict) error {
	if v.DecidedAt.IsZero() {
		v.DecidedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO verdicts (session_id, outcome, impact_at, stillness_ratio, still_samples, total_samples,
		                       mean_magnitude, max_magnitude, insufficient_data, decided_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.SessionID,
		string(v.Outcome),
		int64(v.ImpactAt),
		v.StillnessRatio,
		v.StillSamples,
		v.TotalSamples,
		v.MeanMagnitude,
		v.MaxMagnitude,
		v.InsufficientData,
		v.DecidedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record verdict: %w", err)
	}
	return nil
}

// Recent возвращает последние limit событий, новые первыми.
// Пустой kind означает все типы.
func (s *Store) Recent(limit int, kind models.DiagnosticKind) ([]models.DiagnosticEvent, error) {
	query := `SELECT session_id, kind, state, value, sample_ts, detail_json, created_at
	          FROM diagnostics`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query diagnostics: %w", err)
	}
	defer rows.Close()

	var out []models.DiagnosticEvent
	for rows.Next() {
		var (
			e       models.DiagnosticEvent
			kindStr string
			ts      int64
			detail  sql.NullString
			created string
		)
		if err := rows.Scan(&e.SessionID, &kindStr, &e.State, &e.Value, &ts, &detail, &created); err != nil {
			return nil, fmt.Errorf("scan diagnostic: %w", err)
		}
		e.Kind = models.DiagnosticKind(kindStr)
		e.Timestamp = uint64(ts)
		if detail.Valid {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshal detail: %w", err)
			}
		}
		e.At, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecentVerdicts возвращает последние limit решений, новые первыми
func (s *Store) RecentVerdicts(limit int) ([]models.Verdict, error) {
	rows, err := s.db.Query(
		`SELECT session_id, outcome, impact_at, stillness_ratio, still_samples, total_samples,
		        mean_magnitude, max_magnitude, insufficient_data, decided_at
		 FROM verdicts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query verdicts: %w", err)
	}
	defer rows.Close()

	var out []models.Verdict
	for rows.Next() {
		var (
			v       models.Verdict
			outcome string
			impact  int64
			decided string
		)
		if err := rows.Scan(&v.SessionID, &outcome, &impact, &v.StillnessRatio, &v.StillSamples, &v.TotalSamples,
			&v.MeanMagnitude, &v.MaxMagnitude, &v.InsufficientData, &decided); err != nil {
			return nil, fmt.Errorf("scan verdict: %w", err)
		}
		v.Outcome = models.Outcome(outcome)
		v.ImpactAt = uint64(impact)
		v.DecidedAt, _ = time.Parse(time.RFC3339Nano, decided)
		out = append(out, v)
	}
	return out, rows.Err()
}

// CountByKind возвращает число событий каждого типа
func (s *Store) CountByKind() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT kind, COUNT(*) FROM diagnostics GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count diagnostics: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}
