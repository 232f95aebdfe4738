package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/user/qcw_analyzer_go/internal/analysis"
	"github.com/user/qcw_analyzer_go/internal/parser"
)

type sqliteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the sqlite session store at the given DSN.
func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:qcw_analyzer.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			source_path TEXT NOT NULL,
			worklists_json TEXT NOT NULL,
			mapping_json TEXT,
			report_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) SaveSession(ctx context.Context, sess *Session) error {
	worklists, err := json.Marshal(sess.Worklists)
	if err != nil {
		return err
	}
	var mapping, report sql.NullString
	if sess.Mapping != nil {
		b, err := json.Marshal(sess.Mapping)
		if err != nil {
			return err
		}
		mapping = sql.NullString{String: string(b), Valid: true}
	}
	if sess.Report != nil {
		b, err := json.Marshal(sess.Report)
		if err != nil {
			return err
		}
		report = sql.NullString{String: string(b), Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, source_path, worklists_json, mapping_json, report_json)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_path = excluded.source_path,
			worklists_json = excluded.worklists_json,
			mapping_json = excluded.mapping_json,
			report_json = excluded.report_json`,
		sess.ID,
		sess.CreatedAt.UTC().Format(time.RFC3339),
		sess.SourcePath,
		string(worklists),
		mapping,
		report,
	)
	return err
}

func (s *sqliteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, source_path, worklists_json, mapping_json, report_json
		FROM sessions WHERE id = ?`, id)

	var sess Session
	var created, worklists string
	var mapping, report sql.NullString
	err := row.Scan(&sess.ID, &created, &sess.SourcePath, &worklists, &mapping, &report)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if sess.CreatedAt, err = time.Parse(time.RFC3339, created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(worklists), &sess.Worklists); err != nil {
		return nil, err
	}
	if sess.Worklists == nil {
		sess.Worklists = []parser.WorklistInfo{}
	}
	if mapping.Valid {
		if err := json.Unmarshal([]byte(mapping.String), &sess.Mapping); err != nil {
			return nil, err
		}
	}
	if report.Valid {
		sess.Report = &analysis.Report{}
		if err := json.Unmarshal([]byte(report.String), sess.Report); err != nil {
			return nil, err
		}
	}
	return &sess, nil
}

func (s *sqliteStore) Cleanup(ctx context.Context, olderThan time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)

	rows, err := s.db.QueryContext(ctx,
		`SELECT source_path FROM sessions WHERE created_at < ?`, cutoff)
	if err != nil {
		return nil, err
	}
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, err
		}
		paths = append(paths, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE created_at < ?`, cutoff); err != nil {
		return nil, err
	}
	return paths, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
