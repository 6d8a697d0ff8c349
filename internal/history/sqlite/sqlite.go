// Package sqlite is the history.Sink backend: an embedded, always-available
// audit store for a platform with no external database server. Grounded on
// the teacher's internal/history/sqlite package, field-for-field the same
// open/schema/insert shape, adapted from process-start/stop records to the
// broader app/fault/watchdog event set of internal/history.Event.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/appsupervisor/internal/history"
)

// Sink writes audit events to a SQLite database.
type Sink struct {
	db *sql.DB
}

// New opens (creating if necessary) the audit database at dsn. Accepted
// forms: "sqlite:///path/to/file.db", "sqlite://:memory:", a bare path, or
// ":memory:".
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = strings.TrimPrefix(dsn, "sqlite://")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS supervisor_history(
		timestamp TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
		type TEXT NOT NULL,
		app_name TEXT NOT NULL,
		pid INTEGER NOT NULL DEFAULT 0,
		detail TEXT,
		result TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO supervisor_history(timestamp, type, app_name, pid, detail, result)
		VALUES(?, ?, ?, ?, ?, ?);`,
		e.OccurredAt.UTC(), string(e.Type), e.AppName, e.PID, e.Detail, e.Result.String())
	return err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
