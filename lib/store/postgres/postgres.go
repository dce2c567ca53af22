// Package postgres implements the audit log repository for PostgreSQL.
package postgres

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq" //nolint:gci // load the postgres driver that is used by the system
	"github.com/pkg/errors"

	"github.com/tarancss/satp/lib/store"
)

const schema = `CREATE TABLE IF NOT EXISTS satp_logs (
	id              BIGSERIAL PRIMARY KEY,
	key             TEXT UNIQUE NOT NULL,
	session_id      TEXT NOT NULL,
	type            TEXT NOT NULL,
	operation       TEXT NOT NULL,
	timestamp       TEXT NOT NULL,
	data            TEXT NOT NULL,
	sequence_number BIGINT NOT NULL DEFAULT 0
)`

// Rewriting a key moves it to the end of the session, like appending a new row.
const upsert = `INSERT INTO satp_logs (key, session_id, type, operation, timestamp, data, sequence_number)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (key) DO UPDATE SET id = nextval('satp_logs_id_seq'), session_id = $2, type = $3, operation = $4,
	timestamp = $5, data = $6, sequence_number = $7`

const columns = `key, session_id, type, operation, timestamp, data, sequence_number`

// Postgres implements a connection to a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// New returns a postgres client connection to the specified database in 'connection' and creates the log table.
func New(connection string) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot connect to DB in %s", connection)
	}

	if _, err = db.Exec(schema); err != nil {
		_ = db.Close()

		return nil, errors.Wrap(err, "cannot create satp_logs table")
	}

	return &Postgres{db: db}, nil
}

// Close will close any database connection. Must be called at termination time.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Create upserts the row by key.
func (p *Postgres) Create(ctx context.Context, l store.LocalLog) error {
	if l.Key == "" {
		return store.ErrNoKey
	}

	_, err := p.db.ExecContext(ctx, upsert,
		l.Key, l.SessionID, l.Type, l.Operation, l.Timestamp, l.Data, int64(l.SequenceNumber))
	if err != nil {
		return errors.Wrapf(err, "could not save log %s", l.Key)
	}

	return nil
}

// ReadByID returns the row stored under key.
func (p *Postgres) ReadByID(ctx context.Context, key string) (store.LocalLog, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+columns+` FROM satp_logs WHERE key = $1`, key)

	return scan(row)
}

// ReadLastestLog returns the last row written for the session.
func (p *Postgres) ReadLastestLog(ctx context.Context, sessionID string) (store.LocalLog, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM satp_logs WHERE session_id = $1 ORDER BY id DESC LIMIT 1`, sessionID)

	return scan(row)
}

// ReadLogsBySession returns the rows of the session, oldest first.
func (p *Postgres) ReadLogsBySession(ctx context.Context, sessionID string) ([]store.LocalLog, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+columns+` FROM satp_logs WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "error querying session logs")
	}
	defer rows.Close()

	var logs []store.LocalLog

	for rows.Next() {
		l, err := scan(rows)
		if err != nil {
			return nil, err
		}

		logs = append(logs, l)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error reading session logs")
	}

	if len(logs) == 0 {
		return nil, store.ErrLogNotFound
	}

	return logs, nil
}

// FetchSessionIDs returns the ids of every logged session.
func (p *Postgres) FetchSessionIDs(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT DISTINCT session_id FROM satp_logs ORDER BY session_id`)
	if err != nil {
		return nil, errors.Wrap(err, "error listing sessions")
	}
	defer rows.Close()

	ids := []string{}

	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "error scanning session id")
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scan(s scanner) (store.LocalLog, error) {
	var (
		l   store.LocalLog
		seq int64
	)

	err := s.Scan(&l.Key, &l.SessionID, &l.Type, &l.Operation, &l.Timestamp, &l.Data, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return l, store.ErrLogNotFound
	}

	if err != nil {
		return l, errors.Wrap(err, "error scanning log")
	}

	l.SequenceNumber = uint64(seq)

	return l, nil
}
