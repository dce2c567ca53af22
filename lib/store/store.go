// Package store defines the audit log repository used by gateways to persist every step of a SATP session.
package store

import (
	"context"

	"github.com/pkg/errors"
)

// LogRepository persists LocalLog rows. Implementations must be safe for concurrent use.
type LogRepository interface {
	// Create appends a log row. Rows with an existing key overwrite the previous one.
	Create(ctx context.Context, l LocalLog) error
	// ReadByID returns the row stored under key.
	ReadByID(ctx context.Context, key string) (LocalLog, error)
	// ReadLastestLog returns the most recent row of a session.
	ReadLastestLog(ctx context.Context, sessionID string) (LocalLog, error)
	// ReadLogsBySession returns every row of a session, oldest first.
	ReadLogsBySession(ctx context.Context, sessionID string) ([]LocalLog, error)
	// FetchSessionIDs returns the ids of all sessions with at least one row.
	FetchSessionIDs(ctx context.Context) ([]string, error)
	Close() error
}

// Errors returned
var (
	ErrLogNotFound = errors.New("log was not found in store")
	ErrNoKey       = errors.New("log key is empty")
)
