// Package db implements the opening and graceful closing of audit log repositories.
package db

import (
	"fmt"

	"github.com/tarancss/satp/lib/store"
	"github.com/tarancss/satp/lib/store/memory"
	"github.com/tarancss/satp/lib/store/mongo"
	"github.com/tarancss/satp/lib/store/postgres"
	"github.com/tarancss/satp/lib/store/redis"
)

const (
	MEMORY   string = "memory"
	MONGODB  string = "mongodb"
	POSTGRES string = "postgresql"
	REDIS    string = "redis"
)

// ErrUnknownStore is returned for an unsupported repository type.
var ErrUnknownStore = fmt.Errorf("unknown log store type")

// New returns a new repository according to the options (store type).
func New(options, connection string) (store.LogRepository, error) {
	switch options {
	case MEMORY, "":
		return memory.New(), nil
	case MONGODB:
		return mongo.New(connection)
	case POSTGRES:
		return postgres.New(connection)
	case REDIS:
		return redis.New(connection)
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownStore, options)
}

// Close gracefully closes the repository connection.
func Close(r store.LogRepository) error {
	if r == nil {
		return nil
	}

	return r.Close()
}
