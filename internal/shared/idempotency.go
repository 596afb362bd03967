package shared

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flooringops/opsdesk/internal/platform/db"
)

const maxIdempotencyKeyLen = 200

var (
	// ErrIdempotencyConflict indicates the key was already used in the module.
	ErrIdempotencyConflict = fmt.Errorf("idempotent request already processed: %w", ErrConflict)
	errKeyRequired         = NewValidationError("Idempotency-Key", "is required")
	errKeyTooLong          = NewValidationError("Idempotency-Key", fmt.Sprintf("must be at most %d characters", maxIdempotencyKeyLen))
)

// IdempotencyStore remembers client supplied request keys, one namespace per module.
type IdempotencyStore struct {
	db  db.DBTX
	now func() time.Time
}

// NewIdempotencyStore constructs the store on a pool or a transaction.
func NewIdempotencyStore(conn db.DBTX) *IdempotencyStore {
	return &IdempotencyStore{db: conn, now: time.Now}
}

func normaliseKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	switch {
	case key == "":
		return "", errKeyRequired
	case len(key) > maxIdempotencyKeyLen:
		return "", errKeyTooLong
	}
	return key, nil
}

// CheckAndInsert claims key for module. A key seen before yields ErrIdempotencyConflict.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if s == nil || s.db == nil {
		return errors.New("idempotency store not initialised")
	}
	key, err := normaliseKey(key)
	if err != nil {
		return err
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)`,
		key, module, s.now().UTC())
	switch {
	case db.IsUniqueViolation(err):
		return ErrIdempotencyConflict
	case err != nil:
		return fmt.Errorf("claim idempotency key: %w", err)
	}
	return nil
}

// Delete releases a claimed key so the client can retry after a failure.
func (s *IdempotencyStore) Delete(ctx context.Context, key, module string) error {
	if s == nil || s.db == nil {
		return nil
	}
	key, err := normaliseKey(key)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1 AND module = $2`, key, module)
	return err
}

// Cleanup forgets keys claimed more than olderThan ago.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if s == nil || s.db == nil {
		return nil
	}
	if olderThan <= 0 {
		return errors.New("idempotency retention must be positive")
	}
	_, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, s.now().UTC().Add(-olderThan))
	return err
}
