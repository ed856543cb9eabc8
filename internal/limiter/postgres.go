package limiter

import (
	"context"
	"crypto/sha256"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/timeslots/internal/txn"
)

// PG is a PostgreSQL-backed limiter with a sliding failure window and lockout.
type PG struct {
	db       txn.Querier
	window   time.Duration
	maxFails int
	blockFor time.Duration
}

// NewPG constructs a PostgreSQL-backed limiter over the access_limiter table.
func NewPG(db txn.Querier, window time.Duration, maxFails int, blockFor time.Duration) *PG {
	return &PG{db: db, window: window, maxFails: maxFails, blockFor: blockFor}
}

// HashIP returns a stable hash for an address so raw peers are never stored.
func HashIP(ip string) []byte {
	h := sha256.Sum256([]byte(ip))
	return h[:]
}

// Allow reports whether (key, ip) is currently allowed and a retry-after duration.
func (l *PG) Allow(ctx context.Context, key string, ipHash []byte) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM access_limiter WHERE key=$1 AND ip_hash=$2`
	var blockedUntil time.Time
	err := l.db.QueryRow(ctx, q, key, ipHash).Scan(&blockedUntil)
	switch {
	case err == nil:
		if d := time.Until(blockedUntil); d > 0 {
			return false, d, nil
		}
		return true, 0, nil
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Failure records a denied call and blocks (key, ip) once maxFails is reached within window.
func (l *PG) Failure(ctx context.Context, key string, ipHash []byte) (bool, time.Duration, error) {
	const q = `
INSERT INTO access_limiter (key, ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1,$2,1,'epoch',now())
ON CONFLICT (key, ip_hash) DO UPDATE
SET
  fail_count = CASE WHEN EXCLUDED.updated_at - access_limiter.updated_at > $3::interval THEN 1 ELSE access_limiter.fail_count + 1 END,
  updated_at = now()
RETURNING fail_count`
	var fails int
	if err := l.db.QueryRow(ctx, q, key, ipHash, l.window).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails < l.maxFails {
		return false, 0, nil
	}
	const upd = `UPDATE access_limiter SET blocked_until=$3 WHERE key=$1 AND ip_hash=$2`
	if _, err := l.db.Exec(ctx, upd, key, ipHash, time.Now().Add(l.blockFor)); err != nil {
		return false, 0, err
	}
	return true, l.blockFor, nil
}
