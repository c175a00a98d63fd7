// Package lease provides the Redis TTL lease the daemon takes before
// invoking the orchestrator, so two schedulers never upsert the same
// partition concurrently. The sync core itself assumes at-most-one-writer
// and stays lock-free; this is the caller-side mutual exclusion.
package lease

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	syncerrors "github.com/swooshie/sheetsync/pkg/errors"
	"github.com/swooshie/sheetsync/pkg/redis"
)

// Lease is one held run lease.
type Lease struct {
	rdb    *redis.Client
	key    string
	token  string
	logger *slog.Logger
}

func leaseKey(origin string) string {
	return "sheetsync:lease:" + origin
}

// Acquire takes the lease for the origin, or returns ErrRunInProgress when
// another holder has it. The TTL bounds how long a crashed holder can block
// the partition.
func Acquire(ctx context.Context, rdb *redis.Client, origin string, ttl time.Duration) (*Lease, error) {
	token := uuid.NewString()
	ok, err := rdb.SetNX(ctx, leaseKey(origin), token, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquiring lease for %s: %w", origin, err)
	}
	if !ok {
		return nil, syncerrors.Newf(syncerrors.ErrRunInProgress, "",
			"lease for %s is held", origin)
	}
	return &Lease{
		rdb:    rdb,
		key:    leaseKey(origin),
		token:  token,
		logger: slog.Default().With("component", "run-lease", "origin", origin),
	}, nil
}

// Release drops the lease if this holder still owns it. The check-then-del
// is not atomic; the TTL remains the hard guarantee, and a lease that
// expired mid-run is simply left for the next holder.
func (l *Lease) Release(ctx context.Context) {
	current, err := l.rdb.Get(ctx, l.key)
	if err != nil {
		if !redis.IsNilError(err) {
			l.logger.Warn("lease release read failed", "error", err)
		}
		return
	}
	if current != l.token {
		l.logger.Warn("lease no longer held by this run, leaving it")
		return
	}
	if err := l.rdb.Del(ctx, l.key); err != nil {
		l.logger.Warn("lease release failed", "error", err)
	}
}
