package warehouse

import (
	"context"
	goerrors "errors"
	"hash/fnv"

	"github.com/go-playground/errors/v5"

	"github.com/shopflow/etl/logger"
)

// ErrTargetLocked means another pipeline invocation holds the merge lock
// for the same target. Two simultaneous merges against one staging area
// would corrupt intermediate state, so the caller must back off.
var ErrTargetLocked = goerrors.New("merge target is locked by another session")

// targetLockKey maps a qualified relation name onto the advisory lock
// keyspace. Independent targets get independent keys, so merges against
// different relations may run concurrently.
func targetLockKey(rel Relation) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(rel.Schema + "." + rel.Name))
	return int64(h.Sum64())
}

// AcquireTargetLock takes a session-level advisory lock for the relation.
// The lock is held on a dedicated pooled connection until released, which
// enforces single active merge per target across invocations.
func (s *sink) AcquireTargetLock(ctx context.Context, rel Relation) error {
	key := targetLockKey(rel)

	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	if _, held := s.locks[key]; held {
		return ErrTargetLocked
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return errors.Wrap(err, "acquire lock connection")
	}

	var locked bool
	if err = conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&locked); err != nil {
		conn.Release()
		return errors.Wrap(err, "advisory lock query")
	}

	if !locked {
		conn.Release()
		return ErrTargetLocked
	}

	s.locks[key] = conn
	logger.Debug("target lock acquired", "relation", rel.Name, "key", key)
	return nil
}

func (s *sink) ReleaseTargetLock(ctx context.Context, rel Relation) error {
	key := targetLockKey(rel)

	s.lockMu.Lock()
	conn, held := s.locks[key]
	delete(s.locks, key)
	s.lockMu.Unlock()

	if !held {
		return nil
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", key); err != nil {
		return errors.Wrap(err, "advisory unlock")
	}

	logger.Debug("target lock released", "relation", rel.Name, "key", key)
	return nil
}
