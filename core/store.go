package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ProfileVersion is the opaque version token a LedgerStore hands back on
// read and requires (unchanged) on write.
type ProfileVersion int64

// ReadResult is the outcome of LedgerStore.ReadProfile: Data is nil when no
// profile has ever been written for the user — never an error.
type ReadResult struct {
	Data    *Profile
	Version ProfileVersion
}

// LedgerStore is the Ledger Store Client contract (C4): a versioned
// read/conditional-write of the per-user Wallet Profile, plus the lease
// primitives Session Owner (C3) builds single-writer enforcement on top of.
type LedgerStore interface {
	ReadProfile(ctx context.Context, userID string) (ReadResult, error)
	ConditionalWrite(ctx context.Context, userID string, profile Profile, match ProfileVersion) (ProfileVersion, error)

	// AcquireLease attempts to claim the session lock for userID for ttl,
	// returning ok=false (no error) if another node already holds it.
	AcquireLease(ctx context.Context, userID, nodeID string, ttl time.Duration) (ok bool, err error)
	// RenewLease extends an already-held lease; ok=false means the lease
	// was lost (expired or stolen) and must be treated as Released.
	RenewLease(ctx context.Context, userID, nodeID string, ttl time.Duration) (ok bool, err error)
	// ReleaseLease drops the lease if still held by nodeID.
	ReleaseLease(ctx context.Context, userID, nodeID string) error
}

const (
	walletKeyPrefix  = "wallet:"
	walletVerSuffix  = ":v"
	leaseKeyPrefix   = "wallet-lease:"
)

func walletKey(userID string) string { return walletKeyPrefix + userID }
func walletVerKey(userID string) string { return walletKeyPrefix + userID + walletVerSuffix }
func leaseKey(userID string) string  { return leaseKeyPrefix + userID }

// RedisLedgerStore backs LedgerStore with a single shared, pooled
// *redis.Client — the way core/connection_pool.go in the reference fleet
// shares one dialed-connection pool across all callers on a node, rather
// than opening a connection per session.
type RedisLedgerStore struct {
	client *redis.Client
	log    *logrus.Logger
}

// NewRedisLedgerStore wraps an already-constructed *redis.Client. The caller
// owns the client's lifecycle (construction from config, Close on shutdown).
func NewRedisLedgerStore(client *redis.Client, log *logrus.Logger) *RedisLedgerStore {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RedisLedgerStore{client: client, log: log}
}

func (s *RedisLedgerStore) ReadProfile(ctx context.Context, userID string) (ReadResult, error) {
	pipe := s.client.TxPipeline()
	dataCmd := pipe.Get(ctx, walletKey(userID))
	verCmd := pipe.Get(ctx, walletVerKey(userID))
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return ReadResult{}, classifyRedisErr(err)
	}

	raw, err := dataCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return ReadResult{Data: nil, Version: 0}, nil
	}
	if err != nil {
		return ReadResult{}, classifyRedisErr(err)
	}
	var profile Profile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return ReadResult{}, &PermanentError{Cause: fmt.Errorf("decode wallet profile: %w", err)}
	}

	ver, err := verCmd.Int64()
	if errors.Is(err, redis.Nil) {
		ver = 0
	} else if err != nil {
		return ReadResult{}, classifyRedisErr(err)
	}
	return ReadResult{Data: &profile, Version: ProfileVersion(ver)}, nil
}

// conditionalWriteScript performs the compare-and-set atomically: it only
// writes the new profile (and bumps the version counter) if the current
// version counter still equals the caller's expected version.
var conditionalWriteScript = redis.NewScript(`
local cur = tonumber(redis.call("GET", KEYS[2]) or "0")
local expect = tonumber(ARGV[2])
if cur ~= expect then
	return -1
end
local newVer = cur + 1
redis.call("SET", KEYS[1], ARGV[1])
redis.call("SET", KEYS[2], tostring(newVer))
return newVer
`)

func (s *RedisLedgerStore) ConditionalWrite(ctx context.Context, userID string, profile Profile, match ProfileVersion) (ProfileVersion, error) {
	raw, err := json.Marshal(profile)
	if err != nil {
		return 0, &PermanentError{Cause: fmt.Errorf("encode wallet profile: %w", err)}
	}
	res, err := conditionalWriteScript.Run(ctx, s.client,
		[]string{walletKey(userID), walletVerKey(userID)},
		string(raw), int64(match),
	).Int64()
	if err != nil {
		return 0, classifyRedisErr(err)
	}
	if res < 0 {
		return 0, ErrVersionConflict
	}
	return ProfileVersion(res), nil
}

func (s *RedisLedgerStore) AcquireLease(ctx context.Context, userID, nodeID string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, leaseKey(userID), nodeID, ttl).Result()
	if err != nil {
		return false, classifyRedisErr(err)
	}
	return ok, nil
}

// renewLeaseScript extends the TTL only if the caller still owns the lease.
var renewLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

func (s *RedisLedgerStore) RenewLease(ctx context.Context, userID, nodeID string, ttl time.Duration) (bool, error) {
	res, err := renewLeaseScript.Run(ctx, s.client, []string{leaseKey(userID)}, nodeID, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, classifyRedisErr(err)
	}
	return res == 1, nil
}

// releaseLeaseScript deletes the lease only if the caller still owns it,
// avoiding the race where a stale release clobbers a newer owner's lease.
var releaseLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (s *RedisLedgerStore) ReleaseLease(ctx context.Context, userID, nodeID string) error {
	_, err := releaseLeaseScript.Run(ctx, s.client, []string{leaseKey(userID)}, nodeID).Int64()
	if err != nil {
		return classifyRedisErr(err)
	}
	return nil
}

func classifyRedisErr(err error) error {
	if err == nil {
		return nil
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return &TransientError{Cause: err}
	}
	if errors.Is(err, redis.Nil) {
		return nil
	}
	// go-redis surfaces cluster/loading/busy conditions as plain errors;
	// treat anything not positively identified as permanent failure below
	// as transient, since a connection-pool-level failure is by far the
	// common case in production and should be retried.
	return &TransientError{Cause: err}
}

// ApplyWithRetry wraps a single read-apply-write cycle in the retry loop
// described in §4.4: on ErrVersionConflict it re-reads, reconstructs the
// ring from the freshly read Processed slice (to avoid double-accounting),
// re-applies, and re-writes, up to maxRetries attempts in total. A retry
// starts immediately after the conflict; there is no delay between attempts.
func ApplyWithRetry(ctx context.Context, store LedgerStore, cmd Command, ringCapacity, maxRetries int, now func() int64) (ApplyResult, error) {
	if maxRetries <= 0 {
		maxRetries = 4
	}
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		read, err := store.ReadProfile(ctx, cmd.UserID)
		if err != nil {
			return ApplyResult{}, err
		}
		var balance int64
		var seed []Record
		if read.Data != nil {
			balance = read.Data.Balance
			seed = read.Data.Processed
		}
		ring, err := NewRing(ringCapacity, seed)
		if err != nil {
			return ApplyResult{}, &PermanentError{Cause: err}
		}
		result := Apply(balance, cmd, ring, now())
		if !result.Inserted {
			return result, nil
		}
		newProfile := Profile{Balance: result.Balance, Processed: ring.ListOldestFirst()}
		if _, err := store.ConditionalWrite(ctx, cmd.UserID, newProfile, read.Version); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				lastErr = err
				continue
			}
			return ApplyResult{}, err
		}
		return result, nil
	}
	return ApplyResult{}, &TransientError{Cause: fmt.Errorf("exhausted %d retries: %w", maxRetries, lastErr)}
}
