// Package sentinel provides a single "open a Redis client" entry point
// that transparently resolves the current master through Redis Sentinel
// when a host descriptor names a Sentinel cluster, plus the failover-error
// check and rebind helper (IsFailoverError, Reopen) that callers build
// their master-rebind-on-error retry from (spec.md §4.7). Open itself
// returns a plain client with no retry wrapping.
//
// go-redis/v9's FailoverClient already performs Sentinel master discovery
// internally, which is the idiomatic Go equivalent of the
// dial-then-TestOnBorrow dance older Redis clients need; this package's
// job is just picking FailoverClient vs. a direct Client from one
// descriptor and normalizing the "should we re-resolve" error check.
package sentinel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// HostDescriptor configures one Redis connection, either directly or
// through Sentinel.
type HostDescriptor struct {
	// Addr is a direct "host:port" address. Ignored when MasterName and
	// SentinelAddrs are both set.
	Addr string
	// MasterName and SentinelAddrs, when both set, select Sentinel mode:
	// the client tracks whichever node Sentinel currently reports as
	// master for MasterName.
	MasterName    string
	SentinelAddrs []string

	Password string
	DB       int
	PoolSize int

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

func (d HostDescriptor) useSentinel() bool {
	return d.MasterName != "" && len(d.SentinelAddrs) > 0
}

// Open returns a *redis.Client pointed at d's master, resolving through
// Sentinel when configured. The returned client is interchangeable with
// one built from a direct address: callers never need to know which path
// was taken.
func Open(d HostDescriptor) (*redis.Client, error) {
	if d.useSentinel() {
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    d.MasterName,
			SentinelAddrs: d.SentinelAddrs,
			Password:      d.Password,
			DB:            d.DB,
			PoolSize:      d.PoolSize,
			DialTimeout:   d.ConnectTimeout,
			ReadTimeout:   d.ReadTimeout,
			WriteTimeout:  d.WriteTimeout,
		}), nil
	}
	if d.Addr == "" {
		return nil, fmt.Errorf("sentinel: host descriptor needs Addr or MasterName+SentinelAddrs")
	}
	return redis.NewClient(&redis.Options{
		Addr:         d.Addr,
		Password:     d.Password,
		DB:           d.DB,
		PoolSize:     d.PoolSize,
		DialTimeout:  d.ConnectTimeout,
		ReadTimeout:  d.ReadTimeout,
		WriteTimeout: d.WriteTimeout,
	}), nil
}

// IsFailoverError reports whether err indicates the connection's target is
// no longer the master — a stale read-only replica, a refused
// connection, or an I/O timeout — meaning the caller should re-resolve (Open a fresh client)
// rather than retry the same connection. Mirrors the error family centrifugo
// watches for in its Sentinel TestOnBorrow check.
func IsFailoverError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "READONLY") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connect: connection refused") ||
		strings.Contains(msg, "i/o timeout")
}

// Reopen closes client and opens a fresh one from d, for use after
// IsFailoverError reports true.
func Reopen(ctx context.Context, client *redis.Client, d HostDescriptor) (*redis.Client, error) {
	_ = client.Close()
	fresh, err := Open(d)
	if err != nil {
		return nil, err
	}
	if err := fresh.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("sentinel: reopen: %w", err)
	}
	return fresh, nil
}
