// Package statecache shares worker lifecycle state through Redis so an
// operator (or a deployment tool) can drain and restart every replica of a
// processor without talking to each process directly.
//
// Each replica owns one hash, P replica:<name>, with fields
//
//	state       the state the replica last published
//	desired     the last start/stop command ("Working" or "Stopped")
//	seq         incremented by every command
//	updated_at  unix seconds of the last write
//
// and is listed in the set P replicas.
package statecache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rzbill/pcs/internal/workitem"
)

// ErrUnknownReplica is returned for a replica that never published state.
var ErrUnknownReplica = errors.New("statecache: unknown replica")

// Cache reads and writes replica state.
type Cache struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// New returns a cache whose keys live under prefix (e.g. "pcs:").
func New(client redis.UniversalClient, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix, now: time.Now}
}

func (c *Cache) replicaKey(replica string) string { return c.prefix + "replica:" + replica }
func (c *Cache) setKey() string { return c.prefix + "replicas" }

// SetState records the state replica is in.
func (c *Cache) SetState(ctx context.Context, replica string, s workitem.State) error {
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, c.replicaKey(replica), map[string]interface{}{
			"state":      s.String(),
			"updated_at": c.now().Unix(),
		})
		p.SAdd(ctx, c.setKey(), replica)
		return nil
	})
	if err != nil {
		return fmt.Errorf("statecache: set state of %s: %w", replica, err)
	}
	return nil
}

// GetState returns the state replica last published.
func (c *Cache) GetState(ctx context.Context, replica string) (workitem.State, error) {
	v, err := c.client.HGet(ctx, c.replicaKey(replica), "state").Result()
	if errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownReplica, replica)
	}
	if err != nil {
		return 0, fmt.Errorf("statecache: get state of %s: %w", replica, err)
	}
	return workitem.ParseState(v)
}

// RequestStart asks replica to start processing.
func (c *Cache) RequestStart(ctx context.Context, replica string) error {
	return c.setDesired(ctx, replica, workitem.Working)
}

// RequestStop asks replica to finish its current item and stop.
func (c *Cache) RequestStop(ctx context.Context, replica string) error {
	return c.setDesired(ctx, replica, workitem.Stopped)
}

func (c *Cache) setDesired(ctx context.Context, replica string, s workitem.State) error {
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, c.replicaKey(replica), map[string]interface{}{
			"desired":    s.String(),
			"updated_at": c.now().Unix(),
		})
		p.HIncrBy(ctx, c.replicaKey(replica), "seq", 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("statecache: command %s: %w", replica, err)
	}
	return nil
}

// Command is the last start/stop request for a replica. Seq increases with
// every request, so repeating a command is observable.
type Command struct {
	Desired workitem.State
	Seq     int64
}

// LastCommand returns the last command for replica, or ok=false when none.
func (c *Cache) LastCommand(ctx context.Context, replica string) (cmd Command, ok bool, err error) {
	vals, err := c.client.HMGet(ctx, c.replicaKey(replica), "desired", "seq").Result()
	if err != nil {
		return Command{}, false, fmt.Errorf("statecache: read command for %s: %w", replica, err)
	}
	name, _ := vals[0].(string)
	if name == "" {
		return Command{}, false, nil
	}
	if cmd.Desired, err = workitem.ParseState(name); err != nil {
		return Command{}, false, err
	}
	if seq, _ := vals[1].(string); seq != "" {
		cmd.Seq, err = strconv.ParseInt(seq, 10, 64)
		if err != nil {
			return Command{}, false, fmt.Errorf("statecache: command seq for %s: %w", replica, err)
		}
	}
	return cmd, true, nil
}

// Replicas lists every replica that has published state, sorted.
func (c *Cache) Replicas(ctx context.Context) ([]string, error) {
	out, err := c.client.SMembers(ctx, c.setKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("statecache: list replicas: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// Forget removes replica from the cache.
func (c *Cache) Forget(ctx context.Context, replica string) error {
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, c.replicaKey(replica))
		p.SRem(ctx, c.setKey(), replica)
		return nil
	})
	return err
}

// WaitForState polls until replica reports want or ctx is done.
func (c *Cache) WaitForState(ctx context.Context, replica string, want workitem.State, poll time.Duration) error {
	if poll <= 0 {
		poll = time.Second
	}
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		s, err := c.GetState(ctx, replica)
		if err == nil && s == want {
			return nil
		}
		if err != nil && !errors.Is(err, ErrUnknownReplica) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
