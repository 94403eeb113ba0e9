// Package redisqueue implements queue.Queue on Redis so several worker
// processes can share one queue.
//
// Layout, for a queue named N under prefix P:
//
//	P q:N:vis        sorted set, member = message id, score = next-visible ms
//	P q:N:msg:<id>   hash {body, receipt, dq, ins}
//
// Receive, Delete and ExtendVisibility are Lua scripts so the visibility
// claim and the receipt check are atomic across processes.
package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rzbill/pcs/internal/queue"
	"github.com/rzbill/pcs/pkg/id"
)

var (
	receiveScript = redis.NewScript(`
local mid, mk
while true do
	local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 1)
	if #ids == 0 then
		return false
	end
	mid = ids[1]
	mk = ARGV[4] .. mid
	if redis.call("EXISTS", mk) == 1 then
		break
	end
	redis.call("ZREM", KEYS[1], mid)
end
redis.call("ZADD", KEYS[1], ARGV[2], mid)
local dq = redis.call("HINCRBY", mk, "dq", 1)
redis.call("HSET", mk, "receipt", ARGV[3])
local v = redis.call("HMGET", mk, "body", "ins")
return {mid, dq, v[1], v[2]}`)

	// -1: no such message, 0: receipt mismatch, 1: done
	deleteScript = redis.NewScript(`
local r = redis.call("HGET", KEYS[2], "receipt")
if not r then
	return -1
end
if ARGV[1] == "" or r ~= ARGV[1] then
	return 0
end
redis.call("DEL", KEYS[2])
redis.call("ZREM", KEYS[1], ARGV[2])
return 1`)

	extendScript = redis.NewScript(`
local r = redis.call("HGET", KEYS[2], "receipt")
if not r then
	return -1
end
if ARGV[1] == "" or r ~= ARGV[1] then
	return 0
end
redis.call("ZADD", KEYS[1], "XX", ARGV[3], ARGV[2])
return 1`)
)

// Options configures a Queue.
type Options struct {
	// KeyPrefix namespaces every key, e.g. "pcs:".
	KeyPrefix string
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Queue is a Redis-backed queue.Queue.
type Queue struct {
	client redis.UniversalClient
	name   string
	prefix string
	ids    *id.Generator
	now    func() time.Time
}

// New returns the queue called name on client.
func New(client redis.UniversalClient, name string, opts Options) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redisqueue: nil client")
	}
	if name == "" {
		return nil, errors.New("redisqueue: empty queue name")
	}
	q := &Queue{client: client, name: name, prefix: opts.KeyPrefix, now: opts.Now}
	if q.now == nil {
		q.now = time.Now
	}
	q.ids = id.NewGenerator(q.now)
	return q, nil
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

func (q *Queue) visKey() string { return q.prefix + "q:" + q.name + ":vis" }
func (q *Queue) msgPrefix() string { return q.prefix + "q:" + q.name + ":msg:" }
func (q *Queue) msgKey(mid string) string { return q.msgPrefix() + mid }

// Send implements queue.Sender.
func (q *Queue) Send(ctx context.Context, body []byte, delay time.Duration) (string, error) {
	if delay < 0 {
		delay = 0
	}
	now := q.now()
	mid := q.ids.Next().String()
	_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.msgKey(mid), "body", body, "receipt", "", "dq", 0, "ins", now.UnixMilli())
		p.ZAdd(ctx, q.visKey(), redis.Z{Score: float64(now.Add(delay).UnixMilli()), Member: mid})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("redisqueue: send: %w", err)
	}
	return mid, nil
}

// Receive implements queue.Receiver.
func (q *Queue) Receive(ctx context.Context, visibilityTimeout time.Duration) (*queue.Message, error) {
	if visibilityTimeout < 0 {
		visibilityTimeout = 0
	}
	now := q.now()
	visible := now.Add(visibilityTimeout)
	receipt := uuid.NewString()
	res, err := receiveScript.Run(ctx, q.client, []string{q.visKey()},
		now.UnixMilli(), visible.UnixMilli(), receipt, q.msgPrefix()).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redisqueue: receive: %w", err)
	}
	if len(res) != 4 {
		return nil, fmt.Errorf("redisqueue: receive: unexpected reply %v", res)
	}
	mid, _ := res[0].(string)
	dq, _ := res[1].(int64)
	body, _ := res[2].(string)
	insMs, _ := strconv.ParseInt(fmt.Sprint(res[3]), 10, 64)
	return &queue.Message{
		ID:            mid,
		PopReceipt:    receipt,
		DequeueCount:  dq,
		Body:          []byte(body),
		InsertedAt:    time.UnixMilli(insMs),
		NextVisibleAt: visible,
	}, nil
}

func scriptResult(op string, n int64, err error) error {
	if err != nil {
		return fmt.Errorf("redisqueue: %s: %w", op, err)
	}
	switch n {
	case -1:
		return queue.ErrMessageNotFound
	case 0:
		return queue.ErrReceiptMismatch
	}
	return nil
}

// Delete implements queue.Receiver.
func (q *Queue) Delete(ctx context.Context, mid, popReceipt string) error {
	n, err := deleteScript.Run(ctx, q.client, []string{q.visKey(), q.msgKey(mid)}, popReceipt, mid).Int64()
	return scriptResult("delete", n, err)
}

// ExtendVisibility implements queue.VisibilityExtender.
func (q *Queue) ExtendVisibility(ctx context.Context, mid, popReceipt string, visibilityTimeout time.Duration) error {
	until := q.now().Add(visibilityTimeout).UnixMilli()
	n, err := extendScript.Run(ctx, q.client, []string{q.visKey(), q.msgKey(mid)}, popReceipt, mid, until).Int64()
	return scriptResult("extend visibility", n, err)
}

// Len implements queue.Queue. It counts visible and in-flight messages.
func (q *Queue) Len(ctx context.Context) (int, error) {
	n, err := q.client.ZCard(ctx, q.visKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redisqueue: len: %w", err)
	}
	return int(n), nil
}

var (
	_ queue.Queue              = (*Queue)(nil)
	_ queue.VisibilityExtender = (*Queue)(nil)
)
