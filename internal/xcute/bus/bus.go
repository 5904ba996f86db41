// Package bus implements the engine's message-bus abstraction: a FIFO
// queue service with tubes supporting put, reserve, delete, and tubes
// introspection, modeled on beanstalkd. This package backs that contract
// with Redis Lists for queue semantics and a registry SET per endpoint
// for tube discovery.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xcute-engine/xcute/internal/platform/logger"
)

// Message is the bus envelope: a task dispatched to a worker, carrying
// the reply address the worker must answer on.
type Message struct {
	JobID           string         `json:"job_id"`
	Task            string         `json:"task"`
	Item            string         `json:"item"`
	Kwargs          map[string]any `json:"kwargs"`
	BeanstalkdReply ReplyAddr      `json:"beanstalkd_reply"`
}

// ReplyAddr names where a worker must post its reply.
type ReplyAddr struct {
	Addr string `json:"addr"`
	Tube string `json:"tube"`
}

// Reply is the wire shape a worker posts back.
type Reply struct {
	JobID string          `json:"job_id"`
	Res   json.RawMessage `json:"res"`
	Exc   json.RawMessage `json:"exc"`
}

// ErrReserveTimeout is returned by Reserve when no message arrives within
// the given timeout; callers treat it as "nothing ready right now", not a
// failure.
var ErrReserveTimeout = errors.New("bus: reserve timeout")

// Bus is the tube-oriented queue contract both the orchestrator (reply
// tube, workers tube) and the worker runtime (workers tube, reply tubes)
// use. Every tube is addressed by (addr, tube) so an orchestrator/worker
// can reopen a connection to a different endpoint without re-dialing a
// fixed client.
type Bus interface {
	// Put enqueues raw bytes onto tube at addr.
	Put(ctx context.Context, addr, tube string, payload []byte) error

	// Reserve blocks up to timeout for the next message on tube at addr.
	// Returns ErrReserveTimeout if none arrives in time.
	Reserve(ctx context.Context, addr, tube string, timeout time.Duration) ([]byte, error)

	// Tubes lists the tube names currently advertised by the endpoint at
	// addr.
	Tubes(ctx context.Context, addr string) ([]string, error)

	// Advertise registers tube as served by addr, so Tubes(addr) reports
	// it; called by worker processes and the orchestrator's own reply
	// endpoint at startup.
	Advertise(ctx context.Context, addr, tube string) error

	// Endpoints lists every addr that has ever called Advertise, with its
	// current liveness score. A freshly advertised endpoint scores 1; a
	// deregistered one scores 0 and is filtered out by worker discovery.
	Endpoints(ctx context.Context) (map[string]float64, error)

	// Deregister zeroes addr's score so the next worker-discovery poll
	// drops it, without erasing its tube set (a reconnect re-advertises).
	Deregister(ctx context.Context, addr string) error

	// QueueLen reports how many messages are currently pending on tube at
	// addr, so the dispatch loop can treat a deeply backed-up worker as
	// "full".
	QueueLen(ctx context.Context, addr, tube string) (int64, error)

	Close() error
}

var (
	_ Bus = (*redisBus)(nil)
	_ Bus = (*MemoryBus)(nil)
)

type redisBus struct {
	log *logger.Logger
	rdb *goredis.Client
}

// New connects a Bus to the Redis instance at addr. The same Redis
// instance is conventionally used as both the bus and the backend store,
// but the two are addressed independently.
func New(ctx context.Context, addr string, log *logger.Logger) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("bus: logger required")
	}
	if addr == "" {
		return nil, fmt.Errorf("bus: missing address")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr, DialTimeout: 5 * time.Second})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("bus: redis ping: %w", err)
	}
	return &redisBus{log: log.With("component", "RedisBus"), rdb: rdb}, nil
}

func queueKey(addr, tube string) string { return "xcute:bus:tube:" + addr + ":" + tube }
func tubesKey(addr string) string       { return "xcute:bus:tubes:" + addr }
func endpointsKey() string              { return "xcute:bus:endpoints" }

func (b *redisBus) Put(ctx context.Context, addr, tube string, payload []byte) error {
	return b.rdb.LPush(ctx, queueKey(addr, tube), payload).Err()
}

func (b *redisBus) Reserve(ctx context.Context, addr, tube string, timeout time.Duration) ([]byte, error) {
	res, err := b.rdb.BRPop(ctx, timeout, queueKey(addr, tube)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrReserveTimeout
	}
	if err != nil {
		return nil, err
	}
	// BRPop returns [key, value]; we queried exactly one key.
	if len(res) < 2 {
		return nil, ErrReserveTimeout
	}
	return []byte(res[1]), nil
}

func (b *redisBus) Tubes(ctx context.Context, addr string) ([]string, error) {
	return b.rdb.SMembers(ctx, tubesKey(addr)).Result()
}

func (b *redisBus) Advertise(ctx context.Context, addr, tube string) error {
	pipe := b.rdb.TxPipeline()
	pipe.SAdd(ctx, tubesKey(addr), tube)
	pipe.ZAdd(ctx, endpointsKey(), goredis.Z{Score: 1, Member: addr})
	_, err := pipe.Exec(ctx)
	return err
}

func (b *redisBus) Deregister(ctx context.Context, addr string) error {
	return b.rdb.ZAdd(ctx, endpointsKey(), goredis.Z{Score: 0, Member: addr}).Err()
}

func (b *redisBus) Endpoints(ctx context.Context) (map[string]float64, error) {
	zs, err := b.rdb.ZRangeWithScores(ctx, endpointsKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(zs))
	for _, z := range zs {
		if addr, ok := z.Member.(string); ok {
			out[addr] = z.Score
		}
	}
	return out, nil
}

func (b *redisBus) QueueLen(ctx context.Context, addr, tube string) (int64, error) {
	return b.rdb.LLen(ctx, queueKey(addr, tube)).Result()
}

func (b *redisBus) Close() error { return b.rdb.Close() }
