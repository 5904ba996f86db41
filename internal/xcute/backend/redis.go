package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xcute-engine/xcute/internal/platform/logger"
	"github.com/xcute-engine/xcute/internal/xcute/job"
	"github.com/xcute-engine/xcute/internal/xcute/xctypes"
	"github.com/xcute-engine/xcute/internal/xcuteerr"
)

// RedisBackend is the durable xcute store, implemented on Redis. Each job
// record is split across three keys so most fields can be read or
// incremented without a JSON round-trip:
//
//   xcute:job:{id}          HASH  type/status/lock/orchestrator_id/sending/
//                                 items_ /options_json/ctime/mtime
//   xcute:job:{id}:errors   HASH  total + one field per exception class name
//   xcute:job:{id}:details  HASH  one JSON-encoded field per details key
//   xcute:waiting           ZSET  member=id, score=0 (lex order == id order)
//   xcute:jobs              ZSET  member=id, score=0 (full listing index)
//   xcute:orchestrator:{o}  SET   member=id
//   xcute:lock:{key}        STRING value=holding job id
//
// Claim runs as a single Lua script (claimScript) so the "pop a waiting job
// whose lock is free" scan-and-mutate sequence can't race with another
// claim.
type RedisBackend struct {
	log *logger.Logger
	rdb *goredis.Client

	claimSHA  string
	pauseSHA  string
	resumeSHA string
	finishSHA string
	failSHA   string
	deleteSHA string
}

func NewRedis(ctx context.Context, addr string, log *logger.Logger) (*RedisBackend, error) {
	if log == nil {
		return nil, fmt.Errorf("backend: logger required")
	}
	if addr == "" {
		return nil, fmt.Errorf("backend: missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr, DialTimeout: 5 * time.Second})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("backend: redis ping: %w", err)
	}

	b := &RedisBackend{log: log.With("component", "RedisBackend"), rdb: rdb}
	if err := b.loadScripts(ctx); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return b, nil
}

func (b *RedisBackend) Close() error { return b.rdb.Close() }

func (b *RedisBackend) loadScripts(ctx context.Context) error {
	scripts := map[string]string{
		"claim":  claimScript,
		"pause":  pauseScript,
		"resume": resumeScript,
		"finish": finishScript,
		"fail":   failScript,
		"delete": deleteScript,
	}
	shas := map[string]*string{
		"claim": &b.claimSHA, "pause": &b.pauseSHA, "resume": &b.resumeSHA,
		"finish": &b.finishSHA, "fail": &b.failSHA, "delete": &b.deleteSHA,
	}
	for name, src := range scripts {
		sha, err := b.rdb.ScriptLoad(ctx, src).Result()
		if err != nil {
			return fmt.Errorf("backend: load %s script: %w", name, err)
		}
		*shas[name] = sha
	}
	return nil
}

// -------------------- keys --------------------

func jobKey(id string) string      { return "xcute:job:" + id }
func errorsKey(id string) string   { return "xcute:job:" + id + ":errors" }
func detailsKey(id string) string  { return "xcute:job:" + id + ":details" }
func orchKey(oid string) string    { return "xcute:orchestrator:" + oid }

const lockKeyPrefix = "xcute:lock:"
const waitingKey = "xcute:waiting"
const jobsKey = "xcute:jobs"

// -------------------- Create / Get / List --------------------

func (b *RedisBackend) Create(ctx context.Context, record *xctypes.Job) error {
	exists, err := b.rdb.Exists(ctx, jobKey(record.ID)).Result()
	if err != nil {
		return err
	}
	if exists > 0 {
		return fmt.Errorf("%w: job %s", xcuteerr.ErrConflict, record.ID)
	}

	optionsJSON, err := json.Marshal(record.Options)
	if err != nil {
		return err
	}

	pipe := b.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(record.ID), jobHashFields(record, optionsJSON)...)
	if record.Errors.Total > 0 || len(record.Errors.Details) > 0 {
		pipe.HSet(ctx, errorsKey(record.ID), "total", record.Errors.Total)
		for k, v := range record.Errors.Details {
			pipe.HSet(ctx, errorsKey(record.ID), k, v)
		}
	}
	for k, v := range record.Details {
		raw, _ := json.Marshal(v)
		pipe.HSet(ctx, detailsKey(record.ID), k, string(raw))
	}
	pipe.ZAdd(ctx, waitingKey, goredis.Z{Score: 0, Member: record.ID})
	pipe.ZAdd(ctx, jobsKey, goredis.Z{Score: 0, Member: record.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (b *RedisBackend) Get(ctx context.Context, id string) (*xctypes.Job, error) {
	h, err := b.rdb.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, fmt.Errorf("%w: job %s", xcuteerr.ErrNotFound, id)
	}
	errs, err := b.rdb.HGetAll(ctx, errorsKey(id)).Result()
	if err != nil {
		return nil, err
	}
	details, err := b.rdb.HGetAll(ctx, detailsKey(id)).Result()
	if err != nil {
		return nil, err
	}
	return decodeRecord(id, h, errs, details)
}

func (b *RedisBackend) List(ctx context.Context, limit int, marker string) ([]*xctypes.Job, error) {
	if limit <= 0 {
		limit = 1000
	}
	minBound := "-"
	if marker != "" {
		minBound = "(" + marker
	}
	ids, err := b.rdb.ZRangeByLex(ctx, jobsKey, &goredis.ZRangeBy{
		Min: minBound, Max: "+", Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}
	return b.getMany(ctx, ids)
}

func (b *RedisBackend) ListWaiting(ctx context.Context) ([]*xctypes.Job, error) {
	ids, err := b.rdb.ZRangeByLex(ctx, waitingKey, &goredis.ZRangeBy{Min: "-", Max: "+"}).Result()
	if err != nil {
		return nil, err
	}
	return b.getMany(ctx, ids)
}

func (b *RedisBackend) ListOrchestrator(ctx context.Context, oid string) ([]*xctypes.Job, error) {
	ids, err := b.rdb.SMembers(ctx, orchKey(oid)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return b.getMany(ctx, ids)
}

func (b *RedisBackend) getMany(ctx context.Context, ids []string) ([]*xctypes.Job, error) {
	out := make([]*xctypes.Job, 0, len(ids))
	for _, id := range ids {
		rec, err := b.Get(ctx, id)
		if errors.Is(err, xcuteerr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// -------------------- Update --------------------

func (b *RedisBackend) Update(ctx context.Context, id string, delta job.Delta) (xctypes.Status, error) {
	status, err := b.rdb.HGet(ctx, jobKey(id), "status").Result()
	if errors.Is(err, goredis.Nil) {
		return "", fmt.Errorf("%w: job %s", xcuteerr.ErrNotFound, id)
	}
	if err != nil {
		return "", err
	}

	now := time.Now().Unix()
	pipe := b.rdb.TxPipeline()
	fields := map[string]interface{}{"mtime": now}
	if delta.Sending != nil {
		fields["sending"] = boolToStr(*delta.Sending)
	}
	if delta.ItemsSent != nil {
		fields["items_sent"] = *delta.ItemsSent
	}
	if delta.ItemsLastSent != nil {
		fields["items_last_sent"] = *delta.ItemsLastSent
	}
	if delta.ItemsExpected != nil {
		fields["items_expected"] = *delta.ItemsExpected
	}
	if delta.ItemsProcessed != nil {
		fields["items_processed"] = *delta.ItemsProcessed
	}
	pipe.HSet(ctx, jobKey(id), fields)

	if delta.ErrorsTotalInc != 0 {
		pipe.HIncrBy(ctx, errorsKey(id), "total", int64(delta.ErrorsTotalInc))
	}
	for class, inc := range delta.ErrorsInc {
		pipe.HIncrBy(ctx, errorsKey(id), class, int64(inc))
	}
	for k, v := range delta.DetailsMerge {
		raw, _ := json.Marshal(v)
		pipe.HSet(ctx, detailsKey(id), k, string(raw))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return xctypes.Status(status), nil
}

// -------------------- atomic transitions (Lua) --------------------

func (b *RedisBackend) Claim(ctx context.Context, oid string) (*xctypes.Job, error) {
	now := time.Now().Unix()
	res, err := b.rdb.EvalSha(ctx, b.claimSHA, []string{waitingKey}, oid, now).Result()
	if errors.Is(err, goredis.Nil) {
		// The script returned false: nothing is claimable right now.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	id, ok := res.(string)
	if !ok || id == "" {
		return nil, nil
	}
	return b.Get(ctx, id)
}

func (b *RedisBackend) Pause(ctx context.Context, id string) error {
	return b.runTransition(ctx, b.pauseSHA, id, "")
}

func (b *RedisBackend) Resume(ctx context.Context, id string) error {
	return b.runTransition(ctx, b.resumeSHA, id, "")
}

func (b *RedisBackend) Finish(ctx context.Context, id string) error {
	return b.runTransition(ctx, b.finishSHA, id, "")
}

func (b *RedisBackend) Fail(ctx context.Context, id string, reason string) error {
	return b.runTransition(ctx, b.failSHA, id, reason)
}

func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	return b.runTransition(ctx, b.deleteSHA, id, "")
}

func (b *RedisBackend) runTransition(ctx context.Context, sha, id, arg string) error {
	now := time.Now().Unix()
	res, err := b.rdb.EvalSha(ctx, sha, []string{jobKey(id), waitingKey, jobsKey}, id, now, arg).Result()
	if err != nil {
		return err
	}
	switch v := res.(type) {
	case string:
		switch v {
		case "ok":
			return nil
		case "not_found":
			return fmt.Errorf("%w: job %s", xcuteerr.ErrNotFound, id)
		case "bad_state":
			return fmt.Errorf("%w: job %s", xcuteerr.ErrBadState, id)
		default:
			return fmt.Errorf("backend: unexpected script result %q", v)
		}
	default:
		return fmt.Errorf("backend: unexpected script result type %T", res)
	}
}

func (b *RedisBackend) Locks(ctx context.Context) (map[string]string, error) {
	keys, err := b.rdb.Keys(ctx, lockKeyPrefix+"*").Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		v, err := b.rdb.Get(ctx, k).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				continue
			}
			return nil, err
		}
		out[k[len(lockKeyPrefix):]] = v
	}
	return out, nil
}

// -------------------- encode/decode --------------------

func jobHashFields(record *xctypes.Job, optionsJSON []byte) []interface{} {
	expected := ""
	if record.Items.Expected != nil {
		expected = strconv.Itoa(*record.Items.Expected)
	}
	return []interface{}{
		"type", record.Type,
		"status", string(record.Status),
		"lock", record.Lock,
		"orchestrator_id", record.OrchestratorID,
		"sending", boolToStr(record.Sending),
		"items_max_per_second", record.Items.MaxPerSecond,
		"items_sent", record.Items.Sent,
		"items_processed", record.Items.Processed,
		"items_last_sent", record.Items.LastSent,
		"items_expected", expected,
		"options_json", string(optionsJSON),
		"ctime", record.CTime,
		"mtime", record.MTime,
	}
}

func decodeRecord(id string, h, errs, details map[string]string) (*xctypes.Job, error) {
	var options map[string]any
	if raw := h["options_json"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &options); err != nil {
			return nil, fmt.Errorf("backend: decode options for %s: %w", id, err)
		}
	}
	decodedDetails := make(map[string]any, len(details))
	for k, raw := range details {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("backend: decode details.%s for %s: %w", k, id, err)
		}
		decodedDetails[k] = v
	}

	errDetails := make(map[string]int, len(errs))
	total := 0
	for k, v := range errs {
		n, _ := strconv.Atoi(v)
		if k == "total" {
			total = n
			continue
		}
		errDetails[k] = n
	}

	var expected *int
	if raw := h["items_expected"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err == nil {
			expected = &n
		}
	}

	rec := &xctypes.Job{
		ID:             id,
		Type:           h["type"],
		Status:         xctypes.Status(h["status"]),
		Lock:           h["lock"],
		OrchestratorID: h["orchestrator_id"],
		Sending:        h["sending"] == "1",
		Items: xctypes.Items{
			MaxPerSecond: atoiOr(h["items_max_per_second"], 0),
			Sent:         atoiOr(h["items_sent"], 0),
			Processed:    atoiOr(h["items_processed"], 0),
			LastSent:     h["items_last_sent"],
			Expected:     expected,
		},
		Errors:  xctypes.Errors{Total: total, Details: errDetails},
		Options: options,
		Details: decodedDetails,
		CTime:   int64(atoiOr(h["ctime"], 0)),
		MTime:   int64(atoiOr(h["mtime"], 0)),
	}
	return rec, nil
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func boolToStr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
