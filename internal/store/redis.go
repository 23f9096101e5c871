package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/flowgate/internal/ir"
)

// Key layout, all under the configured prefix:
//
//	{prefix}:res:{type}:{uid}   hash with fields state, data and revision
//	{prefix}:idx:{type}         list of uids in creation order
//	{prefix}:hist:{type}:{uid}  list of history event JSON
//	{prefix}:hids:{type}:{uid}  set of history event IDs
const (
	fieldState    = "state"
	fieldData     = "data"
	fieldRevision = "revision"

	// maxTxRetries bounds optimistic retries when a watched key changes
	// between read and EXEC.
	maxTxRetries = 16
)

// appendHistoryScript appends an event once per ID.
// KEYS[1] = ID set, KEYS[2] = event list
// ARGV[1] = event ID, ARGV[2] = event JSON
var appendHistoryScript = redis.NewScript(`
if redis.call("SADD", KEYS[1], ARGV[1]) == 1 then
    redis.call("RPUSH", KEYS[2], ARGV[2])
    return 1
end
return 0
`)

// RedisStore implements DataStore on Redis. Updates use WATCH/MULTI
// optimistic transactions.
type RedisStore struct {
	client *redis.Client
	prefix string
	opts   options
}

var _ DataStore = (*RedisStore)(nil)

// NewRedisStore wraps an existing client. An empty prefix defaults to
// "flowgate".
func NewRedisStore(client *redis.Client, prefix string, opts ...Option) *RedisStore {
	if prefix == "" {
		prefix = "flowgate"
	}
	return &RedisStore{client: client, prefix: prefix, opts: buildOptions(opts)}
}

// OpenRedis connects to addr and verifies the connection.
func OpenRedis(ctx context.Context, addr, password string, db int, prefix string, opts ...Option) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return NewRedisStore(client, prefix, opts...), nil
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) resourceKey(ref ir.ResourceRef) string {
	return fmt.Sprintf("%s:res:%s:%s", r.prefix, ref.Type, ref.UID)
}

func (r *RedisStore) indexKey(typ string) string {
	return fmt.Sprintf("%s:idx:%s", r.prefix, typ)
}

func (r *RedisStore) historyKey(ref ir.ResourceRef) string {
	return fmt.Sprintf("%s:hist:%s:%s", r.prefix, ref.Type, ref.UID)
}

func (r *RedisStore) historyIDsKey(ref ir.ResourceRef) string {
	return fmt.Sprintf("%s:hids:%s:%s", r.prefix, ref.Type, ref.UID)
}

func (r *RedisStore) Create(ctx context.Context, typ string, data ir.Object) (ir.Record, error) {
	rec := ir.Record{
		ResourceRef: ir.ResourceRef{UID: r.opts.ids.Generate(), Type: typ},
		Data:        data.Clone(),
		Revision:    1,
	}
	if rec.Data == nil {
		rec.Data = ir.Object{}
	}
	dataJSON, err := marshalData(rec.Data)
	if err != nil {
		return ir.Record{}, fmt.Errorf("create %s: %w", typ, err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.resourceKey(rec.ResourceRef),
			fieldState, stateOf(rec.Data),
			fieldData, dataJSON,
			fieldRevision, rec.Revision,
		)
		pipe.RPush(ctx, r.indexKey(typ), rec.UID)
		return nil
	})
	if err != nil {
		return ir.Record{}, fmt.Errorf("create %s: %w", rec.ResourceRef, err)
	}
	return rec, nil
}

func (r *RedisStore) Read(ctx context.Context, ref ir.ResourceRef) (ir.Record, error) {
	fields, err := r.client.HGetAll(ctx, r.resourceKey(ref)).Result()
	if err != nil {
		return ir.Record{}, fmt.Errorf("read %s: %w", ref, err)
	}
	rec, err := decodeRecord(ref, fields)
	if err != nil {
		return ir.Record{}, fmt.Errorf("read %s: %w", ref, err)
	}
	return rec, nil
}

// decodeRecord converts a resource hash. An empty hash is ErrNotFound.
func decodeRecord(ref ir.ResourceRef, fields map[string]string) (ir.Record, error) {
	dataJSON, ok := fields[fieldData]
	if !ok {
		return ir.Record{}, ErrNotFound
	}
	data, err := unmarshalData(dataJSON)
	if err != nil {
		return ir.Record{}, err
	}
	revision := int64(1)
	if s, ok := fields[fieldRevision]; ok {
		if revision, err = strconv.ParseInt(s, 10, 64); err != nil {
			return ir.Record{}, fmt.Errorf("revision %q: %w", s, err)
		}
	}
	return ir.Record{ResourceRef: ref, Data: data, Revision: revision}, nil
}

func (r *RedisStore) Update(ctx context.Context, ref ir.ResourceRef, patch ir.Object) (ir.Record, error) {
	return r.update(ctx, ref, nil, patch)
}

func (r *RedisStore) CompareAndUpdate(ctx context.Context, ref ir.ResourceRef, expectedRevision int64, patch ir.Object) (ir.Record, error) {
	return r.update(ctx, ref, &expectedRevision, patch)
}

func (r *RedisStore) update(ctx context.Context, ref ir.ResourceRef, expectedRevision *int64, patch ir.Object) (ir.Record, error) {
	key := r.resourceKey(ref)
	var next ir.Record

	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		current, err := decodeRecord(ref, fields)
		if err != nil {
			return err
		}
		if expectedRevision != nil && current.Revision != *expectedRevision {
			return fmt.Errorf("expected revision %d, found %d: %w", *expectedRevision, current.Revision, ErrConflict)
		}

		next = ir.Record{ResourceRef: ref, Data: current.Data.Merge(patch), Revision: current.Revision + 1}
		nextJSON, err := marshalData(next.Data)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				fieldState, stateOf(next.Data),
				fieldData, nextJSON,
				fieldRevision, next.Revision,
			)
			return nil
		})
		return err
	}

	for range maxTxRetries {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return next, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return ir.Record{}, fmt.Errorf("update %s: %w", ref, err)
	}
	return ir.Record{}, fmt.Errorf("update %s: gave up after %d concurrent modifications", ref, maxTxRetries)
}

func (r *RedisStore) Delete(ctx context.Context, ref ir.ResourceRef) error {
	var deleted *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, r.resourceKey(ref))
		pipe.LRem(ctx, r.indexKey(ref.Type), 0, ref.UID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", ref, err)
	}
	if deleted.Val() == 0 {
		return fmt.Errorf("delete %s: %w", ref, ErrNotFound)
	}
	return nil
}

func (r *RedisStore) List(ctx context.Context, typ string) ([]ir.Record, error) {
	uids, err := r.client.LRange(ctx, r.indexKey(typ), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", typ, err)
	}
	if len(uids) == 0 {
		return []ir.Record{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(uids))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, uid := range uids {
			cmds[i] = pipe.HGetAll(ctx, r.resourceKey(ir.ResourceRef{UID: uid, Type: typ}))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", typ, err)
	}

	records := make([]ir.Record, 0, len(uids))
	for i, cmd := range cmds {
		rec, err := decodeRecord(ir.ResourceRef{UID: uids[i], Type: typ}, cmd.Val())
		if errors.Is(err, ErrNotFound) {
			// deleted between LRANGE and HGETALL
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", typ, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (r *RedisStore) WriteHistory(ctx context.Context, ev ir.HistoryEvent) error {
	evJSON, err := marshalEvent(ev)
	if err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	keys := []string{r.historyIDsKey(ev.Resource), r.historyKey(ev.Resource)}
	if err := appendHistoryScript.Run(ctx, r.client, keys, ev.ID, evJSON).Err(); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

func (r *RedisStore) GetHistory(ctx context.Context, ref ir.ResourceRef) ([]ir.HistoryEvent, error) {
	raw, err := r.client.LRange(ctx, r.historyKey(ref), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get history %s: %w", ref, err)
	}
	events := make([]ir.HistoryEvent, 0, len(raw))
	for _, s := range raw {
		ev, err := unmarshalEvent(s)
		if err != nil {
			return nil, fmt.Errorf("get history %s: %w", ref, err)
		}
		events = append(events, ev)
	}
	return events, nil
}
