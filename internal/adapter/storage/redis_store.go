package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ptduy/livecount/internal/core/domain"
	"github.com/ptduy/livecount/internal/port"
)

const (
	keyNamespace   = "lc"
	eventNamespace = "lc:evt"

	defaultTxRetries = 16
)

// storeEvent is the wire form of a child event fanned out over pub/sub.
type storeEvent struct {
	Kind  string          `json:"kind"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
}

// RedisStore implements the RemoteStore port on Redis: JSON values under
// namespaced keys, WATCH-based optimistic transactions, and pub/sub fan-out
// of child events. Writers see their own writes only through the
// subscription echo, like every other connected client.
type RedisStore struct {
	client    *redis.Client
	txRetries int
}

func NewRedisStore(client *redis.Client, txRetries int) *RedisStore {
	if txRetries <= 0 {
		txRetries = defaultTxRetries
	}
	return &RedisStore{client: client, txRetries: txRetries}
}

func (r *RedisStore) key(path string) string {
	return keyNamespace + ":" + path
}

func (r *RedisStore) eventChannel(parent string) string {
	return eventNamespace + ":" + parent
}

func (r *RedisStore) Read(ctx context.Context, path string) (json.RawMessage, error) {
	val, err := r.client.Get(ctx, r.key(path)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("read "+path, err)
	}
	return val, nil
}

func (r *RedisStore) ReadChildren(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	prefix := r.key(path) + "/"
	var keys []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		child := strings.TrimPrefix(iter.Val(), prefix)
		if strings.Contains(child, "/") {
			continue // grandchild, not a direct child
		}
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, storeErr("scan "+path, err)
	}

	out := make(map[string]json.RawMessage, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, storeErr("mget "+path, err)
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue // deleted between SCAN and MGET
		}
		out[strings.TrimPrefix(keys[i], prefix)] = json.RawMessage(s)
	}
	return out, nil
}

func (r *RedisStore) Write(ctx context.Context, path string, value json.RawMessage) error {
	key := r.key(path)
	existed, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return storeErr("write "+path, err)
	}
	if err := r.client.Set(ctx, key, []byte(value), 0).Err(); err != nil {
		return storeErr("write "+path, err)
	}
	kind := eventAdded
	if existed > 0 {
		kind = eventChanged
	}
	r.publish(ctx, path, kind, value)
	return nil
}

func (r *RedisStore) Update(ctx context.Context, values map[string]json.RawMessage) error {
	paths := make([]string, 0, len(values))
	for p := range values {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	// Existence check up front so the post-commit events carry the right kind.
	existence := make(map[string]bool, len(paths))
	pipe := r.client.Pipeline()
	cmds := make(map[string]*redis.IntCmd, len(paths))
	for _, p := range paths {
		cmds[p] = pipe.Exists(ctx, r.key(p))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("update", err)
	}
	for p, cmd := range cmds {
		existence[p] = cmd.Val() > 0
	}

	_, err := r.client.TxPipelined(ctx, func(tx redis.Pipeliner) error {
		for _, p := range paths {
			if values[p] == nil {
				tx.Del(ctx, r.key(p))
				continue
			}
			tx.Set(ctx, r.key(p), []byte(values[p]), 0)
		}
		return nil
	})
	if err != nil {
		return storeErr("update", err)
	}

	for _, p := range paths {
		v := values[p]
		switch {
		case v == nil && existence[p]:
			r.publish(ctx, p, eventRemoved, nil)
		case v == nil:
			// deleting an absent path is a no-op
		case existence[p]:
			r.publish(ctx, p, eventChanged, v)
		default:
			r.publish(ctx, p, eventAdded, v)
		}
	}
	return nil
}

func (r *RedisStore) Transact(ctx context.Context, path string, fn port.TxFunc) (json.RawMessage, error) {
	key := r.key(path)
	var final json.RawMessage
	var committed, existed bool

	txf := func(tx *redis.Tx) error {
		committed = false
		current, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			current = nil
		} else if err != nil {
			return err
		}
		existed = current != nil

		next, fnErr := fn(current)
		if fnErr == domain.ErrTxAbort {
			final = current
			return nil
		}
		if fnErr != nil {
			return fnErr
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, []byte(next), 0)
			return nil
		})
		if err != nil {
			return err
		}
		final = next
		committed = true
		return nil
	}

	for attempt := 0; attempt < r.txRetries; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if err == redis.TxFailedErr {
			continue // concurrent writer got in between, retry
		}
		if err != nil {
			return nil, fmt.Errorf("transact %s: %w", path, err)
		}
		if committed {
			kind := eventAdded
			if existed {
				kind = eventChanged
			}
			r.publish(ctx, path, kind, final)
		}
		return final, nil
	}
	return nil, domain.ErrConflictExhausted
}

func (r *RedisStore) Push(ctx context.Context, path string, value json.RawMessage) (string, error) {
	now, err := r.ServerTime(ctx)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("%020d-%s", now.UnixNano(), uuid.NewString()[:8])
	full := path + "/" + key
	if err := r.client.Set(ctx, r.key(full), []byte(value), 0).Err(); err != nil {
		return "", storeErr("push "+path, err)
	}
	r.publish(ctx, full, eventAdded, value)
	return key, nil
}

func (r *RedisStore) Subscribe(path string, obs port.ChildObserver, onErr func(error)) (func(), error) {
	ctx := context.Background()
	pubsub := r.client.Subscribe(ctx, r.eventChannel(path))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, storeErr("subscribe "+path, err)
	}

	// Replay existing children as added events before draining live ones;
	// anything written during replay is queued on the channel behind it.
	existing, err := r.ReadChildren(ctx, path)
	if err != nil {
		pubsub.Close()
		return nil, err
	}
	keys := make([]string, 0, len(existing))
	for k := range existing {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		obs.OnChildAdded(k, existing[k])
	}

	go func() {
		for msg := range pubsub.Channel() {
			var ev storeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				if onErr != nil {
					onErr(fmt.Errorf("decode event on %s: %w", path, err))
				}
				continue
			}
			switch ev.Kind {
			case eventAdded:
				obs.OnChildAdded(ev.Key, ev.Value)
			case eventChanged:
				obs.OnChildChanged(ev.Key, ev.Value)
			case eventRemoved:
				obs.OnChildRemoved(ev.Key)
			}
		}
	}()

	return func() { pubsub.Close() }, nil
}

func (r *RedisStore) ServerTime(ctx context.Context) (time.Time, error) {
	t, err := r.client.Time(ctx).Result()
	if err != nil {
		return time.Time{}, storeErr("server time", err)
	}
	return t, nil
}

func (r *RedisStore) publish(ctx context.Context, path, kind string, value json.RawMessage) {
	parent := parentPath(path)
	if parent == "" {
		return
	}
	payload, err := json.Marshal(storeEvent{Kind: kind, Key: childKey(path), Value: value})
	if err != nil {
		return
	}
	// Best-effort: a lost event only delays a mirror until the next one.
	r.client.Publish(ctx, r.eventChannel(parent), payload)
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}
