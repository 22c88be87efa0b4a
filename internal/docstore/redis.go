package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// txAttempts bounds the optimistic-concurrency retry loop. The store promises
// retry-on-conflict; exhaustion surfaces as ErrTxRetryExhausted.
const txAttempts = 5

// RedisStore implements Store on Redis. Each document lives at its own key as
// JSON, each collection keeps a membership set, and a pub/sub channel per
// collection signals subscribers to re-read.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis by URL and verifies the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Close closes the underlying connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks that the store is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func docKey(path string) string        { return "doc:" + path }
func collKey(collection string) string { return "coll:" + collection }
func chanKey(collection string) string { return "change:" + collection }

// splitPath divides "posts/<id>/comments/<cid>" into its collection and
// document ID.
func splitPath(path string) (collection, id string) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}

// resolveTimestamps replaces ServerTimestamp sentinels with the store clock.
func resolveTimestamps(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for k, v := range data {
		if _, ok := v.(serverTimestamp); ok {
			out[k] = now
			continue
		}
		out[k] = v
	}
	return out
}

func (s *RedisStore) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := uuid.NewString()
	payload, err := json.Marshal(resolveTimestamps(data))
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}

	path := collection + "/" + id
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, docKey(path), payload, 0)
	pipe.SAdd(ctx, collKey(collection), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}

	s.client.Publish(ctx, chanKey(collection), id)
	return id, nil
}

func (s *RedisStore) Get(ctx context.Context, path string) (Doc, bool, error) {
	raw, err := s.client.Get(ctx, docKey(path)).Result()
	if err == redis.Nil {
		return Doc{}, false, nil
	}
	if err != nil {
		return Doc{}, false, fmt.Errorf("get %s: %w", path, err)
	}

	_, id := splitPath(path)
	doc := Doc{ID: id}
	if err := json.Unmarshal([]byte(raw), &doc.Data); err != nil {
		return Doc{}, false, fmt.Errorf("decode %s: %w", path, err)
	}
	return doc, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, path string) error {
	collection, id := splitPath(path)

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, docKey(path))
	pipe.SRem(ctx, collKey(collection), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}

	s.client.Publish(ctx, chanKey(collection), id)
	return nil
}

func (s *RedisStore) ListIDs(ctx context.Context, collection string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, collKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	return ids, nil
}

func (s *RedisStore) DeleteCollection(ctx context.Context, collection string) error {
	ids, err := s.client.SMembers(ctx, collKey(collection)).Result()
	if err != nil {
		return fmt.Errorf("list %s: %w", collection, err)
	}

	pipe := s.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, docKey(collection+"/"+id))
	}
	pipe.Del(ctx, collKey(collection))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete collection %s: %w", collection, err)
	}

	s.client.Publish(ctx, chanKey(collection), "*")
	return nil
}

// redisTx buffers transaction writes until commit. Reads go through the
// WATCHed connection so conflicting writers abort the commit.
type redisTx struct {
	ctx     context.Context
	tx      *redis.Tx
	sets    []txWrite
	deletes []string
}

type txWrite struct {
	path string
	data map[string]any
}

func (t *redisTx) Get(path string) (Doc, bool, error) {
	raw, err := t.tx.Get(t.ctx, docKey(path)).Result()
	if err == redis.Nil {
		return Doc{}, false, nil
	}
	if err != nil {
		return Doc{}, false, fmt.Errorf("tx get %s: %w", path, err)
	}

	_, id := splitPath(path)
	doc := Doc{ID: id}
	if err := json.Unmarshal([]byte(raw), &doc.Data); err != nil {
		return Doc{}, false, fmt.Errorf("tx decode %s: %w", path, err)
	}
	return doc, true, nil
}

func (t *redisTx) Set(path string, data map[string]any) {
	t.sets = append(t.sets, txWrite{path: path, data: resolveTimestamps(data)})
}

func (t *redisTx) Update(path string, fields map[string]any) error {
	current, ok, err := t.Get(path)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("update %s: document does not exist", path)
	}
	merged := make(map[string]any, len(current.Data)+len(fields))
	for k, v := range current.Data {
		merged[k] = v
	}
	for k, v := range resolveTimestamps(fields) {
		merged[k] = v
	}
	t.sets = append(t.sets, txWrite{path: path, data: merged})
	return nil
}

func (t *redisTx) Delete(path string) {
	t.deletes = append(t.deletes, path)
}

func (t *redisTx) flush(pipe redis.Pipeliner) error {
	for _, w := range t.sets {
		payload, err := json.Marshal(w.data)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", w.path, err)
		}
		collection, id := splitPath(w.path)
		pipe.Set(t.ctx, docKey(w.path), payload, 0)
		pipe.SAdd(t.ctx, collKey(collection), id)
	}
	for _, path := range t.deletes {
		collection, id := splitPath(path)
		pipe.Del(t.ctx, docKey(path))
		pipe.SRem(t.ctx, collKey(collection), id)
	}
	return nil
}

// touched reports the collections the transaction wrote to, for change
// notification after commit.
func (t *redisTx) touched() []string {
	seen := map[string]struct{}{}
	for _, w := range t.sets {
		collection, _ := splitPath(w.path)
		seen[collection] = struct{}{}
	}
	for _, path := range t.deletes {
		collection, _ := splitPath(path)
		seen[collection] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	return out
}

func (s *RedisStore) RunTransaction(ctx context.Context, fn func(tx Tx) error, watchPaths ...string) error {
	watchKeys := make([]string, len(watchPaths))
	for i, p := range watchPaths {
		watchKeys[i] = docKey(p)
	}

	for attempt := 0; attempt < txAttempts; attempt++ {
		rtx := &redisTx{ctx: ctx}
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			rtx.tx = tx
			rtx.sets = nil
			rtx.deletes = nil
			if err := fn(rtx); err != nil {
				return err
			}
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				return rtx.flush(pipe)
			})
			return err
		}, watchKeys...)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return err
		}
		for _, collection := range rtx.touched() {
			s.client.Publish(ctx, chanKey(collection), "*")
		}
		return nil
	}
	return ErrTxRetryExhausted
}

func (s *RedisStore) Stream(ctx context.Context, collection string, order Order, limit int) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	pubsub := s.client.Subscribe(ctx, chanKey(collection))
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", collection, err)
	}

	sub := &Subscription{
		snapshots: make(chan Snapshot, 1),
		errs:      make(chan error, 1),
		cancel:    cancel,
	}

	go func() {
		defer close(sub.snapshots)
		defer pubsub.Close()

		emit := func() {
			snap, err := s.readCollection(ctx, collection, order, limit)
			if err != nil {
				// Keep the last good snapshot; surface the failure only.
				select {
				case sub.errs <- err:
				default:
				}
				return
			}
			// A newer snapshot supersedes an undelivered one.
			select {
			case <-sub.snapshots:
			default:
			}
			select {
			case sub.snapshots <- snap:
			case <-ctx.Done():
			}
		}

		emit()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				emit()
			}
		}
	}()

	return sub, nil
}

func (s *RedisStore) readCollection(ctx context.Context, collection string, order Order, limit int) (Snapshot, error) {
	ids, err := s.client.SMembers(ctx, collKey(collection)).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("list %s: %w", collection, err)
	}
	if len(ids) == 0 {
		return Snapshot{Docs: []Doc{}}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = docKey(collection + "/" + id)
	}
	raws, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read %s: %w", collection, err)
	}

	docs := make([]Doc, 0, len(ids))
	for i, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			// Deleted between the index read and the value read.
			continue
		}
		doc := Doc{ID: ids[i]}
		if err := json.Unmarshal([]byte(str), &doc.Data); err != nil {
			continue
		}
		docs = append(docs, doc)
	}

	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i].Data[order.Field], docs[j].Data[order.Field]
		if fieldLess(a, b) {
			return !order.Descending
		}
		if fieldLess(b, a) {
			return order.Descending
		}
		return docs[i].ID < docs[j].ID
	})

	if limit > 0 && len(docs) > limit {
		docs = docs[len(docs)-limit:]
	}
	return Snapshot{Docs: docs}, nil
}

// fieldLess orders field values: timestamps chronologically, numbers
// numerically, everything else lexically.
func fieldLess(a, b any) bool {
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			at, aerr := time.Parse(time.RFC3339Nano, as)
			bt, berr := time.Parse(time.RFC3339Nano, bs)
			if aerr == nil && berr == nil {
				return at.Before(bt)
			}
			return as < bs
		}
	}
	if af, ok := a.(float64); ok {
		if bf, ok := b.(float64); ok {
			return af < bf
		}
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}
