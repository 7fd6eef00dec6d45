package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"threadboard/internal/util"
)

// maxAppendAttempts bounds the optimistic WATCH retries of AppendToArray.
const maxAppendAttempts = 10

// RedisStore implements the document store on Redis: the JSON body lives in a
// string key, set fields in native Redis sets (SADD/SREM gives the atomic
// membership mutation the contract requires), ordered queries in one sorted
// set per order field, and snapshot pushes ride pub/sub.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
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

	return &RedisStore{client: client, prefix: "tb:"}, nil
}

// NewRedisStoreWithClient wraps an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "tb:"}
}

func (s *RedisStore) docKey(collection, id string) string {
	return s.prefix + "doc:" + collection + ":" + id
}

func (s *RedisStore) setKey(collection, id, field string) string {
	return s.prefix + "set:" + collection + ":" + id + ":" + field
}

func (s *RedisStore) setNamesKey(collection, id string) string {
	return s.prefix + "setfields:" + collection + ":" + id
}

func (s *RedisStore) indexKey(collection, field string) string {
	return s.prefix + "idx:" + collection + ":" + field
}

func (s *RedisStore) channel(collection string) string {
	return s.prefix + "docs:" + collection
}

func (s *RedisStore) Create(ctx context.Context, collection string, doc Document) (string, error) {
	id := util.NewID("c")
	body, err := json.Marshal(doc.Data)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.docKey(collection, id), body, 0)
	for field, value := range doc.Data {
		if score, ok := orderScore(value); ok {
			pipe.ZAdd(ctx, s.indexKey(collection, field), redis.Z{Score: score, Member: id})
		}
	}
	for field, members := range doc.Sets {
		if len(members) == 0 {
			continue
		}
		pipe.SAdd(ctx, s.setNamesKey(collection, id), field)
		args := make([]any, len(members))
		for i, m := range members {
			args[i] = m
		}
		pipe.SAdd(ctx, s.setKey(collection, id, field), args...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("create document: %w", err)
	}

	s.publish(ctx, collection)
	return id, nil
}

func (s *RedisStore) ReadOne(ctx context.Context, collection, id string) (Document, error) {
	body, err := s.client.Get(ctx, s.docKey(collection, id)).Result()
	if err == redis.Nil {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("read document: %w", err)
	}

	doc := Document{ID: id}
	if err := json.Unmarshal([]byte(body), &doc.Data); err != nil {
		return Document{}, fmt.Errorf("unmarshal document: %w", err)
	}

	fields, err := s.client.SMembers(ctx, s.setNamesKey(collection, id)).Result()
	if err != nil {
		return Document{}, fmt.Errorf("read set fields: %w", err)
	}
	if len(fields) > 0 {
		doc.Sets = make(map[string][]string, len(fields))
		for _, field := range fields {
			members, err := s.client.SMembers(ctx, s.setKey(collection, id, field)).Result()
			if err != nil {
				return Document{}, fmt.Errorf("read set %s: %w", field, err)
			}
			doc.Sets[field] = members
		}
	}
	return doc, nil
}

func (s *RedisStore) Read(ctx context.Context, q Query) ([]Document, error) {
	var ids []string
	var err error
	// Same-score members come back in lexicographic member order either way,
	// so repeated reads of an unchanged index never reshuffle ties.
	if q.Direction == Descending {
		ids, err = s.client.ZRevRange(ctx, s.indexKey(q.Collection, q.OrderBy), 0, -1).Result()
	} else {
		ids, err = s.client.ZRange(ctx, s.indexKey(q.Collection, q.OrderBy), 0, -1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("ordered query: %w", err)
	}

	docs := make([]Document, 0, len(ids))
	for _, id := range ids {
		doc, err := s.ReadOne(ctx, q.Collection, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *RedisStore) UpdateSetField(ctx context.Context, collection, id, field string, op SetOp, member string) error {
	exists, err := s.client.Exists(ctx, s.docKey(collection, id)).Result()
	if err != nil {
		return fmt.Errorf("check document: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	switch op {
	case SetAdd:
		pipe := s.client.TxPipeline()
		pipe.SAdd(ctx, s.setNamesKey(collection, id), field)
		pipe.SAdd(ctx, s.setKey(collection, id, field), member)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("set add: %w", err)
		}
	case SetRemove:
		if err := s.client.SRem(ctx, s.setKey(collection, id, field), member).Err(); err != nil {
			return fmt.Errorf("set remove: %w", err)
		}
	default:
		return fmt.Errorf("unknown set op %q", op)
	}

	s.publish(ctx, collection)
	return nil
}

func (s *RedisStore) UpdateField(ctx context.Context, collection, id, field string, value any) error {
	body, err := s.client.Get(ctx, s.docKey(collection, id)).Result()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return fmt.Errorf("unmarshal document: %w", err)
	}
	data[field] = value
	updated, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.docKey(collection, id), updated, 0)
	if score, ok := orderScore(value); ok {
		pipe.ZAdd(ctx, s.indexKey(collection, field), redis.Z{Score: score, Member: id})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update field: %w", err)
	}

	s.publish(ctx, collection)
	return nil
}

// AppendToArray rewrites the JSON body with the value appended. Redis has no
// in-place JSON array op, so the rewrite runs under WATCH on the document key
// with optimistic retries; a concurrent writer invalidates the transaction and
// the append re-reads instead of clobbering.
func (s *RedisStore) AppendToArray(ctx context.Context, collection, id, field string, value any) error {
	key := s.docKey(collection, id)

	var notFound bool
	txf := func(tx *redis.Tx) error {
		body, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			notFound = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("read document: %w", err)
		}

		var data map[string]any
		if err := json.Unmarshal([]byte(body), &data); err != nil {
			return fmt.Errorf("unmarshal document: %w", err)
		}
		existing, _ := data[field].([]any)
		data[field] = append(existing, value)
		updated, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal document: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		notFound = false
		err := s.client.Watch(ctx, txf, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return fmt.Errorf("append to array: %w", err)
		}
		if notFound {
			return ErrNotFound
		}
		s.publish(ctx, collection)
		return nil
	}
	return fmt.Errorf("append to array: %w", redis.TxFailedErr)
}

func (s *RedisStore) Subscribe(ctx context.Context, q Query) (Subscription, error) {
	pubsub := s.client.Subscribe(ctx, s.channel(q.Collection))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	sub := &redisSub{
		pubsub: pubsub,
		ch:     make(chan []Document, 1),
	}

	go func() {
		defer close(sub.ch)
		if snap, err := s.Read(context.Background(), q); err == nil {
			pushLatest(sub.ch, snap)
		} else {
			log.Printf("docstore: initial snapshot: %v", err)
		}
		for range pubsub.Channel() {
			snap, err := s.Read(context.Background(), q)
			if err != nil {
				log.Printf("docstore: snapshot query: %v", err)
				continue
			}
			pushLatest(sub.ch, snap)
		}
	}()

	return sub, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) publish(ctx context.Context, collection string) {
	if err := s.client.Publish(ctx, s.channel(collection), "changed").Err(); err != nil {
		log.Printf("docstore: publish change: %v", err)
	}
}

type redisSub struct {
	pubsub *redis.PubSub
	ch     chan []Document
	once   sync.Once
}

func (s *redisSub) Snapshots() <-chan []Document { return s.ch }

func (s *redisSub) Unsubscribe() {
	s.once.Do(func() {
		_ = s.pubsub.Close()
	})
}
