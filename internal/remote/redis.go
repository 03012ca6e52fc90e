package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tripsync/tripsync/internal/jsondoc"
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	// Prefix namespaces every key and the change channel (default: "tripsync:").
	Prefix string

	// HealthInterval is how often connectivity is probed for ConnectedPath
	// subscribers (default: 5s).
	HealthInterval time.Duration

	// Logger for connection activity (default: stderr logger).
	Logger *log.Logger
}

// RedisStore is a Store kept in Redis.
//
// Each written path is one string key holding canonical JSON. Reading a
// path assembles its value from the key itself, any ancestor key that
// contains it and every descendant key. Writers PUBLISH the changed path on
// a shared channel; subscribers re-read their path when it overlaps.
type RedisStore struct {
	rdb      *redis.Client
	prefix   string
	channel  string
	interval time.Duration
	logger   *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	subs    map[*redisSub]struct{}
	pubsub  *redis.PubSub
	online  bool
	closed  bool
	probing bool
}

type redisSub struct {
	segs      []string
	path      string
	connected bool
	fn        func(json.RawMessage)
	box       *mailbox

	// only touched from box's goroutine
	last      []byte
	delivered bool
}

var _ Store = (*RedisStore)(nil)

// OpenRedis connects to the Redis server at url (redis://host:port/db).
func OpenRedis(ctx context.Context, url string, opts RedisOptions) (*RedisStore, error) {
	if opts.Prefix == "" {
		opts.Prefix = "tripsync:"
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}

	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(ropts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("could not connect to redis: %w", err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	return &RedisStore{
		rdb:      rdb,
		prefix:   opts.Prefix,
		channel:  opts.Prefix + "changes",
		interval: opts.HealthInterval,
		logger:   opts.Logger,
		ctx:      cctx,
		cancel:   cancel,
		subs:     make(map[*redisSub]struct{}),
		online:   true,
	}, nil
}

func (r *RedisStore) key(segs []string) string {
	return r.prefix + strings.Join(segs, "/")
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, path string) (json.RawMessage, error) {
	if path == ConnectedPath {
		return connectedValue(r.rdb.Ping(ctx).Err() == nil), nil
	}
	segs, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	if r.isClosed() {
		return nil, ErrClosed
	}
	tree, err := r.read(ctx, segs)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", path, err)
	}
	if tree == nil {
		return nil, nil
	}
	return jsondoc.Canonical(tree)
}

// read assembles the value at segs.
func (r *RedisStore) read(ctx context.Context, segs []string) (any, error) {
	keys := make([]string, len(segs))
	for i := range segs {
		keys[i] = r.key(segs[:i+1])
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOffline, err)
	}

	// The deepest stored key wins; an ancestor value only contributes the
	// part under segs.
	var value any
	for i := len(vals) - 1; i >= 0; i-- {
		s, ok := vals[i].(string)
		if !ok {
			continue
		}
		node, err := jsondoc.Normalize(json.RawMessage(s))
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", keys[i], err)
		}
		value = treeGet(node, segs[i+1:])
		if value != nil {
			break
		}
	}

	descendants, err := r.descendants(ctx, segs)
	if err != nil {
		return nil, err
	}
	if len(descendants) == 0 {
		return value, nil
	}
	root, ok := value.(map[string]any)
	if !ok {
		root = map[string]any{}
	}
	base := len(r.key(segs)) + 1
	for key, raw := range descendants {
		node, err := jsondoc.Normalize(json.RawMessage(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", key, err)
		}
		treeSet(root, strings.Split(key[base:], "/"), node)
	}
	return root, nil
}

// descendants returns every key below segs with its value.
func (r *RedisStore) descendants(ctx context.Context, segs []string) (map[string]string, error) {
	var keys []string
	iter := r.rdb.Scan(ctx, 0, r.key(segs)+"/*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOffline, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOffline, err)
	}
	out := make(map[string]string, len(keys))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[keys[i]] = s
		}
	}
	return out, nil
}

// Set implements Store.
func (r *RedisStore) Set(ctx context.Context, path string, value json.RawMessage) error {
	if path == ConnectedPath {
		return fmt.Errorf("%w: %s is read-only", ErrInvalidPath, path)
	}
	segs, err := SplitPath(path)
	if err != nil {
		return err
	}
	if r.isClosed() {
		return ErrClosed
	}
	var data []byte
	if !IsNull(value) {
		data, err = jsondoc.Canonical(value)
		if err != nil {
			return fmt.Errorf("failed to encode value for %s: %w", path, err)
		}
	}

	// Ancestors that hold this path inside their value lose that part.
	rewrites := map[string][]byte{}
	var drops []string
	for i := 0; i < len(segs)-1; i++ {
		key := r.key(segs[:i+1])
		s, err := r.rdb.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to set %s: %w: %v", path, ErrOffline, err)
		}
		node, err := jsondoc.Normalize(json.RawMessage(s))
		if err != nil {
			continue
		}
		m, ok := node.(map[string]any)
		if !ok || treeGet(m, segs[i+1:]) == nil {
			continue
		}
		if treeRemove(m, segs[i+1:]) {
			drops = append(drops, key)
			continue
		}
		if rewrites[key], err = jsondoc.Canonical(m); err != nil {
			return fmt.Errorf("failed to encode %s: %w", key, err)
		}
	}

	below, err := r.descendants(ctx, segs)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	for key := range below {
		drops = append(drops, key)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, v := range rewrites {
			pipe.Set(ctx, key, v, 0)
		}
		if len(drops) > 0 {
			pipe.Del(ctx, drops...)
		}
		if data == nil {
			pipe.Del(ctx, r.key(segs))
		} else {
			pipe.Set(ctx, r.key(segs), data, 0)
		}
		pipe.Publish(ctx, r.channel, strings.Join(segs, "/"))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set %s: %w: %v", path, ErrOffline, err)
	}
	return nil
}

// Subscribe implements Store.
func (r *RedisStore) Subscribe(ctx context.Context, path string, fn func(json.RawMessage)) (Subscription, error) {
	sub := &redisSub{path: path, fn: fn}
	if path == ConnectedPath {
		sub.connected = true
	} else {
		segs, err := SplitPath(path)
		if err != nil {
			return nil, err
		}
		sub.segs = segs
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if !sub.connected && r.pubsub == nil {
		ps := r.rdb.Subscribe(ctx, r.channel)
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return nil, fmt.Errorf("failed to subscribe to %s: %w: %v", path, ErrOffline, err)
		}
		r.pubsub = ps
		r.wg.Add(1)
		go r.listen(ps)
	}
	if !r.probing {
		r.probing = true
		r.wg.Add(1)
		go r.probe()
	}

	sub.box = newMailbox(func(json.RawMessage) { r.refresh(sub) })
	r.subs[sub] = struct{}{}
	sub.box.post(nil)
	return &redisSubscription{store: r, sub: sub}, nil
}

// refresh re-reads sub's path and delivers it if it changed. Runs on the
// subscription's mailbox goroutine.
func (r *RedisStore) refresh(sub *redisSub) {
	var v json.RawMessage
	if sub.connected {
		r.mu.Lock()
		v = connectedValue(r.online)
		r.mu.Unlock()
	} else {
		ctx, cancel := context.WithTimeout(r.ctx, 10*time.Second)
		tree, err := r.read(ctx, sub.segs)
		cancel()
		if err != nil {
			// Retried after the next change or reconnect.
			return
		}
		if tree != nil {
			if v, err = jsondoc.Canonical(tree); err != nil {
				return
			}
		}
	}
	if sub.delivered && string(sub.last) == string(v) {
		return
	}
	sub.last = v
	sub.delivered = true
	sub.fn(v)
}

func (r *RedisStore) listen(ps *redis.PubSub) {
	defer r.wg.Done()
	ch := ps.Channel()
	for {
		select {
		case <-r.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			changed := strings.Split(msg.Payload, "/")
			r.mu.Lock()
			for sub := range r.subs {
				if !sub.connected && overlaps(sub.segs, changed) {
					sub.box.post(nil)
				}
			}
			r.mu.Unlock()
		}
	}
}

// probe tracks connectivity. Coming back online re-reads every path, since
// notifications published while disconnected are lost.
func (r *RedisStore) probe() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(r.ctx, r.interval)
		online := r.rdb.Ping(ctx).Err() == nil
		cancel()

		r.mu.Lock()
		if online != r.online {
			r.online = online
			if online {
				r.logger.Printf("Redis connection restored")
			} else {
				r.logger.Printf("Redis connection lost")
			}
			for sub := range r.subs {
				if sub.connected || online {
					sub.box.post(nil)
				}
			}
		}
		r.mu.Unlock()
	}
}

func (r *RedisStore) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close implements Store.
func (r *RedisStore) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for sub := range r.subs {
		sub.box.close()
		delete(r.subs, sub)
	}
	ps := r.pubsub
	r.mu.Unlock()

	r.cancel()
	var errs []error
	if ps != nil {
		errs = append(errs, ps.Close())
	}
	r.wg.Wait()
	errs = append(errs, r.rdb.Close())
	return errors.Join(errs...)
}

type redisSubscription struct {
	store *RedisStore
	sub   *redisSub
	once  sync.Once
}

func (s *redisSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.store.mu.Lock()
		delete(s.store.subs, s.sub)
		s.store.mu.Unlock()
		s.sub.box.close()
	})
}
