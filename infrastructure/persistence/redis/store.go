// Package redis keeps flow documents in Redis. Every write is published on a
// per-flow channel so that other editors see it.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"flowbuilder/application/ports"
	pkgerrors "flowbuilder/pkg/errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultPrefix = "flow"

// upsertScript stores the document and publishes the change in one step, so
// subscribers never see a change that was not written.
var upsertScript = redis.NewScript(`
local existed = redis.call('EXISTS', KEYS[1])
redis.call('SET', KEYS[1], ARGV[1])
local event = 'INSERT'
if existed == 1 then event = 'UPDATE' end
redis.call('PUBLISH', KEYS[2], cjson.encode({event = event, document = ARGV[1]}))
return event
`)

// change is what travels on the pub/sub channel
type change struct {
	Event    string `json:"event"`
	Document string `json:"document"`
}

// Store is a RemoteStore backed by Redis
type Store struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewClient parses a redis:// URL and verifies the server answers
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, pkgerrors.NewValidationError(fmt.Sprintf("invalid redis url: %v", err))
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, pkgerrors.NewRemoteUnavailableError("redis ping", err)
	}
	return client, nil
}

// NewStore creates a store; prefix namespaces keys and channels
func NewStore(client *redis.Client, prefix string, logger *zap.Logger) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, prefix: prefix, logger: logger.Named("redis")}
}

// DocumentKey is the key holding a flow's document
func (s *Store) DocumentKey(key string) string {
	return fmt.Sprintf("%s:%s:document", s.prefix, key)
}

// ChannelName is the pub/sub channel carrying a flow's changes
func (s *Store) ChannelName(key string) string {
	return fmt.Sprintf("%s:%s:changes", s.prefix, key)
}

func (s *Store) GetDocument(ctx context.Context, key string) ([]byte, bool, error) {
	doc, err := s.client.Get(ctx, s.DocumentKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, remoteError("get", err)
	}
	return doc, true, nil
}

func (s *Store) UpsertDocument(ctx context.Context, key string, document []byte) error {
	keys := []string{s.DocumentKey(key), s.ChannelName(key)}
	if err := upsertScript.Run(ctx, s.client, keys, string(document)).Err(); err != nil {
		return remoteError("upsert", err)
	}
	return nil
}

// Subscribe listens on the flow's channel. It returns after Redis confirmed
// the subscription.
func (s *Store) Subscribe(ctx context.Context, key string, filter ports.EventFilter, handler ports.ChangeHandler) (ports.Subscription, error) {
	pubsub := s.client.Subscribe(ctx, s.ChannelName(key))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, remoteError("subscribe", err)
	}

	sub := &subscription{
		pubsub:  pubsub,
		filter:  filter,
		handler: handler,
		logger:  s.logger.With(zap.String("flowID", key)),
		done:    make(chan struct{}),
	}
	go sub.run(pubsub.Channel())
	return sub, nil
}

type subscription struct {
	pubsub  *redis.PubSub
	filter  ports.EventFilter
	handler ports.ChangeHandler
	logger  *zap.Logger

	once sync.Once
	done chan struct{}
}

func (s *subscription) run(messages <-chan *redis.Message) {
	defer close(s.done)
	for msg := range messages {
		s.deliver(msg.Payload)
	}
}

func (s *subscription) deliver(payload string) {
	var c change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		s.logger.Warn("Ignoring unreadable change message", zap.Error(err))
		return
	}
	if !s.filter.Matches(ports.EventFilter(c.Event)) {
		return
	}
	s.handler([]byte(c.Document))
}

// Unsubscribe closes the pub/sub connection and waits for delivery to stop
func (s *subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		err = s.pubsub.Close()
		<-s.done
	})
	return err
}

func remoteError(operation string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return pkgerrors.NewRemoteUnavailableError("redis "+operation, err)
}
