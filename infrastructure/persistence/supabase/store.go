// Package supabase persists flow documents in a Supabase Postgres table and
// streams changes to them over Supabase Realtime.
//
// The table holds one row per bot:
//
//	create table chat_flows (
//	  bot_id text primary key,
//	  flow   jsonb not null
//	);
package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"flowbuilder/application/ports"
	pkgerrors "flowbuilder/pkg/errors"

	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"
)

const (
	DefaultTable     = "chat_flows"
	DefaultKeyColumn = "bot_id"
	DefaultDocColumn = "flow"
	DefaultHeartbeat = 30 * time.Second
)

// Config describes where flow documents live
type Config struct {
	URL    string
	Key    string
	Table  string
	Schema string
	// RealtimeURL overrides the websocket endpoint derived from URL
	RealtimeURL string
	Heartbeat   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Table == "" {
		c.Table = DefaultTable
	}
	if c.Schema == "" {
		c.Schema = "public"
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = DefaultHeartbeat
	}
	if c.RealtimeURL == "" {
		c.RealtimeURL = RealtimeURL(c.URL, c.Key)
	}
	return c
}

// Store is a RemoteStore backed by Supabase
type Store struct {
	client   *supabase.Client
	config   Config
	realtime *Realtime
	logger   *zap.Logger
}

// NewClient builds the Supabase client shared by the store and auth
func NewClient(config Config) (*supabase.Client, error) {
	config = config.withDefaults()
	client, err := supabase.NewClient(config.URL, config.Key, &supabase.ClientOptions{Schema: config.Schema})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to create supabase client")
	}
	return client, nil
}

// NewStore creates a store on top of client
func NewStore(client *supabase.Client, config Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	config = config.withDefaults()
	return &Store{
		client:   client,
		config:   config,
		realtime: NewRealtime(config.RealtimeURL, config.Schema, config.Table, config.Heartbeat, logger),
		logger:   logger.Named("supabase"),
	}
}

type flowRow struct {
	BotID string          `json:"bot_id"`
	Flow  json.RawMessage `json:"flow"`
}

func (s *Store) GetDocument(ctx context.Context, key string) ([]byte, bool, error) {
	body, err := call(ctx, func() ([]byte, error) {
		body, _, err := s.client.From(s.config.Table).
			Select(DefaultDocColumn, "", false).
			Eq(DefaultKeyColumn, key).
			Limit(1, "").
			Execute()
		return body, err
	})
	if err != nil {
		return nil, false, err
	}

	var rows []flowRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, false, pkgerrors.NewMalformedDocumentError(key, err)
	}
	if len(rows) == 0 || isNull(rows[0].Flow) {
		return nil, false, nil
	}
	return []byte(rows[0].Flow), true, nil
}

func (s *Store) UpsertDocument(ctx context.Context, key string, document []byte) error {
	// postgrest keeps a marshal failure on the shared client, so reject bad
	// input before it gets there.
	if !json.Valid(document) {
		return pkgerrors.NewValidationError("document is not valid JSON")
	}
	row := flowRow{BotID: key, Flow: json.RawMessage(document)}
	_, err := call(ctx, func() ([]byte, error) {
		body, _, err := s.client.From(s.config.Table).
			Upsert(row, DefaultKeyColumn, "minimal", "").
			Execute()
		return body, err
	})
	return err
}

func (s *Store) Subscribe(ctx context.Context, key string, filter ports.EventFilter, handler ports.ChangeHandler) (ports.Subscription, error) {
	return s.realtime.Subscribe(ctx, key, filter, handler)
}

// call runs a postgrest request, which takes no context, and gives up on it
// when ctx ends. The abandoned request finishes in the background.
func call(ctx context.Context, fn func() ([]byte, error)) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type result struct {
		body []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, err := fn()
		done <- result{body: body, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, pkgerrors.NewRemoteUnavailableError("supabase request", r.err)
		}
		return r.body, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func isNull(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}

// RealtimeURL derives the Realtime websocket endpoint from a project URL
func RealtimeURL(projectURL, apiKey string) string {
	u := strings.TrimRight(projectURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return fmt.Sprintf("%s/realtime/v1/websocket?apikey=%s&vsn=1.0.0", u, url.QueryEscape(apiKey))
}
