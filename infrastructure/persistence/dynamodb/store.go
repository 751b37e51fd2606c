// Package dynamodb keeps flow documents in a single-table DynamoDB layout.
// DynamoDB has no push channel that fits an editor session, so subscriptions
// poll a version counter that every write increments.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"flowbuilder/application/ports"
	pkgerrors "flowbuilder/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

const (
	documentSK          = "DOCUMENT"
	DefaultPollInterval = 2 * time.Second
)

// API is the part of the DynamoDB client the store uses
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// flowItem is the stored shape of a flow document
type flowItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Document  string `dynamodbav:"Document"`
	Version   int64  `dynamodbav:"Version"`
	UpdatedAt string `dynamodbav:"UpdatedAt"`
}

// Store is a RemoteStore backed by DynamoDB
type Store struct {
	client       API
	tableName    string
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewClient loads AWS configuration for region. A non-empty endpoint points
// the client at DynamoDB Local or another compatible service.
func NewClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to load AWS config")
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// NewStore creates a store over tableName
func NewStore(client API, tableName string, pollInterval time.Duration, logger *zap.Logger) *Store {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client:       client,
		tableName:    tableName,
		pollInterval: pollInterval,
		logger:       logger.Named("dynamodb"),
	}
}

func partitionKey(key string) string {
	return fmt.Sprintf("FLOW#%s", key)
}

func itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: partitionKey(key)},
		"SK": &types.AttributeValueMemberS{Value: documentSK},
	}
}

func (s *Store) GetDocument(ctx context.Context, key string) ([]byte, bool, error) {
	item, found, err := s.get(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}
	return []byte(item.Document), true, nil
}

func (s *Store) get(ctx context.Context, key string) (flowItem, bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return flowItem{}, false, remoteError("get", err)
	}
	if result.Item == nil {
		return flowItem{}, false, nil
	}

	var item flowItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return flowItem{}, false, pkgerrors.NewMalformedDocumentError(key, err)
	}
	return item, true, nil
}

// UpsertDocument replaces the document and bumps its version
func (s *Store) UpsertDocument(ctx context.Context, key string, document []byte) error {
	update := expression.Set(expression.Name("Document"), expression.Value(string(document))).
		Set(expression.Name("UpdatedAt"), expression.Value(time.Now().UTC().Format(time.RFC3339Nano))).
		Add(expression.Name("Version"), expression.Value(1))

	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return pkgerrors.Wrap(err, "failed to build update expression")
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       itemKey(key),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return remoteError("upsert", err)
	}
	return nil
}

// Subscribe polls the item and reports every version newer than the one
// present when Subscribe was called. A version seen after the item was
// absent is reported as an INSERT, later ones as UPDATEs.
func (s *Store) Subscribe(ctx context.Context, key string, filter ports.EventFilter, handler ports.ChangeHandler) (ports.Subscription, error) {
	baseline, _, err := s.get(ctx, key)
	if err != nil {
		return nil, err
	}

	p := &poller{
		store:   s,
		key:     key,
		filter:  filter,
		handler: handler,
		version: baseline.Version,
		logger:  s.logger.With(zap.String("flowID", key)),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go p.run()
	return p, nil
}

type poller struct {
	store   *Store
	key     string
	filter  ports.EventFilter
	handler ports.ChangeHandler
	version int64
	logger  *zap.Logger

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func (p *poller) run() {
	defer close(p.done)
	ticker := time.NewTicker(p.store.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *poller) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), p.store.pollInterval)
	defer cancel()

	go func() {
		select {
		case <-p.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	item, found, err := p.store.get(ctx, p.key)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("Poll failed", zap.Error(err))
		}
		return
	}
	if !found || item.Version <= p.version {
		return
	}

	event := ports.EventUpdate
	if p.version == 0 {
		event = ports.EventInsert
	}
	p.version = item.Version
	if p.filter.Matches(event) {
		p.handler([]byte(item.Document))
	}
}

// Unsubscribe stops polling and waits for an in-progress poll to finish
func (p *poller) Unsubscribe() error {
	p.once.Do(func() {
		close(p.stop)
		<-p.done
	})
	return nil
}

func remoteError(operation string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return pkgerrors.NewRemoteUnavailableError("dynamodb "+operation, err)
}
