package mongo

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/personas-nlq/backend/internal/storage/models"
	"github.com/personas-nlq/backend/pkg/logger"
)

const sourceName = "mongodb"

type Config struct {
	URI            string
	Database       string
	Collection     string
	LogsCollection string
	Timeout        time.Duration
}

// Client reads person documents and stores audit records in MongoDB.
type Client struct {
	client  *mongo.Client
	persons *mongo.Collection
	logs    *mongo.Collection
	timeout time.Duration
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.Timeout).
		SetServerSelectionTimeout(cfg.Timeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	db := client.Database(cfg.Database)

	logger.Info("MongoDB client initialized",
		zap.String("database", cfg.Database),
		zap.String("collection", cfg.Collection),
	)

	return &Client{
		client:  client,
		persons: db.Collection(cfg.Collection),
		logs:    db.Collection(cfg.LogsCollection),
		timeout: cfg.Timeout,
	}, nil
}

func (c *Client) Name() string {
	return sourceName
}

func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.Ping(ctx, readpref.Primary())
}

func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// FetchRawDocuments returns every person document, newest first. BSON
// values are converted to plain Go values.
func (c *Client) FetchRawDocuments(ctx context.Context) ([]models.RawDocument, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: models.FieldRegisteredAt, Value: -1}})

	cursor, err := c.persons.Find(ctx, bson.D{}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to query personas: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []models.RawDocument
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			logger.Warn("Skipping undecodable person document", zap.Error(err))
			continue
		}
		docs = append(docs, models.RawDocument(plainMap(raw)))
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate personas: %w", err)
	}

	logger.Debug("Fetched person documents", zap.Int("count", len(docs)))
	return docs, nil
}

// CreatePerson inserts a new person document, rejecting a document number
// that is already registered.
func (c *Client) CreatePerson(ctx context.Context, p models.PersonSeed) (string, error) {
	n, err := c.persons.CountDocuments(ctx, bson.M{models.FieldDocumentID: p.DocumentID})
	if err != nil {
		return "", fmt.Errorf("failed to check document number: %w", err)
	}
	if n > 0 {
		return "", models.ErrDuplicateDocument
	}

	res, err := c.persons.InsertOne(ctx, bson.M(p.Document()))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", models.ErrDuplicateDocument
		}
		return "", fmt.Errorf("failed to insert person: %w", err)
	}

	id := fmt.Sprint(res.InsertedID)
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		id = oid.Hex()
	}
	logger.Info("Person created", zap.String("id", id), zap.String("document", p.DocumentID))
	return id, nil
}

func (c *Client) InsertAuditRecord(ctx context.Context, record models.AuditRecord) error {
	_, err := c.logs.InsertOne(ctx, record)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

func (c *Client) ListAuditRecords(ctx context.Context, filter models.AuditFilter) ([]models.AuditRecord, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if filter.Limit > 0 {
		findOpts.SetLimit(int64(filter.Limit))
	}

	cursor, err := c.logs.Find(ctx, auditQuery(filter), findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []models.AuditRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode audit records: %w", err)
	}
	for i := range records {
		records[i].Source = sourceName
	}

	return records, nil
}

func auditQuery(filter models.AuditFilter) bson.M {
	query := bson.M{}
	if filter.Action != "" {
		query["accion"] = caseInsensitive(filter.Action)
	}
	if filter.Text != "" {
		query["$or"] = bson.A{
			bson.M{"detalles": caseInsensitive(filter.Text)},
			bson.M{"query": caseInsensitive(filter.Text)},
		}
	}
	if filter.From != nil || filter.To != nil {
		ts := bson.M{}
		if filter.From != nil {
			ts["$gte"] = *filter.From
		}
		if filter.To != nil {
			ts["$lte"] = *filter.To
		}
		query["timestamp"] = ts
	}
	return query
}

func caseInsensitive(s string) primitive.Regex {
	return primitive.Regex{Pattern: regexp.QuoteMeta(s), Options: "i"}
}

func plainMap(m bson.M) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = plainValue(v)
	}
	return out
}

func plainValue(v interface{}) interface{} {
	switch val := v.(type) {
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(val.T), 0).UTC()
	case bson.M:
		return plainMap(val)
	case bson.D:
		return plainMap(val.Map())
	case bson.A:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = plainValue(item)
		}
		return out
	}
	return v
}
