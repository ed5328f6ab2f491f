package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/personas-nlq/backend/internal/storage/models"
	"github.com/personas-nlq/backend/pkg/logger"
)

const sourceName = "firestore"

type Config struct {
	ProjectID       string
	CredentialsFile string
	Collection      string
}

// Client reads and adds person documents in a Firestore collection.
type Client struct {
	client     *firestore.Client
	collection string
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	logger.Info("Firestore client initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("collection", cfg.Collection),
	)

	return &Client{client: client, collection: cfg.Collection}, nil
}

func (c *Client) Name() string {
	return sourceName
}

// Ping reads at most one document to prove the collection is reachable.
func (c *Client) Ping(ctx context.Context) error {
	iter := c.client.Collection(c.collection).Limit(1).Documents(ctx)
	defer iter.Stop()

	_, err := iter.Next()
	if err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("firestore unreachable: %w", err)
	}
	return nil
}

func (c *Client) Close(context.Context) error {
	return c.client.Close()
}

// FetchRawDocuments returns every document in the collection. Documents
// without an explicit id field get the Firestore document id. Documents are
// not ordered server-side because ordering would drop those lacking createdAt.
func (c *Client) FetchRawDocuments(ctx context.Context) ([]models.RawDocument, error) {
	iter := c.client.Collection(c.collection).Documents(ctx)
	defer iter.Stop()

	var docs []models.RawDocument
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate personas: %w", err)
		}

		doc := models.RawDocument(snap.Data())
		if _, ok := doc[models.FieldID]; !ok {
			doc[models.FieldID] = snap.Ref.ID
		}
		docs = append(docs, doc)
	}

	logger.Debug("Fetched person documents", zap.Int("count", len(docs)))
	return docs, nil
}

// CreatePerson adds a person document with a generated id, rejecting a
// document number that is already registered.
func (c *Client) CreatePerson(ctx context.Context, p models.PersonSeed) (string, error) {
	col := c.client.Collection(c.collection)

	iter := col.Where(models.FieldDocumentID, "==", p.DocumentID).Limit(1).Documents(ctx)
	_, err := iter.Next()
	iter.Stop()
	switch {
	case err == nil:
		return "", models.ErrDuplicateDocument
	case !errors.Is(err, iterator.Done):
		return "", fmt.Errorf("failed to check document number: %w", err)
	}

	ref, _, err := col.Add(ctx, p.Document())
	if err != nil {
		return "", fmt.Errorf("failed to add person: %w", err)
	}

	logger.Info("Person created", zap.String("id", ref.ID), zap.String("document", p.DocumentID))
	return ref.ID, nil
}
