package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/personas-nlq/backend/internal/storage/models"
	"github.com/personas-nlq/backend/pkg/logger"
)

const sourceName = "sqlite"

// Client is the local person store and the backup audit sink.
type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Name() string {
	return sourceName
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) Close(context.Context) error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS personas (
		id TEXT PRIMARY KEY,
		primer_nombre TEXT NOT NULL,
		segundo_nombre TEXT,
		apellidos TEXT NOT NULL,
		nro_documento TEXT UNIQUE NOT NULL,
		genero TEXT,
		correo TEXT,
		celular TEXT,
		fecha_nacimiento TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_personas_created ON personas(created_at);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		accion TEXT NOT NULL,
		detalles TEXT,
		categoria TEXT,
		query_text TEXT,
		query_hash TEXT,
		metadata TEXT,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_accion ON audit_log(accion);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// UpsertPerson inserts a seed person, replacing any row with the same
// document number.
func (c *Client) UpsertPerson(ctx context.Context, p models.PersonSeed) error {
	createdAt := time.Now()
	if p.RegisteredAt != nil {
		createdAt = *p.RegisteredAt
	}

	query := `
		INSERT INTO personas (id, primer_nombre, segundo_nombre, apellidos, nro_documento, genero, correo, celular, fecha_nacimiento, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(nro_documento) DO UPDATE SET
			primer_nombre = excluded.primer_nombre,
			segundo_nombre = excluded.segundo_nombre,
			apellidos = excluded.apellidos,
			genero = excluded.genero,
			correo = excluded.correo,
			celular = excluded.celular,
			fecha_nacimiento = excluded.fecha_nacimiento
	`

	_, err := c.db.ExecContext(ctx,
		query,
		uuid.New().String(),
		p.FirstName,
		p.MiddleName,
		p.LastNames,
		p.DocumentID,
		p.Gender,
		p.Email,
		p.Phone,
		p.BirthDate,
		createdAt.UnixMilli(),
	)

	if err != nil {
		return fmt.Errorf("failed to upsert person: %w", err)
	}

	logger.Debug("Person upserted", zap.String("document", p.DocumentID))
	return nil
}

// CreatePerson inserts a new person row, rejecting a document number that
// is already registered.
func (c *Client) CreatePerson(ctx context.Context, p models.PersonSeed) (string, error) {
	createdAt := time.Now()
	if p.RegisteredAt != nil {
		createdAt = *p.RegisteredAt
	}
	id := uuid.New().String()

	query := `
		INSERT INTO personas (id, primer_nombre, segundo_nombre, apellidos, nro_documento, genero, correo, celular, fecha_nacimiento, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx,
		query,
		id,
		p.FirstName,
		p.MiddleName,
		p.LastNames,
		p.DocumentID,
		p.Gender,
		p.Email,
		p.Phone,
		p.BirthDate,
		createdAt.UnixMilli(),
	)

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return "", models.ErrDuplicateDocument
	}
	if err != nil {
		return "", fmt.Errorf("failed to insert person: %w", err)
	}

	logger.Info("Person created", zap.String("id", id), zap.String("document", p.DocumentID))
	return id, nil
}

// FetchRawDocuments returns every person row, newest first, keyed by the
// document field names the other stores use.
func (c *Client) FetchRawDocuments(ctx context.Context) ([]models.RawDocument, error) {
	query := `
		SELECT id, primer_nombre, segundo_nombre, apellidos, nro_documento, genero, correo, celular, fecha_nacimiento, created_at
		FROM personas
		ORDER BY created_at DESC
	`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query personas: %w", err)
	}
	defer rows.Close()

	var docs []models.RawDocument
	for rows.Next() {
		var id, firstName, lastNames, documentID string
		var middleName, gender, email, phone, birthDate sql.NullString
		var createdAt int64

		err := rows.Scan(&id, &firstName, &middleName, &lastNames, &documentID, &gender, &email, &phone, &birthDate, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		doc := models.RawDocument{
			models.FieldID:           id,
			models.FieldFirstName:    firstName,
			models.FieldLastNames:    lastNames,
			models.FieldDocumentID:   documentID,
			models.FieldRegisteredAt: time.UnixMilli(createdAt).UTC(),
		}
		setIfValid(doc, models.FieldMiddleName, middleName)
		setIfValid(doc, models.FieldGender, gender)
		setIfValid(doc, models.FieldEmail, email)
		setIfValid(doc, models.FieldPhone, phone)
		setIfValid(doc, models.FieldBirthDate, birthDate)

		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate personas: %w", err)
	}

	return docs, nil
}

func (c *Client) CountPersons(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM personas`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count personas: %w", err)
	}
	return n, nil
}

func (c *Client) InsertAuditRecord(ctx context.Context, record models.AuditRecord) error {
	metadataJSON, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal audit metadata: %w", err)
	}

	query := `
		INSERT INTO audit_log (id, accion, detalles, categoria, query_text, query_hash, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = c.db.ExecContext(ctx,
		query,
		record.ID,
		record.Action,
		record.Details,
		record.Category,
		record.QueryText,
		record.QueryHash,
		string(metadataJSON),
		record.Timestamp.UnixMilli(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	return nil
}

// ListAuditRecords returns records matching filter, newest first.
func (c *Client) ListAuditRecords(ctx context.Context, filter models.AuditFilter) ([]models.AuditRecord, error) {
	var where []string
	var args []interface{}

	if filter.Action != "" {
		where = append(where, "LOWER(accion) LIKE ?")
		args = append(args, "%"+strings.ToLower(filter.Action)+"%")
	}
	if filter.Text != "" {
		where = append(where, "(LOWER(detalles) LIKE ? OR LOWER(query_text) LIKE ?)")
		pattern := "%" + strings.ToLower(filter.Text) + "%"
		args = append(args, pattern, pattern)
	}
	if filter.From != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, filter.From.UnixMilli())
	}
	if filter.To != nil {
		where = append(where, "timestamp <= ?")
		args = append(args, filter.To.UnixMilli())
	}

	query := `SELECT id, accion, detalles, categoria, query_text, query_hash, metadata, timestamp FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	var records []models.AuditRecord
	for rows.Next() {
		var r models.AuditRecord
		var details, category, queryText, queryHash, metadataJSON sql.NullString
		var ts int64

		err := rows.Scan(&r.ID, &r.Action, &details, &category, &queryText, &queryHash, &metadataJSON, &ts)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.Details = details.String
		r.Category = category.String
		r.QueryText = queryText.String
		r.QueryHash = queryHash.String
		r.Timestamp = time.UnixMilli(ts).UTC()
		r.Source = sourceName
		if metadataJSON.Valid && metadataJSON.String != "" {
			json.Unmarshal([]byte(metadataJSON.String), &r.Metadata)
		}

		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit records: %w", err)
	}

	return records, nil
}

func setIfValid(doc models.RawDocument, key string, v sql.NullString) {
	if v.Valid && v.String != "" {
		doc[key] = v.String
	}
}
