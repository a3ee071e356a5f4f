// Package catalog persists a local record of successfully ingested invoice
// documents in SQLite. The catalog is written only after verified uploads;
// it is the queryable history behind the `history` command.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// SQL statements for catalog operations.
const (
	sqlInsertDocument = `INSERT INTO documents
		(id, organization_id, uploader_id, file_name, storage_path, public_url,
		 size_bytes, content_type, retry_count, duration_ms, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlListDocuments = `SELECT id, organization_id, uploader_id, file_name,
		 storage_path, public_url, size_bytes, content_type, retry_count,
		 duration_ms, uploaded_at
		FROM documents WHERE organization_id = ?
		ORDER BY uploaded_at DESC`

	sqlGetDocument = `SELECT id, organization_id, uploader_id, file_name,
		 storage_path, public_url, size_bytes, content_type, retry_count,
		 duration_ms, uploaded_at
		FROM documents WHERE storage_path = ?`
)

// Document is one ingested invoice file.
type Document struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	UploaderID     string    `json:"uploader_id"`
	FileName       string    `json:"file_name"`
	StoragePath    string    `json:"storage_path"`
	PublicURL      string    `json:"public_url,omitempty"`
	SizeBytes      int64     `json:"size_bytes"`
	ContentType    string    `json:"content_type"`
	RetryCount     int       `json:"retry_count"`
	DurationMs     int64     `json:"duration_ms"`
	UploadedAt     time.Time `json:"uploaded_at"`
}

// Store is the sole writer to the catalog database.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests
}

// Open opens the SQLite database at dbPath, runs migrations, and returns a
// ready-to-use store. WAL mode with a busy timeout keeps concurrent readers
// (history command) from blocking the writer.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("catalog opened", slog.String("db_path", dbPath))

	return &Store{
		db:      db,
		logger:  logger,
		nowFunc: time.Now,
	}, nil
}

// Record inserts a document. A zero ID is filled with a fresh UUID; a zero
// UploadedAt is stamped with the current time.
func (s *Store) Record(ctx context.Context, doc Document) (Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}

	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = s.nowFunc()
	}

	_, err := s.db.ExecContext(ctx, sqlInsertDocument,
		doc.ID, doc.OrganizationID, doc.UploaderID, doc.FileName,
		doc.StoragePath, nullString(doc.PublicURL),
		doc.SizeBytes, doc.ContentType, doc.RetryCount, doc.DurationMs,
		doc.UploadedAt.UnixMilli(),
	)
	if err != nil {
		return Document{}, fmt.Errorf("catalog: recording document %s: %w", doc.StoragePath, err)
	}

	s.logger.Debug("document recorded",
		slog.String("id", doc.ID),
		slog.String("path", doc.StoragePath),
	)

	return doc, nil
}

// List returns all documents for an organization, newest first.
func (s *Store) List(ctx context.Context, organizationID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, sqlListDocuments, organizationID)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing documents for %s: %w", organizationID, err)
	}
	defer rows.Close()

	var docs []Document

	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}

		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterating document rows: %w", err)
	}

	return docs, nil
}

// Get returns the document recorded at a storage path, or sql.ErrNoRows
// wrapped when none exists.
func (s *Store) Get(ctx context.Context, storagePath string) (Document, error) {
	row := s.db.QueryRowContext(ctx, sqlGetDocument, storagePath)

	doc, err := scanDocument(row.Scan)
	if err != nil {
		return Document{}, fmt.Errorf("catalog: getting document %s: %w", storagePath, err)
	}

	return doc, nil
}

// scanDocument scans one documents row via the given Scan function,
// handling the nullable public_url column.
func scanDocument(scan func(dest ...any) error) (Document, error) {
	var (
		doc        Document
		publicURL  sql.NullString
		uploadedAt int64
	)

	err := scan(
		&doc.ID, &doc.OrganizationID, &doc.UploaderID, &doc.FileName,
		&doc.StoragePath, &publicURL, &doc.SizeBytes, &doc.ContentType,
		&doc.RetryCount, &doc.DurationMs, &uploadedAt,
	)
	if err != nil {
		return Document{}, err
	}

	doc.PublicURL = publicURL.String
	doc.UploadedAt = time.UnixMilli(uploadedAt)

	return doc, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// nullString maps empty string to NULL in SQLite.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: s, Valid: true}
}
