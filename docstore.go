package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// pgDocumentStore keeps every collection in one JSONB table. The timestamp
// field callers order by is the server-assigned created_at column, so a
// client can never forge submission time.
type pgDocumentStore struct {
	db *sql.DB
}

func newPGDocumentStore(db *sql.DB) *pgDocumentStore {
	return &pgDocumentStore{db: db}
}

func (s *pgDocumentStore) Create(ctx context.Context, collection string, record map[string]any) (string, error) {
	id := uuid.NewString()
	encoded, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3)
	`, collection, id, encoded)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *pgDocumentStore) Put(ctx context.Context, collection, id string, record map[string]any) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, id)
		DO UPDATE SET data = EXCLUDED.data
	`, collection, id, encoded)
	return err
}

func (s *pgDocumentStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	var raw []byte
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT data, created_at
		FROM documents
		WHERE collection = $1 AND id = $2
	`, collection, id).Scan(&raw, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &Document{ID: id, Data: decodeDocumentData(raw), CreatedAt: createdAt.UTC()}, nil
}

func (s *pgDocumentStore) QueryOrdered(ctx context.Context, collection, field string, desc bool) ([]Document, error) {
	direction := "ASC"
	if desc {
		direction = "DESC"
	}

	// "timestamp" is the server-assigned creation time; any other field
	// orders on the JSONB payload.
	orderBy := "data->>'" + field + "'"
	if field == "timestamp" || field == "" {
		orderBy = "created_at"
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, data, created_at
		FROM documents
		WHERE collection = $1
		ORDER BY %s %s
	`, orderBy, direction), collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	documents := make([]Document, 0)
	for rows.Next() {
		var document Document
		var raw []byte
		var createdAt time.Time
		if err := rows.Scan(&document.ID, &raw, &createdAt); err != nil {
			return nil, err
		}
		document.Data = decodeDocumentData(raw)
		document.CreatedAt = createdAt.UTC()
		documents = append(documents, document)
	}
	return documents, rows.Err()
}

// decodeDocumentData tolerates malformed payloads: a record that fails to
// decode yields an empty map instead of failing the whole read.
func decodeDocumentData(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return map[string]any{}
	}
	return decoded
}
