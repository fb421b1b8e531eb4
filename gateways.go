package main

import (
	"context"
	"time"
)

// The core never talks to a backend directly; identity, binary storage and
// record persistence all go through these gateway contracts. Production
// implementations live in identity.go, objectstore.go and docstore.go, tests
// substitute fakes with call ledgers.

// Identity is the authenticated actor behind a form session.
type Identity struct {
	UserID   int    `json:"userId"`
	Email    string `json:"email"`
	FullName string `json:"fullName,omitempty"`
}

// IdentityProvider answers "who is acting". A nil identity with a nil error
// means "none": the caller redirects to registration instead of failing.
type IdentityProvider interface {
	CurrentUser(ctx context.Context) (*Identity, error)
}

// ObjectStore persists a binary payload under a unique key and returns a
// retrieval URL.
type ObjectStore interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// Document is one persisted record of a collection.
type Document struct {
	ID        string
	Data      map[string]any
	CreatedAt time.Time
}

// DocumentStore is the record persistence gateway. Create assigns the id and
// the server-side timestamp; Put writes a record under a caller-chosen id
// (used for user profiles keyed by user id); QueryOrdered issues one ordered
// query over a collection.
type DocumentStore interface {
	Create(ctx context.Context, collection string, record map[string]any) (string, error)
	Put(ctx context.Context, collection, id string, record map[string]any) error
	Get(ctx context.Context, collection, id string) (*Document, error)
	QueryOrdered(ctx context.Context, collection, field string, desc bool) ([]Document, error)
}

// staticIdentity adapts an already-resolved session to IdentityProvider, so
// HTTP handlers can hand the form controller the actor they looked up from
// the request cookie.
type staticIdentity struct {
	identity *Identity
}

func (s staticIdentity) CurrentUser(ctx context.Context) (*Identity, error) {
	return s.identity, nil
}
