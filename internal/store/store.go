// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/clario/internal/domain"
)

// ErrProjectNotFound is returned when no project has the requested ID.
var ErrProjectNotFound = errors.New("project not found")

// Project is a stored project document. Raw is the document as persisted;
// callers decode it with domain.ParseDocument so a malformed document is
// still loadable as a record.
type Project struct {
	ID        string
	Name      string
	Raw       []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Repository is the boundary to the durable project documents. The
// document is the only durable state of a conversation.
type Repository interface {
	// GetProject returns ErrProjectNotFound when id is unknown.
	GetProject(ctx context.Context, id string) (*Project, error)

	// CreateProject stores a new project with an empty document.
	CreateProject(ctx context.Context, id, name string) (*Project, error)

	// PutDocument replaces a project's document, creating the project if
	// needed.
	PutDocument(ctx context.Context, id string, doc domain.Document) error

	// ApplyPatch merges a validated patch into the stored document and
	// returns the merged result. Concurrent patches are serialized;
	// conflicting section writes are last-write-wins.
	ApplyPatch(ctx context.Context, id string, patch map[string]any) (domain.Document, error)

	// ListProjects returns projects ordered by most recently updated.
	ListProjects(ctx context.Context, limit int) ([]*Project, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
