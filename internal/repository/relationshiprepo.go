package repository

import (
	"context"

	"github.com/and161185/talkmesh/internal/model"
)

// RelationshipRepository provides access to directed relationship edges.
// The mirror edge is a separate record and must be loaded separately.
type RelationshipRepository interface {
	// SaveRelationship upserts a relationship by (clientID, otherClientID).
	SaveRelationship(ctx context.Context, r *model.Relationship) error
	// GetRelationship loads the edge clientID -> otherClientID.
	GetRelationship(ctx context.Context, clientID, otherClientID string) (*model.Relationship, error)
	// FindRelationshipsByClientID returns all edges originating at clientID.
	FindRelationshipsByClientID(ctx context.Context, clientID string) ([]*model.Relationship, error)
	// FindRelationshipsByOtherClientID returns all edges pointing at otherClientID.
	FindRelationshipsByOtherClientID(ctx context.Context, otherClientID string) ([]*model.Relationship, error)
}
