package repository

import (
	"context"

	"github.com/and161185/talkmesh/internal/model"
)

// GroupRepository provides access to group presences and memberships.
type GroupRepository interface {
	// SaveGroupPresence upserts a group presence by group id.
	SaveGroupPresence(ctx context.Context, g *model.GroupPresence) error
	// GetGroupPresence loads a group presence by group id.
	GetGroupPresence(ctx context.Context, groupID string) (*model.GroupPresence, error)

	// SaveMembership upserts a membership by (groupID, clientID). Key material
	// fields are persisted together; the repository never writes them partially.
	SaveMembership(ctx context.Context, m *model.GroupMembership) error
	// GetMembership loads the membership of clientID in groupID.
	GetMembership(ctx context.Context, groupID, clientID string) (*model.GroupMembership, error)
	// FindMembershipsByGroupWithStates returns the group's memberships whose
	// state is in states; all states when states is empty.
	FindMembershipsByGroupWithStates(ctx context.Context, groupID string, states []string) ([]*model.GroupMembership, error)
	// FindMembershipsByClientWithStates returns the client's memberships whose
	// state is in states; all states when states is empty.
	FindMembershipsByClientWithStates(ctx context.Context, clientID string, states []string) ([]*model.GroupMembership, error)
}
