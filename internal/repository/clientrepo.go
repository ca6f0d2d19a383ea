// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/talkmesh/internal/model"
)

// ClientRepository provides CRUD access for clients and their host info.
type ClientRepository interface {
	// SaveClient upserts a client by id.
	SaveClient(ctx context.Context, c *model.Client) error
	// GetClientByID loads a client by id.
	GetClientByID(ctx context.Context, id string) (*model.Client, error)
	// DeleteClient removes the client record.
	DeleteClient(ctx context.Context, id string) error
	// SaveHostInfo upserts the client's host info.
	SaveHostInfo(ctx context.Context, h *model.HostInfo) error
	// DeleteHostInfo removes the client's host info.
	DeleteHostInfo(ctx context.Context, clientID string) error
}
