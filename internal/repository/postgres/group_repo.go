package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/talkmesh/internal/errs"
	"github.com/and161185/talkmesh/internal/model"
)

// GroupRepo implements GroupRepository using PostgreSQL.
type GroupRepo struct{ db *DB }

// NewGroupRepo constructs a group repository.
func NewGroupRepo(db *DB) *GroupRepo { return &GroupRepo{db: db} }

// SaveGroupPresence upserts a group presence row.
func (r *GroupRepo) SaveGroupPresence(ctx context.Context, g *model.GroupPresence) error {
	const q = `
INSERT INTO groups (group_id, group_name, group_type, state, shared_key_id, shared_key_id_salt, key_supplier, last_changed)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (group_id) DO UPDATE
SET group_name=EXCLUDED.group_name,
    group_type=EXCLUDED.group_type,
    state=EXCLUDED.state,
    shared_key_id=EXCLUDED.shared_key_id,
    shared_key_id_salt=EXCLUDED.shared_key_id_salt,
    key_supplier=EXCLUDED.key_supplier,
    last_changed=EXCLUDED.last_changed`
	_, err := r.db.Pool.Exec(ctx, q,
		g.GroupID, g.GroupName, g.GroupType, g.State, g.SharedKeyID, g.SharedKeyIDSalt, g.KeySupplier, g.LastChanged)
	return err
}

// GetGroupPresence selects a group presence by group id.
func (r *GroupRepo) GetGroupPresence(ctx context.Context, groupID string) (*model.GroupPresence, error) {
	const q = `
SELECT group_id, group_name, group_type, state, shared_key_id, shared_key_id_salt, key_supplier, last_changed
FROM groups WHERE group_id=$1`
	row := r.db.Pool.QueryRow(ctx, q, groupID)
	var g model.GroupPresence
	if err := row.Scan(&g.GroupID, &g.GroupName, &g.GroupType, &g.State, &g.SharedKeyID, &g.SharedKeyIDSalt, &g.KeySupplier, &g.LastChanged); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, errs.ErrNotFound
	}
	return &g, nil
}

// SaveMembership upserts a membership row. The key material columns are
// always written together as one statement.
func (r *GroupRepo) SaveMembership(ctx context.Context, m *model.GroupMembership) error {
	const q = `
INSERT INTO group_memberships (group_id, client_id, state, role, shared_key_id, shared_key_id_salt, member_key_id, encrypted_group_key, key_supplier, notifications, last_changed)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (group_id, client_id) DO UPDATE
SET state=EXCLUDED.state,
    role=EXCLUDED.role,
    shared_key_id=EXCLUDED.shared_key_id,
    shared_key_id_salt=EXCLUDED.shared_key_id_salt,
    member_key_id=EXCLUDED.member_key_id,
    encrypted_group_key=EXCLUDED.encrypted_group_key,
    key_supplier=EXCLUDED.key_supplier,
    notifications=EXCLUDED.notifications,
    last_changed=EXCLUDED.last_changed`
	_, err := r.db.Pool.Exec(ctx, q,
		m.GroupID, m.ClientID, m.State, m.Role,
		m.SharedKeyID, m.SharedKeyIDSalt, m.MemberKeyID, m.EncryptedGroupKey, m.KeySupplier,
		m.Notifications, m.LastChanged)
	return err
}

// GetMembership selects the membership of clientID in groupID.
func (r *GroupRepo) GetMembership(ctx context.Context, groupID, clientID string) (*model.GroupMembership, error) {
	const q = `
SELECT group_id, client_id, state, role, shared_key_id, shared_key_id_salt, member_key_id, encrypted_group_key, key_supplier, notifications, last_changed
FROM group_memberships WHERE group_id=$1 AND client_id=$2`
	row := r.db.Pool.QueryRow(ctx, q, groupID, clientID)
	var m model.GroupMembership
	if err := scanMembershipRow(row, &m); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, errs.ErrNotFound
	}
	return &m, nil
}

// FindMembershipsByGroupWithStates selects the group's memberships; all of
// them when states is empty.
func (r *GroupRepo) FindMembershipsByGroupWithStates(ctx context.Context, groupID string, states []string) ([]*model.GroupMembership, error) {
	const qAll = `
SELECT group_id, client_id, state, role, shared_key_id, shared_key_id_salt, member_key_id, encrypted_group_key, key_supplier, notifications, last_changed
FROM group_memberships WHERE group_id=$1
ORDER BY client_id`
	const qStates = `
SELECT group_id, client_id, state, role, shared_key_id, shared_key_id_salt, member_key_id, encrypted_group_key, key_supplier, notifications, last_changed
FROM group_memberships WHERE group_id=$1 AND state = ANY($2)
ORDER BY client_id`
	var (
		rows pgx.Rows
		err  error
	)
	if len(states) == 0 {
		rows, err = r.db.Pool.Query(ctx, qAll, groupID)
	} else {
		rows, err = r.db.Pool.Query(ctx, qStates, groupID, states)
	}
	if err != nil {
		return nil, err
	}
	return scanMemberships(rows)
}

// FindMembershipsByClientWithStates selects the client's memberships; all of
// them when states is empty.
func (r *GroupRepo) FindMembershipsByClientWithStates(ctx context.Context, clientID string, states []string) ([]*model.GroupMembership, error) {
	const qAll = `
SELECT group_id, client_id, state, role, shared_key_id, shared_key_id_salt, member_key_id, encrypted_group_key, key_supplier, notifications, last_changed
FROM group_memberships WHERE client_id=$1
ORDER BY group_id`
	const qStates = `
SELECT group_id, client_id, state, role, shared_key_id, shared_key_id_salt, member_key_id, encrypted_group_key, key_supplier, notifications, last_changed
FROM group_memberships WHERE client_id=$1 AND state = ANY($2)
ORDER BY group_id`
	var (
		rows pgx.Rows
		err  error
	)
	if len(states) == 0 {
		rows, err = r.db.Pool.Query(ctx, qAll, clientID)
	} else {
		rows, err = r.db.Pool.Query(ctx, qStates, clientID, states)
	}
	if err != nil {
		return nil, err
	}
	return scanMemberships(rows)
}

func scanMembershipRow(row pgx.Row, m *model.GroupMembership) error {
	return row.Scan(&m.GroupID, &m.ClientID, &m.State, &m.Role,
		&m.SharedKeyID, &m.SharedKeyIDSalt, &m.MemberKeyID, &m.EncryptedGroupKey, &m.KeySupplier,
		&m.Notifications, &m.LastChanged)
}

func scanMemberships(rows pgx.Rows) ([]*model.GroupMembership, error) {
	defer rows.Close()
	var out []*model.GroupMembership
	for rows.Next() {
		var m model.GroupMembership
		if err := scanMembershipRow(rows, &m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
