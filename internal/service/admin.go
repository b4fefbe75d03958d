package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/patronworks/org-provisioning-service/internal/model"
)

// orgAdminRoleName is the system-defined role the first administrator is
// bound to. Seeded by tenant/seeds.
const orgAdminRoleName = "Org Admin"

// TenantAdminSetup writes the first administrative person into the
// tenant database and links it to the platform identity in the control
// plane. No transaction spans the two databases; if the control-plane
// link fails after the person insert, the person row is orphaned and the
// orphan is logged loudly before the error propagates.
type TenantAdminSetup struct {
	pools TenantPools
	store OrgStore
}

// NewTenantAdminSetup creates the production AdminSetup implementation.
func NewTenantAdminSetup(pools TenantPools, store OrgStore) *TenantAdminSetup {
	return &TenantAdminSetup{pools: pools, store: store}
}

// Setup performs the four admin-setup steps against the tenant database
// and the control plane. Returns the tenant-local person id.
func (s *TenantAdminSetup) Setup(ctx context.Context, orgID uuid.UUID, tenantDSN string, admin *model.PendingAdmin) (uuid.UUID, error) {
	pool, err := s.pools.Get(ctx, orgID, tenantDSN)
	if err != nil {
		return uuid.Nil, err
	}

	personID := uuid.New()
	_, err = pool.Exec(ctx, `
		INSERT INTO people (id, identity_id, first_name, last_name, full_name, email, login_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, true)
	`, personID, admin.IdentityID, admin.FirstName, admin.LastName, admin.FullName, admin.Email)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert admin person: %w", err)
	}

	var roleID uuid.UUID
	err = pool.QueryRow(ctx, `SELECT id FROM roles WHERE name = $1`, orgAdminRoleName).Scan(&roleID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// Known gap: the org still activates, the admin just lacks the role.
		log.Warn().
			Str("org_id", orgID.String()).
			Str("role", orgAdminRoleName).
			Msg("System role not found, skipping role assignment")
	case err != nil:
		return uuid.Nil, fmt.Errorf("look up %s role: %w", orgAdminRoleName, err)
	default:
		_, err = pool.Exec(ctx, `
			INSERT INTO staff_assignments (id, person_id, role_id)
			VALUES ($1, $2, $3)
		`, uuid.New(), personID, roleID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("assign %s role: %w", orgAdminRoleName, err)
		}
	}

	link := &model.IdentityOrgLink{
		IdentityID:   admin.IdentityID,
		OrgID:        orgID,
		PersonID:     personID,
		StaffAccess:  true,
		PatronAccess: true,
	}
	if err := s.store.CreateIdentityLink(ctx, link); err != nil {
		log.Error().
			Str("org_id", orgID.String()).
			Str("person_id", personID.String()).
			Err(err).
			Msg("Control-plane identity link failed, tenant person record is orphaned")
		return uuid.Nil, fmt.Errorf("create identity link: %w", err)
	}

	return personID, nil
}
