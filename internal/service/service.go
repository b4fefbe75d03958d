// Package service contains the provisioning orchestrator, admin identity
// setup and the org lifecycle commands.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/patronworks/org-provisioning-service/internal/migration"
	"github.com/patronworks/org-provisioning-service/internal/model"
)

// Domain errors surfaced to the CLI boundary.
var (
	ErrOrgNotFound = errors.New("organization not found")

	// ErrPrecondition marks an organization in the wrong status for the
	// requested operation. No side effects have been performed.
	ErrPrecondition = errors.New("organization status precondition violated")

	// ErrEnvironmentGuard marks an operation refused outside the
	// development environment.
	ErrEnvironmentGuard = errors.New("operation only permitted in the development environment")
)

// Warning carries a best-effort failure that did not abort the
// operation, so callers can surface it to operators instead of it being
// silently discarded.
type Warning struct {
	Op  string
	Err error
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %v", w.Op, w.Err)
}

// ProjectAPI is the management-API surface the services depend on.
type ProjectAPI interface {
	CreateProject(ctx context.Context, name, dbPassword string) (*model.Project, error)
	WaitHealthy(ctx context.Context, ref string, interval, budget time.Duration) error
	GetAPIKeys(ctx context.Context, ref string) (anon, serviceRole string, err error)
	PauseProject(ctx context.Context, ref string) error
	RestoreProject(ctx context.Context, ref string) error
	DeleteProject(ctx context.Context, ref string) error
}

// OrgStore is the control-plane repository surface the services depend on.
type OrgStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Organization, error)
	GetBySlug(ctx context.Context, slug string) (*model.Organization, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.OrgStatus) error
	Activate(ctx context.Context, id uuid.UUID, projectRef, projectURL, anonKey, serviceRoleKey string) error
	CreateIdentityLink(ctx context.Context, link *model.IdentityOrgLink) error
	SuspendIdentityLinks(ctx context.Context, orgID uuid.UUID) error
	DeleteOrgCascade(ctx context.Context, orgID uuid.UUID) error
	CreateAuditEntry(ctx context.Context, action string, orgID uuid.UUID, detail interface{}) error
}

// Migrator runs tenant schema migrations and seeds.
type Migrator interface {
	Run(ctx context.Context, databaseURL string, opts migration.Options) error
}

// TenantPools hands out and evicts tenant connection handles.
type TenantPools interface {
	Get(ctx context.Context, orgID uuid.UUID, dsn string) (*pgxpool.Pool, error)
	Evict(orgID uuid.UUID)
}

// AdminSetup creates the initial administrative identity in a freshly
// provisioned tenant database.
type AdminSetup interface {
	Setup(ctx context.Context, orgID uuid.UUID, tenantDSN string, admin *model.PendingAdmin) (personID uuid.UUID, err error)
}
