package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patronworks/org-provisioning-service/internal/migration"
	"github.com/patronworks/org-provisioning-service/internal/model"
)

type fakeStore struct {
	orgs   map[uuid.UUID]*model.Organization
	audits []string
	links  []*model.IdentityOrgLink

	deleted      []uuid.UUID
	suspendedFor []uuid.UUID

	activateErr error
}

func newFakeStore(orgs ...*model.Organization) *fakeStore {
	s := &fakeStore{orgs: make(map[uuid.UUID]*model.Organization)}
	for _, o := range orgs {
		s.orgs[o.ID] = o
	}
	return s
}

func (s *fakeStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Organization, error) {
	return s.orgs[id], nil
}

func (s *fakeStore) GetBySlug(ctx context.Context, slug string) (*model.Organization, error) {
	for _, o := range s.orgs {
		if o.Slug == slug {
			return o, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.OrgStatus) error {
	org, ok := s.orgs[id]
	if !ok || org.Status != from {
		return fmt.Errorf("org %s: %s -> %s: status conflict", id, from, to)
	}
	org.Status = to
	return nil
}

func (s *fakeStore) Activate(ctx context.Context, id uuid.UUID, projectRef, projectURL, anonKey, serviceRoleKey string) error {
	if s.activateErr != nil {
		return s.activateErr
	}
	org, ok := s.orgs[id]
	if !ok || org.Status != model.StatusProvisioning {
		return errors.New("status conflict")
	}
	org.Status = model.StatusActive
	org.ProjectRef = projectRef
	org.ProjectURL = projectURL
	org.AnonKey = anonKey
	org.ServiceRoleKey = serviceRoleKey
	return nil
}

func (s *fakeStore) CreateIdentityLink(ctx context.Context, link *model.IdentityOrgLink) error {
	s.links = append(s.links, link)
	return nil
}

func (s *fakeStore) SuspendIdentityLinks(ctx context.Context, orgID uuid.UUID) error {
	s.suspendedFor = append(s.suspendedFor, orgID)
	return nil
}

func (s *fakeStore) DeleteOrgCascade(ctx context.Context, orgID uuid.UUID) error {
	if _, ok := s.orgs[orgID]; !ok {
		return errors.New("no rows")
	}
	delete(s.orgs, orgID)
	s.deleted = append(s.deleted, orgID)
	return nil
}

func (s *fakeStore) CreateAuditEntry(ctx context.Context, action string, orgID uuid.UUID, detail interface{}) error {
	s.audits = append(s.audits, action)
	return nil
}

type fakeAPI struct {
	calls []string

	proj          model.Project
	anon, service string

	createErr  error
	waitErr    error
	keysErr    error
	pauseErr   error
	restoreErr error
	deleteErr  error
}

func healthyAPI() *fakeAPI {
	return &fakeAPI{
		proj:    model.Project{Ref: "abcdef123456", Status: model.ProjectStatusHealthy, Endpoint: "https://abcdef123456.patronbackend.io"},
		anon:    "anon-key",
		service: "service-key",
	}
}

func (a *fakeAPI) CreateProject(ctx context.Context, name, dbPassword string) (*model.Project, error) {
	a.calls = append(a.calls, "create "+name)
	if a.createErr != nil {
		return nil, a.createErr
	}
	proj := a.proj
	return &proj, nil
}

func (a *fakeAPI) WaitHealthy(ctx context.Context, ref string, interval, budget time.Duration) error {
	a.calls = append(a.calls, "wait "+ref)
	return a.waitErr
}

func (a *fakeAPI) GetAPIKeys(ctx context.Context, ref string) (string, string, error) {
	a.calls = append(a.calls, "keys "+ref)
	if a.keysErr != nil {
		return "", "", a.keysErr
	}
	return a.anon, a.service, nil
}

func (a *fakeAPI) PauseProject(ctx context.Context, ref string) error {
	a.calls = append(a.calls, "pause "+ref)
	return a.pauseErr
}

func (a *fakeAPI) RestoreProject(ctx context.Context, ref string) error {
	a.calls = append(a.calls, "restore "+ref)
	return a.restoreErr
}

func (a *fakeAPI) DeleteProject(ctx context.Context, ref string) error {
	a.calls = append(a.calls, "delete "+ref)
	return a.deleteErr
}

type fakeMigrator struct {
	runs []string
	err  error
}

func (m *fakeMigrator) Run(ctx context.Context, databaseURL string, opts migration.Options) error {
	m.runs = append(m.runs, fmt.Sprintf("%s seed=%v", databaseURL, opts.Seed))
	return m.err
}

type fakeAdmin struct {
	calls    int
	personID uuid.UUID
	err      error
}

func (a *fakeAdmin) Setup(ctx context.Context, orgID uuid.UUID, tenantDSN string, admin *model.PendingAdmin) (uuid.UUID, error) {
	a.calls++
	if a.err != nil {
		return uuid.Nil, a.err
	}
	return a.personID, nil
}

type fakePools struct {
	evicted []uuid.UUID
}

func (p *fakePools) Get(ctx context.Context, orgID uuid.UUID, dsn string) (*pgxpool.Pool, error) {
	return nil, errors.New("not used in tests")
}

func (p *fakePools) Evict(orgID uuid.UUID) {
	p.evicted = append(p.evicted, orgID)
}

func testConfig() ProvisionerConfig {
	return ProvisionerConfig{
		PlatformPrefix:   "patronworks",
		TenantDBPassword: "tenant-pass",
		PollInterval:     time.Millisecond,
		PollBudget:       10 * time.Millisecond,
	}
}

func provisioningOrg() *model.Organization {
	return &model.Organization{
		ID:     uuid.New(),
		Name:   "Acme Museum",
		Slug:   "acme",
		Status: model.StatusProvisioning,
		Settings: model.Settings{
			PendingAdmin: &model.PendingAdmin{
				IdentityID: uuid.New(),
				FirstName:  "Ada",
				LastName:   "Lovelace",
				FullName:   "Ada Lovelace",
				Email:      "ada@acme.example",
			},
		},
	}
}

func TestProvision_HappyPath(t *testing.T) {
	org := provisioningOrg()
	store := newFakeStore(org)
	api := healthyAPI()
	migrator := &fakeMigrator{}
	admin := &fakeAdmin{personID: uuid.New()}

	p := NewProvisioner(store, api, migrator, admin, testConfig())
	warnings, err := p.Provision(context.Background(), org.ID)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, model.StatusActive, org.Status)
	assert.Equal(t, "abcdef123456", org.ProjectRef)
	assert.Equal(t, "https://abcdef123456.patronbackend.io", org.ProjectURL)
	assert.Equal(t, "anon-key", org.AnonKey)
	assert.Equal(t, "service-key", org.ServiceRoleKey)

	assert.Equal(t, []string{"create patronworks-acme", "wait abcdef123456", "keys abcdef123456"}, api.calls)
	require.Len(t, migrator.runs, 1)
	assert.Contains(t, migrator.runs[0], "db.abcdef123456.patronbackend.io")
	assert.Contains(t, migrator.runs[0], "seed=true")
	assert.Equal(t, 1, admin.calls)
	assert.Equal(t, []string{model.AuditOrgProvisioned}, store.audits)
}

func TestProvision_NoPendingAdmin(t *testing.T) {
	org := provisioningOrg()
	org.Settings.PendingAdmin = nil
	store := newFakeStore(org)
	admin := &fakeAdmin{}

	p := NewProvisioner(store, healthyAPI(), &fakeMigrator{}, admin, testConfig())
	warnings, err := p.Provision(context.Background(), org.ID)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	// The org still activates, just without an admin.
	assert.Equal(t, model.StatusActive, org.Status)
	assert.Zero(t, admin.calls)
}

func TestProvision_PreconditionViolation(t *testing.T) {
	org := provisioningOrg()
	org.Status = model.StatusActive
	store := newFakeStore(org)
	api := healthyAPI()

	p := NewProvisioner(store, api, &fakeMigrator{}, &fakeAdmin{}, testConfig())
	_, err := p.Provision(context.Background(), org.ID)
	require.ErrorIs(t, err, ErrPrecondition)

	// No side effects at all.
	assert.Empty(t, api.calls)
	assert.Empty(t, store.audits)
	assert.Equal(t, model.StatusActive, org.Status)
}

func TestProvision_OrgNotFound(t *testing.T) {
	p := NewProvisioner(newFakeStore(), healthyAPI(), &fakeMigrator{}, &fakeAdmin{}, testConfig())
	_, err := p.Provision(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrOrgNotFound)
}

func TestProvision_MigrationFailureArchivesAndCompensates(t *testing.T) {
	org := provisioningOrg()
	store := newFakeStore(org)
	api := healthyAPI()
	migrationErr := errors.New("syntax error at or near CREATE")
	migrator := &fakeMigrator{err: migrationErr}

	p := NewProvisioner(store, api, migrator, &fakeAdmin{}, testConfig())
	warnings, err := p.Provision(context.Background(), org.ID)

	// The original error is re-raised, not swallowed.
	require.ErrorIs(t, err, migrationErr)
	assert.Empty(t, warnings)

	assert.Equal(t, model.StatusArchived, org.Status)
	assert.Contains(t, store.audits, model.AuditOrgArchived)
	assert.Contains(t, api.calls, "delete abcdef123456")
}

func TestProvision_WaitFailureArchives(t *testing.T) {
	org := provisioningOrg()
	store := newFakeStore(org)
	api := healthyAPI()
	api.waitErr = errors.New("project abcdef123456 not healthy after 2m0s")

	p := NewProvisioner(store, api, &fakeMigrator{}, &fakeAdmin{}, testConfig())
	_, err := p.Provision(context.Background(), org.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not healthy")
	assert.Equal(t, model.StatusArchived, org.Status)
}

func TestProvision_CreateFailureArchivesWithoutProjectDelete(t *testing.T) {
	org := provisioningOrg()
	store := newFakeStore(org)
	api := healthyAPI()
	api.createErr = errors.New("status 402: project quota exceeded")

	p := NewProvisioner(store, api, &fakeMigrator{}, &fakeAdmin{}, testConfig())
	_, err := p.Provision(context.Background(), org.ID)
	require.Error(t, err)
	assert.Equal(t, model.StatusArchived, org.Status)

	// Nothing was created, so nothing to compensate on the provider side.
	assert.NotContains(t, api.calls, "delete abcdef123456")
}

func TestProvision_CompensationDeleteFailureIsWarning(t *testing.T) {
	org := provisioningOrg()
	store := newFakeStore(org)
	api := healthyAPI()
	api.keysErr = errors.New("status 500: internal")
	api.deleteErr = errors.New("status 503: unavailable")

	p := NewProvisioner(store, api, &fakeMigrator{}, &fakeAdmin{}, testConfig())
	warnings, err := p.Provision(context.Background(), org.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")

	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].String(), "delete project abcdef123456")
	assert.Equal(t, model.StatusArchived, org.Status)
}

func TestProvision_AdminSetupFailureArchives(t *testing.T) {
	org := provisioningOrg()
	store := newFakeStore(org)
	admin := &fakeAdmin{err: errors.New("create identity link: connection refused")}

	p := NewProvisioner(store, healthyAPI(), &fakeMigrator{}, admin, testConfig())
	_, err := p.Provision(context.Background(), org.ID)
	require.Error(t, err)
	assert.Equal(t, model.StatusArchived, org.Status)
	assert.NotContains(t, store.audits, model.AuditOrgProvisioned)
}
