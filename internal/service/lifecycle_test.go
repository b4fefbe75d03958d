package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patronworks/org-provisioning-service/internal/model"
)

func activeOrg() *model.Organization {
	return &model.Organization{
		ID:         uuid.New(),
		Name:       "Acme Museum",
		Slug:       "acme",
		Status:     model.StatusActive,
		ProjectRef: "abcdef123456",
		ProjectURL: "https://abcdef123456.patronbackend.io",
		AnonKey:    "anon-key",
	}
}

func TestSuspend(t *testing.T) {
	org := activeOrg()
	store := newFakeStore(org)
	api := healthyAPI()
	pools := &fakePools{}

	l := NewLifecycle(store, api, pools, "development")
	warnings, err := l.Suspend(context.Background(), "acme")
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, model.StatusSuspended, org.Status)
	assert.Equal(t, []string{"pause abcdef123456"}, api.calls)
	assert.Equal(t, []uuid.UUID{org.ID}, pools.evicted)
	assert.Equal(t, []string{model.AuditOrgSuspended}, store.audits)
}

func TestSuspend_PauseFailureIsBestEffort(t *testing.T) {
	org := activeOrg()
	store := newFakeStore(org)
	api := healthyAPI()
	api.pauseErr = errors.New("status 500: internal")

	l := NewLifecycle(store, api, &fakePools{}, "development")
	warnings, err := l.Suspend(context.Background(), "acme")
	require.NoError(t, err)

	// The transition proceeds; the pause failure is surfaced, not dropped.
	assert.Equal(t, model.StatusSuspended, org.Status)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].String(), "pause project abcdef123456")
}

func TestSuspend_WrongStatusRejectedBeforeAnyCall(t *testing.T) {
	org := activeOrg()
	org.Status = model.StatusSuspended
	store := newFakeStore(org)
	api := healthyAPI()

	l := NewLifecycle(store, api, &fakePools{}, "development")
	_, err := l.Suspend(context.Background(), "acme")
	require.ErrorIs(t, err, ErrPrecondition)
	assert.Empty(t, api.calls)
	assert.Equal(t, model.StatusSuspended, org.Status)
}

func TestActivate(t *testing.T) {
	org := activeOrg()
	org.Status = model.StatusSuspended
	store := newFakeStore(org)
	api := healthyAPI()

	l := NewLifecycle(store, api, &fakePools{}, "development")
	warnings, err := l.Activate(context.Background(), "acme")
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, model.StatusActive, org.Status)
	assert.Equal(t, []string{"restore abcdef123456"}, api.calls)
	assert.Equal(t, []string{model.AuditOrgActivated}, store.audits)
}

func TestActivate_ProvisioningOrgRejected(t *testing.T) {
	org := activeOrg()
	org.Status = model.StatusProvisioning
	store := newFakeStore(org)
	api := healthyAPI()

	l := NewLifecycle(store, api, &fakePools{}, "development")
	_, err := l.Activate(context.Background(), "acme")
	require.ErrorIs(t, err, ErrPrecondition)
	assert.Empty(t, api.calls)
}

func TestActivate_RestoreFailureIsFatal(t *testing.T) {
	org := activeOrg()
	org.Status = model.StatusSuspended
	store := newFakeStore(org)
	api := healthyAPI()
	api.restoreErr = errors.New("status 500: internal")

	l := NewLifecycle(store, api, &fakePools{}, "development")
	_, err := l.Activate(context.Background(), "acme")
	require.Error(t, err)
	assert.Equal(t, model.StatusSuspended, org.Status)
}

func TestArchive_FromActive(t *testing.T) {
	org := activeOrg()
	store := newFakeStore(org)
	api := healthyAPI()
	pools := &fakePools{}

	l := NewLifecycle(store, api, pools, "development")
	warnings, err := l.Archive(context.Background(), "acme")
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, model.StatusArchived, org.Status)
	assert.Equal(t, []string{"pause abcdef123456"}, api.calls)
	assert.Equal(t, []uuid.UUID{org.ID}, store.suspendedFor)
	assert.Equal(t, []uuid.UUID{org.ID}, pools.evicted)
	assert.Equal(t, []string{model.AuditOrgArchived}, store.audits)
}

func TestArchive_AlreadyArchivedIsNoOp(t *testing.T) {
	org := activeOrg()
	org.Status = model.StatusArchived
	store := newFakeStore(org)
	api := healthyAPI()

	l := NewLifecycle(store, api, &fakePools{}, "development")
	warnings, err := l.Archive(context.Background(), "acme")
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Empty(t, api.calls)
	assert.Empty(t, store.audits)
}

func TestDelete_RefusedOutsideDevelopment(t *testing.T) {
	org := activeOrg()
	store := newFakeStore(org)
	api := healthyAPI()

	l := NewLifecycle(store, api, &fakePools{}, "production")
	_, err := l.Delete(context.Background(), "acme")
	require.ErrorIs(t, err, ErrEnvironmentGuard)

	// No mutation of any kind.
	assert.Empty(t, api.calls)
	assert.Empty(t, store.deleted)
	assert.Contains(t, store.orgs, org.ID)
}

func TestDelete_Development(t *testing.T) {
	org := activeOrg()
	store := newFakeStore(org)
	api := healthyAPI()
	pools := &fakePools{}

	l := NewLifecycle(store, api, pools, "development")
	warnings, err := l.Delete(context.Background(), "acme")
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, []string{"delete abcdef123456"}, api.calls)
	assert.Equal(t, []uuid.UUID{org.ID}, store.deleted)
	assert.Equal(t, []uuid.UUID{org.ID}, pools.evicted)
	assert.Equal(t, []string{model.AuditOrgDeleted}, store.audits)
}

func TestDelete_ProjectDeleteFailureIsBestEffort(t *testing.T) {
	org := activeOrg()
	store := newFakeStore(org)
	api := healthyAPI()
	api.deleteErr = errors.New("status 503: unavailable")

	l := NewLifecycle(store, api, &fakePools{}, "development")
	warnings, err := l.Delete(context.Background(), "acme")
	require.NoError(t, err)

	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].String(), "delete project abcdef123456")
	assert.Equal(t, []uuid.UUID{org.ID}, store.deleted)
}

func TestLifecycle_OrgNotFound(t *testing.T) {
	l := NewLifecycle(newFakeStore(), healthyAPI(), &fakePools{}, "development")
	_, err := l.Suspend(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrOrgNotFound)
}
