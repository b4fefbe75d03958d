package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/patronworks/org-provisioning-service/internal/model"
	"github.com/patronworks/org-provisioning-service/internal/monitoring"
)

// Lifecycle implements the suspend/activate/archive/delete commands.
// Every transition is a conditional update against the status read just
// before acting; a concurrent transition surfaces as a conflict error
// from the store.
type Lifecycle struct {
	store       OrgStore
	api         ProjectAPI
	pools       TenantPools
	environment string
}

// NewLifecycle creates a Lifecycle. environment gates the hard delete.
func NewLifecycle(store OrgStore, api ProjectAPI, pools TenantPools, environment string) *Lifecycle {
	return &Lifecycle{store: store, api: api, pools: pools, environment: environment}
}

func (l *Lifecycle) getOrg(ctx context.Context, slug string) (*model.Organization, error) {
	org, err := l.store.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, fmt.Errorf("org %q: %w", slug, ErrOrgNotFound)
	}
	return org, nil
}

// Suspend pauses the external project (best-effort) and moves the
// organization from active to suspended.
func (l *Lifecycle) Suspend(ctx context.Context, slug string) ([]Warning, error) {
	org, err := l.getOrg(ctx, slug)
	if err != nil {
		return nil, err
	}
	if org.Status != model.StatusActive {
		return nil, fmt.Errorf("suspend org %q: status is %q, want %q: %w",
			slug, org.Status, model.StatusActive, ErrPrecondition)
	}

	var warnings []Warning
	if err := l.api.PauseProject(ctx, org.ProjectRef); err != nil {
		log.Warn().Err(err).Str("org", slug).Msg("Pause project failed")
		warnings = append(warnings, Warning{Op: "pause project " + org.ProjectRef, Err: err})
	}

	if err := l.store.UpdateStatus(ctx, org.ID, model.StatusActive, model.StatusSuspended); err != nil {
		return warnings, err
	}
	l.pools.Evict(org.ID)
	l.audit(ctx, model.AuditOrgSuspended, org)
	monitoring.LifecycleTransitions.WithLabelValues("suspend").Inc()
	return warnings, nil
}

// Activate restores the external project and moves the organization from
// suspended back to active. A restore failure is fatal: an active org
// with a paused project would violate what active means.
func (l *Lifecycle) Activate(ctx context.Context, slug string) ([]Warning, error) {
	org, err := l.getOrg(ctx, slug)
	if err != nil {
		return nil, err
	}
	if org.Status != model.StatusSuspended {
		return nil, fmt.Errorf("activate org %q: status is %q, want %q: %w",
			slug, org.Status, model.StatusSuspended, ErrPrecondition)
	}

	if err := l.api.RestoreProject(ctx, org.ProjectRef); err != nil {
		return nil, fmt.Errorf("restore project: %w", err)
	}

	if err := l.store.UpdateStatus(ctx, org.ID, model.StatusSuspended, model.StatusActive); err != nil {
		return nil, err
	}
	l.audit(ctx, model.AuditOrgActivated, org)
	monitoring.LifecycleTransitions.WithLabelValues("activate").Inc()
	return nil, nil
}

// Archive pauses the external project (best-effort), cascade-suspends
// identity links and moves the organization to the archived terminal
// state. A no-op when already archived.
func (l *Lifecycle) Archive(ctx context.Context, slug string) ([]Warning, error) {
	org, err := l.getOrg(ctx, slug)
	if err != nil {
		return nil, err
	}
	if org.Status == model.StatusArchived {
		log.Info().Str("org", slug).Msg("Already archived")
		return nil, nil
	}

	var warnings []Warning
	if org.ProjectRef != "" {
		if err := l.api.PauseProject(ctx, org.ProjectRef); err != nil {
			log.Warn().Err(err).Str("org", slug).Msg("Pause project failed")
			warnings = append(warnings, Warning{Op: "pause project " + org.ProjectRef, Err: err})
		}
	}

	if err := l.store.SuspendIdentityLinks(ctx, org.ID); err != nil {
		return warnings, fmt.Errorf("suspend identity links: %w", err)
	}

	if err := l.store.UpdateStatus(ctx, org.ID, org.Status, model.StatusArchived); err != nil {
		return warnings, err
	}
	l.pools.Evict(org.ID)
	l.audit(ctx, model.AuditOrgArchived, org)
	monitoring.LifecycleTransitions.WithLabelValues("archive").Inc()
	return warnings, nil
}

// Delete hard-deletes the external project (best-effort) and every
// control-plane row for the organization. Refused outside the
// development environment, before any mutation.
func (l *Lifecycle) Delete(ctx context.Context, slug string) ([]Warning, error) {
	if l.environment != "development" {
		return nil, fmt.Errorf("delete org %q in environment %q: %w", slug, l.environment, ErrEnvironmentGuard)
	}

	org, err := l.getOrg(ctx, slug)
	if err != nil {
		return nil, err
	}

	var warnings []Warning
	if org.ProjectRef != "" {
		if err := l.api.DeleteProject(ctx, org.ProjectRef); err != nil {
			log.Warn().Err(err).Str("org", slug).Msg("Delete project failed")
			warnings = append(warnings, Warning{Op: "delete project " + org.ProjectRef, Err: err})
		}
	}

	if err := l.store.DeleteOrgCascade(ctx, org.ID); err != nil {
		return warnings, fmt.Errorf("delete org rows: %w", err)
	}
	l.pools.Evict(org.ID)

	// Terminal entry referencing the now-deleted id.
	l.audit(ctx, model.AuditOrgDeleted, org)
	monitoring.LifecycleTransitions.WithLabelValues("delete").Inc()
	return warnings, nil
}

func (l *Lifecycle) audit(ctx context.Context, action string, org *model.Organization) {
	if err := l.store.CreateAuditEntry(ctx, action, org.ID, map[string]string{"slug": org.Slug}); err != nil {
		log.Warn().Err(err).Str("org", org.Slug).Str("action", action).Msg("Failed to write audit entry")
	}
}
