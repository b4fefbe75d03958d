package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/patronworks/org-provisioning-service/internal/mgmtapi"
	"github.com/patronworks/org-provisioning-service/internal/migration"
	"github.com/patronworks/org-provisioning-service/internal/model"
	"github.com/patronworks/org-provisioning-service/internal/monitoring"
)

// ProvisionerConfig carries the platform-level knobs the orchestrator
// needs from process configuration.
type ProvisionerConfig struct {
	PlatformPrefix   string
	TenantDBPassword string
	PollInterval     time.Duration
	PollBudget       time.Duration
}

// Provisioner drives the provisioning state machine for one
// organization: create project, wait healthy, fetch keys, migrate, set
// up the admin, activate. Any failure archives the organization,
// best-effort deletes a created project, and re-raises the original
// error.
type Provisioner struct {
	store    OrgStore
	api      ProjectAPI
	migrator Migrator
	admin    AdminSetup
	cfg      ProvisionerConfig
}

// NewProvisioner creates a Provisioner.
func NewProvisioner(store OrgStore, api ProjectAPI, migrator Migrator, admin AdminSetup, cfg ProvisionerConfig) *Provisioner {
	return &Provisioner{store: store, api: api, migrator: migrator, admin: admin, cfg: cfg}
}

// Provision runs the full provisioning sequence for an organization that
// must already exist with status provisioning. Best-effort failures on
// the compensation path come back as warnings alongside the error.
func (p *Provisioner) Provision(ctx context.Context, orgID uuid.UUID) ([]Warning, error) {
	org, err := p.store.GetByID(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, fmt.Errorf("org %s: %w", orgID, ErrOrgNotFound)
	}
	if org.Status != model.StatusProvisioning {
		return nil, fmt.Errorf("org %s has status %q, want %q: %w",
			org.Slug, org.Status, model.StatusProvisioning, ErrPrecondition)
	}

	start := time.Now()
	err = p.provision(ctx, org)
	monitoring.ProvisioningDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		monitoring.OrgsProvisioned.WithLabelValues(string(model.StatusArchived)).Inc()
		monitoring.Alert("provisioning failed", map[string]string{"org": org.Slug})
		return p.compensate(ctx, org), err
	}

	monitoring.OrgsProvisioned.WithLabelValues(string(model.StatusActive)).Inc()
	log.Info().Str("org", org.Slug).Str("project_ref", org.ProjectRef).Msg("Organization provisioned")
	return nil, nil
}

func (p *Provisioner) provision(ctx context.Context, org *model.Organization) error {
	projectName := fmt.Sprintf("%s-%s", p.cfg.PlatformPrefix, org.Slug)
	log.Info().Str("org", org.Slug).Str("project", projectName).Msg("Creating backend project")

	proj, err := p.api.CreateProject(ctx, projectName, p.cfg.TenantDBPassword)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	org.ProjectRef = proj.Ref
	org.ProjectURL = proj.Endpoint

	log.Info().Str("org", org.Slug).Str("project_ref", proj.Ref).Msg("Waiting for project to become healthy")
	if err := p.api.WaitHealthy(ctx, proj.Ref, p.cfg.PollInterval, p.cfg.PollBudget); err != nil {
		return fmt.Errorf("wait for project health: %w", err)
	}

	anonKey, serviceRoleKey, err := p.api.GetAPIKeys(ctx, proj.Ref)
	if err != nil {
		return fmt.Errorf("fetch api keys: %w", err)
	}

	tenantDSN := mgmtapi.TenantDatabaseURL(proj.Ref, p.cfg.TenantDBPassword)
	log.Info().Str("org", org.Slug).Msg("Running tenant migrations and seeds")
	if err := p.migrator.Run(ctx, tenantDSN, migration.Options{Seed: true}); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	if admin := org.Settings.PendingAdmin; admin != nil {
		log.Info().Str("org", org.Slug).Str("admin_email", admin.Email).Msg("Setting up initial admin")
		if _, err := p.admin.Setup(ctx, org.ID, tenantDSN, admin); err != nil {
			return fmt.Errorf("set up admin: %w", err)
		}
	} else {
		log.Warn().Str("org", org.Slug).Msg("No pending admin in settings, activating without one")
	}

	if err := p.store.Activate(ctx, org.ID, proj.Ref, proj.Endpoint, anonKey, serviceRoleKey); err != nil {
		return fmt.Errorf("activate org: %w", err)
	}
	org.Status = model.StatusActive

	if err := p.store.CreateAuditEntry(ctx, model.AuditOrgProvisioned, org.ID,
		map[string]string{"project_ref": proj.Ref, "slug": org.Slug}); err != nil {
		log.Warn().Err(err).Str("org", org.Slug).Msg("Failed to write provisioning audit entry")
	}
	return nil
}

// compensate archives the organization and best-effort deletes a project
// created earlier in the failed run. It never masks the original error;
// its own failures are reported as warnings.
func (p *Provisioner) compensate(ctx context.Context, org *model.Organization) []Warning {
	var warnings []Warning

	if err := p.store.UpdateStatus(ctx, org.ID, model.StatusProvisioning, model.StatusArchived); err != nil {
		warnings = append(warnings, Warning{Op: "archive org", Err: err})
	} else {
		if err := p.store.CreateAuditEntry(ctx, model.AuditOrgArchived, org.ID,
			map[string]string{"reason": "provisioning_failed", "slug": org.Slug}); err != nil {
			warnings = append(warnings, Warning{Op: "audit archive", Err: err})
		}
	}

	if org.ProjectRef != "" {
		log.Warn().Str("org", org.Slug).Str("project_ref", org.ProjectRef).Msg("Deleting partially created project")
		if err := p.api.DeleteProject(ctx, org.ProjectRef); err != nil {
			warnings = append(warnings, Warning{Op: "delete project " + org.ProjectRef, Err: err})
		}
	}

	return warnings
}
