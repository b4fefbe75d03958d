package model

import (
	"time"

	"github.com/google/uuid"
)

// OrgStatus is the lifecycle status of an organization.
type OrgStatus string

const (
	StatusProvisioning OrgStatus = "provisioning"
	StatusActive       OrgStatus = "active"
	StatusSuspended    OrgStatus = "suspended"
	StatusArchived     OrgStatus = "archived"
)

// IsValid reports whether s is a known lifecycle status.
func (s OrgStatus) IsValid() bool {
	switch s {
	case StatusProvisioning, StatusActive, StatusSuspended, StatusArchived:
		return true
	}
	return false
}

// CanTransitionTo reports whether the transition s -> to is legal.
// Archived is terminal except for the environment-gated hard delete,
// which is not a status transition.
func (s OrgStatus) CanTransitionTo(to OrgStatus) bool {
	switch to {
	case StatusActive:
		return s == StatusProvisioning || s == StatusSuspended
	case StatusSuspended:
		return s == StatusActive
	case StatusArchived:
		return s != StatusArchived
	}
	return false
}

// PendingAdmin is the identity designated to become the tenant's first
// administrator. It lives in Organization.Settings until consumed by
// admin identity setup.
type PendingAdmin struct {
	IdentityID uuid.UUID `json:"identity_id"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	FullName   string    `json:"full_name"`
	Email      string    `json:"email"`
}

// Settings is the free-form settings document stored on the organization row.
type Settings struct {
	PendingAdmin *PendingAdmin `json:"pending_admin,omitempty"`
}

// Organization represents one tenant in the control plane.
//
// Invariant: Status == active implies ProjectRef, ProjectURL and both API
// keys are populated.
type Organization struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Slug       string    `json:"slug"`
	Status     OrgStatus `json:"status"`
	PlanTier   string    `json:"plan_tier"`
	ProjectRef string    `json:"project_ref"`
	ProjectURL string    `json:"project_url"`
	AnonKey    string    `json:"anon_key"`

	// ServiceRoleKey is the decrypted key, transient and never serialized.
	// The encrypted form and its nonce are what the database holds.
	ServiceRoleKey      string `json:"-"`
	EncryptedServiceKey []byte `json:"encrypted_service_key,omitempty"`
	ServiceKeyNonce     []byte `json:"service_key_nonce,omitempty"`

	Settings  Settings  `json:"settings"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IdentityOrgLink associates a platform-wide identity with an organization
// and a tenant-local person record.
type IdentityOrgLink struct {
	ID           uuid.UUID `json:"id"`
	IdentityID   uuid.UUID `json:"identity_id"`
	OrgID        uuid.UUID `json:"org_id"`
	PersonID     uuid.UUID `json:"person_id"`
	StaffAccess  bool      `json:"staff_access"`
	PatronAccess bool      `json:"patron_access"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

const (
	LinkStatusActive    = "active"
	LinkStatusSuspended = "suspended"
)

// ProjectStatusHealthy is the only provider status accepted as ready.
const ProjectStatusHealthy = "ACTIVE_HEALTHY"

// Project is the provider-managed backend project. Not owned by this
// system; polled and mutated via the management API.
type Project struct {
	Ref            string `json:"ref"`
	Status         string `json:"status"`
	Endpoint       string `json:"endpoint"`
	Region         string `json:"region"`
	AnonKey        string `json:"anon_key,omitempty"`
	ServiceRoleKey string `json:"service_role_key,omitempty"`
}

// Audit actions written to the platform audit log.
const (
	AuditOrgProvisioned = "org.provisioned"
	AuditOrgSuspended   = "org.suspended"
	AuditOrgActivated   = "org.activated"
	AuditOrgArchived    = "org.archived"
	AuditOrgDeleted     = "org.deleted"
)
