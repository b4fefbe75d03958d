// Package store holds the control-plane repository and the tenant
// connection-handle registry.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/patronworks/org-provisioning-service/internal/crypto"
	"github.com/patronworks/org-provisioning-service/internal/model"
)

// ErrStatusConflict is returned when a conditional status transition
// finds the row no longer in the expected source status. It closes the
// check-then-act race between concurrent lifecycle invocations.
var ErrStatusConflict = errors.New("organization status changed concurrently")

const cacheTTL = 1 * time.Hour

// RedisClient is the subset of the redis client used by the repository.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetEx(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// OrgRepository handles control-plane database operations for
// organizations, identity links and the audit log.
type OrgRepository struct {
	db    *sql.DB
	cache RedisClient // nil disables caching
	key   []byte      // AES key for the stored service-role credential
}

// NewOrgRepository connects to the control-plane database. redisAddr may
// be empty to run without the read cache.
func NewOrgRepository(dsn string, encryptionKey []byte, redisAddr string) (*OrgRepository, error) {
	config, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	db := stdlib.OpenDB(*config)
	if err := db.Ping(); err != nil {
		return nil, err
	}

	var cache RedisClient
	if redisAddr != "" {
		cache = redis.NewClient(&redis.Options{Addr: redisAddr})
	}

	return &OrgRepository{db: db, cache: cache, key: encryptionKey}, nil
}

// Close closes the database connection and the cache client.
func (r *OrgRepository) Close() error {
	if r.cache != nil {
		r.cache.Close()
	}
	return r.db.Close()
}

func cacheKey(id uuid.UUID) string {
	return fmt.Sprintf("org:%s", id.String())
}

func (r *OrgRepository) invalidate(ctx context.Context, id uuid.UUID) {
	if r.cache != nil {
		r.cache.Del(ctx, cacheKey(id))
	}
}

// Create inserts a new organization in the provisioning status.
func (r *OrgRepository) Create(ctx context.Context, org *model.Organization) error {
	org.ID = uuid.New()
	org.Status = model.StatusProvisioning
	if org.PlanTier == "" {
		org.PlanTier = "basic"
	}
	org.CreatedAt = time.Now()
	org.UpdatedAt = org.CreatedAt

	settings, err := json.Marshal(org.Settings)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO organizations (id, name, slug, status, plan_tier, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.ExecContext(ctx, query,
		org.ID, org.Name, org.Slug, org.Status, org.PlanTier, settings,
		org.CreatedAt, org.UpdatedAt,
	)
	return err
}

const orgColumns = `id, name, slug, status, plan_tier,
		COALESCE(project_ref, ''), COALESCE(project_url, ''), COALESCE(anon_key, ''),
		encrypted_service_key, service_key_nonce, settings, created_at, updated_at`

func (r *OrgRepository) scanOrg(row *sql.Row) (*model.Organization, error) {
	org := &model.Organization{}
	var settings []byte
	err := row.Scan(
		&org.ID, &org.Name, &org.Slug, &org.Status, &org.PlanTier,
		&org.ProjectRef, &org.ProjectURL, &org.AnonKey,
		&org.EncryptedServiceKey, &org.ServiceKeyNonce, &settings,
		&org.CreatedAt, &org.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &org.Settings); err != nil {
			return nil, err
		}
	}
	if err := r.decryptServiceKey(org); err != nil {
		return nil, err
	}
	return org, nil
}

func (r *OrgRepository) decryptServiceKey(org *model.Organization) error {
	if len(org.EncryptedServiceKey) == 0 || len(org.ServiceKeyNonce) == 0 {
		return nil
	}
	key, err := crypto.Decrypt(r.key, org.EncryptedServiceKey, org.ServiceKeyNonce)
	if err != nil {
		return fmt.Errorf("decrypt service-role key for org %s: %w", org.ID, err)
	}
	org.ServiceRoleKey = key
	return nil
}

// GetByID retrieves an organization by id, read-through cached.
func (r *OrgRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Organization, error) {
	if r.cache != nil {
		if cached, err := r.cache.Get(ctx, cacheKey(id)).Result(); err == nil {
			org := &model.Organization{}
			if err := json.Unmarshal([]byte(cached), org); err == nil {
				if err := r.decryptServiceKey(org); err == nil {
					return org, nil
				}
			}
		}
	}

	query := `SELECT ` + orgColumns + ` FROM organizations WHERE id = $1`
	org, err := r.scanOrg(r.db.QueryRowContext(ctx, query, id))
	if err != nil || org == nil {
		return org, err
	}

	if r.cache != nil {
		if data, err := json.Marshal(org); err == nil {
			r.cache.SetEx(ctx, cacheKey(id), data, cacheTTL)
		}
	}
	return org, nil
}

// GetBySlug retrieves an organization by its URL slug.
func (r *OrgRepository) GetBySlug(ctx context.Context, slug string) (*model.Organization, error) {
	query := `SELECT ` + orgColumns + ` FROM organizations WHERE slug = $1`
	return r.scanOrg(r.db.QueryRowContext(ctx, query, slug))
}

// UpdateStatus transitions an organization from one status to another.
// The update is conditional on the row still being in the expected
// source status; ErrStatusConflict is returned otherwise.
func (r *OrgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.OrgStatus) error {
	query := `
		UPDATE organizations
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`
	result, err := r.db.ExecContext(ctx, query, id, from, to)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("org %s: %s -> %s: %w", id, from, to, ErrStatusConflict)
	}

	r.invalidate(ctx, id)
	return nil
}

// Activate stores the external project reference, endpoint and API keys
// and sets the organization active, in one statement. The service-role
// key is encrypted at rest. Conditional on the row still provisioning.
func (r *OrgRepository) Activate(ctx context.Context, id uuid.UUID, projectRef, projectURL, anonKey, serviceRoleKey string) error {
	encrypted, nonce, err := crypto.Encrypt(r.key, serviceRoleKey)
	if err != nil {
		return err
	}

	query := `
		UPDATE organizations
		SET status = $2, project_ref = $3, project_url = $4, anon_key = $5,
		    encrypted_service_key = $6, service_key_nonce = $7, updated_at = now()
		WHERE id = $1 AND status = $8
	`
	result, err := r.db.ExecContext(ctx, query,
		id, model.StatusActive, projectRef, projectURL, anonKey,
		encrypted, nonce, model.StatusProvisioning,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("org %s: activate: %w", id, ErrStatusConflict)
	}

	r.invalidate(ctx, id)
	return nil
}

// CreateIdentityLink inserts an identity/organization join record.
func (r *OrgRepository) CreateIdentityLink(ctx context.Context, link *model.IdentityOrgLink) error {
	link.ID = uuid.New()
	link.Status = model.LinkStatusActive
	link.CreatedAt = time.Now()

	query := `
		INSERT INTO identity_org_links (id, identity_id, org_id, person_id, staff_access, patron_access, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		link.ID, link.IdentityID, link.OrgID, link.PersonID,
		link.StaffAccess, link.PatronAccess, link.Status, link.CreatedAt,
	)
	return err
}

// SuspendIdentityLinks suspends every identity link for an organization.
func (r *OrgRepository) SuspendIdentityLinks(ctx context.Context, orgID uuid.UUID) error {
	query := `UPDATE identity_org_links SET status = $2 WHERE org_id = $1`
	_, err := r.db.ExecContext(ctx, query, orgID, model.LinkStatusSuspended)
	return err
}

// DeleteOrgCascade removes the organization and its dependent
// control-plane rows in one transaction.
func (r *OrgRepository) DeleteOrgCascade(ctx context.Context, orgID uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM identity_org_links WHERE org_id = $1`, orgID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM impersonation_sessions WHERE org_id = $1`, orgID); err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM organizations WHERE id = $1`, orgID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	r.invalidate(ctx, orgID)
	return nil
}

// CreateAuditEntry appends a platform audit log entry. org_id carries no
// foreign key so terminal entries can reference a deleted organization.
func (r *OrgRepository) CreateAuditEntry(ctx context.Context, action string, orgID uuid.UUID, detail interface{}) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return err
	}

	query := `INSERT INTO platform_audit_log (action, org_id, detail, created_at) VALUES ($1, $2, $3, $4)`
	_, err = r.db.ExecContext(ctx, query, action, orgID, detailJSON, time.Now())
	return err
}
