package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/patronworks/org-provisioning-service/internal/config"
	"github.com/patronworks/org-provisioning-service/internal/mgmtapi"
	"github.com/patronworks/org-provisioning-service/internal/migration"
	"github.com/patronworks/org-provisioning-service/internal/model"
	"github.com/patronworks/org-provisioning-service/internal/monitoring"
	"github.com/patronworks/org-provisioning-service/internal/service"
	"github.com/patronworks/org-provisioning-service/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var (
		name            = flag.String("name", "", "Organization display name (required)")
		slug            = flag.String("slug", "", "Organization URL slug (required)")
		planTier        = flag.String("plan-tier", "basic", "Plan tier")
		adminIdentityID = flag.String("admin-identity-id", "", "Platform identity id of the initial admin")
		adminEmail      = flag.String("admin-email", "", "Email of the initial admin")
		adminFirst      = flag.String("admin-first", "", "First name of the initial admin")
		adminLast       = flag.String("admin-last", "", "Last name of the initial admin")
		metricsAddr     = flag.String("metrics-addr", "", "Optional listen address for health and metrics, e.g. :8081")
	)
	flag.Parse()

	if *name == "" || *slug == "" {
		log.Fatal().Msg("--name and --slug are required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	settings := model.Settings{}
	if *adminEmail != "" {
		identityID, err := uuid.Parse(*adminIdentityID)
		if err != nil {
			log.Fatal().Msg("--admin-identity-id must be a valid UUID when --admin-email is set")
		}
		settings.PendingAdmin = &model.PendingAdmin{
			IdentityID: identityID,
			FirstName:  *adminFirst,
			LastName:   *adminLast,
			FullName:   fmt.Sprintf("%s %s", *adminFirst, *adminLast),
			Email:      *adminEmail,
		}
	}

	repo, err := store.NewOrgRepository(cfg.ControlPlaneDB, cfg.EncryptionKey, cfg.RedisAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to control-plane database")
	}
	defer repo.Close()

	registry := store.NewPoolRegistry()
	defer registry.Close()

	monitoring.InitMetrics()
	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr)
	}

	ctx := context.Background()

	if existing, err := repo.GetBySlug(ctx, *slug); err != nil {
		log.Fatal().Err(err).Msg("Failed to check slug uniqueness")
	} else if existing != nil {
		log.Fatal().Str("slug", *slug).Msg("Slug already exists")
	}

	org := &model.Organization{
		Name:     *name,
		Slug:     *slug,
		PlanTier: *planTier,
		Settings: settings,
	}
	if err := repo.Create(ctx, org); err != nil {
		log.Fatal().Err(err).Msg("Failed to create organization record")
	}
	fmt.Printf("created organization %s (%s) in provisioning state\n", org.Slug, org.ID)

	client := mgmtapi.NewClient(cfg.MgmtAPI)
	runner := &migration.Runner{MigrationsDir: cfg.TenantMigrationsDir, SeedsDir: cfg.TenantSeedsDir}
	admin := service.NewTenantAdminSetup(registry, repo)

	provisioner := service.NewProvisioner(repo, client, runner, admin, service.ProvisionerConfig{
		PlatformPrefix:   cfg.PlatformPrefix,
		TenantDBPassword: cfg.TenantDBPassword,
		PollInterval:     cfg.PollInterval,
		PollBudget:       cfg.PollBudget,
	})

	fmt.Printf("provisioning backend project for %s...\n", org.Slug)
	warnings, err := provisioner.Provision(ctx, org.ID)
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	if err != nil {
		log.Fatal().Err(err).Str("org", org.Slug).Msg("Provisioning failed, organization archived")
	}

	fmt.Printf("organization %s is active\n", org.Slug)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	log.Info().Str("addr", addr).Msg("HTTP server for health checks and metrics started")
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("HTTP server error")
	}
}
