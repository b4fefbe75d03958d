package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/patronworks/org-provisioning-service/internal/config"
	"github.com/patronworks/org-provisioning-service/internal/mgmtapi"
	"github.com/patronworks/org-provisioning-service/internal/migration"
	"github.com/patronworks/org-provisioning-service/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var (
		orgSlug = flag.String("org-slug", "", "Resolve the tenant database from this organization")
		seed    = flag.Bool("seed", false, "Also apply seed files")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := context.Background()

	databaseURL := flag.Arg(0)
	switch {
	case databaseURL != "" && *orgSlug != "":
		log.Fatal().Msg("Pass either a database URL or --org-slug, not both")
	case databaseURL == "" && *orgSlug == "":
		fmt.Fprintf(os.Stderr, "usage: migrate-tenant (<database-url> | --org-slug <slug>) [--seed]\n")
		os.Exit(2)
	case *orgSlug != "":
		repo, err := store.NewOrgRepository(cfg.ControlPlaneDB, cfg.EncryptionKey, cfg.RedisAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to control-plane database")
		}
		defer repo.Close()

		org, err := repo.GetBySlug(ctx, *orgSlug)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to look up organization")
		}
		if org == nil {
			log.Fatal().Str("slug", *orgSlug).Msg("Organization not found")
		}
		if org.ProjectRef == "" {
			log.Fatal().Str("slug", *orgSlug).Msg("Organization has no backend project")
		}
		databaseURL = mgmtapi.TenantDatabaseURL(org.ProjectRef, cfg.TenantDBPassword)
	}

	runner := &migration.Runner{MigrationsDir: cfg.TenantMigrationsDir, SeedsDir: cfg.TenantSeedsDir}
	if err := runner.Run(ctx, databaseURL, migration.Options{Seed: *seed}); err != nil {
		log.Fatal().Err(err).Msg("Migration run failed")
	}

	fmt.Println("tenant database is up to date")
}
