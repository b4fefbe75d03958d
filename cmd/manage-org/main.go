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
	"github.com/patronworks/org-provisioning-service/internal/monitoring"
	"github.com/patronworks/org-provisioning-service/internal/service"
	"github.com/patronworks/org-provisioning-service/internal/store"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: manage-org <suspend|activate|archive|delete> --slug <slug>\n")
	os.Exit(2)
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if len(os.Args) < 2 {
		usage()
	}
	action := os.Args[1]

	fs := flag.NewFlagSet("manage-org", flag.ExitOnError)
	slug := fs.String("slug", "", "Organization URL slug (required)")
	fs.Parse(os.Args[2:])

	if *slug == "" {
		usage()
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	repo, err := store.NewOrgRepository(cfg.ControlPlaneDB, cfg.EncryptionKey, cfg.RedisAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to control-plane database")
	}
	defer repo.Close()

	registry := store.NewPoolRegistry()
	defer registry.Close()

	monitoring.InitMetrics()

	client := mgmtapi.NewClient(cfg.MgmtAPI)
	lifecycle := service.NewLifecycle(repo, client, registry, cfg.Environment)

	ctx := context.Background()

	var warnings []service.Warning
	switch action {
	case "suspend":
		warnings, err = lifecycle.Suspend(ctx, *slug)
	case "activate":
		warnings, err = lifecycle.Activate(ctx, *slug)
	case "archive":
		warnings, err = lifecycle.Archive(ctx, *slug)
	case "delete":
		warnings, err = lifecycle.Delete(ctx, *slug)
	default:
		usage()
	}

	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	if err != nil {
		log.Fatal().Err(err).Str("org", *slug).Str("action", action).Msg("Command failed")
	}

	fmt.Printf("%s: %s done\n", *slug, action)
}
