package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"attest/api/internal/app"
	"attest/api/internal/attachment"
	"attest/api/internal/cache"
	"attest/api/internal/search"
	"attest/api/internal/store"
)

var (
	skipMigrations bool
	reindex        bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply pending migrations on start")
	serveCmd.Flags().BoolVar(&reindex, "reindex", false, "push every evidence into the search index on start")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL, 20)
	if err != nil {
		return err
	}
	defer db.Close()

	if !skipMigrations {
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			return err
		}
	}

	dataStore := store.NewPostgresStore(db)
	pgfts := search.NewPgFTS(db)
	var searchService *search.Service
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
		searchService = search.NewService(meiliClient, pgfts)
	} else {
		searchService = search.NewService(nil, pgfts)
	}
	if reindex {
		go searchService.ReindexAllFromPG(ctx)
	}

	requirementsCache := cache.Open(cfg.RedisURL, cfg.CacheTTL)
	defer requirementsCache.Close()

	var attachments attachment.Store
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioStore, err := attachment.NewMinioStore(ctx, attachment.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return err
		}
		attachments = minioStore
	} else {
		log.Printf("MINIO_ENDPOINT not set, keeping attachments in memory")
		attachments = attachment.NewMemoryStore()
	}

	service := app.New(cfg, app.Deps{
		Store:       dataStore,
		Cache:       requirementsCache,
		Search:      searchService,
		Attachments: attachments,
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Attest API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	return nil
}
