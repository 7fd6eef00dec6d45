package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"threadboard/internal/app"
	"threadboard/internal/config"
	"threadboard/internal/docstore"
	"threadboard/internal/identity"
	"threadboard/internal/media"
	"threadboard/internal/search"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}
	cfg := config.Load()
	ctx := context.Background()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store connection failed: %v", err)
	}
	defer store.Close()

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewScan(store, cfg.Collection))

	var mediaStore *media.Store
	if strings.TrimSpace(cfg.MinIOEndpoint) != "" {
		mediaStore, err = media.NewStore(ctx, media.Config{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
			PublicURL: cfg.MediaPublicURL,
		})
		if err != nil {
			log.Fatalf("media store connection failed: %v", err)
		}
	}

	service := app.New(store, cfg.Collection, searchService, mediaStore)
	verifier := identity.NewVerifier([]byte(cfg.TokenSecret))

	httpServer := app.NewHTTPServer(service, verifier, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No write timeout: the snapshot stream endpoint holds its
		// response open for the life of the subscription.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Threadboard API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// openStore picks the document store backend. Redis wins when configured,
// then Postgres; with neither the server runs in memory and all data is
// lost on restart.
func openStore(ctx context.Context, cfg config.Config) (docstore.Store, error) {
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis document store")
		return docstore.NewRedisStore(cfg.RedisURL)
	}
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		log.Printf("Using PostgreSQL document store")
		db, err := docstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return docstore.NewPostgresStore(ctx, db, cfg.PollInterval)
	}
	log.Printf("WARNING: no REDIS_URL or DATABASE_URL set, using in-memory store")
	return docstore.NewMemoryStore(), nil
}
