package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"babycash.store/internal/audit"
	"babycash.store/internal/auth"
	"babycash.store/internal/httpapi"
	"babycash.store/internal/maintenance"
	"babycash.store/internal/obs"
	"babycash.store/internal/ratelimit"
	"babycash.store/internal/session"
	"babycash.store/internal/stream"
)

// Overridden at build time via -ldflags.
var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	// Observability first: metric registration, JSON logger.
	obs.Init()
	obs.InitBuildInfo(version, commit)

	secret := os.Getenv("BABYCASH_AUTH_SECRET")
	if secret == "" {
		log.Fatal("missing BABYCASH_AUTH_SECRET")
	}

	// Postgres when a DSN is set; in-memory stores otherwise (dev mode).
	var (
		db        *sql.DB
		userStore auth.UserStore
		credStore session.CredentialStore
		evStore   audit.Store
	)
	if dsn := os.Getenv("BABYCASH_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		userStore = auth.NewPGStore(db)
		credStore = session.NewPGStore(db)
		evStore = audit.NewPGStore(db)
	} else {
		log.Println("BABYCASH_PG_DSN not set; using in-memory stores")
		userStore = auth.NewMemoryStore()
		credStore = session.NewMemoryStore()
		evStore = audit.NewMemoryStore()
	}

	events := stream.New()
	recorder := audit.NewRecorder(evStore, audit.WithSecurityEventSink(events.Publish))
	sessions := session.New(credStore, recorder)
	limiter := ratelimit.New()

	signer, err := auth.NewSigner([]byte(secret))
	if err != nil {
		log.Fatalf("signer: %v", err)
	}
	svc := auth.NewService(userStore, sessions, signer, recorder)

	sweeper := maintenance.New(sessions, recorder)
	sweeper.Start()

	api := httpapi.New(svc, recorder, limiter, events, httpapi.ReadyProbe{DB: db}, version)

	srv := &http.Server{
		Addr:              ":8080",
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting babycash-api %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	sweeper.Stop()
	recorder.Close()
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
