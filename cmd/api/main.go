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

	"brokeris.org/internal/audit"
	"brokeris.org/internal/commission"
	"brokeris.org/internal/httpapi"
	"brokeris.org/internal/obs"
	"brokeris.org/internal/store/pg"
	"brokeris.org/internal/tenancy"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	// With a DSN the service runs against Postgres; without one it falls back
	// to in-memory stores, which is enough for local poking.
	var (
		db    *sql.DB
		users tenancy.Store
		rules commission.RuleStore
		sink  audit.Sink
	)
	if dsn := os.Getenv("BROKERIS_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db = store.DB()
		users = store
		rules = store
		sink = store
	} else {
		log.Printf("BROKERIS_PG_DSN not set, using in-memory stores")
		users = tenancy.NewInMemory()
		rules = commission.NewInMemory()
		sink = audit.NewInMemorySink()
	}

	recorder := audit.NewRecorder(sink)

	api, err := httpapi.New(httpapi.ReadyProbe{DB: db}, version, users, rules, recorder)
	if err != nil {
		log.Fatalf("init api: %v", err)
	}

	addr := os.Getenv("BROKERIS_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting brokeris-api %s on %s", version, srv.Addr)

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
	// Drain the audit queue before dropping the DB connection.
	recorder.Close()
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
