package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"brokeris.org/internal/migrate"
)

func main() {
	log.SetFlags(0)
	var (
		dsn            = flag.String("dsn", os.Getenv("BROKERIS_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "ops/migrations/sql", "Path to SQL migrations")
		seedsPath      = flag.String("seeds", "ops/migrations/seeds", "Path to SQL seeds")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or BROKERIS_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, *migrationsPath, *seedsPath)

	var cmdErr error
	switch flag.Arg(0) {
	case "up":
		cmdErr = mgr.Up(ctx)
	case "down":
		cmdErr = mgr.Down(ctx)
	case "seed":
		cmdErr = mgr.Seed(ctx)
	case "status":
		var history []string
		history, cmdErr = mgr.Status(ctx)
		for _, name := range history {
			fmt.Println(name)
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if cmdErr != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), cmdErr)
	}
}
