package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"buddypay.org/internal/migrate"
	"buddypay.org/internal/obs"
)

func main() {
	log.SetFlags(0)
	_ = godotenv.Load()
	var (
		dsn            = flag.String("dsn", os.Getenv("BUDDYPAY_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "", "Path to SQL migrations (default: embedded)")
		seedsPath      = flag.String("seeds", "", "Path to SQL seeds (default: embedded)")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or BUDDYPAY_PG_DSN")
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

	logger := obs.NewLogger(os.Getenv("BUDDYPAY_LOG_FORMAT"), os.Getenv("LOG_LEVEL"), os.Stderr)
	mgr := migrate.NewManager(db, dirOr(*migrationsPath, migrate.Migrations), dirOr(*seedsPath, migrate.Seeds),
		migrate.WithLogger(logger))

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

func dirOr(path string, fallback fs.FS) fs.FS {
	if path == "" {
		return fallback
	}
	return os.DirFS(path)
}
