package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"filevault/internal/repository/postgres"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	// Read environment to determine table prefix
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}

	prefix, ok := os.LookupEnv("TABLE_PREFIX")
	if !ok {
		if env == "prod" {
			prefix = ""
		} else {
			prefix = env + "_"
		}
	}

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() { _ = conn.Close(ctx) }() // Error ignored: script exiting

	t := postgres.NewTableNames(prefix)

	// Children first so CASCADE has nothing left to chase
	for _, table := range []string{
		t.ShareAccess,
		t.FileShares,
		t.FilePermissions,
		t.FileVersions,
		t.Files,
		t.Folders,
	} {
		if _, err := conn.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", table)); err != nil {
			log.Fatalf("Failed to drop %s: %v", table, err)
		}
	}

	fmt.Printf("All tables dropped successfully (prefix: %q)\n", prefix)
}
