//go:build ignore

package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

// Drops every saved ingestion checkpoint so the next poll or crawl
// starts from a clean slate. Use the admin API for a single platform.
func main() {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL not set")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}

	res, err := db.Exec("DELETE FROM crawl_checkpoints")
	if err != nil {
		log.Fatalf("failed to clear checkpoints: %v", err)
	}

	n, _ := res.RowsAffected()
	fmt.Printf("✓ %d checkpoint(s) cleared\n", n)
}
