package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"whatslens/internal/migrations"

	_ "github.com/lib/pq"
)

func main() {
	dsn := flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	dir := flag.String("dir", migrations.MigrationsDir, "Directory containing numbered .sql migration files")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("A database URL is required (-database-url flag or DATABASE_URL)")
	}

	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		log.Fatalf("Failed to create migrations table: %v", err)
	}

	pending, err := pendingMigrations(db, *dir)
	if err != nil {
		log.Fatalf("Failed to collect migrations: %v", err)
	}
	if len(pending) == 0 {
		fmt.Println("Database schema is up to date")
		return
	}

	for _, m := range pending {
		fmt.Printf("Applying migration %d: %s\n", m.version, filepath.Base(m.path))
		if err := apply(db, m); err != nil {
			log.Fatalf("Migration %d failed: %v", m.version, err)
		}
	}

	fmt.Printf("Applied %d migration(s)\n", len(pending))
}

type migration struct {
	version int
	path    string
}

// pendingMigrations lists numbered .sql files in dir that have no row in
// schema_migrations, in ascending version order. Filenames follow the
// NNN_description.sql convention.
func pendingMigrations(db *sql.DB, dir string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	applied := map[int]bool{}
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var pending []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		prefix, _, found := strings.Cut(name, "_")
		if !found {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		if !applied[version] {
			pending = append(pending, migration{version: version, path: filepath.Join(dir, name)})
		}
	}

	sort.Slice(pending, func(i, j int) bool { return pending[i].version < pending[j].version })
	return pending, nil
}

// apply runs one migration file and records its version in a single
// transaction, so a failed migration leaves no partial state behind.
func apply(db *sql.DB, m migration) error {
	content, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(string(content)); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", m.version); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
