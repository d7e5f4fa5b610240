// Command migrate applies or reverts the SQL files under
// database/migrations against a Postgres database, tracking progress in
// a schema_migrations table.
package main

import (
	"bufio"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
)

// migrationFile is one parsed entry from database/migrations, named
// "<version>_<name>.<up|down>.sql".
type migrationFile struct {
	Version       uint64
	Direction     string
	Name          string
	Path          string
	Content       string
	HasConcurrent bool
}

func main() {
	var (
		dsn           string
		migrationsDir string
		direction     string
	)
	flag.StringVar(&dsn, "dsn", "", "PostgreSQL connection string (required)")
	flag.StringVar(&migrationsDir, "migrations", "database/migrations", "directory containing migration files")
	flag.StringVar(&direction, "direction", "up", "migration direction (up or down)")
	flag.Parse()

	if dsn == "" {
		dsn = os.Getenv("POSTGRES_DSN")
	}
	if dsn == "" {
		log.Fatal("database connection string is required: pass -dsn or set POSTGRES_DSN")
	}

	migrations, err := loadMigrations(migrationsDir)
	if err != nil {
		log.Fatalf("failed to load migrations from %s: %v", migrationsDir, err)
	}

	if err := runMigrations(dsn, migrations, direction); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	log.Println("migrations completed successfully")
}

func loadMigrations(dir string) ([]migrationFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	concurrentRegex := regexp.MustCompile(`(?i)CREATE\s+INDEX\s+CONCURRENTLY`)

	var migrations []migrationFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		// "000001_initial.up.sql"
		parts := strings.SplitN(entry.Name(), "_", 2)
		if len(parts) < 2 {
			continue
		}
		version, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			continue
		}

		nameParts := strings.Split(entry.Name(), ".")
		if len(nameParts) < 3 {
			continue
		}
		direction := nameParts[len(nameParts)-2]
		if direction != "up" && direction != "down" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		migrations = append(migrations, migrationFile{
			Version:       version,
			Direction:     direction,
			Name:          entry.Name(),
			Path:          path,
			Content:       string(content),
			HasConcurrent: concurrentRegex.MatchString(string(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func runMigrations(dsn string, migrations []migrationFile, direction string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer db.Close()

	if err := ensureSchemaTable(db); err != nil {
		return fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	currentVersion, dirty, err := currentVersion(db)
	if err != nil {
		return fmt.Errorf("read current version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database is in a dirty state at version %d, resolve manually", currentVersion)
	}

	switch direction {
	case "up":
		return applyUp(db, migrations, currentVersion)
	case "down":
		return applyDown(db, migrations, currentVersion)
	default:
		return fmt.Errorf("invalid direction %q", direction)
	}
}

func ensureSchemaTable(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version bigint NOT NULL PRIMARY KEY, dirty boolean NOT NULL)`)
	return err
}

func currentVersion(db *sql.DB) (uint64, bool, error) {
	var version uint64
	var dirty bool
	err := db.QueryRow(`SELECT version, dirty FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version, &dirty)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return version, dirty, nil
}

func applyUp(db *sql.DB, migrations []migrationFile, currentVersion uint64) error {
	for _, m := range migrations {
		if m.Direction != "up" || m.Version <= currentVersion {
			continue
		}
		log.Printf("applying migration %d: %s", m.Version, m.Name)
		if err := applyOne(db, m); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		if err := setVersion(db, m.Version, false); err != nil {
			return fmt.Errorf("record version %d: %w", m.Version, err)
		}
	}
	return nil
}

func applyDown(db *sql.DB, migrations []migrationFile, currentVersion uint64) error {
	var downs []migrationFile
	for _, m := range migrations {
		if m.Direction == "down" && m.Version <= currentVersion {
			downs = append(downs, m)
		}
	}
	sort.Slice(downs, func(i, j int) bool { return downs[i].Version > downs[j].Version })

	for _, m := range downs {
		log.Printf("reverting migration %d: %s", m.Version, m.Name)
		if err := applyOne(db, m); err != nil {
			return fmt.Errorf("revert migration %d: %w", m.Version, err)
		}
		if err := setVersion(db, m.Version-1, false); err != nil {
			return fmt.Errorf("record version %d: %w", m.Version-1, err)
		}
	}
	return nil
}

func applyOne(db *sql.DB, m migrationFile) error {
	if err := setVersion(db, m.Version, true); err != nil {
		return fmt.Errorf("mark dirty: %w", err)
	}
	if m.HasConcurrent {
		return execStatements(db, m.Content)
	}
	return execTransactional(db, m.Content)
}

func execStatements(db *sql.DB, content string) error {
	for _, stmt := range splitStatements(content) {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" || strings.HasPrefix(stmt, "--") {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", truncate(stmt), err)
		}
	}
	return nil
}

func execTransactional(db *sql.DB, content string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(content); err != nil {
		return fmt.Errorf("exec migration body: %w", err)
	}
	return tx.Commit()
}

// splitStatements breaks a migration body into individual statements,
// treating $$...$$-delimited function bodies as a single statement.
func splitStatements(content string) []string {
	var statements []string
	var current strings.Builder
	inFunc := false
	var delimiter string

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if !inFunc && (trimmed == "" || strings.HasPrefix(trimmed, "--")) {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")

		if !inFunc && strings.Count(trimmed, "$$")%2 == 1 {
			delimiter = "$$"
			inFunc = true
			continue
		}
		if inFunc && strings.Contains(trimmed, delimiter) {
			inFunc = false
			delimiter = ""
			if strings.HasSuffix(trimmed, ";") {
				statements = append(statements, current.String())
				current.Reset()
			}
			continue
		}
		if !inFunc && strings.HasSuffix(trimmed, ";") {
			statements = append(statements, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		statements = append(statements, current.String())
	}
	return statements
}

func setVersion(db *sql.DB, version uint64, dirty bool) error {
	if _, err := db.Exec(`DELETE FROM schema_migrations`); err != nil {
		return err
	}
	_, err := db.Exec(`INSERT INTO schema_migrations (version, dirty) VALUES ($1, $2)`, version, dirty)
	return err
}

func truncate(stmt string) string {
	if len(stmt) > 100 {
		return stmt[:100] + "..."
	}
	return stmt
}
