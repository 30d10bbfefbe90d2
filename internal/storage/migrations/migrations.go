// Package migrations embeds and applies the SQL schema of both backends.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed postgres/*.sql
var postgresFS embed.FS

//go:embed clickhouse/*.sql
var clickhouseFS embed.FS

// RunPostgres applies every embedded Postgres migration in lexical order.
// Migrations are idempotent.
func RunPostgres(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	return apply(postgresFS, "postgres", func(stmt string) error {
		_, err := pool.Exec(ctx, stmt)
		return err
	})
}

// RunClickHouse applies the ClickHouse migrations. The native protocol accepts one
// statement per Exec, so files hold a single statement each.
func RunClickHouse(ctx context.Context, conn driver.Conn) ([]string, error) {
	return apply(clickhouseFS, "clickhouse", func(stmt string) error {
		return conn.Exec(ctx, stmt)
	})
}

func apply(fsys fs.FS, dir string, exec func(string) error) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read embedded %s migrations: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	applied := make([]string, 0, len(files))
	for _, file := range files {
		data, err := fs.ReadFile(fsys, dir+"/"+file)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", file, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		if err := exec(string(data)); err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", file, err)
		}
		applied = append(applied, dir+"/"+file)
	}
	return applied, nil
}
