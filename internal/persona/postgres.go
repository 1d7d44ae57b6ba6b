package persona

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LoadPostgres reads personas from PostgreSQL. The table is created when
// missing so a fresh database works out of the box; rows are read once at
// startup (the catalog is immutable for the process lifetime).
func LoadPostgres(ctx context.Context, databaseURL string) ([]Persona, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := initSchema(ctx, pool); err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx,
		`SELECT id, name, description, prompt, color, icon, voice, greeting
		 FROM personas ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query personas: %w", err)
	}
	defer rows.Close()

	var out []Persona
	for rows.Next() {
		var p Persona
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Prompt, &p.Color, &p.Icon, &p.Voice, &p.Greeting); err != nil {
			return nil, fmt.Errorf("scan persona row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persona rows: %w", err)
	}
	return out, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS personas (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			prompt TEXT NOT NULL,
			color TEXT NOT NULL DEFAULT '',
			icon TEXT NOT NULL DEFAULT '',
			voice TEXT NOT NULL DEFAULT '',
			greeting TEXT NOT NULL DEFAULT ''
		);`)
	if err != nil {
		return fmt.Errorf("init persona schema: %w", err)
	}
	return nil
}
