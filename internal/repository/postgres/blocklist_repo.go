package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

type BlocklistRepo struct {
	db *sql.DB
}

func NewBlocklistRepo(db *sql.DB) *BlocklistRepo {
	return &BlocklistRepo{db: db}
}

// GetBlockedClients - источник истины для прогрева кэша блоклиста.
func (r *BlocklistRepo) GetBlockedClients(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT client_addr FROM waf_blocklist`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to load blocklist: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *BlocklistRepo) SetBlocked(ctx context.Context, clientAddr string, blocked bool) error {
	var err error
	if blocked {
		_, err = r.db.ExecContext(ctx,
			`INSERT INTO waf_blocklist (client_addr) VALUES ($1) ON CONFLICT (client_addr) DO NOTHING`, clientAddr)
	} else {
		_, err = r.db.ExecContext(ctx, `DELETE FROM waf_blocklist WHERE client_addr = $1`, clientAddr)
	}
	if err != nil {
		return fmt.Errorf("postgres: failed to update blocklist: %w", err)
	}
	return nil
}
