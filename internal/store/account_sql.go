package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/docscan/internal/model"
)

// SQLAccountStore keeps accounts in the accounts table.
type SQLAccountStore struct {
	db *sql.DB
}

func NewSQLAccountStore(db *sql.DB) *SQLAccountStore {
	return &SQLAccountStore{db: db}
}

func scanAccount(scanner interface{ Scan(...any) error }) (model.Account, error) {
	var a model.Account
	err := scanner.Scan(&a.Identity, &a.Tier, &a.UsedToday, &a.TotalUsed, &a.LastReset, &a.CreatedAt)
	return a, err
}

const accountCols = `identity, tier, used_today, total_used, last_reset, created_at`

func (s *SQLAccountStore) Load(ctx context.Context) (map[string]model.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountCols+` FROM accounts`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	accounts := map[string]model.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts[a.Identity] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}

// Save replaces the table contents in one transaction.
func (s *SQLAccountStore) Save(ctx context.Context, accounts map[string]model.Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM accounts`); err != nil {
		return fmt.Errorf("clear accounts: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO accounts (`+accountCols+`) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for id, a := range accounts {
		createdAt := a.CreatedAt.UTC()
		if _, err := stmt.ExecContext(ctx, id, a.Tier, a.UsedToday, a.TotalUsed, a.LastReset, createdAt); err != nil {
			return fmt.Errorf("insert account %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
