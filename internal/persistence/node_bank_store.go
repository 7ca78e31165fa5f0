package persistence

import (
	"MangoCache/internal/state"
	"context"
	"database/sql"
	"fmt"
	"time"
)

// NodeBankStore keeps NodeBank accounts keyed by vault. The binary image
// is authoritative; deposits and borrows are also stored as text for
// operators.
type NodeBankStore struct {
	db *sql.DB
}

func NewNodeBankStore(db *sql.DB) *NodeBankStore {
	return &NodeBankStore{db: db}
}

// Upsert writes nb under tokenSlot.
func (s *NodeBankStore) Upsert(ctx context.Context, tokenSlot int, nb state.NodeBank) error {
	if nb.Vault.IsZero() {
		return fmt.Errorf("upsert node bank: vault is required")
	}
	image, err := nb.MarshalBinary()
	if err != nil {
		return fmt.Errorf("upsert node bank %s: %w", nb.Vault, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_state.node_banks (vault, token_slot, image, deposits, borrows, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (vault) DO UPDATE
		SET token_slot = $2, image = $3, deposits = $4, borrows = $5, updated_at = $6
	`, nb.Vault.String(), tokenSlot, image, nb.Deposits.String(), nb.Borrows.String(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert node bank %s: %w", nb.Vault, err)
	}
	return nil
}

// ListByToken returns every NodeBank of tokenSlot ordered by vault.
func (s *NodeBankStore) ListByToken(ctx context.Context, tokenSlot int) ([]state.NodeBank, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT image FROM cache_state.node_banks
		WHERE token_slot = $1
		ORDER BY vault
	`, tokenSlot)
	if err != nil {
		return nil, fmt.Errorf("list node banks token %d: %w", tokenSlot, err)
	}
	defer rows.Close()

	var banks []state.NodeBank
	for rows.Next() {
		var image []byte
		if err := rows.Scan(&image); err != nil {
			return nil, err
		}
		var nb state.NodeBank
		if err := nb.UnmarshalBinary(image); err != nil {
			return nil, fmt.Errorf("list node banks token %d: %w", tokenSlot, err)
		}
		banks = append(banks, nb)
	}
	return banks, rows.Err()
}
