package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/recledger/internal/domain"
)

// List implements domain.JournalStore. Entries are returned newest first with
// optional time filtering and pagination.
func (s *LedgerStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.JournalEntry, error) {
	query := `SELECT tx_id::text, op, caller, height::text, detail, created_at FROM ledger_journal WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list journal: %w", err)
	}
	defer rows.Close()

	var entries []domain.JournalEntry
	for rows.Next() {
		var (
			e              domain.JournalEntry
			caller, height string
			detailJSON     []byte
		)
		if err := rows.Scan(&e.TxID, &e.Op, &caller, &height, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan journal entry: %w", err)
		}
		e.Caller = common.HexToAddress(caller)
		if e.Height, err = strconv.ParseUint(height, 10, 64); err != nil {
			return nil, fmt.Errorf("postgres: parse journal height: %w", err)
		}
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal journal detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list journal rows: %w", err)
	}
	return entries, nil
}
