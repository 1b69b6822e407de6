package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var ErrInsufficientBalance = errors.New("token: insufficient balance")

// TokenRepo keeps fungible token balances next to the escrow state, so a
// transfer commits or rolls back with the operation that caused it.
type TokenRepo interface {
	BalanceOf(ctx context.Context, symbol string, holder common.Address) (int64, error)
	// Move fails with ErrInsufficientBalance, without effect, when from holds
	// less than amount.
	Move(ctx context.Context, symbol string, from, to common.Address, amount int64) error
	Mint(ctx context.Context, symbol string, to common.Address, amount int64) error
	// Seed credits genesis balances to holders that have never held the token.
	// Holders already known keep their balance.
	Seed(ctx context.Context, symbol string, genesis map[common.Address]int64) error
}

type tokenRepo struct {
	db *sql.DB
	tx TxManager
}

func NewTokenRepo(db *sql.DB) TokenRepo {
	return &tokenRepo{db: db, tx: NewTxManager(db)}
}

func (r *tokenRepo) BalanceOf(ctx context.Context, symbol string, holder common.Address) (int64, error) {
	var balance int64
	err := executor(ctx, r.db).QueryRowContext(ctx,
		`SELECT balance FROM token_balances WHERE symbol = $1 AND holder = $2`, symbol, holder.Hex(),
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

func (r *tokenRepo) Move(ctx context.Context, symbol string, from, to common.Address, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%s: negative transfer amount %d", symbol, amount)
	}
	if amount == 0 || from == to {
		return nil
	}

	return r.tx.WithinTx(ctx, func(ctx context.Context) error {
		db := executor(ctx, r.db)

		if _, err := db.ExecContext(ctx, `
			INSERT INTO token_balances (symbol, holder, balance) VALUES ($1, $2, 0), ($1, $3, 0)
			ON CONFLICT (symbol, holder) DO NOTHING
		`, symbol, from.Hex(), to.Hex()); err != nil {
			return err
		}

		// Lock both rows in key order so opposite transfers cannot deadlock.
		rows, err := db.QueryContext(ctx, `
			SELECT holder FROM token_balances
			WHERE symbol = $1 AND holder IN ($2, $3)
			ORDER BY holder
			FOR UPDATE
		`, symbol, from.Hex(), to.Hex())
		if err != nil {
			return err
		}
		if err := rows.Close(); err != nil {
			return err
		}

		res, err := db.ExecContext(ctx, `
			UPDATE token_balances SET balance = balance - $3
			WHERE symbol = $1 AND holder = $2 AND balance >= $3
		`, symbol, from.Hex(), amount)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%s transfer %s -> %s: %w", symbol, from.Hex(), to.Hex(), ErrInsufficientBalance)
		}

		_, err = db.ExecContext(ctx, `
			UPDATE token_balances SET balance = balance + $3
			WHERE symbol = $1 AND holder = $2
		`, symbol, to.Hex(), amount)
		return err
	})
}

func (r *tokenRepo) Mint(ctx context.Context, symbol string, to common.Address, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%s: negative mint amount %d", symbol, amount)
	}
	_, err := executor(ctx, r.db).ExecContext(ctx, `
		INSERT INTO token_balances (symbol, holder, balance) VALUES ($1, $2, $3)
		ON CONFLICT (symbol, holder) DO UPDATE SET balance = token_balances.balance + EXCLUDED.balance
	`, symbol, to.Hex(), amount)
	return err
}

func (r *tokenRepo) Seed(ctx context.Context, symbol string, genesis map[common.Address]int64) error {
	return r.tx.WithinTx(ctx, func(ctx context.Context) error {
		for holder, amount := range genesis {
			if amount < 0 {
				return fmt.Errorf("%s: negative genesis balance for %s", symbol, holder.Hex())
			}
			if _, err := executor(ctx, r.db).ExecContext(ctx, `
				INSERT INTO token_balances (symbol, holder, balance) VALUES ($1, $2, $3)
				ON CONFLICT (symbol, holder) DO NOTHING
			`, symbol, holder.Hex(), amount); err != nil {
				return err
			}
		}
		return nil
	})
}
