package token

import (
	"context"
	"shipping-escrow/internal/repo"

	"github.com/ethereum/go-ethereum/common"
)

var ErrInsufficientBalance = repo.ErrInsufficientBalance

// Transferer is the value-transfer primitive. Every call is atomic and either
// moves the full amount or fails without effect. Calls made with a
// transaction-bound ctx commit or roll back with that transaction.
type Transferer interface {
	// TransferFrom pulls amount from holder into the vault.
	TransferFrom(ctx context.Context, from common.Address, amount int64) error
	// Transfer pays amount out of the vault.
	Transfer(ctx context.Context, to common.Address, amount int64) error
	BalanceOf(ctx context.Context, holder common.Address) (int64, error)
}

// Ledger is one token whose balances live in the escrow store.
type Ledger struct {
	symbol string
	vault  common.Address
	store  repo.TokenRepo
}

func NewLedger(symbol string, vault common.Address, store repo.TokenRepo) *Ledger {
	return &Ledger{symbol: symbol, vault: vault, store: store}
}

func (l *Ledger) Symbol() string { return l.symbol }

func (l *Ledger) Vault() common.Address { return l.vault }

// Seed applies genesis balances to holders the store has never seen. Restarts
// with the same genesis leave existing balances alone.
func (l *Ledger) Seed(ctx context.Context, genesis map[common.Address]int64) error {
	return l.store.Seed(ctx, l.symbol, genesis)
}

func (l *Ledger) Mint(ctx context.Context, to common.Address, amount int64) error {
	return l.store.Mint(ctx, l.symbol, to, amount)
}

func (l *Ledger) TransferFrom(ctx context.Context, from common.Address, amount int64) error {
	return l.store.Move(ctx, l.symbol, from, l.vault, amount)
}

func (l *Ledger) Transfer(ctx context.Context, to common.Address, amount int64) error {
	return l.store.Move(ctx, l.symbol, l.vault, to, amount)
}

func (l *Ledger) BalanceOf(ctx context.Context, holder common.Address) (int64, error) {
	return l.store.BalanceOf(ctx, l.symbol, holder)
}
