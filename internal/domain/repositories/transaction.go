package repositories

import "context"

// TxFn is a function that runs within a transaction
type TxFn func(ctx context.Context) error

// TransactionManager runs a unit of work atomically. When fn returns an
// error nothing it wrote is kept. Calls nested inside a running
// transaction join it.
type TransactionManager interface {
	ExecTx(ctx context.Context, fn TxFn) error
}
