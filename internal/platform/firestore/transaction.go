package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

// TxFunc is the body of a transaction. It runs once per attempt, so it must not leak side effects
// outside the transaction.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxStats describes a finished transaction.
type TxStats struct {
	Attempts int
	Elapsed  time.Duration
	Err      error
}

type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
	readOnly bool
	observe  func(context.Context, TxStats)
}

// WithTxAttempts bounds how many times a contended transaction is retried. Five by default.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout tightens the caller's deadline to timeout. Fifteen seconds by default.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithReadOnlyTx runs a snapshot read that takes no locks.
func WithReadOnlyTx() TxOption {
	return func(cfg *txConfig) { cfg.readOnly = true }
}

// WithTxObserver reports every finished transaction. Stock decrements contend on hot products, so
// attempt counts above one are worth surfacing.
func WithTxObserver(fn func(context.Context, TxStats)) TxOption {
	return func(cfg *txConfig) { cfg.observe = fn }
}

// RunTransaction runs fn on client. Errors fn returns are passed through untouched so callers can
// match their own sentinels; Firestore failures are wrapped by WrapError.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	switch {
	case client == nil:
		return errors.New("firestore: client is nil")
	case fn == nil:
		return errors.New("firestore: transaction function is nil")
	}

	cfg := txConfig{attempts: 5, timeout: 15 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > cfg.timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	txOpts := []firestore.TransactionOption{firestore.MaxAttempts(cfg.attempts)}
	if cfg.readOnly {
		txOpts = append(txOpts, firestore.ReadOnly)
	}

	attempts := 0
	start := time.Now()
	err := client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		attempts++
		return fn(ctx, tx)
	}, txOpts...)
	err = WrapError("transaction", err)

	if cfg.observe != nil {
		cfg.observe(ctx, TxStats{Attempts: attempts, Elapsed: time.Since(start), Err: err})
	}
	return err
}
