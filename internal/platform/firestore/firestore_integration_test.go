//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pconfig "github.com/hanko-field/marketplace/internal/platform/config"
	pfirestore "github.com/hanko-field/marketplace/internal/platform/firestore"
	"github.com/hanko-field/marketplace/internal/repositories"
)

type counterDoc struct {
	Name  string `firestore:"name"`
	Count int    `firestore:"count"`
}

func TestProviderTransactionsAgainstEmulator(t *testing.T) {
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "platform-test", EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := provider.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	counters := pfirestore.NewCollection[counterDoc](provider, "counters")
	ref, err := counters.DocumentRef(ctx, "c-1")
	if err != nil {
		t.Fatalf("document ref: %v", err)
	}
	if _, err := ref.Set(ctx, counterDoc{Name: "alpha", Count: 1}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var stats pfirestore.TxStats
	observe := pfirestore.WithTxObserver(func(_ context.Context, s pfirestore.TxStats) { stats = s })
	err = provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		doc, err := pfirestore.Decode[counterDoc](snap)
		if err != nil {
			return err
		}
		doc.Data.Count++
		return tx.Set(ref, doc.Data)
	}, observe)
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if stats.Attempts != 1 || stats.Err != nil {
		t.Fatalf("unexpected tx stats %+v", stats)
	}

	doc, err := counters.Get(ctx, "c-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.Data.Count != 2 {
		t.Fatalf("expected count 2, got %d", doc.Data.Count)
	}

	sentinel := errors.New("abort")
	err = provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Set(ref, counterDoc{Name: "alpha", Count: 99}); err != nil {
			return err
		}
		return sentinel
	}, observe)
	if !errors.Is(err, sentinel) || !errors.Is(stats.Err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	doc, _ = counters.Get(ctx, "c-1")
	if doc.Data.Count != 2 {
		t.Fatalf("aborted transaction leaked write: %d", doc.Data.Count)
	}

	err = provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return tx.Set(ref, counterDoc{Name: "alpha", Count: 5})
	}, pfirestore.WithReadOnlyTx())
	if err == nil {
		t.Fatalf("expected write inside read-only transaction to fail")
	}

	if _, err := counters.Get(ctx, "missing"); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	docs, err := counters.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("name", "==", "alpha")
	})
	if err != nil || len(docs) != 1 {
		t.Fatalf("query: %v (%d docs)", err, len(docs))
	}
}
