package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"matrixcore/pkg/domain"
)

func TestStateSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matrix.db")
	ctx := context.Background()

	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var project domain.Project
	var taxon domain.Taxon
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		project, err = tx.CreateProject(domain.Project{Title: "beetles"})
		if err != nil {
			return err
		}
		taxon, err = tx.CreateTaxon(domain.Taxon{ProjectID: project.ID, Genus: "Carabus"})
		return err
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	err = reopened.View(ctx, func(view domain.TransactionView) error {
		if _, ok := view.FindProject(project.ID); !ok {
			t.Fatalf("expected the project after reopen")
		}
		got, ok := view.FindTaxon(taxon.ID)
		if !ok || got.Genus != "Carabus" {
			t.Fatalf("expected the taxon after reopen, got %+v (ok=%v)", got, ok)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	// The sequence hydrates too: new ids continue past persisted ones.
	var next domain.Taxon
	_, err = reopened.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		next, err = tx.CreateTaxon(domain.Taxon{ProjectID: project.ID, Genus: "Cicindela"})
		return err
	})
	if err != nil {
		t.Fatalf("write after reopen: %v", err)
	}
	if next.ID <= taxon.ID {
		t.Fatalf("expected id sequence to advance past %d, got %d", taxon.ID, next.ID)
	}
}

func TestFailedTransactionIsNotPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matrix.db")
	ctx := context.Background()

	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateProject(domain.Project{Title: "beetles"}); err != nil {
			return err
		}
		return domain.NewUserError("abort")
	})
	if err == nil {
		t.Fatalf("expected the transaction to fail")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	err = reopened.View(ctx, func(view domain.TransactionView) error {
		if _, ok := view.FindProject(1); ok {
			t.Fatalf("expected nothing persisted from the aborted transaction")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}
