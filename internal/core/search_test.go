package core

import (
	"context"
	"testing"

	"matrixcore/pkg/domain"
)

func TestGetMatrixSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	session := f.open(editorUser, false)
	ctx := context.Background()

	if _, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailPresent.ID}, ScoreOptions{}); err != nil {
		t.Fatalf("score: %v", err)
	}
	snapshot, err := f.service.GetMatrixSnapshot(ctx, session)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.Matrix.ID != f.matrix.ID {
		t.Fatalf("unexpected matrix %+v", snapshot.Matrix)
	}
	if len(snapshot.Taxa) != 2 || snapshot.Taxa[0].ID != f.taxonA.ID {
		t.Fatalf("expected taxa in placement order, got %+v", snapshot.Taxa)
	}
	if len(snapshot.Characters) != 3 || snapshot.Characters[0].ID != f.tail.ID {
		t.Fatalf("expected characters in position order, got %+v", snapshot.Characters)
	}
	if len(snapshot.States[f.tail.ID]) != 2 {
		t.Fatalf("expected tail states, got %+v", snapshot.States)
	}
	if len(snapshot.Scores) != 1 {
		t.Fatalf("expected 1 score row, got %+v", snapshot.Scores)
	}
}

func TestGetCellSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	session := f.open(editorUser, false)
	ctx := context.Background()

	if _, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailPresent.ID}, ScoreOptions{}); err != nil {
		t.Fatalf("score: %v", err)
	}
	if _, err := f.service.SetCellNotes(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, "note", domain.NoteStatusNew, NoteOptions{}); err != nil {
		t.Fatalf("note: %v", err)
	}
	cell, err := f.service.GetCellSnapshot(ctx, session, f.taxonA.ID, f.tail.ID)
	if err != nil {
		t.Fatalf("cell snapshot: %v", err)
	}
	if len(cell.Scores) != 1 || cell.Note == nil || cell.Note.Notes != "note" {
		t.Fatalf("unexpected cell snapshot %+v", cell)
	}
}

func TestGetCellCountsRange(t *testing.T) {
	f := newFixture(t, nil)
	session := f.open(editorUser, false)
	ctx := context.Background()

	if _, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailPresent.ID}, ScoreOptions{}); err != nil {
		t.Fatalf("score: %v", err)
	}
	// First taxon row, first two character columns.
	counts, err := f.service.GetCellCounts(ctx, session, 1, 1, 1, 2)
	if err != nil {
		t.Fatalf("cell counts: %v", err)
	}
	if len(counts) != 2 {
		t.Fatalf("expected 2 cells, got %+v", counts)
	}
	if counts[0].CharacterID != f.tail.ID || counts[0].Scores != 1 {
		t.Fatalf("unexpected first count %+v", counts[0])
	}
	if counts[1].CharacterID != f.color.ID || counts[1].Scores != 0 {
		t.Fatalf("unexpected second count %+v", counts[1])
	}

	if _, err := f.service.GetCellCounts(ctx, session, 2, 1, 0, 0); err == nil {
		t.Fatalf("expected an inverted range to be rejected")
	}
}

func TestSearchCells(t *testing.T) {
	f := newFixture(t, nil)
	session := f.open(editorUser, false)
	ctx := context.Background()

	if _, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailPresent.ID, f.tailAbsent.ID}, ScoreOptions{Uncertain: true}); err != nil {
		t.Fatalf("polymorphic score: %v", err)
	}
	if _, err := f.service.SetCellStates(ctx, session, []int64{f.taxonB.ID}, []int64{f.tail.ID}, []int64{domain.StateIDNotApplicable}, ScoreOptions{}); err != nil {
		t.Fatalf("NPA score: %v", err)
	}

	polymorphic, err := f.service.SearchCells(ctx, session, SearchPolymorphic, SearchScope{})
	if err != nil {
		t.Fatalf("search polymorphic: %v", err)
	}
	if len(polymorphic) != 1 || polymorphic[0].TaxonID != f.taxonA.ID {
		t.Fatalf("unexpected polymorphic cells %+v", polymorphic)
	}

	npa, err := f.service.SearchCells(ctx, session, SearchNotApplicable, SearchScope{})
	if err != nil {
		t.Fatalf("search NPA: %v", err)
	}
	if len(npa) != 1 || npa[0].TaxonID != f.taxonB.ID {
		t.Fatalf("unexpected NPA cells %+v", npa)
	}

	unscored, err := f.service.SearchCells(ctx, session, SearchUnscored, SearchScope{CharacterID: f.color.ID})
	if err != nil {
		t.Fatalf("search unscored: %v", err)
	}
	if len(unscored) != 2 {
		t.Fatalf("expected both color cells unscored, got %+v", unscored)
	}

	unimaged, err := f.service.SearchCells(ctx, session, SearchUnimaged, SearchScope{TaxonID: f.taxonA.ID})
	if err != nil {
		t.Fatalf("search unimaged: %v", err)
	}
	if len(unimaged) != 1 || unimaged[0].CharacterID != f.tail.ID {
		t.Fatalf("unexpected unimaged cells %+v", unimaged)
	}

	if _, err := f.service.SearchCells(ctx, session, "bogus", SearchScope{}); err == nil {
		t.Fatalf("expected an unknown search kind to be rejected")
	}
}

func TestSearchCellsPartitionScope(t *testing.T) {
	f := newFixture(t, nil)
	session := f.open(editorUser, false)
	ctx := context.Background()

	var partition Partition
	_, err := f.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		partition, err = tx.CreatePartition(Partition{
			ProjectID:    f.project.ID,
			Name:         "tail only",
			TaxonIDs:     []int64{f.taxonA.ID},
			CharacterIDs: []int64{f.tail.ID},
		})
		return err
	})
	if err != nil {
		t.Fatalf("seed partition: %v", err)
	}
	unscored, err := f.service.SearchCells(ctx, session, SearchUnscored, SearchScope{PartitionID: partition.ID})
	if err != nil {
		t.Fatalf("search in partition: %v", err)
	}
	if len(unscored) != 1 || unscored[0].TaxonID != f.taxonA.ID || unscored[0].CharacterID != f.tail.ID {
		t.Fatalf("expected the partition to scope the search, got %+v", unscored)
	}
}
