package core

import (
	"context"
	"testing"

	"matrixcore/pkg/domain"
)

func TestSetCellStatesInsertsRow(t *testing.T) {
	f := newFixture(t, nil)
	session := f.open(editorUser, false)

	out, err := f.service.SetCellStates(context.Background(), session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailPresent.ID}, ScoreOptions{})
	if err != nil {
		t.Fatalf("set cell states: %v", err)
	}
	if !out.Notify {
		t.Fatalf("expected a change to notify peers")
	}
	rows := f.scores(f.taxonA.ID, f.tail.ID)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].StateID == nil || *rows[0].StateID != f.tailPresent.ID {
		t.Fatalf("expected state %d, got %+v", f.tailPresent.ID, rows[0])
	}
	if rows[0].UserID != editorUser {
		t.Fatalf("expected author %d, got %d", editorUser, rows[0].UserID)
	}
	if got := f.changeLogCount(); got != 1 {
		t.Fatalf("expected 1 change log, got %d", got)
	}
}

func TestSetCellStatesRescoreDeletesThenInserts(t *testing.T) {
	f := newFixture(t, nil)
	session := f.open(editorUser, false)
	ctx := context.Background()

	if _, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailPresent.ID}, ScoreOptions{}); err != nil {
		t.Fatalf("initial score: %v", err)
	}
	before := f.changeLogCount()
	if _, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailAbsent.ID}, ScoreOptions{}); err != nil {
		t.Fatalf("rescore: %v", err)
	}
	rows := f.scores(f.taxonA.ID, f.tail.ID)
	if len(rows) != 1 || rows[0].StateID == nil || *rows[0].StateID != f.tailAbsent.ID {
		t.Fatalf("expected the cell rescored to absent, got %+v", rows)
	}
	// A rescore is one delete plus one insert in the audit log.
	if got := f.changeLogCount() - before; got != 2 {
		t.Fatalf("expected 2 new change logs, got %d", got)
	}
}

func TestSetCellStatesIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	session := f.open(editorUser, false)
	ctx := context.Background()
	states := []int64{f.tailPresent.ID, f.tailAbsent.ID}

	if _, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, states, ScoreOptions{Uncertain: true}); err != nil {
		t.Fatalf("initial score: %v", err)
	}
	before := f.changeLogCount()

	// Identical request, different order: no writes, no audit rows, no notify.
	out, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailAbsent.ID, f.tailPresent.ID}, ScoreOptions{Uncertain: true})
	if err != nil {
		t.Fatalf("repeat score: %v", err)
	}
	if out.Notify {
		t.Fatalf("expected no notification for a no-op write")
	}
	if out.BatchID != 0 {
		t.Fatalf("expected no batch for a no-op write")
	}
	if got := f.changeLogCount(); got != before {
		t.Fatalf("expected no new change logs, got %d extra", got-before)
	}
}

func TestSetCellStatesEmptySetClearsCell(t *testing.T) {
	f := newFixture(t, nil)
	session := f.open(editorUser, false)
	ctx := context.Background()

	if _, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailPresent.ID}, ScoreOptions{}); err != nil {
		t.Fatalf("initial score: %v", err)
	}
	out, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, nil, ScoreOptions{})
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if rows := f.scores(f.taxonA.ID, f.tail.ID); len(rows) != 0 {
		t.Fatalf("expected cleared cell, got %+v", rows)
	}
	// Cleared cells are reported as a single placeholder row with no id.
	if len(out.Cells) != 1 || out.Cells[0].ID != 0 || out.Cells[0].TaxonID != f.taxonA.ID {
		t.Fatalf("expected one placeholder row, got %+v", out.Cells)
	}
}

func TestSetCellStatesNPA(t *testing.T) {
	f := newFixture(t, nil)
	session := f.open(editorUser, false)
	ctx := context.Background()

	if _, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{domain.StateIDNotApplicable}, ScoreOptions{}); err != nil {
		t.Fatalf("score NPA: %v", err)
	}
	rows := f.scores(f.taxonA.ID, f.tail.ID)
	if len(rows) != 1 || !rows[0].IsNPA || rows[0].StateID != nil {
		t.Fatalf("expected a single NPA row, got %+v", rows)
	}
}

func TestSetCellStatesRejectsNPAWithOtherStates(t *testing.T) {
	f := newFixture(t, nil)
	session := f.open(editorUser, false)
	_, err := f.service.SetCellStates(context.Background(), session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{domain.StateIDNotApplicable, f.tailPresent.ID}, ScoreOptions{})
	if _, ok := err.(domain.UserError); !ok {
		t.Fatalf("expected UserError, got %v", err)
	}
}

func TestSetCellStatesUncertainNeedsTwoStates(t *testing.T) {
	f := newFixture(t, nil)
	session := f.open(editorUser, false)
	_, err := f.service.SetCellStates(context.Background(), session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailPresent.ID}, ScoreOptions{Uncertain: true})
	if _, ok := err.(domain.UserError); !ok {
		t.Fatalf("expected UserError, got %v", err)
	}
}

func TestSetCellStatesRejectsForeignState(t *testing.T) {
	f := newFixture(t, nil)
	session := f.open(editorUser, false)
	_, err := f.service.SetCellStates(context.Background(), session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.colorRed.ID}, ScoreOptions{})
	if _, ok := err.(domain.UserError); !ok {
		t.Fatalf("expected UserError, got %v", err)
	}
}

func TestSetCellStatesRejectsNumericCharacter(t *testing.T) {
	f := newFixture(t, nil)
	session := f.open(editorUser, false)
	_, err := f.service.SetCellStates(context.Background(), session, []int64{f.taxonA.ID}, []int64{f.length.ID}, []int64{f.tailPresent.ID}, ScoreOptions{})
	if _, ok := err.(domain.UserError); !ok {
		t.Fatalf("expected UserError, got %v", err)
	}
}

func TestSetCellStatesRejectsConcreteStateAcrossCharacters(t *testing.T) {
	f := newFixture(t, nil)
	session := f.open(editorUser, false)
	_, err := f.service.SetCellStates(context.Background(), session, []int64{f.taxonA.ID}, []int64{f.tail.ID, f.color.ID}, []int64{f.tailPresent.ID}, ScoreOptions{})
	if _, ok := err.(domain.UserError); !ok {
		t.Fatalf("expected UserError, got %v", err)
	}
}

func TestSetCellStatesHonorsDisabledScoring(t *testing.T) {
	f := newFixture(t, map[string]int{domain.OptionDisableScoring: 1})
	session := f.open(editorUser, false)
	_, err := f.service.SetCellStates(context.Background(), session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailPresent.ID}, ScoreOptions{})
	if _, ok := err.(domain.UserError); !ok {
		t.Fatalf("expected UserError, got %v", err)
	}
}

func TestSetCellStatesNPAClearsAcrossCharacters(t *testing.T) {
	// The NPA marker is not character-specific, so bulk NPA scoring across a
	// block of cells is allowed.
	f := newFixture(t, nil)
	session := f.open(editorUser, false)
	_, err := f.service.SetCellStates(context.Background(), session,
		[]int64{f.taxonA.ID, f.taxonB.ID}, []int64{f.tail.ID, f.color.ID},
		[]int64{domain.StateIDNotApplicable}, ScoreOptions{})
	if err != nil {
		t.Fatalf("bulk NPA: %v", err)
	}
	for _, taxonID := range []int64{f.taxonA.ID, f.taxonB.ID} {
		for _, characterID := range []int64{f.tail.ID, f.color.ID} {
			rows := f.scores(taxonID, characterID)
			if len(rows) != 1 || !rows[0].IsNPA {
				t.Fatalf("expected NPA row for taxon %d character %d, got %+v", taxonID, characterID, rows)
			}
		}
	}
}

func TestSetCellStatesBatchGroupsWrites(t *testing.T) {
	f := newFixture(t, nil)
	session := f.open(editorUser, false)

	out, err := f.service.SetCellStates(context.Background(), session, []int64{f.taxonA.ID, f.taxonB.ID}, []int64{f.tail.ID}, []int64{f.tailPresent.ID}, ScoreOptions{Batch: true})
	if err != nil {
		t.Fatalf("batched score: %v", err)
	}
	if out.BatchID == 0 {
		t.Fatalf("expected a batch id")
	}
	err = f.store.View(context.Background(), func(view TransactionView) error {
		batch, ok := view.FindBatchLog(out.BatchID)
		if !ok {
			t.Fatalf("expected batch log %d", out.BatchID)
		}
		if batch.BatchType != domain.BatchSetStates {
			t.Fatalf("expected set_states batch, got %s", batch.BatchType)
		}
		if !batch.FinishedOn.Equal(batch.StartedOn) {
			t.Fatalf("expected batch window to collapse to the transaction timestamp")
		}
		if batch.Description != "2 taxa in column Tail" {
			t.Fatalf("unexpected batch description %q", batch.Description)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("inspect batch: %v", err)
	}
}

func TestPolymorphicRealignsUncertainFlag(t *testing.T) {
	f := newFixture(t, nil)
	session := f.open(editorUser, false)
	ctx := context.Background()

	if _, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailPresent.ID}, ScoreOptions{}); err != nil {
		t.Fatalf("single score: %v", err)
	}
	before := f.changeLogCount()

	// Widening to a polymorphic set keeps the surviving row and only realigns
	// its uncertain flag; one update plus one insert in the audit log.
	if _, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailPresent.ID, f.tailAbsent.ID}, ScoreOptions{Uncertain: true}); err != nil {
		t.Fatalf("widen to polymorphic: %v", err)
	}
	rows := f.scores(f.taxonA.ID, f.tail.ID)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	for _, row := range rows {
		if !row.IsUncertain {
			t.Fatalf("expected uncertain rows, got %+v", row)
		}
	}
	if got := f.changeLogCount() - before; got != 2 {
		t.Fatalf("expected 2 new change logs, got %d", got)
	}
}

func TestMultipleDefiniteRowsBlockedAtCommit(t *testing.T) {
	// Pre-transaction validation cannot see this shape coming, so the commit
	// rule is the backstop: several rows without the uncertain flag are blocked.
	f := newFixture(t, nil)
	_, err := f.store.RunInTransaction(context.Background(), func(tx Transaction) error {
		for _, stateID := range []int64{f.tailPresent.ID, f.tailAbsent.ID} {
			id := stateID
			if _, err := tx.CreateCellScore(CellScore{
				MatrixID: f.matrix.ID, TaxonID: f.taxonA.ID, CharacterID: f.tail.ID, StateID: &id,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if _, ok := err.(domain.RuleViolationError); !ok {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
	if rows := f.scores(f.taxonA.ID, f.tail.ID); len(rows) != 0 {
		t.Fatalf("expected the blocked transaction to leave no rows, got %+v", rows)
	}
}
