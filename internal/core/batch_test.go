package core

import (
	"context"
	"testing"
	"time"

	"matrixcore/pkg/domain"
)

func TestUndoRestoresRescoredCell(t *testing.T) {
	f := newFixture(t, nil)
	session := f.open(editorUser, false)
	ctx := context.Background()

	if _, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailPresent.ID}, ScoreOptions{}); err != nil {
		t.Fatalf("initial score: %v", err)
	}
	original := f.scores(f.taxonA.ID, f.tail.ID)[0]

	f.advance(time.Minute)
	out, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailAbsent.ID}, ScoreOptions{Batch: true})
	if err != nil {
		t.Fatalf("batched rescore: %v", err)
	}

	f.advance(time.Minute)
	undone, err := f.service.UndoCellBatch(ctx, session, out.BatchID)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if !undone.Notify {
		t.Fatalf("expected the undo to notify peers")
	}
	rows := f.scores(f.taxonA.ID, f.tail.ID)
	if len(rows) != 1 || rows[0].StateID == nil || *rows[0].StateID != f.tailPresent.ID {
		t.Fatalf("expected the original state restored, got %+v", rows)
	}
	if rows[0].ID != original.ID {
		t.Fatalf("expected the restored row to keep id %d, got %d", original.ID, rows[0].ID)
	}
	err = f.store.View(ctx, func(view TransactionView) error {
		batch, _ := view.FindBatchLog(out.BatchID)
		if !batch.Reverted || batch.RevertedUserID == nil || *batch.RevertedUserID != editorUser {
			t.Fatalf("expected the batch marked reverted by user %d, got %+v", editorUser, batch)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("inspect batch: %v", err)
	}
}

func TestUndoClearsInsertedRows(t *testing.T) {
	f := newFixture(t, nil)
	session := f.open(editorUser, false)
	ctx := context.Background()

	out, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID, f.taxonB.ID}, []int64{f.tail.ID}, []int64{f.tailPresent.ID}, ScoreOptions{Batch: true})
	if err != nil {
		t.Fatalf("batched score: %v", err)
	}
	f.advance(time.Minute)
	if _, err := f.service.UndoCellBatch(ctx, session, out.BatchID); err != nil {
		t.Fatalf("undo: %v", err)
	}
	for _, taxonID := range []int64{f.taxonA.ID, f.taxonB.ID} {
		if rows := f.scores(taxonID, f.tail.ID); len(rows) != 0 {
			t.Fatalf("expected taxon %d cell cleared, got %+v", taxonID, rows)
		}
	}
}

func TestUndoRestoresContinuousValue(t *testing.T) {
	f := newFixture(t, nil)
	session := f.open(editorUser, false)
	ctx := context.Background()

	if _, err := f.service.SetCellContinuousValues(ctx, session, []int64{f.taxonA.ID}, []int64{f.length.ID}, floatPtr(1.5), floatPtr(2.0), ScoreOptions{}); err != nil {
		t.Fatalf("initial value: %v", err)
	}
	f.advance(time.Minute)
	out, err := f.service.SetCellContinuousValues(ctx, session, []int64{f.taxonA.ID}, []int64{f.length.ID}, floatPtr(9.0), nil, ScoreOptions{Batch: true})
	if err != nil {
		t.Fatalf("batched update: %v", err)
	}
	f.advance(time.Minute)
	if _, err := f.service.UndoCellBatch(ctx, session, out.BatchID); err != nil {
		t.Fatalf("undo: %v", err)
	}
	rows := f.scores(f.taxonA.ID, f.length.ID)
	if len(rows) != 1 || *rows[0].StartValue != 1.5 || rows[0].EndValue == nil || *rows[0].EndValue != 2.0 {
		t.Fatalf("expected the prior range restored, got %+v", rows)
	}
}

func TestUndoRestoresNotes(t *testing.T) {
	f := newFixture(t, nil)
	session := f.open(editorUser, false)
	ctx := context.Background()

	if _, err := f.service.SetCellNotes(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, "original", domain.NoteStatusNew, NoteOptions{}); err != nil {
		t.Fatalf("initial note: %v", err)
	}
	f.advance(time.Minute)
	out, err := f.service.SetCellNotes(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, "replaced", domain.NoteStatusComplete, NoteOptions{Batch: true})
	if err != nil {
		t.Fatalf("batched note: %v", err)
	}
	f.advance(time.Minute)
	if _, err := f.service.UndoCellBatch(ctx, session, out.BatchID); err != nil {
		t.Fatalf("undo: %v", err)
	}
	note, ok := f.note(f.taxonA.ID, f.tail.ID)
	if !ok || note.Notes != "original" || note.Status != domain.NoteStatusNew {
		t.Fatalf("expected the prior note restored, got %+v (found=%v)", note, ok)
	}
}

func TestUndoTwiceIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	session := f.open(editorUser, false)
	ctx := context.Background()

	out, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailPresent.ID}, ScoreOptions{Batch: true})
	if err != nil {
		t.Fatalf("batched score: %v", err)
	}
	f.advance(time.Minute)
	if _, err := f.service.UndoCellBatch(ctx, session, out.BatchID); err != nil {
		t.Fatalf("first undo: %v", err)
	}
	f.advance(time.Minute)
	_, err = f.service.UndoCellBatch(ctx, session, out.BatchID)
	if _, ok := err.(domain.UserError); !ok {
		t.Fatalf("expected UserError for double undo, got %v", err)
	}
}

func TestUndoUnknownBatch(t *testing.T) {
	f := newFixture(t, nil)
	session := f.open(editorUser, false)
	_, err := f.service.UndoCellBatch(context.Background(), session, 424242)
	if _, ok := err.(domain.ErrNotFound); !ok {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUndoSkipsRowsModifiedAfterTheBatch(t *testing.T) {
	f := newFixture(t, nil)
	session := f.open(editorUser, false)
	peer := f.open(peerUser, false)
	ctx := context.Background()

	out, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailPresent.ID}, ScoreOptions{Batch: true})
	if err != nil {
		t.Fatalf("batched score: %v", err)
	}
	f.advance(time.Minute)
	// Another user rescores the same cell before the undo runs.
	if _, err := f.service.SetCellStates(ctx, peer, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailAbsent.ID}, ScoreOptions{}); err != nil {
		t.Fatalf("peer rescore: %v", err)
	}
	f.advance(time.Minute)
	// The batched insert's row is gone, so the compensating delete is skipped
	// and the peer's newer value survives.
	if _, err := f.service.UndoCellBatch(ctx, session, out.BatchID); err != nil {
		t.Fatalf("undo: %v", err)
	}
	rows := f.scores(f.taxonA.ID, f.tail.ID)
	if len(rows) != 1 || rows[0].StateID == nil || *rows[0].StateID != f.tailAbsent.ID {
		t.Fatalf("expected the peer's value to survive, got %+v", rows)
	}
}
