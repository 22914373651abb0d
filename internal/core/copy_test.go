package core

import (
	"context"
	"testing"

	"matrixcore/pkg/domain"
)

func TestCopyCellScoresReplicatesRows(t *testing.T) {
	f := newFixture(t, nil)
	session := f.open(editorUser, false)
	ctx := context.Background()

	if _, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailPresent.ID}, ScoreOptions{}); err != nil {
		t.Fatalf("score source: %v", err)
	}
	if _, err := f.service.SetCellContinuousValues(ctx, session, []int64{f.taxonA.ID}, []int64{f.length.ID}, floatPtr(1.5), floatPtr(2.0), ScoreOptions{}); err != nil {
		t.Fatalf("score source length: %v", err)
	}
	// Destination holds a stale value that the copy must clear to match the
	// unscored source color cell.
	if _, err := f.service.SetCellStates(ctx, session, []int64{f.taxonB.ID}, []int64{f.color.ID}, []int64{f.colorRed.ID}, ScoreOptions{}); err != nil {
		t.Fatalf("score destination color: %v", err)
	}

	if _, err := f.service.CopyCellScores(ctx, session, f.taxonA.ID, f.taxonB.ID, []int64{f.tail.ID, f.color.ID, f.length.ID}, CopyOptions{}); err != nil {
		t.Fatalf("copy: %v", err)
	}
	tail := f.scores(f.taxonB.ID, f.tail.ID)
	if len(tail) != 1 || tail[0].StateID == nil || *tail[0].StateID != f.tailPresent.ID {
		t.Fatalf("expected tail copied, got %+v", tail)
	}
	if rows := f.scores(f.taxonB.ID, f.color.ID); len(rows) != 0 {
		t.Fatalf("expected destination color cleared, got %+v", rows)
	}
	length := f.scores(f.taxonB.ID, f.length.ID)
	if len(length) != 1 || *length[0].StartValue != 1.5 || *length[0].EndValue != 2.0 {
		t.Fatalf("expected length range copied, got %+v", length)
	}
}

func TestCopyCellScoresIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	session := f.open(editorUser, false)
	ctx := context.Background()

	if _, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailPresent.ID}, ScoreOptions{}); err != nil {
		t.Fatalf("score source: %v", err)
	}
	if _, err := f.service.CopyCellScores(ctx, session, f.taxonA.ID, f.taxonB.ID, []int64{f.tail.ID}, CopyOptions{}); err != nil {
		t.Fatalf("first copy: %v", err)
	}
	before := f.changeLogCount()
	out, err := f.service.CopyCellScores(ctx, session, f.taxonA.ID, f.taxonB.ID, []int64{f.tail.ID}, CopyOptions{})
	if err != nil {
		t.Fatalf("second copy: %v", err)
	}
	if out.Notify || f.changeLogCount() != before {
		t.Fatalf("expected re-copy to be a no-op")
	}
}

func TestCopyCellScoresWithNotes(t *testing.T) {
	f := newFixture(t, nil)
	session := f.open(editorUser, false)
	ctx := context.Background()

	if _, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailPresent.ID}, ScoreOptions{}); err != nil {
		t.Fatalf("score source: %v", err)
	}
	if _, err := f.service.SetCellNotes(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, "verified", domain.NoteStatusComplete, NoteOptions{}); err != nil {
		t.Fatalf("source note: %v", err)
	}
	if _, err := f.service.CopyCellScores(ctx, session, f.taxonA.ID, f.taxonB.ID, []int64{f.tail.ID}, CopyOptions{Notes: true}); err != nil {
		t.Fatalf("copy with notes: %v", err)
	}
	note, ok := f.note(f.taxonB.ID, f.tail.ID)
	if !ok || note.Notes != "verified" || note.Status != domain.NoteStatusComplete {
		t.Fatalf("expected note mirrored, got %+v (found=%v)", note, ok)
	}
}

func TestCopyCellScoresValidation(t *testing.T) {
	f := newFixture(t, nil)
	session := f.open(editorUser, false)
	ctx := context.Background()

	_, err := f.service.CopyCellScores(ctx, session, f.taxonA.ID, f.taxonA.ID, []int64{f.tail.ID}, CopyOptions{})
	if _, ok := err.(domain.UserError); !ok {
		t.Fatalf("expected UserError for identical source and destination, got %v", err)
	}
	_, err = f.service.CopyCellScores(ctx, session, 9999, f.taxonB.ID, []int64{f.tail.ID}, CopyOptions{})
	if _, ok := err.(domain.UserError); !ok {
		t.Fatalf("expected UserError for unplaced source, got %v", err)
	}
}
