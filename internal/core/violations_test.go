package core

import (
	"context"
	"testing"
)

func TestGetRuleViolationsFindsUnsatisfiedActions(t *testing.T) {
	// Cascade-while-scoring is off, so scoring the trigger leaves the action
	// cell untouched and the rule unsatisfied.
	f := newFixture(t, nil)
	seedAbsentTailRule(f)
	session := f.open(editorUser, false)
	ctx := context.Background()

	if _, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailAbsent.ID}, ScoreOptions{}); err != nil {
		t.Fatalf("score trigger: %v", err)
	}
	violations, err := f.service.GetRuleViolations(ctx, session)
	if err != nil {
		t.Fatalf("get violations: %v", err)
	}
	if len(violations) != 1 {
		t.Fatalf("expected 1 violation, got %+v", violations)
	}
	v := violations[0]
	if v.TaxonID != f.taxonA.ID || v.TriggerCharacterID != f.tail.ID || v.ActionCharacterID != f.color.ID {
		t.Fatalf("unexpected violation %+v", v)
	}
}

func TestGetRuleViolationsEmptyWhenTriggerUnscored(t *testing.T) {
	f := newFixture(t, nil)
	seedAbsentTailRule(f)
	session := f.open(editorUser, false)

	violations, err := f.service.GetRuleViolations(context.Background(), session)
	if err != nil {
		t.Fatalf("get violations: %v", err)
	}
	if len(violations) != 0 {
		t.Fatalf("expected no violations, got %+v", violations)
	}
}

func TestFixRuleViolationsOverwritesOccupiedCell(t *testing.T) {
	// The matrix does not allow rule overwrites, but an explicit fix is the
	// operator asserting the rule outcome and replaces the occupied cell anyway.
	f := newFixture(t, nil)
	seedAbsentTailRule(f)
	session := f.open(editorUser, false)
	ctx := context.Background()

	if _, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailAbsent.ID}, ScoreOptions{}); err != nil {
		t.Fatalf("score trigger: %v", err)
	}
	if _, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID}, []int64{f.color.ID}, []int64{f.colorRed.ID}, ScoreOptions{}); err != nil {
		t.Fatalf("occupy action cell: %v", err)
	}

	violations, err := f.service.GetRuleViolations(ctx, session)
	if err != nil || len(violations) != 1 {
		t.Fatalf("expected 1 violation, got %+v (err=%v)", violations, err)
	}
	if _, err := f.service.FixRuleViolations(ctx, session, violations, false); err != nil {
		t.Fatalf("fix violations: %v", err)
	}
	rows := f.scores(f.taxonA.ID, f.color.ID)
	if len(rows) != 1 || !rows[0].IsNPA {
		t.Fatalf("expected the fix to score color NPA, got %+v", rows)
	}

	remaining, err := f.service.GetRuleViolations(ctx, session)
	if err != nil {
		t.Fatalf("re-check violations: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected no remaining violations, got %+v", remaining)
	}
}

func TestFixAllRuleViolations(t *testing.T) {
	f := newFixture(t, nil)
	seedAbsentTailRule(f)
	session := f.open(editorUser, false)
	ctx := context.Background()

	if _, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID, f.taxonB.ID}, []int64{f.tail.ID}, []int64{f.tailAbsent.ID}, ScoreOptions{}); err != nil {
		t.Fatalf("score triggers: %v", err)
	}
	if _, err := f.service.FixAllRuleViolations(ctx, session, false); err != nil {
		t.Fatalf("fix all: %v", err)
	}
	for _, taxonID := range []int64{f.taxonA.ID, f.taxonB.ID} {
		rows := f.scores(taxonID, f.color.ID)
		if len(rows) != 1 || !rows[0].IsNPA {
			t.Fatalf("expected taxon %d fixed, got %+v", taxonID, rows)
		}
	}
}
