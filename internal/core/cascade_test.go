package core

import (
	"context"
	"testing"

	"matrixcore/pkg/domain"
)

// seedAbsentTailRule wires the classic cascade: a taxon scored "tail absent"
// has its "tail color" set to not applicable.
func seedAbsentTailRule(f *fixture) {
	f.t.Helper()
	_, err := f.store.RunInTransaction(context.Background(), func(tx Transaction) error {
		rule, err := tx.CreateCharacterRule(CharacterRule{CharacterID: f.tail.ID, StateID: &f.tailAbsent.ID})
		if err != nil {
			return err
		}
		_, err = tx.CreateRuleAction(CharacterRuleAction{
			RuleID:      rule.ID,
			Kind:        domain.RuleActionSetState,
			CharacterID: f.color.ID,
		})
		return err
	})
	if err != nil {
		f.t.Fatalf("seed rule: %v", err)
	}
}

func TestCascadeSetsActionState(t *testing.T) {
	f := newFixture(t, map[string]int{domain.OptionApplyRulesWhileScoring: 1})
	seedAbsentTailRule(f)
	session := f.open(editorUser, false)

	if _, err := f.service.SetCellStates(context.Background(), session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailAbsent.ID}, ScoreOptions{}); err != nil {
		t.Fatalf("score trigger: %v", err)
	}
	rows := f.scores(f.taxonA.ID, f.color.ID)
	if len(rows) != 1 || !rows[0].IsNPA {
		t.Fatalf("expected the cascade to score color NPA, got %+v", rows)
	}
}

func TestCascadeSkipsOccupiedCellWithoutOverwrite(t *testing.T) {
	f := newFixture(t, map[string]int{domain.OptionApplyRulesWhileScoring: 1})
	seedAbsentTailRule(f)
	session := f.open(editorUser, false)
	ctx := context.Background()

	if _, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID}, []int64{f.color.ID}, []int64{f.colorRed.ID}, ScoreOptions{}); err != nil {
		t.Fatalf("score color: %v", err)
	}
	if _, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailAbsent.ID}, ScoreOptions{}); err != nil {
		t.Fatalf("score trigger: %v", err)
	}
	rows := f.scores(f.taxonA.ID, f.color.ID)
	if len(rows) != 1 || rows[0].StateID == nil || *rows[0].StateID != f.colorRed.ID {
		t.Fatalf("expected the occupied cell untouched, got %+v", rows)
	}
}

func TestCascadeOverwritesWhenMatrixAllows(t *testing.T) {
	f := newFixture(t, map[string]int{
		domain.OptionApplyRulesWhileScoring: 1,
		domain.OptionAllowRuleOverwrite:     1,
	})
	seedAbsentTailRule(f)
	session := f.open(editorUser, false)
	ctx := context.Background()

	if _, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID}, []int64{f.color.ID}, []int64{f.colorRed.ID}, ScoreOptions{}); err != nil {
		t.Fatalf("score color: %v", err)
	}
	if _, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailAbsent.ID}, ScoreOptions{}); err != nil {
		t.Fatalf("score trigger: %v", err)
	}
	rows := f.scores(f.taxonA.ID, f.color.ID)
	if len(rows) != 1 || !rows[0].IsNPA {
		t.Fatalf("expected the cascade to overwrite, got %+v", rows)
	}
}

func TestCascadeIsIdempotent(t *testing.T) {
	f := newFixture(t, map[string]int{domain.OptionApplyRulesWhileScoring: 1})
	seedAbsentTailRule(f)
	session := f.open(editorUser, false)
	ctx := context.Background()

	if _, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailAbsent.ID}, ScoreOptions{}); err != nil {
		t.Fatalf("score trigger: %v", err)
	}
	before := f.changeLogCount()
	// Re-scoring the identical trigger inserts nothing, so the cascade does not
	// re-run and the action cell gains no duplicate rows.
	if _, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailAbsent.ID}, ScoreOptions{}); err != nil {
		t.Fatalf("repeat trigger: %v", err)
	}
	if f.changeLogCount() != before {
		t.Fatalf("expected no new change logs")
	}
	if rows := f.scores(f.taxonA.ID, f.color.ID); len(rows) != 1 {
		t.Fatalf("expected a single action row, got %+v", rows)
	}
}

func TestCascadeDisabledWithoutMatrixOption(t *testing.T) {
	f := newFixture(t, nil)
	seedAbsentTailRule(f)
	session := f.open(editorUser, false)

	if _, err := f.service.SetCellStates(context.Background(), session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailAbsent.ID}, ScoreOptions{}); err != nil {
		t.Fatalf("score trigger: %v", err)
	}
	if rows := f.scores(f.taxonA.ID, f.color.ID); len(rows) != 0 {
		t.Fatalf("expected no cascade without the matrix option, got %+v", rows)
	}
}

func TestCascadeAddMediaMirrorsTriggerCell(t *testing.T) {
	f := newFixture(t, map[string]int{domain.OptionApplyRulesWhileScoring: 1})
	var media domain.MediaFile
	_, err := f.store.RunInTransaction(context.Background(), func(tx Transaction) error {
		var err error
		media, err = tx.CreateMediaFile(domain.MediaFile{ProjectID: f.project.ID})
		if err != nil {
			return err
		}
		if _, err = tx.CreateCellMedia(CellMedia{
			MatrixID: f.matrix.ID, TaxonID: f.taxonA.ID, CharacterID: f.tail.ID, MediaID: media.ID,
		}); err != nil {
			return err
		}
		rule, err := tx.CreateCharacterRule(CharacterRule{CharacterID: f.tail.ID, StateID: &f.tailAbsent.ID})
		if err != nil {
			return err
		}
		_, err = tx.CreateRuleAction(CharacterRuleAction{
			RuleID:      rule.ID,
			Kind:        domain.RuleActionAddMedia,
			CharacterID: f.color.ID,
		})
		return err
	})
	if err != nil {
		t.Fatalf("seed media rule: %v", err)
	}

	session := f.open(editorUser, false)
	if _, err := f.service.SetCellStates(context.Background(), session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailAbsent.ID}, ScoreOptions{}); err != nil {
		t.Fatalf("score trigger: %v", err)
	}
	links := f.media(f.taxonA.ID, f.color.ID)
	if len(links) != 1 || links[0].MediaID != media.ID || !links[0].Automated {
		t.Fatalf("expected an automated mirrored link, got %+v", links)
	}
}
