package domain

import "fmt"

// CharacterRule triggers a cascade when a cell of CharacterID is scored to
// StateID. A nil StateID matches the NPA scoring of the character.
type CharacterRule struct {
	ID          int64  `json:"id"`
	CharacterID int64  `json:"character_id"`
	StateID     *int64 `json:"state_id,omitempty"`
}

// Matches reports whether the rule trigger equals the inserted (state, npa) pair.
func (r CharacterRule) Matches(stateID *int64, isNPA bool) bool {
	if r.StateID == nil {
		return isNPA
	}
	return !isNPA && stateID != nil && *stateID == *r.StateID
}

// RuleActionKind is the persisted discriminator of a rule action.
type RuleActionKind string

// Persisted rule action kinds.
const (
	RuleActionSetState RuleActionKind = "SET_STATE"
	RuleActionAddMedia RuleActionKind = "ADD_MEDIA"
)

// CharacterRuleAction is the persisted shape of one cascade action. Variant
// converts it to the closed RuleAction type the engine dispatches on.
type CharacterRuleAction struct {
	ID          int64          `json:"id"`
	RuleID      int64          `json:"rule_id"`
	Kind        RuleActionKind `json:"action"`
	CharacterID int64          `json:"character_id"`
	StateID     *int64         `json:"state_id,omitempty"`
}

// RuleAction is the closed set of cascade actions. The marker method keeps the
// set sealed so engine switches stay exhaustive at compile time.
type RuleAction interface {
	isRuleAction()
}

// SetStateAction scores the target character to StateID (nil meaning NPA) for
// the triggering taxon.
type SetStateAction struct {
	CharacterID int64
	StateID     *int64
}

func (SetStateAction) isRuleAction() {}

// AddMediaAction mirrors the trigger cell's media onto the target character
// for the triggering taxon.
type AddMediaAction struct {
	CharacterID int64
}

func (AddMediaAction) isRuleAction() {}

// Variant returns the sealed action value for the persisted record.
func (a CharacterRuleAction) Variant() (RuleAction, error) {
	switch a.Kind {
	case RuleActionSetState:
		return SetStateAction{CharacterID: a.CharacterID, StateID: cloneInt64Ptr(a.StateID)}, nil
	case RuleActionAddMedia:
		return AddMediaAction{CharacterID: a.CharacterID}, nil
	default:
		return nil, fmt.Errorf("unknown rule action kind %q", a.Kind)
	}
}

func cloneInt64Ptr(v *int64) *int64 {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}
