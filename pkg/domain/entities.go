// Package domain defines the persistent entities, value types, and rule
// evaluation primitives used by matrixcore.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityProject identifies a project record.
	EntityProject EntityType = "project"
	// EntityGroup identifies a member group record.
	EntityGroup EntityType = "group"
	// EntityMatrix identifies a matrix record.
	EntityMatrix EntityType = "matrix"
	// EntityTaxon identifies a taxon record.
	EntityTaxon EntityType = "taxon"
	// EntityMatrixTaxon identifies a per-matrix taxon placement record.
	EntityMatrixTaxon EntityType = "matrix_taxon"
	// EntityCharacter identifies a character record.
	EntityCharacter EntityType = "character"
	// EntityCharacterState identifies a character state record.
	EntityCharacterState EntityType = "character_state"
	// EntityCellScore identifies a cell score row.
	EntityCellScore EntityType = "cell_score"
	// EntityCellNote identifies a cell note record.
	EntityCellNote EntityType = "cell_note"
	// EntityCellMedia identifies a cell media link.
	EntityCellMedia EntityType = "cell_media"
	// EntityCellCitation identifies a cell citation link.
	EntityCellCitation EntityType = "cell_citation"
	// EntityCharacterRule identifies a character rule record.
	EntityCharacterRule EntityType = "character_rule"
	// EntityRuleAction identifies a character rule action record.
	EntityRuleAction EntityType = "rule_action"
	// EntityBatchLog identifies a cell batch log record.
	EntityBatchLog EntityType = "batch_log"
	// EntityChangeLog identifies an append-only change log row.
	EntityChangeLog EntityType = "change_log"
	// EntityPartition identifies a named taxa/character subset.
	EntityPartition EntityType = "partition"
	// EntitySpecimen identifies a specimen record.
	EntitySpecimen EntityType = "specimen"
	// EntityMediaView identifies a media view record.
	EntityMediaView EntityType = "media_view"
	// EntityMediaFile identifies a media file record.
	EntityMediaFile EntityType = "media_file"
)

// MatrixType distinguishes discrete matrices from meristic/continuous ones.
type MatrixType string

// Canonical matrix types.
const (
	MatrixTypeDiscrete MatrixType = "discrete"
	MatrixTypeMeristic MatrixType = "meristic"
)

// Matrix option names. Option values are integer flags; a non-zero value
// enables the option.
const (
	// OptionDisableScoring blocks all cell mutations on the matrix.
	OptionDisableScoring = "DISABLE_SCORING"
	// OptionAllowRuleOverwrite lets SET_STATE cascade actions replace an
	// existing score on the action character.
	OptionAllowRuleOverwrite = "ALLOW_OVERWRITING_BY_RULES"
	// OptionEnableMediaAutomation enables the view-based cell media automation pass.
	OptionEnableMediaAutomation = "ENABLE_CELL_MEDIA_AUTOMATION"
	// OptionApplyRulesWhileScoring runs the rule cascade inline after score writes.
	OptionApplyRulesWhileScoring = "APPLY_RULES_WHILE_SCORING"
)

// Matrix is an ordered taxa x characters scoring grid owned by a project.
type Matrix struct {
	ID        int64          `json:"id"`
	ProjectID int64          `json:"project_id"`
	Title     string         `json:"title"`
	Type      MatrixType     `json:"type"`
	Options   map[string]int `json:"options,omitempty"`
	CreatedOn time.Time      `json:"created_on"`
}

// Option returns the integer flag stored under name, zero when unset.
func (m Matrix) Option(name string) int {
	if m.Options == nil {
		return 0
	}
	return m.Options[name]
}

// MemberRole describes a user's standing inside a project.
type MemberRole string

// Project membership roles checked by the permission gate.
const (
	RoleAdmin    MemberRole = "admin"
	RoleMember   MemberRole = "member"
	RoleObserver MemberRole = "observer"
)

// Project owns taxa, matrices, partitions and media, and carries the
// membership table consulted by the permission gate.
type Project struct {
	ID          int64                `json:"id"`
	Title       string               `json:"title"`
	MemberRoles map[int64]MemberRole `json:"member_roles,omitempty"`
}

// RoleOf returns the project role for a user, if any.
func (p Project) RoleOf(userID int64) (MemberRole, bool) {
	role, ok := p.MemberRoles[userID]
	return role, ok
}

// Group is a named set of users; taxon placements may restrict editing to a group.
type Group struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	MemberIDs []int64 `json:"member_ids,omitempty"`
}

// HasMember reports whether userID belongs to the group.
func (g Group) HasMember(userID int64) bool {
	for _, id := range g.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Taxon is an operational taxonomic unit scored against characters.
type Taxon struct {
	ID         int64  `json:"id"`
	ProjectID  int64  `json:"project_id"`
	Genus      string `json:"genus"`
	Species    string `json:"species,omitempty"`
	Subspecies string `json:"subspecies,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// MatrixTaxon places a taxon in a matrix at a dense 1..N position. The
// optional owning user/group restricts who may edit the taxon's cells.
type MatrixTaxon struct {
	MatrixID int64  `json:"matrix_id"`
	TaxonID  int64  `json:"taxon_id"`
	Position int    `json:"position"`
	UserID   *int64 `json:"user_id,omitempty"`
	GroupID  *int64 `json:"group_id,omitempty"`
}

// CharacterType distinguishes discrete characters from numeric ones.
type CharacterType string

// Canonical character types. Continuous and meristic characters score a
// numeric range instead of discrete states.
const (
	CharacterTypeDiscrete   CharacterType = "discrete"
	CharacterTypeContinuous CharacterType = "continuous"
	CharacterTypeMeristic   CharacterType = "meristic"
)

// IsNumeric reports whether the type scores start/end values rather than states.
func (t CharacterType) IsNumeric() bool {
	return t == CharacterTypeContinuous || t == CharacterTypeMeristic
}

// CharacterOrdering captures how state transitions are costed downstream.
type CharacterOrdering string

// Canonical character orderings.
const (
	OrderingUnordered    CharacterOrdering = "unordered"
	OrderingOrdered      CharacterOrdering = "ordered"
	OrderingIrreversible CharacterOrdering = "irreversible"
)

// Character is a scored trait column of a matrix. Position is a dense 1..N
// integer renumbered after insert/delete. ViewIDs lists the media views the
// character illustrates, consumed by the media automation pass.
type Character struct {
	ID          int64             `json:"id"`
	MatrixID    int64             `json:"matrix_id"`
	Position    int               `json:"position"`
	Name        string            `json:"name"`
	Type        CharacterType     `json:"type"`
	Ordering    CharacterOrdering `json:"ordering,omitempty"`
	Description string            `json:"description,omitempty"`
	ViewIDs     []int64           `json:"view_ids,omitempty"`
}

// CharacterState is one discrete state of a character. MediaIDs lists media
// files illustrating the state; automation uses them as provenance.
type CharacterState struct {
	ID          int64   `json:"id"`
	CharacterID int64   `json:"character_id"`
	Num         int     `json:"num"`
	Name        string  `json:"name"`
	MediaIDs    []int64 `json:"media_ids,omitempty"`
}

// StateIDNotApplicable is the sentinel state id clients pass to score a cell
// "not per se applicable". It never identifies a stored CharacterState.
const StateIDNotApplicable int64 = 0

// CellScore is one state row of a cell. A cell (matrix, taxon, character) owns
// zero or more rows: none means unscored ("?"), one NPA row means not
// applicable, multiple rows with IsUncertain set mean a polymorphic cell, and
// numeric characters store the range in StartValue/EndValue on a single row.
type CellScore struct {
	ID          int64     `json:"id"`
	MatrixID    int64     `json:"matrix_id"`
	TaxonID     int64     `json:"taxon_id"`
	CharacterID int64     `json:"character_id"`
	StateID     *int64    `json:"state_id,omitempty"`
	IsNPA       bool      `json:"is_npa,omitempty"`
	IsUncertain bool      `json:"is_uncertain,omitempty"`
	StartValue  *float64  `json:"start_value,omitempty"`
	EndValue    *float64  `json:"end_value,omitempty"`
	UserID      int64     `json:"user_id"`
	CreatedOn   time.Time `json:"created_on"`
}

// CellAddress identifies a cell triple.
type CellAddress struct {
	MatrixID    int64 `json:"matrix_id"`
	TaxonID     int64 `json:"taxon_id"`
	CharacterID int64 `json:"character_id"`
}

// Address returns the triple identifying the row's cell.
func (c CellScore) Address() CellAddress {
	return CellAddress{MatrixID: c.MatrixID, TaxonID: c.TaxonID, CharacterID: c.CharacterID}
}

// NoteStatus is the workflow state of a cell note.
type NoteStatus string

// Cell note workflow statuses.
const (
	NoteStatusNew        NoteStatus = "new"
	NoteStatusInProgress NoteStatus = "in_progress"
	NoteStatusComplete   NoteStatus = "complete"
)

// CellNote attaches free text and a workflow status to a cell triple.
type CellNote struct {
	MatrixID    int64      `json:"matrix_id"`
	TaxonID     int64      `json:"taxon_id"`
	CharacterID int64      `json:"character_id"`
	Notes       string     `json:"notes"`
	Status      NoteStatus `json:"status"`
}

// Address returns the triple identifying the note's cell.
func (n CellNote) Address() CellAddress {
	return CellAddress{MatrixID: n.MatrixID, TaxonID: n.TaxonID, CharacterID: n.CharacterID}
}

// CellMedia links a media file to a cell. Automated marks attachments created
// by the rule cascade or the media automation pass so pruning can tell them
// apart from user uploads.
type CellMedia struct {
	ID          int64     `json:"id"`
	MatrixID    int64     `json:"matrix_id"`
	TaxonID     int64     `json:"taxon_id"`
	CharacterID int64     `json:"character_id"`
	MediaID     int64     `json:"media_id"`
	Automated   bool      `json:"automated,omitempty"`
	CreatedOn   time.Time `json:"created_on"`
}

// Address returns the triple identifying the link's cell.
func (m CellMedia) Address() CellAddress {
	return CellAddress{MatrixID: m.MatrixID, TaxonID: m.TaxonID, CharacterID: m.CharacterID}
}

// CellCitation links a bibliographic reference to a cell.
type CellCitation struct {
	ID          int64  `json:"id"`
	MatrixID    int64  `json:"matrix_id"`
	TaxonID     int64  `json:"taxon_id"`
	CharacterID int64  `json:"character_id"`
	CitationID  int64  `json:"citation_id"`
	Notes       string `json:"notes,omitempty"`
}

// Partition names a subset of a project's taxa and characters used to scope searches.
type Partition struct {
	ID           int64   `json:"id"`
	ProjectID    int64   `json:"project_id"`
	Name         string  `json:"name"`
	TaxonIDs     []int64 `json:"taxon_ids,omitempty"`
	CharacterIDs []int64 `json:"character_ids,omitempty"`
}

// ContainsTaxon reports whether the partition includes the taxon.
func (p Partition) ContainsTaxon(id int64) bool { return containsID(p.TaxonIDs, id) }

// ContainsCharacter reports whether the partition includes the character.
func (p Partition) ContainsCharacter(id int64) bool { return containsID(p.CharacterIDs, id) }

func containsID(ids []int64, id int64) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}

// Specimen is a physical voucher linked to a taxon; media files reference it.
type Specimen struct {
	ID      int64 `json:"id"`
	TaxonID int64 `json:"taxon_id"`
}

// MediaView is a named anatomical view (e.g. "dorsal skull") media are shot in.
type MediaView struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// MediaFile is an uploaded image or document. ViewID and SpecimenID drive the
// view-based media automation pass; either may be zero when unset.
type MediaFile struct {
	ID         int64 `json:"id"`
	ProjectID  int64 `json:"project_id"`
	ViewID     int64 `json:"view_id,omitempty"`
	SpecimenID int64 `json:"specimen_id,omitempty"`
}

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID int64
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}
