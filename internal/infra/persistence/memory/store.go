// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"matrixcore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Project aliases domain.Project for in-memory persistence operations.
	Project = domain.Project
	// Group aliases domain.Group.
	Group = domain.Group
	// Matrix aliases domain.Matrix.
	Matrix = domain.Matrix
	// Taxon aliases domain.Taxon.
	Taxon = domain.Taxon
	// MatrixTaxon aliases domain.MatrixTaxon.
	MatrixTaxon = domain.MatrixTaxon
	// Character aliases domain.Character.
	Character = domain.Character
	// CharacterState aliases domain.CharacterState.
	CharacterState = domain.CharacterState
	// CellScore aliases domain.CellScore.
	CellScore = domain.CellScore
	// CellAddress aliases domain.CellAddress.
	CellAddress = domain.CellAddress
	// CellNote aliases domain.CellNote.
	CellNote = domain.CellNote
	// CellMedia aliases domain.CellMedia.
	CellMedia = domain.CellMedia
	// CellCitation aliases domain.CellCitation.
	CellCitation = domain.CellCitation
	// CharacterRule aliases domain.CharacterRule.
	CharacterRule = domain.CharacterRule
	// CharacterRuleAction aliases domain.CharacterRuleAction.
	CharacterRuleAction = domain.CharacterRuleAction
	// Partition aliases domain.Partition.
	Partition = domain.Partition
	// Specimen aliases domain.Specimen.
	Specimen = domain.Specimen
	// MediaView aliases domain.MediaView.
	MediaView = domain.MediaView
	// MediaFile aliases domain.MediaFile.
	MediaFile = domain.MediaFile
	// CellChangeLog aliases domain.CellChangeLog.
	CellChangeLog = domain.CellChangeLog
	// CellBatchLog aliases domain.CellBatchLog.
	CellBatchLog = domain.CellBatchLog
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	seq           int64
	projects      map[int64]Project
	groups        map[int64]Group
	matrices      map[int64]Matrix
	taxa          map[int64]Taxon
	matrixTaxa    map[int64]map[int64]MatrixTaxon
	characters    map[int64]Character
	states        map[int64]CharacterState
	cells         map[int64]CellScore
	cellNotes     map[CellAddress]CellNote
	cellMedia     map[int64]CellMedia
	cellCitations map[int64]CellCitation
	rules         map[int64]CharacterRule
	ruleActions   map[int64]CharacterRuleAction
	partitions    map[int64]Partition
	specimens     map[int64]Specimen
	views         map[int64]MediaView
	media         map[int64]MediaFile
	batchLogs     map[int64]CellBatchLog
	changeLogs    []CellChangeLog
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Seq           int64                     `json:"seq"`
	Projects      map[int64]Project         `json:"projects,omitempty"`
	Groups        map[int64]Group           `json:"groups,omitempty"`
	Matrices      map[int64]Matrix          `json:"matrices,omitempty"`
	Taxa          map[int64]Taxon           `json:"taxa,omitempty"`
	MatrixTaxa    []MatrixTaxon             `json:"matrix_taxa,omitempty"`
	Characters    map[int64]Character       `json:"characters,omitempty"`
	States        map[int64]CharacterState  `json:"states,omitempty"`
	Cells         map[int64]CellScore       `json:"cells,omitempty"`
	CellNotes     []CellNote                `json:"cell_notes,omitempty"`
	CellMedia     map[int64]CellMedia       `json:"cell_media,omitempty"`
	CellCitations map[int64]CellCitation    `json:"cell_citations,omitempty"`
	Rules         map[int64]CharacterRule   `json:"rules,omitempty"`
	RuleActions   map[int64]CharacterRuleAction `json:"rule_actions,omitempty"`
	Partitions    map[int64]Partition       `json:"partitions,omitempty"`
	Specimens     map[int64]Specimen        `json:"specimens,omitempty"`
	Views         map[int64]MediaView       `json:"views,omitempty"`
	Media         map[int64]MediaFile       `json:"media,omitempty"`
	BatchLogs     map[int64]CellBatchLog    `json:"batch_logs,omitempty"`
	ChangeLogs    []CellChangeLog           `json:"change_logs,omitempty"`
}

func newMemoryState() memoryState {
	return memoryState{
		projects:      make(map[int64]Project),
		groups:        make(map[int64]Group),
		matrices:      make(map[int64]Matrix),
		taxa:          make(map[int64]Taxon),
		matrixTaxa:    make(map[int64]map[int64]MatrixTaxon),
		characters:    make(map[int64]Character),
		states:        make(map[int64]CharacterState),
		cells:         make(map[int64]CellScore),
		cellNotes:     make(map[CellAddress]CellNote),
		cellMedia:     make(map[int64]CellMedia),
		cellCitations: make(map[int64]CellCitation),
		rules:         make(map[int64]CharacterRule),
		ruleActions:   make(map[int64]CharacterRuleAction),
		partitions:    make(map[int64]Partition),
		specimens:     make(map[int64]Specimen),
		views:         make(map[int64]MediaView),
		media:         make(map[int64]MediaFile),
		batchLogs:     make(map[int64]CellBatchLog),
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	cloned.seq = s.seq
	for k, v := range s.projects {
		cloned.projects[k] = cloneProject(v)
	}
	for k, v := range s.groups {
		cloned.groups[k] = cloneGroup(v)
	}
	for k, v := range s.matrices {
		cloned.matrices[k] = cloneMatrix(v)
	}
	for k, v := range s.taxa {
		cloned.taxa[k] = v
	}
	for matrixID, placements := range s.matrixTaxa {
		cp := make(map[int64]MatrixTaxon, len(placements))
		for taxonID, placement := range placements {
			cp[taxonID] = cloneMatrixTaxon(placement)
		}
		cloned.matrixTaxa[matrixID] = cp
	}
	for k, v := range s.characters {
		cloned.characters[k] = cloneCharacter(v)
	}
	for k, v := range s.states {
		cloned.states[k] = cloneCharacterState(v)
	}
	for k, v := range s.cells {
		cloned.cells[k] = cloneCellScore(v)
	}
	for k, v := range s.cellNotes {
		cloned.cellNotes[k] = v
	}
	for k, v := range s.cellMedia {
		cloned.cellMedia[k] = v
	}
	for k, v := range s.cellCitations {
		cloned.cellCitations[k] = v
	}
	for k, v := range s.rules {
		cloned.rules[k] = cloneRule(v)
	}
	for k, v := range s.ruleActions {
		cloned.ruleActions[k] = cloneRuleAction(v)
	}
	for k, v := range s.partitions {
		cloned.partitions[k] = clonePartition(v)
	}
	for k, v := range s.specimens {
		cloned.specimens[k] = v
	}
	for k, v := range s.views {
		cloned.views[k] = v
	}
	for k, v := range s.media {
		cloned.media[k] = v
	}
	for k, v := range s.batchLogs {
		cloned.batchLogs[k] = cloneBatchLog(v)
	}
	cloned.changeLogs = append([]CellChangeLog(nil), s.changeLogs...)
	return cloned
}

func cloneProject(p Project) Project {
	cp := p
	if p.MemberRoles != nil {
		cp.MemberRoles = make(map[int64]domain.MemberRole, len(p.MemberRoles))
		for k, v := range p.MemberRoles {
			cp.MemberRoles[k] = v
		}
	}
	return cp
}

func cloneGroup(g Group) Group {
	cp := g
	cp.MemberIDs = append([]int64(nil), g.MemberIDs...)
	return cp
}

func cloneMatrix(m Matrix) Matrix {
	cp := m
	if m.Options != nil {
		cp.Options = make(map[string]int, len(m.Options))
		for k, v := range m.Options {
			cp.Options[k] = v
		}
	}
	return cp
}

func cloneMatrixTaxon(mt MatrixTaxon) MatrixTaxon {
	cp := mt
	cp.UserID = cloneID(mt.UserID)
	cp.GroupID = cloneID(mt.GroupID)
	return cp
}

func cloneCharacter(c Character) Character {
	cp := c
	cp.ViewIDs = append([]int64(nil), c.ViewIDs...)
	return cp
}

func cloneCharacterState(s CharacterState) CharacterState {
	cp := s
	cp.MediaIDs = append([]int64(nil), s.MediaIDs...)
	return cp
}

func cloneCellScore(c CellScore) CellScore {
	cp := c
	cp.StateID = cloneID(c.StateID)
	cp.StartValue = cloneFloat(c.StartValue)
	cp.EndValue = cloneFloat(c.EndValue)
	return cp
}

func cloneRule(r CharacterRule) CharacterRule {
	cp := r
	cp.StateID = cloneID(r.StateID)
	return cp
}

func cloneRuleAction(a CharacterRuleAction) CharacterRuleAction {
	cp := a
	cp.StateID = cloneID(a.StateID)
	return cp
}

func clonePartition(p Partition) Partition {
	cp := p
	cp.TaxonIDs = append([]int64(nil), p.TaxonIDs...)
	cp.CharacterIDs = append([]int64(nil), p.CharacterIDs...)
	return cp
}

func cloneBatchLog(b CellBatchLog) CellBatchLog {
	cp := b
	cp.RevertedUserID = cloneID(b.RevertedUserID)
	return cp
}

func cloneID(v *int64) *int64 {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Seq:           state.seq,
		Projects:      make(map[int64]Project, len(state.projects)),
		Groups:        make(map[int64]Group, len(state.groups)),
		Matrices:      make(map[int64]Matrix, len(state.matrices)),
		Taxa:          make(map[int64]Taxon, len(state.taxa)),
		Characters:    make(map[int64]Character, len(state.characters)),
		States:        make(map[int64]CharacterState, len(state.states)),
		Cells:         make(map[int64]CellScore, len(state.cells)),
		CellMedia:     make(map[int64]CellMedia, len(state.cellMedia)),
		CellCitations: make(map[int64]CellCitation, len(state.cellCitations)),
		Rules:         make(map[int64]CharacterRule, len(state.rules)),
		RuleActions:   make(map[int64]CharacterRuleAction, len(state.ruleActions)),
		Partitions:    make(map[int64]Partition, len(state.partitions)),
		Specimens:     make(map[int64]Specimen, len(state.specimens)),
		Views:         make(map[int64]MediaView, len(state.views)),
		Media:         make(map[int64]MediaFile, len(state.media)),
		BatchLogs:     make(map[int64]CellBatchLog, len(state.batchLogs)),
	}
	for k, v := range state.projects {
		s.Projects[k] = cloneProject(v)
	}
	for k, v := range state.groups {
		s.Groups[k] = cloneGroup(v)
	}
	for k, v := range state.matrices {
		s.Matrices[k] = cloneMatrix(v)
	}
	for k, v := range state.taxa {
		s.Taxa[k] = v
	}
	for _, placements := range state.matrixTaxa {
		for _, placement := range placements {
			s.MatrixTaxa = append(s.MatrixTaxa, cloneMatrixTaxon(placement))
		}
	}
	sort.Slice(s.MatrixTaxa, func(i, j int) bool {
		if s.MatrixTaxa[i].MatrixID != s.MatrixTaxa[j].MatrixID {
			return s.MatrixTaxa[i].MatrixID < s.MatrixTaxa[j].MatrixID
		}
		return s.MatrixTaxa[i].Position < s.MatrixTaxa[j].Position
	})
	for k, v := range state.characters {
		s.Characters[k] = cloneCharacter(v)
	}
	for k, v := range state.states {
		s.States[k] = cloneCharacterState(v)
	}
	for k, v := range state.cells {
		s.Cells[k] = cloneCellScore(v)
	}
	for _, note := range state.cellNotes {
		s.CellNotes = append(s.CellNotes, note)
	}
	sort.Slice(s.CellNotes, func(i, j int) bool {
		a, b := s.CellNotes[i], s.CellNotes[j]
		if a.TaxonID != b.TaxonID {
			return a.TaxonID < b.TaxonID
		}
		return a.CharacterID < b.CharacterID
	})
	for k, v := range state.cellMedia {
		s.CellMedia[k] = v
	}
	for k, v := range state.cellCitations {
		s.CellCitations[k] = v
	}
	for k, v := range state.rules {
		s.Rules[k] = cloneRule(v)
	}
	for k, v := range state.ruleActions {
		s.RuleActions[k] = cloneRuleAction(v)
	}
	for k, v := range state.partitions {
		s.Partitions[k] = clonePartition(v)
	}
	for k, v := range state.specimens {
		s.Specimens[k] = v
	}
	for k, v := range state.views {
		s.Views[k] = v
	}
	for k, v := range state.media {
		s.Media[k] = v
	}
	for k, v := range state.batchLogs {
		s.BatchLogs[k] = cloneBatchLog(v)
	}
	s.ChangeLogs = append([]CellChangeLog(nil), state.changeLogs...)
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	state.seq = s.Seq
	for k, v := range s.Projects {
		state.projects[k] = cloneProject(v)
	}
	for k, v := range s.Groups {
		state.groups[k] = cloneGroup(v)
	}
	for k, v := range s.Matrices {
		state.matrices[k] = cloneMatrix(v)
	}
	for k, v := range s.Taxa {
		state.taxa[k] = v
	}
	for _, placement := range s.MatrixTaxa {
		placements, ok := state.matrixTaxa[placement.MatrixID]
		if !ok {
			placements = make(map[int64]MatrixTaxon)
			state.matrixTaxa[placement.MatrixID] = placements
		}
		placements[placement.TaxonID] = cloneMatrixTaxon(placement)
	}
	for k, v := range s.Characters {
		state.characters[k] = cloneCharacter(v)
	}
	for k, v := range s.States {
		state.states[k] = cloneCharacterState(v)
	}
	for k, v := range s.Cells {
		state.cells[k] = cloneCellScore(v)
	}
	for _, note := range s.CellNotes {
		state.cellNotes[note.Address()] = note
	}
	for k, v := range s.CellMedia {
		state.cellMedia[k] = v
	}
	for k, v := range s.CellCitations {
		state.cellCitations[k] = v
	}
	for k, v := range s.Rules {
		state.rules[k] = cloneRule(v)
	}
	for k, v := range s.RuleActions {
		state.ruleActions[k] = cloneRuleAction(v)
	}
	for k, v := range s.Partitions {
		state.partitions[k] = clonePartition(v)
	}
	for k, v := range s.Specimens {
		state.specimens[k] = v
	}
	for k, v := range s.Views {
		state.views[k] = v
	}
	for k, v := range s.Media {
		state.media[k] = v
	}
	for k, v := range s.BatchLogs {
		state.batchLogs[k] = cloneBatchLog(v)
	}
	state.changeLogs = append([]CellChangeLog(nil), s.ChangeLogs...)
	return state
}

// Store provides an in-memory transactional store for the matrix domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// SetNowFunc overrides the time provider; tests use it for deterministic clocks.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.nowFn = fn
	}
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// RunInTransaction executes fn within a transactional copy of the store state.
// Rules are evaluated against the mutated copy before commit; blocking
// violations abort with RuleViolationError and leave the store untouched.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

// transaction represents a mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

func (tx *transaction) nextID() int64 {
	tx.state.seq++
	return tx.state.seq
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// CreateProject persists a new project record.
func (tx *transaction) CreateProject(p Project) (Project, error) {
	if p.ID == 0 {
		p.ID = tx.nextID()
	}
	tx.state.projects[p.ID] = cloneProject(p)
	tx.recordChange(Change{Entity: domain.EntityProject, Action: domain.ActionCreate, After: cloneProject(p)})
	return p, nil
}

// UpdateProject mutates an existing project.
func (tx *transaction) UpdateProject(id int64, mutator func(*Project) error) (Project, error) {
	current, ok := tx.state.projects[id]
	if !ok {
		return Project{}, domain.ErrNotFound{Entity: domain.EntityProject, ID: id}
	}
	before := cloneProject(current)
	if err := mutator(&current); err != nil {
		return Project{}, err
	}
	current.ID = id
	tx.state.projects[id] = cloneProject(current)
	tx.recordChange(Change{Entity: domain.EntityProject, Action: domain.ActionUpdate, Before: before, After: cloneProject(current)})
	return current, nil
}

// CreateGroup persists a member group.
func (tx *transaction) CreateGroup(g Group) (Group, error) {
	if g.ID == 0 {
		g.ID = tx.nextID()
	}
	tx.state.groups[g.ID] = cloneGroup(g)
	tx.recordChange(Change{Entity: domain.EntityGroup, Action: domain.ActionCreate, After: cloneGroup(g)})
	return g, nil
}

// CreateMatrix persists a matrix record.
func (tx *transaction) CreateMatrix(m Matrix) (Matrix, error) {
	if _, ok := tx.state.projects[m.ProjectID]; !ok {
		return Matrix{}, domain.ErrNotFound{Entity: domain.EntityProject, ID: m.ProjectID}
	}
	if m.ID == 0 {
		m.ID = tx.nextID()
	}
	if m.CreatedOn.IsZero() {
		m.CreatedOn = tx.now
	}
	tx.state.matrices[m.ID] = cloneMatrix(m)
	tx.recordChange(Change{Entity: domain.EntityMatrix, Action: domain.ActionCreate, After: cloneMatrix(m)})
	return m, nil
}

// UpdateMatrix mutates a matrix record.
func (tx *transaction) UpdateMatrix(id int64, mutator func(*Matrix) error) (Matrix, error) {
	current, ok := tx.state.matrices[id]
	if !ok {
		return Matrix{}, domain.ErrNotFound{Entity: domain.EntityMatrix, ID: id}
	}
	before := cloneMatrix(current)
	if err := mutator(&current); err != nil {
		return Matrix{}, err
	}
	current.ID = id
	tx.state.matrices[id] = cloneMatrix(current)
	tx.recordChange(Change{Entity: domain.EntityMatrix, Action: domain.ActionUpdate, Before: before, After: cloneMatrix(current)})
	return current, nil
}

// CreateTaxon persists a taxon record.
func (tx *transaction) CreateTaxon(t Taxon) (Taxon, error) {
	if _, ok := tx.state.projects[t.ProjectID]; !ok {
		return Taxon{}, domain.ErrNotFound{Entity: domain.EntityProject, ID: t.ProjectID}
	}
	if t.ID == 0 {
		t.ID = tx.nextID()
	}
	tx.state.taxa[t.ID] = t
	tx.recordChange(Change{Entity: domain.EntityTaxon, Action: domain.ActionCreate, After: t})
	return t, nil
}

// UpdateTaxon mutates a taxon record.
func (tx *transaction) UpdateTaxon(id int64, mutator func(*Taxon) error) (Taxon, error) {
	current, ok := tx.state.taxa[id]
	if !ok {
		return Taxon{}, domain.ErrNotFound{Entity: domain.EntityTaxon, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return Taxon{}, err
	}
	current.ID = id
	tx.state.taxa[id] = current
	tx.recordChange(Change{Entity: domain.EntityTaxon, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// PlaceMatrixTaxon adds a taxon to a matrix. A zero position appends; a
// positive position inserts and shifts later placements so positions stay a
// dense 1..N sequence.
func (tx *transaction) PlaceMatrixTaxon(mt MatrixTaxon) (MatrixTaxon, error) {
	if _, ok := tx.state.matrices[mt.MatrixID]; !ok {
		return MatrixTaxon{}, domain.ErrNotFound{Entity: domain.EntityMatrix, ID: mt.MatrixID}
	}
	if _, ok := tx.state.taxa[mt.TaxonID]; !ok {
		return MatrixTaxon{}, domain.ErrNotFound{Entity: domain.EntityTaxon, ID: mt.TaxonID}
	}
	placements, ok := tx.state.matrixTaxa[mt.MatrixID]
	if !ok {
		placements = make(map[int64]MatrixTaxon)
		tx.state.matrixTaxa[mt.MatrixID] = placements
	}
	if _, exists := placements[mt.TaxonID]; exists {
		return MatrixTaxon{}, fmt.Errorf("taxon %d already placed in matrix %d", mt.TaxonID, mt.MatrixID)
	}
	if mt.Position <= 0 || mt.Position > len(placements)+1 {
		mt.Position = len(placements) + 1
	} else {
		for taxonID, existing := range placements {
			if existing.Position >= mt.Position {
				existing.Position++
				placements[taxonID] = existing
			}
		}
	}
	placements[mt.TaxonID] = cloneMatrixTaxon(mt)
	tx.recordChange(Change{Entity: domain.EntityMatrixTaxon, Action: domain.ActionCreate, After: cloneMatrixTaxon(mt)})
	return mt, nil
}

// RemoveMatrixTaxon removes a taxon placement and renumbers the remainder.
func (tx *transaction) RemoveMatrixTaxon(matrixID, taxonID int64) error {
	placements, ok := tx.state.matrixTaxa[matrixID]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityMatrixTaxon, ID: taxonID}
	}
	removed, ok := placements[taxonID]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityMatrixTaxon, ID: taxonID}
	}
	delete(placements, taxonID)
	for id, existing := range placements {
		if existing.Position > removed.Position {
			existing.Position--
			placements[id] = existing
		}
	}
	tx.recordChange(Change{Entity: domain.EntityMatrixTaxon, Action: domain.ActionDelete, Before: cloneMatrixTaxon(removed)})
	return nil
}

// CreateCharacter persists a character, appending or inserting by position and
// keeping positions dense.
func (tx *transaction) CreateCharacter(c Character) (Character, error) {
	if _, ok := tx.state.matrices[c.MatrixID]; !ok {
		return Character{}, domain.ErrNotFound{Entity: domain.EntityMatrix, ID: c.MatrixID}
	}
	if c.ID == 0 {
		c.ID = tx.nextID()
	}
	siblings := tx.matrixCharacters(c.MatrixID)
	if c.Position <= 0 || c.Position > len(siblings)+1 {
		c.Position = len(siblings) + 1
	} else {
		for _, sibling := range siblings {
			if sibling.Position >= c.Position {
				sibling.Position++
				tx.state.characters[sibling.ID] = sibling
			}
		}
	}
	tx.state.characters[c.ID] = cloneCharacter(c)
	tx.recordChange(Change{Entity: domain.EntityCharacter, Action: domain.ActionCreate, After: cloneCharacter(c)})
	return c, nil
}

// UpdateCharacter mutates a character record.
func (tx *transaction) UpdateCharacter(id int64, mutator func(*Character) error) (Character, error) {
	current, ok := tx.state.characters[id]
	if !ok {
		return Character{}, domain.ErrNotFound{Entity: domain.EntityCharacter, ID: id}
	}
	before := cloneCharacter(current)
	if err := mutator(&current); err != nil {
		return Character{}, err
	}
	current.ID = id
	tx.state.characters[id] = cloneCharacter(current)
	tx.recordChange(Change{Entity: domain.EntityCharacter, Action: domain.ActionUpdate, Before: before, After: cloneCharacter(current)})
	return current, nil
}

// DeleteCharacter removes a character and renumbers the matrix's remaining columns.
func (tx *transaction) DeleteCharacter(id int64) error {
	current, ok := tx.state.characters[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityCharacter, ID: id}
	}
	delete(tx.state.characters, id)
	for _, sibling := range tx.matrixCharacters(current.MatrixID) {
		if sibling.Position > current.Position {
			sibling.Position--
			tx.state.characters[sibling.ID] = sibling
		}
	}
	tx.recordChange(Change{Entity: domain.EntityCharacter, Action: domain.ActionDelete, Before: cloneCharacter(current)})
	return nil
}

func (tx *transaction) matrixCharacters(matrixID int64) []Character {
	var out []Character
	for _, c := range tx.state.characters {
		if c.MatrixID == matrixID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// CreateCharacterState persists a discrete state of a character.
func (tx *transaction) CreateCharacterState(cs CharacterState) (CharacterState, error) {
	if _, ok := tx.state.characters[cs.CharacterID]; !ok {
		return CharacterState{}, domain.ErrNotFound{Entity: domain.EntityCharacter, ID: cs.CharacterID}
	}
	if cs.ID == 0 {
		cs.ID = tx.nextID()
	}
	tx.state.states[cs.ID] = cloneCharacterState(cs)
	tx.recordChange(Change{Entity: domain.EntityCharacterState, Action: domain.ActionCreate, After: cloneCharacterState(cs)})
	return cs, nil
}

// CreateSpecimen persists a specimen record.
func (tx *transaction) CreateSpecimen(sp Specimen) (Specimen, error) {
	if _, ok := tx.state.taxa[sp.TaxonID]; !ok {
		return Specimen{}, domain.ErrNotFound{Entity: domain.EntityTaxon, ID: sp.TaxonID}
	}
	if sp.ID == 0 {
		sp.ID = tx.nextID()
	}
	tx.state.specimens[sp.ID] = sp
	tx.recordChange(Change{Entity: domain.EntitySpecimen, Action: domain.ActionCreate, After: sp})
	return sp, nil
}

// CreateMediaView persists a media view record.
func (tx *transaction) CreateMediaView(v MediaView) (MediaView, error) {
	if v.ID == 0 {
		v.ID = tx.nextID()
	}
	tx.state.views[v.ID] = v
	tx.recordChange(Change{Entity: domain.EntityMediaView, Action: domain.ActionCreate, After: v})
	return v, nil
}

// CreateMediaFile persists a media file record.
func (tx *transaction) CreateMediaFile(m MediaFile) (MediaFile, error) {
	if m.ID == 0 {
		m.ID = tx.nextID()
	}
	tx.state.media[m.ID] = m
	tx.recordChange(Change{Entity: domain.EntityMediaFile, Action: domain.ActionCreate, After: m})
	return m, nil
}

// CreateCharacterRule persists a cascade trigger.
func (tx *transaction) CreateCharacterRule(r CharacterRule) (CharacterRule, error) {
	if _, ok := tx.state.characters[r.CharacterID]; !ok {
		return CharacterRule{}, domain.ErrNotFound{Entity: domain.EntityCharacter, ID: r.CharacterID}
	}
	if r.ID == 0 {
		r.ID = tx.nextID()
	}
	tx.state.rules[r.ID] = cloneRule(r)
	tx.recordChange(Change{Entity: domain.EntityCharacterRule, Action: domain.ActionCreate, After: cloneRule(r)})
	return r, nil
}

// CreateRuleAction persists a cascade action belonging to a rule.
func (tx *transaction) CreateRuleAction(a CharacterRuleAction) (CharacterRuleAction, error) {
	if _, ok := tx.state.rules[a.RuleID]; !ok {
		return CharacterRuleAction{}, domain.ErrNotFound{Entity: domain.EntityCharacterRule, ID: a.RuleID}
	}
	if _, ok := tx.state.characters[a.CharacterID]; !ok {
		return CharacterRuleAction{}, domain.ErrNotFound{Entity: domain.EntityCharacter, ID: a.CharacterID}
	}
	if _, err := a.Variant(); err != nil {
		return CharacterRuleAction{}, err
	}
	if a.ID == 0 {
		a.ID = tx.nextID()
	}
	tx.state.ruleActions[a.ID] = cloneRuleAction(a)
	tx.recordChange(Change{Entity: domain.EntityRuleAction, Action: domain.ActionCreate, After: cloneRuleAction(a)})
	return a, nil
}

// CreatePartition persists a named taxa/character subset.
func (tx *transaction) CreatePartition(p Partition) (Partition, error) {
	if _, ok := tx.state.projects[p.ProjectID]; !ok {
		return Partition{}, domain.ErrNotFound{Entity: domain.EntityProject, ID: p.ProjectID}
	}
	if p.ID == 0 {
		p.ID = tx.nextID()
	}
	tx.state.partitions[p.ID] = clonePartition(p)
	tx.recordChange(Change{Entity: domain.EntityPartition, Action: domain.ActionCreate, After: clonePartition(p)})
	return p, nil
}

// CreateCellScore inserts a cell state row.
func (tx *transaction) CreateCellScore(c CellScore) (CellScore, error) {
	if c.ID == 0 {
		c.ID = tx.nextID()
	}
	if c.CreatedOn.IsZero() {
		c.CreatedOn = tx.now
	}
	tx.state.cells[c.ID] = cloneCellScore(c)
	tx.recordChange(Change{Entity: domain.EntityCellScore, Action: domain.ActionCreate, After: cloneCellScore(c)})
	return c, nil
}

// UpdateCellScore mutates a cell state row.
func (tx *transaction) UpdateCellScore(id int64, mutator func(*CellScore) error) (CellScore, error) {
	current, ok := tx.state.cells[id]
	if !ok {
		return CellScore{}, domain.ErrNotFound{Entity: domain.EntityCellScore, ID: id}
	}
	before := cloneCellScore(current)
	if err := mutator(&current); err != nil {
		return CellScore{}, err
	}
	current.ID = id
	tx.state.cells[id] = cloneCellScore(current)
	tx.recordChange(Change{Entity: domain.EntityCellScore, Action: domain.ActionUpdate, Before: before, After: cloneCellScore(current)})
	return current, nil
}

// DeleteCellScore removes a cell state row.
func (tx *transaction) DeleteCellScore(id int64) error {
	current, ok := tx.state.cells[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityCellScore, ID: id}
	}
	delete(tx.state.cells, id)
	tx.recordChange(Change{Entity: domain.EntityCellScore, Action: domain.ActionDelete, Before: cloneCellScore(current)})
	return nil
}

// UpsertCellNote creates or replaces the note of a cell, reporting whether a
// new note was created.
func (tx *transaction) UpsertCellNote(n CellNote) (CellNote, bool, error) {
	addr := n.Address()
	existing, ok := tx.state.cellNotes[addr]
	tx.state.cellNotes[addr] = n
	if ok {
		tx.recordChange(Change{Entity: domain.EntityCellNote, Action: domain.ActionUpdate, Before: existing, After: n})
		return n, false, nil
	}
	tx.recordChange(Change{Entity: domain.EntityCellNote, Action: domain.ActionCreate, After: n})
	return n, true, nil
}

// DeleteCellNote removes the note of a cell.
func (tx *transaction) DeleteCellNote(addr CellAddress) error {
	existing, ok := tx.state.cellNotes[addr]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityCellNote, ID: addr.CharacterID}
	}
	delete(tx.state.cellNotes, addr)
	tx.recordChange(Change{Entity: domain.EntityCellNote, Action: domain.ActionDelete, Before: existing})
	return nil
}

// CreateCellMedia inserts a cell media link.
func (tx *transaction) CreateCellMedia(m CellMedia) (CellMedia, error) {
	if m.ID == 0 {
		m.ID = tx.nextID()
	}
	if m.CreatedOn.IsZero() {
		m.CreatedOn = tx.now
	}
	tx.state.cellMedia[m.ID] = m
	tx.recordChange(Change{Entity: domain.EntityCellMedia, Action: domain.ActionCreate, After: m})
	return m, nil
}

// DeleteCellMedia removes a cell media link.
func (tx *transaction) DeleteCellMedia(id int64) error {
	current, ok := tx.state.cellMedia[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityCellMedia, ID: id}
	}
	delete(tx.state.cellMedia, id)
	tx.recordChange(Change{Entity: domain.EntityCellMedia, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreateCellCitation inserts a cell citation link.
func (tx *transaction) CreateCellCitation(c CellCitation) (CellCitation, error) {
	if c.ID == 0 {
		c.ID = tx.nextID()
	}
	tx.state.cellCitations[c.ID] = c
	tx.recordChange(Change{Entity: domain.EntityCellCitation, Action: domain.ActionCreate, After: c})
	return c, nil
}

// DeleteCellCitation removes a cell citation link.
func (tx *transaction) DeleteCellCitation(id int64) error {
	current, ok := tx.state.cellCitations[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityCellCitation, ID: id}
	}
	delete(tx.state.cellCitations, id)
	tx.recordChange(Change{Entity: domain.EntityCellCitation, Action: domain.ActionDelete, Before: current})
	return nil
}

/// AppendChangeLog appends an audit row. Rows are append-only: nothing in the
// store ever mutates or removes them.
func (tx *transaction) AppendChangeLog(entry CellChangeLog) (CellChangeLog, error) {
	if entry.ID == 0 {
		entry.ID = tx.nextID()
	}
	if entry.ChangedOn.IsZero() {
		entry.ChangedOn = tx.now
	}
	tx.state.changeLogs = append(tx.state.changeLogs, entry)
	tx.recordChange(Change{Entity: domain.EntityChangeLog, Action: domain.ActionCreate, After: entry})
	return entry, nil
}

// CreateBatchLog opens a batch log row.
func (tx *transaction) CreateBatchLog(b CellBatchLog) (CellBatchLog, error) {
	if b.ID == 0 {
		b.ID = tx.nextID()
	}
	if b.StartedOn.IsZero() {
		b.StartedOn = tx.now
	}
	tx.state.batchLogs[b.ID] = cloneBatchLog(b)
	tx.recordChange(Change{Entity: domain.EntityBatchLog, Action: domain.ActionCreate, After: cloneBatchLog(b)})
	return b, nil
}

// UpdateBatchLog mutates a batch log row (finalization, revert marking).
func (tx *transaction) UpdateBatchLog(id int64, mutator func(*CellBatchLog) error) (CellBatchLog, error) {
	current, ok := tx.state.batchLogs[id]
	if !ok {
		return CellBatchLog{}, domain.ErrNotFound{Entity: domain.EntityBatchLog, ID: id}
	}
	before := cloneBatchLog(current)
	if err := mutator(&current); err != nil {
		return CellBatchLog{}, err
	}
	current.ID = id
	tx.state.batchLogs[id] = cloneBatchLog(current)
	tx.recordChange(Change{Entity: domain.EntityBatchLog, Action: domain.ActionUpdate, Before: before, After: cloneBatchLog(current)})
	return current, nil
}
