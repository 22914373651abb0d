package memory

import (
	"sort"
	"time"
)

// transactionView exposes a read-only snapshot of the transactional state.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// FindProject retrieves a project by id from the snapshot.
func (v transactionView) FindProject(id int64) (Project, bool) {
	p, ok := v.state.projects[id]
	if !ok {
		return Project{}, false
	}
	return cloneProject(p), true
}

// FindGroup retrieves a member group by id.
func (v transactionView) FindGroup(id int64) (Group, bool) {
	g, ok := v.state.groups[id]
	if !ok {
		return Group{}, false
	}
	return cloneGroup(g), true
}

// FindMatrix retrieves a matrix by id.
func (v transactionView) FindMatrix(id int64) (Matrix, bool) {
	m, ok := v.state.matrices[id]
	if !ok {
		return Matrix{}, false
	}
	return cloneMatrix(m), true
}

// FindTaxon retrieves a taxon by id.
func (v transactionView) FindTaxon(id int64) (Taxon, bool) {
	t, ok := v.state.taxa[id]
	return t, ok
}

// FindMatrixTaxon retrieves a taxon placement within a matrix.
func (v transactionView) FindMatrixTaxon(matrixID, taxonID int64) (MatrixTaxon, bool) {
	placements, ok := v.state.matrixTaxa[matrixID]
	if !ok {
		return MatrixTaxon{}, false
	}
	mt, ok := placements[taxonID]
	if !ok {
		return MatrixTaxon{}, false
	}
	return cloneMatrixTaxon(mt), true
}

// ListMatrixTaxa returns the matrix's taxon placements ordered by position.
func (v transactionView) ListMatrixTaxa(matrixID int64) []MatrixTaxon {
	placements := v.state.matrixTaxa[matrixID]
	out := make([]MatrixTaxon, 0, len(placements))
	for _, mt := range placements {
		out = append(out, cloneMatrixTaxon(mt))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// FindCharacter retrieves a character by id.
func (v transactionView) FindCharacter(id int64) (Character, bool) {
	c, ok := v.state.characters[id]
	if !ok {
		return Character{}, false
	}
	return cloneCharacter(c), true
}

// ListCharacters returns the matrix's characters ordered by position.
func (v transactionView) ListCharacters(matrixID int64) []Character {
	var out []Character
	for _, c := range v.state.characters {
		if c.MatrixID == matrixID {
			out = append(out, cloneCharacter(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// FindCharacterState retrieves a character state by id.
func (v transactionView) FindCharacterState(id int64) (CharacterState, bool) {
	s, ok := v.state.states[id]
	if !ok {
		return CharacterState{}, false
	}
	return cloneCharacterState(s), true
}

// ListCharacterStates returns a character's states ordered by ordinal number.
func (v transactionView) ListCharacterStates(characterID int64) []CharacterState {
	var out []CharacterState
	for _, s := range v.state.states {
		if s.CharacterID == characterID {
			out = append(out, cloneCharacterState(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Num < out[j].Num })
	return out
}

// ListCellScores returns the state rows of one cell triple ordered by id.
func (v transactionView) ListCellScores(addr CellAddress) []CellScore {
	var out []CellScore
	for _, c := range v.state.cells {
		if c.Address() == addr {
			out = append(out, cloneCellScore(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListMatrixCellScores returns every state row of a matrix ordered by id.
func (v transactionView) ListMatrixCellScores(matrixID int64) []CellScore {
	var out []CellScore
	for _, c := range v.state.cells {
		if c.MatrixID == matrixID {
			out = append(out, cloneCellScore(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindCellScore retrieves a cell state row by id.
func (v transactionView) FindCellScore(id int64) (CellScore, bool) {
	c, ok := v.state.cells[id]
	if !ok {
		return CellScore{}, false
	}
	return cloneCellScore(c), true
}

// FindCellNote retrieves the note of a cell triple.
func (v transactionView) FindCellNote(addr CellAddress) (CellNote, bool) {
	n, ok := v.state.cellNotes[addr]
	return n, ok
}

// ListCellMedia returns the media links of a cell triple ordered by id.
func (v transactionView) ListCellMedia(addr CellAddress) []CellMedia {
	var out []CellMedia
	for _, m := range v.state.cellMedia {
		if m.Address() == addr {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindCellMedia retrieves a cell media link by id.
func (v transactionView) FindCellMedia(id int64) (CellMedia, bool) {
	m, ok := v.state.cellMedia[id]
	return m, ok
}

// ListCellCitations returns the citation links of a cell triple ordered by id.
func (v transactionView) ListCellCitations(addr CellAddress) []CellCitation {
	var out []CellCitation
	for _, c := range v.state.cellCitations {
		if c.MatrixID == addr.MatrixID && c.TaxonID == addr.TaxonID && c.CharacterID == addr.CharacterID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListCharacterRules returns the rules triggered by a character.
func (v transactionView) ListCharacterRules(characterID int64) []CharacterRule {
	var out []CharacterRule
	for _, r := range v.state.rules {
		if r.CharacterID == characterID {
			out = append(out, cloneRule(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListRuleActions returns the actions of a rule.
func (v transactionView) ListRuleActions(ruleID int64) []CharacterRuleAction {
	var out []CharacterRuleAction
	for _, a := range v.state.ruleActions {
		if a.RuleID == ruleID {
			out = append(out, cloneRuleAction(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListMatrixRules returns every rule whose trigger character belongs to the matrix.
func (v transactionView) ListMatrixRules(matrixID int64) []CharacterRule {
	var out []CharacterRule
	for _, r := range v.state.rules {
		if c, ok := v.state.characters[r.CharacterID]; ok && c.MatrixID == matrixID {
			out = append(out, cloneRule(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindPartition retrieves a partition by id.
func (v transactionView) FindPartition(id int64) (Partition, bool) {
	p, ok := v.state.partitions[id]
	if !ok {
		return Partition{}, false
	}
	return clonePartition(p), true
}

// ListPartitions returns a project's partitions ordered by id.
func (v transactionView) ListPartitions(projectID int64) []Partition {
	var out []Partition
	for _, p := range v.state.partitions {
		if p.ProjectID == projectID {
			out = append(out, clonePartition(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindSpecimen retrieves a specimen by id.
func (v transactionView) FindSpecimen(id int64) (Specimen, bool) {
	s, ok := v.state.specimens[id]
	return s, ok
}

// FindMediaView retrieves a media view by id.
func (v transactionView) FindMediaView(id int64) (MediaView, bool) {
	mv, ok := v.state.views[id]
	return mv, ok
}

// FindMediaFile retrieves a media file by id.
func (v transactionView) FindMediaFile(id int64) (MediaFile, bool) {
	m, ok := v.state.media[id]
	return m, ok
}

// ListMediaFiles returns a project's media files ordered by id.
func (v transactionView) ListMediaFiles(projectID int64) []MediaFile {
	var out []MediaFile
	for _, m := range v.state.media {
		if m.ProjectID == projectID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindBatchLog retrieves a batch log by id.
func (v transactionView) FindBatchLog(id int64) (CellBatchLog, bool) {
	b, ok := v.state.batchLogs[id]
	if !ok {
		return CellBatchLog{}, false
	}
	return cloneBatchLog(b), true
}

// ListChangeLogsSince returns the matrix's change-log rows strictly after
// since, in append (chronological) order.
func (v transactionView) ListChangeLogsSince(matrixID int64, since time.Time) []CellChangeLog {
	var out []CellChangeLog
	for _, entry := range v.state.changeLogs {
		if entry.MatrixID == matrixID && entry.ChangedOn.After(since) {
			out = append(out, entry)
		}
	}
	return out
}

// ListChangeLogsBetween returns the matrix's change-log rows authored by
// userID with ChangedOn in [from, to], in append (chronological) order.
func (v transactionView) ListChangeLogsBetween(matrixID, userID int64, from, to time.Time) []CellChangeLog {
	var out []CellChangeLog
	for _, entry := range v.state.changeLogs {
		if entry.MatrixID != matrixID || entry.UserID != userID {
			continue
		}
		if entry.ChangedOn.Before(from) || entry.ChangedOn.After(to) {
			continue
		}
		out = append(out, entry)
	}
	return out
}
