package core

import (
	"context"
	"fmt"
	"sort"

	"matrixcore/pkg/domain"
)

// MatrixSnapshot is the full server-side state a client loads on open: the
// matrix, its ordered taxa and characters, the character states, and every
// score row.
type MatrixSnapshot struct {
	Matrix     Matrix                     `json:"matrix"`
	Taxa       []Taxon                    `json:"taxa"`
	Placements []MatrixTaxon              `json:"placements"`
	Characters []Character                `json:"characters"`
	States     map[int64][]CharacterState `json:"states"`
	Scores     []CellScore                `json:"scores"`
}

// GetMatrixSnapshot assembles the load-time snapshot of the session's matrix.
func (s *Service) GetMatrixSnapshot(ctx context.Context, session Session) (MatrixSnapshot, error) {
	var out MatrixSnapshot
	err := s.instrument(ctx, "get_matrix_snapshot", func(ctx context.Context) error {
		return s.store.View(ctx, func(view TransactionView) error {
			matrix, ok := view.FindMatrix(session.MatrixID)
			if !ok {
				return domain.ErrNotFound{Entity: domain.EntityMatrix, ID: session.MatrixID}
			}
			out.Matrix = matrix
			out.Placements = view.ListMatrixTaxa(session.MatrixID)
			sort.Slice(out.Placements, func(i, j int) bool {
				return out.Placements[i].Position < out.Placements[j].Position
			})
			for _, placement := range out.Placements {
				if taxon, ok := view.FindTaxon(placement.TaxonID); ok {
					out.Taxa = append(out.Taxa, taxon)
				}
			}
			out.Characters = view.ListCharacters(session.MatrixID)
			out.States = make(map[int64][]CharacterState, len(out.Characters))
			for _, character := range out.Characters {
				if states := view.ListCharacterStates(character.ID); len(states) > 0 {
					out.States[character.ID] = states
				}
			}
			out.Scores = view.ListMatrixCellScores(session.MatrixID)
			return nil
		})
	})
	if err != nil {
		return MatrixSnapshot{}, err
	}
	return out, nil
}

// CellSnapshot is everything attached to one cell triple.
type CellSnapshot struct {
	Scores    []CellScore    `json:"scores"`
	Note      *CellNote      `json:"note,omitempty"`
	Media     []CellMedia    `json:"media,omitempty"`
	Citations []CellCitation `json:"citations,omitempty"`
}

// GetCellSnapshot returns the scores, note, media, and citations of one cell.
func (s *Service) GetCellSnapshot(ctx context.Context, session Session, taxonID, characterID int64) (CellSnapshot, error) {
	var out CellSnapshot
	err := s.instrument(ctx, "get_cell_snapshot", func(ctx context.Context) error {
		return s.store.View(ctx, func(view TransactionView) error {
			character, ok := view.FindCharacter(characterID)
			if !ok || character.MatrixID != session.MatrixID {
				return domain.ErrNotFound{Entity: domain.EntityCharacter, ID: characterID}
			}
			if _, ok := view.FindMatrixTaxon(session.MatrixID, taxonID); !ok {
				return domain.ErrNotFound{Entity: domain.EntityMatrixTaxon, ID: taxonID}
			}
			addr := CellAddress{MatrixID: session.MatrixID, TaxonID: taxonID, CharacterID: characterID}
			out.Scores = view.ListCellScores(addr)
			if note, ok := view.FindCellNote(addr); ok {
				out.Note = &note
			}
			out.Media = view.ListCellMedia(addr)
			out.Citations = view.ListCellCitations(addr)
			return nil
		})
	})
	if err != nil {
		return CellSnapshot{}, err
	}
	return out, nil
}

// CellCount summarizes one cell inside a ranged count query.
type CellCount struct {
	TaxonID     int64 `json:"taxon_id"`
	CharacterID int64 `json:"character_id"`
	Scores      int   `json:"scores"`
	Media       int   `json:"media"`
	Citations   int   `json:"citations"`
	HasNote     bool  `json:"has_note,omitempty"`
}

// GetCellCounts returns per-cell row counts over a rectangular position range
// of the grid. Positions are the dense 1..N orderings of taxa and characters;
// a zero end position extends the range to the last row or column.
func (s *Service) GetCellCounts(ctx context.Context, session Session, startTaxonPos, endTaxonPos, startCharPos, endCharPos int) ([]CellCount, error) {
	var out []CellCount
	err := s.instrument(ctx, "get_cell_counts", func(ctx context.Context) error {
		if startTaxonPos < 0 || startCharPos < 0 ||
			(endTaxonPos != 0 && endTaxonPos < startTaxonPos) ||
			(endCharPos != 0 && endCharPos < startCharPos) {
			return domain.NewUserError("invalid position range")
		}
		return s.store.View(ctx, func(view TransactionView) error {
			if _, ok := view.FindMatrix(session.MatrixID); !ok {
				return domain.ErrNotFound{Entity: domain.EntityMatrix, ID: session.MatrixID}
			}
			taxonIDs := rangedTaxa(view, session.MatrixID, startTaxonPos, endTaxonPos)
			characters := rangedCharacters(view, session.MatrixID, startCharPos, endCharPos)
			for _, taxonID := range taxonIDs {
				for _, character := range characters {
					addr := CellAddress{MatrixID: session.MatrixID, TaxonID: taxonID, CharacterID: character.ID}
					count := CellCount{
						TaxonID:     taxonID,
						CharacterID: character.ID,
						Scores:      len(view.ListCellScores(addr)),
						Media:       len(view.ListCellMedia(addr)),
						Citations:   len(view.ListCellCitations(addr)),
					}
					if _, ok := view.FindCellNote(addr); ok {
						count.HasNote = true
					}
					out = append(out, count)
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func rangedTaxa(view TransactionView, matrixID int64, start, end int) []int64 {
	placements := view.ListMatrixTaxa(matrixID)
	sort.Slice(placements, func(i, j int) bool { return placements[i].Position < placements[j].Position })
	var out []int64
	for _, placement := range placements {
		if start > 0 && placement.Position < start {
			continue
		}
		if end > 0 && placement.Position > end {
			continue
		}
		out = append(out, placement.TaxonID)
	}
	return out
}

func rangedCharacters(view TransactionView, matrixID int64, start, end int) []Character {
	var out []Character
	for _, character := range view.ListCharacters(matrixID) {
		if start > 0 && character.Position < start {
			continue
		}
		if end > 0 && character.Position > end {
			continue
		}
		out = append(out, character)
	}
	return out
}

// SearchKind selects the cell predicate a search matches.
type SearchKind string

// Supported cell search predicates.
const (
	// SearchUnscored matches cells with no score rows.
	SearchUnscored SearchKind = "unscored"
	// SearchNotApplicable matches cells scored with the NPA marker.
	SearchNotApplicable SearchKind = "npa"
	// SearchPolymorphic matches cells holding more than one score row.
	SearchPolymorphic SearchKind = "polymorphic"
	// SearchUndocumented matches scored cells without a note or citation.
	SearchUndocumented SearchKind = "undocumented"
	// SearchUnimaged matches scored cells without media.
	SearchUnimaged SearchKind = "unimaged"
)

// SearchScope restricts a search to one taxon row, one character column, or a
// partition's taxa/character subset. Zero values leave the dimension unscoped.
type SearchScope struct {
	TaxonID     int64
	CharacterID int64
	PartitionID int64
}

// SearchCells returns the addresses of cells matching the predicate within the
// scope, in row-major grid order.
func (s *Service) SearchCells(ctx context.Context, session Session, kind SearchKind, scope SearchScope) ([]CellAddress, error) {
	var out []CellAddress
	err := s.instrument(ctx, "search_cells", func(ctx context.Context) error {
		return s.store.View(ctx, func(view TransactionView) error {
			if _, ok := view.FindMatrix(session.MatrixID); !ok {
				return domain.ErrNotFound{Entity: domain.EntityMatrix, ID: session.MatrixID}
			}
			taxonIDs, characters, err := resolveScope(view, session.MatrixID, scope)
			if err != nil {
				return err
			}
			for _, taxonID := range taxonIDs {
				for _, character := range characters {
					addr := CellAddress{MatrixID: session.MatrixID, TaxonID: taxonID, CharacterID: character.ID}
					match, err := cellMatches(view, addr, kind)
					if err != nil {
						return err
					}
					if match {
						out = append(out, addr)
					}
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func resolveScope(view TransactionView, matrixID int64, scope SearchScope) ([]int64, []Character, error) {
	var partition Partition
	if scope.PartitionID != 0 {
		found, ok := view.FindPartition(scope.PartitionID)
		if !ok {
			return nil, nil, domain.ErrNotFound{Entity: domain.EntityPartition, ID: scope.PartitionID}
		}
		partition = found
	}

	var taxonIDs []int64
	if scope.TaxonID != 0 {
		if _, ok := view.FindMatrixTaxon(matrixID, scope.TaxonID); !ok {
			return nil, nil, domain.ErrNotFound{Entity: domain.EntityMatrixTaxon, ID: scope.TaxonID}
		}
		taxonIDs = []int64{scope.TaxonID}
	} else {
		taxonIDs = rangedTaxa(view, matrixID, 0, 0)
	}
	if partition.ID != 0 && len(partition.TaxonIDs) > 0 {
		var filtered []int64
		for _, id := range taxonIDs {
			if partition.ContainsTaxon(id) {
				filtered = append(filtered, id)
			}
		}
		taxonIDs = filtered
	}

	var characters []Character
	if scope.CharacterID != 0 {
		character, ok := view.FindCharacter(scope.CharacterID)
		if !ok || character.MatrixID != matrixID {
			return nil, nil, domain.ErrNotFound{Entity: domain.EntityCharacter, ID: scope.CharacterID}
		}
		characters = []Character{character}
	} else {
		characters = view.ListCharacters(matrixID)
	}
	if partition.ID != 0 && len(partition.CharacterIDs) > 0 {
		var filtered []Character
		for _, character := range characters {
			if partition.ContainsCharacter(character.ID) {
				filtered = append(filtered, character)
			}
		}
		characters = filtered
	}
	return taxonIDs, characters, nil
}

func cellMatches(view TransactionView, addr CellAddress, kind SearchKind) (bool, error) {
	rows := view.ListCellScores(addr)
	switch kind {
	case SearchUnscored:
		return len(rows) == 0, nil
	case SearchNotApplicable:
		for _, row := range rows {
			if row.IsNPA {
				return true, nil
			}
		}
		return false, nil
	case SearchPolymorphic:
		return len(rows) > 1, nil
	case SearchUndocumented:
		if len(rows) == 0 {
			return false, nil
		}
		if _, ok := view.FindCellNote(addr); ok {
			return false, nil
		}
		return len(view.ListCellCitations(addr)) == 0, nil
	case SearchUnimaged:
		return len(rows) > 0 && len(view.ListCellMedia(addr)) == 0, nil
	default:
		return false, domain.NewUserError(fmt.Sprintf("unknown search kind %q", kind))
	}
}
