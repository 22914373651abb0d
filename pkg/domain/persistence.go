package domain

import (
	"context"
	"time"
)

// Transaction exposes the domain operations a persistence implementation must
// support within an atomic scope. Change-log and batch-log emission are
// explicit calls so the engine composes every side effect of a mutation in one
// visible sequence instead of relying on implicit hooks.
type Transaction interface {
	Snapshot() TransactionView

	CreateProject(Project) (Project, error)
	UpdateProject(id int64, mutator func(*Project) error) (Project, error)
	CreateGroup(Group) (Group, error)
	CreateMatrix(Matrix) (Matrix, error)
	UpdateMatrix(id int64, mutator func(*Matrix) error) (Matrix, error)
	CreateTaxon(Taxon) (Taxon, error)
	UpdateTaxon(id int64, mutator func(*Taxon) error) (Taxon, error)
	PlaceMatrixTaxon(MatrixTaxon) (MatrixTaxon, error)
	RemoveMatrixTaxon(matrixID, taxonID int64) error
	CreateCharacter(Character) (Character, error)
	UpdateCharacter(id int64, mutator func(*Character) error) (Character, error)
	DeleteCharacter(id int64) error
	CreateCharacterState(CharacterState) (CharacterState, error)
	CreateSpecimen(Specimen) (Specimen, error)
	CreateMediaView(MediaView) (MediaView, error)
	CreateMediaFile(MediaFile) (MediaFile, error)
	CreateCharacterRule(CharacterRule) (CharacterRule, error)
	CreateRuleAction(CharacterRuleAction) (CharacterRuleAction, error)
	CreatePartition(Partition) (Partition, error)

	CreateCellScore(CellScore) (CellScore, error)
	UpdateCellScore(id int64, mutator func(*CellScore) error) (CellScore, error)
	DeleteCellScore(id int64) error
	UpsertCellNote(CellNote) (CellNote, bool, error)
	DeleteCellNote(addr CellAddress) error
	CreateCellMedia(CellMedia) (CellMedia, error)
	DeleteCellMedia(id int64) error
	CreateCellCitation(CellCitation) (CellCitation, error)
	DeleteCellCitation(id int64) error

	AppendChangeLog(CellChangeLog) (CellChangeLog, error)
	CreateBatchLog(CellBatchLog) (CellBatchLog, error)
	UpdateBatchLog(id int64, mutator func(*CellBatchLog) error) (CellBatchLog, error)
}

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	RuleView

	FindProject(id int64) (Project, bool)
	FindGroup(id int64) (Group, bool)
	FindTaxon(id int64) (Taxon, bool)
	FindMatrixTaxon(matrixID, taxonID int64) (MatrixTaxon, bool)
	ListMatrixTaxa(matrixID int64) []MatrixTaxon
	ListCharacters(matrixID int64) []Character
	ListCharacterStates(characterID int64) []CharacterState
	ListMatrixCellScores(matrixID int64) []CellScore
	FindCellScore(id int64) (CellScore, bool)
	FindCellNote(addr CellAddress) (CellNote, bool)
	ListCellMedia(addr CellAddress) []CellMedia
	FindCellMedia(id int64) (CellMedia, bool)
	ListCellCitations(addr CellAddress) []CellCitation
	ListCharacterRules(characterID int64) []CharacterRule
	ListRuleActions(ruleID int64) []CharacterRuleAction
	ListMatrixRules(matrixID int64) []CharacterRule
	FindPartition(id int64) (Partition, bool)
	ListPartitions(projectID int64) []Partition
	FindSpecimen(id int64) (Specimen, bool)
	FindMediaView(id int64) (MediaView, bool)
	FindMediaFile(id int64) (MediaFile, bool)
	ListMediaFiles(projectID int64) []MediaFile
	FindBatchLog(id int64) (CellBatchLog, bool)
	ListChangeLogsSince(matrixID int64, since time.Time) []CellChangeLog
	ListChangeLogsBetween(matrixID, userID int64, from, to time.Time) []CellChangeLog
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}
