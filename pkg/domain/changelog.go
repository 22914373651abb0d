package domain

import "time"

// ChangeType classifies an elementary change-log mutation.
type ChangeType string

// Change log mutation types.
const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ChangeTable names the logical table a change-log row refers to.
type ChangeTable string

// Logical tables covered by the change log. Cell tables feed both the change
// feed and undo; the entity tables only contribute to the modified-id lists a
// poll response carries.
const (
	TableCellScores    ChangeTable = "cell_scores"
	TableCellNotes     ChangeTable = "cell_notes"
	TableCellMedia     ChangeTable = "cell_media"
	TableCellCitations ChangeTable = "cell_citations"
	TableCharacters    ChangeTable = "characters"
	TableTaxa          ChangeTable = "taxa"
	TablePartitions    ChangeTable = "partitions"
)

// CellChangeLog is one append-only audit row per elementary mutation. Rows are
// never updated or deleted; they are the sole source for both the change feed
// and batch undo. Snapshot holds the row image: the inserted row for inserts,
// the prior row for updates and deletes.
type CellChangeLog struct {
	ID          int64         `json:"id"`
	ChangeType  ChangeType    `json:"change_type"`
	Table       ChangeTable   `json:"table_num"`
	UserID      int64         `json:"user_id"`
	ChangedOn   time.Time     `json:"changed_on"`
	MatrixID    int64         `json:"matrix_id"`
	CharacterID int64         `json:"character_id,omitempty"`
	TaxonID     int64         `json:"taxon_id,omitempty"`
	StateID     *int64        `json:"state_id,omitempty"`
	Snapshot    ChangePayload `json:"snapshot"`
}

// BatchType classifies the bulk operation a batch log groups.
type BatchType string

// Batch types recorded in CellBatchLog rows.
const (
	BatchSetStates       BatchType = "set_states"
	BatchSetContinuous   BatchType = "set_continuous"
	BatchCopyScores      BatchType = "copy_scores"
	BatchSetNotes        BatchType = "set_notes"
	BatchFixViolations   BatchType = "fix_violations"
	BatchMediaAutomation BatchType = "media_automation"
)

// CellBatchLog groups the mutations of one bulk operation into a reversible,
// time-bounded unit.
type CellBatchLog struct {
	ID             int64     `json:"id"`
	MatrixID       int64     `json:"matrix_id"`
	UserID         int64     `json:"user_id"`
	BatchType      BatchType `json:"batch_type"`
	StartedOn      time.Time `json:"started_on"`
	FinishedOn     time.Time `json:"finished_on"`
	Description    string    `json:"description,omitempty"`
	Reverted       bool      `json:"reverted,omitempty"`
	RevertedUserID *int64    `json:"reverted_user_id,omitempty"`
}
