package core

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"matrixcore/internal/blob"
)

func TestExportMatrixStoresSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	blobs := blob.NewMemory()
	f.service = NewService(f.store, WithNowFunc(func() time.Time { return f.now }), WithBlobStore(blobs))
	session := f.open(editorUser, false)
	ctx := context.Background()

	if _, err := f.service.SetCellStates(ctx, session, []int64{f.taxonA.ID}, []int64{f.tail.ID}, []int64{f.tailPresent.ID}, ScoreOptions{}); err != nil {
		t.Fatalf("score: %v", err)
	}
	info, err := f.service.ExportMatrix(ctx, session)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.HasPrefix(info.Key, "exports/matrix-") || !strings.HasSuffix(info.Key, ".json") {
		t.Fatalf("unexpected export key %q", info.Key)
	}
	_, rc, err := blobs.Get(ctx, info.Key)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	defer func() { _ = rc.Close() }()
	payload, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read payload: %v", err)
	}
	var snapshot MatrixSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if snapshot.Matrix.ID != f.matrix.ID || len(snapshot.Scores) != 1 {
		t.Fatalf("unexpected exported snapshot %+v", snapshot.Matrix)
	}

	exports, err := f.service.ListExports(ctx, session)
	if err != nil {
		t.Fatalf("list exports: %v", err)
	}
	if len(exports) != 1 || exports[0].Key != info.Key {
		t.Fatalf("unexpected export list %+v", exports)
	}
}

func TestExportMatrixWithoutBlobStore(t *testing.T) {
	f := newFixture(t, nil)
	session := f.open(editorUser, false)
	if _, err := f.service.ExportMatrix(context.Background(), session); err == nil {
		t.Fatalf("expected export to fail without a blob store")
	}
}
