package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"matrixcore/internal/blob"
	"matrixcore/pkg/domain"
)

// ExportInfo describes a stored matrix export artifact.
type ExportInfo struct {
	Key  string `json:"key"`
	Size int64  `json:"size_bytes"`
	URL  string `json:"url,omitempty"`
}

// ExportMatrix serializes the full matrix snapshot and stores it as a JSON
// artifact in the configured blob store. Keys are unique per export so earlier
// artifacts are never overwritten.
func (s *Service) ExportMatrix(ctx context.Context, session Session) (ExportInfo, error) {
	var out ExportInfo
	err := s.instrument(ctx, "export_matrix", func(ctx context.Context) error {
		if s.blobs == nil {
			return domain.NewUserError("no artifact store is configured for exports")
		}
		snapshot, err := s.GetMatrixSnapshot(ctx, session)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(snapshot)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("exports/matrix-%d-%s.json", session.MatrixID, uuid.NewString())
		info, err := s.blobs.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
			ContentType: "application/json",
			Metadata: map[string]string{
				"matrix_id": fmt.Sprintf("%d", session.MatrixID),
				"user_id":   fmt.Sprintf("%d", session.UserID),
			},
		})
		if err != nil {
			return err
		}
		out = ExportInfo{Key: info.Key, Size: info.Size, URL: info.URL}
		return nil
	})
	if err != nil {
		return ExportInfo{}, err
	}
	return out, nil
}

// ListExports lists the stored export artifacts of the session's matrix.
func (s *Service) ListExports(ctx context.Context, session Session) ([]ExportInfo, error) {
	var out []ExportInfo
	err := s.instrument(ctx, "list_exports", func(ctx context.Context) error {
		if s.blobs == nil {
			return domain.NewUserError("no artifact store is configured for exports")
		}
		infos, err := s.blobs.List(ctx, fmt.Sprintf("exports/matrix-%d-", session.MatrixID))
		if err != nil {
			return err
		}
		for _, info := range infos {
			out = append(out, ExportInfo{Key: info.Key, Size: info.Size, URL: info.URL})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
