package server

import (
	"context"
	"encoding/json"
	"sort"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/registry"
	"github.com/Aman-CERP/amanrag/internal/structure"
	"github.com/Aman-CERP/amanrag/internal/ws"
)

// uploadKeyPrefix is where browser uploads land in the bucket; the
// creation event's key and the delete coordinator's source-object key
// both use it.
const uploadKeyPrefix = "uploads/"

// registerBatchRequest is the register_upload_batch payload.
type registerBatchRequest struct {
	Files       []registry.FileSpec `json:"files"`
	ForceUpload bool                `json:"force_upload"`
}

// registerWSHandlers wires the correlated request/response handlers:
// ping and upload-batch registration.
func (h *Handlers) registerWSHandlers() {
	h.hub.HandleRequest(ws.TypePing, ws.TypePong, func(context.Context, json.RawMessage) (any, error) {
		return nil, nil
	})

	h.hub.HandleRequest(ws.TypeRegisterUploadBatch, ws.TypeUploadBatchRegistered,
		func(ctx context.Context, data json.RawMessage) (any, error) {
			var req registerBatchRequest
			if err := json.Unmarshal(data, &req); err != nil {
				return nil, amerrors.New(amerrors.ErrCodeInvalidInput, "malformed batch registration", err)
			}
			if len(req.Files) == 0 {
				return nil, amerrors.New(amerrors.ErrCodeInvalidInput, "batch registration needs at least one file", nil)
			}
			entries, err := h.reg.RegisterBatch(ctx, req.Files, req.ForceUpload)
			if err != nil {
				return nil, err
			}
			return map[string]any{"registrations": entries}, nil
		})
}

func sortChunks(chunks []structure.ChunkInfo) {
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
}
