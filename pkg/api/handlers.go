package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dandytbermillo/annotation/pkg/deletion"
	"github.com/dandytbermillo/annotation/pkg/service"
	"github.com/dandytbermillo/annotation/pkg/types"
	"github.com/gorilla/mux"
)

// actionRequest is the body of the unified POST /persistence endpoint and
// of the specialised POST routes. Binary fields accept base64 strings or
// legacy integer arrays.
type actionRequest struct {
	Action   string          `json:"action,omitempty"`
	DocName  string          `json:"docName"`
	Update   json.RawMessage `json:"update,omitempty"`
	Snapshot json.RawMessage `json:"snapshot,omitempty"`
	Panels   json.RawMessage `json:"panels,omitempty"`
	ClientID string          `json:"clientId,omitempty"`
	Checksum string          `json:"checksum,omitempty"`
	Force    bool            `json:"force,omitempty"`
}

type updateBody struct {
	Update    string    `json:"update"`
	ClientID  string    `json:"clientId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func decodeBody(r *http.Request, into any) error {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return types.ValidationError("invalid JSON body: %v", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.svc.HealthCheck(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// handleAction dispatches the unified {action, ...} endpoint.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	switch req.Action {
	case "persist":
		payload, err := service.DecodeBinary(req.Update)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := s.svc.Persist(ctx, req.DocName, payload, req.ClientID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case "load":
		blob, err := s.svc.Load(ctx, req.DocName)
		if err != nil {
			writeError(w, err)
			return
		}
		body := map[string]any{"docName": req.DocName, "state": nil}
		if blob != nil {
			body["state"] = service.EncodeBinary(blob)
		}
		writeJSON(w, http.StatusOK, body)

	case "getAllUpdates":
		s.respondUpdates(w, r, req.DocName, nil)

	case "clearUpdates":
		n, err := s.svc.ClearUpdates(ctx, req.DocName, nil)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deletedCount": n})

	case "saveSnapshot":
		s.saveSnapshot(w, r, req)

	case "loadSnapshot":
		s.respondSnapshot(w, r, req.DocName, req.Checksum)

	case "compact":
		result, err := s.svc.Compact(ctx, req.DocName, req.Force)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	default:
		writeError(w, types.ValidationError("unknown action %q", req.Action))
	}
}

func (s *Server) respondUpdates(w http.ResponseWriter, r *http.Request, docName string, since *time.Time) {
	var records []types.UpdateRecord
	var err error
	if since != nil {
		// Callers polling for the tail still observe a flushed log.
		records, err = s.svc.ReadAll(r.Context(), docName)
		if err == nil {
			filtered := records[:0]
			for _, rec := range records {
				if rec.Timestamp.After(*since) {
					filtered = append(filtered, rec)
				}
			}
			records = filtered
		}
	} else {
		records, err = s.svc.ReadAll(r.Context(), docName)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	updates := make([]updateBody, 0, len(records))
	for _, rec := range records {
		updates = append(updates, updateBody{
			Update:    service.EncodeBinary(rec.Payload),
			ClientID:  rec.ClientID,
			Timestamp: rec.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"docName": docName,
		"updates": updates,
		"count":   len(updates),
	})
}

func (s *Server) handleGetUpdates(w http.ResponseWriter, r *http.Request) {
	docName := r.URL.Query().Get("docName")
	var since *time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, types.ValidationError("invalid since timestamp: %v", err))
			return
		}
		since = &t
	}
	s.respondUpdates(w, r, docName, since)
}

func (s *Server) handlePostUpdate(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	payload, err := service.DecodeBinary(req.Update)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.Persist(r.Context(), req.DocName, payload, req.ClientID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"size":      len(payload),
		"timestamp": time.Now(),
	})
}

func (s *Server) handleDeleteUpdates(w http.ResponseWriter, r *http.Request) {
	docName := r.URL.Query().Get("docName")
	var before *time.Time
	if v := r.URL.Query().Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, types.ValidationError("invalid before timestamp: %v", err))
			return
		}
		before = &t
	}

	n, err := s.svc.ClearUpdates(r.Context(), docName, before)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deletedCount": n})
}

func (s *Server) respondSnapshot(w http.ResponseWriter, r *http.Request, docName, checksum string) {
	snap, err := s.svc.LoadSnapshot(r.Context(), docName, checksum)
	if err != nil {
		writeError(w, err)
		return
	}
	if snap == nil {
		writeJSON(w, http.StatusOK, map[string]any{"docName": docName, "snapshot": nil})
		return
	}

	body := map[string]any{
		"id":        snap.ID,
		"docName":   snap.DocName,
		"snapshot":  service.EncodeBinary(snap.State),
		"checksum":  snap.Checksum,
		"createdAt": snap.CreatedAt,
		"size":      snap.SizeBytes,
	}
	if len(snap.Panels) > 0 {
		body["panels"] = snap.Panels
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.respondSnapshot(w, r, q.Get("docName"), q.Get("checksum"))
}

func (s *Server) saveSnapshot(w http.ResponseWriter, r *http.Request, req actionRequest) {
	blob, err := service.DecodeBinary(req.Snapshot)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := s.svc.SaveSnapshot(r.Context(), req.DocName, blob, req.Panels)
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Duplicate {
		writeJSON(w, http.StatusOK, map[string]any{"duplicate": true, "checksum": result.Checksum})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePostSnapshot(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.saveSnapshot(w, r, req)
}

func (s *Server) handleDeleteSnapshots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	docName := q.Get("docName")

	keep := 0
	if v := q.Get("keepLast"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, types.ValidationError("invalid keepLast: %v", err))
			return
		}
		keep = n
	}
	if keep < 1 {
		writeError(w, types.ValidationError("keepLast must be >= 1"))
		return
	}

	n, err := s.svc.PruneSnapshots(r.Context(), docName, keep)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deletedCount": n})
}

func (s *Server) handlePostCompact(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.svc.Compact(r.Context(), req.DocName, req.Force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetCompact(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.CompactStatus(r.Context(), r.URL.Query().Get("docName"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	noteID := mux.Vars(r)["noteID"]
	hard := r.URL.Query().Get("hard") == "true"
	confirm := r.Header.Get("X-Confirm-Delete")

	result, err := s.svc.DeleteDoc(r.Context(), deletion.NoteDoc(noteID), hard, confirm)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
