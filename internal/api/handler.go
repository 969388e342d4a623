package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	treeline "github.com/treelinehq/treeline"
)

const maxUploadBytes = 64 << 20 // 64MB

type uploadResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type queryRequest struct {
	Question string `json:"question"`
}

type queryResponse struct {
	Answer   string              `json:"answer"`
	Evidence []treeline.Evidence `json:"evidence"`
}

type listResponse struct {
	Documents []string `json:"documents"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	docs, err := s.lib.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if docs == nil {
		docs = []string{}
	}
	writeJSON(w, http.StatusOK, listResponse{Documents: docs})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close() //nolint:errcheck

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload: "+err.Error())
		return
	}

	name := r.FormValue("name")
	if name == "" {
		name = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}
	docID := treeline.DocumentID(name)
	if docID == "" {
		writeError(w, http.StatusBadRequest, "document name is required")
		return
	}

	docs, err := s.lib.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	for _, id := range docs {
		if id == docID {
			writeDomainError(w, &treeline.DuplicateIDError{ID: docID})
			return
		}
	}

	// Queue the ingest — fail fast under load.
	select {
	case s.jobs <- ingestJob{name: name, filename: header.Filename, content: content}:
	default:
		writeError(w, http.StatusServiceUnavailable, "server busy: ingest capacity reached")
		return
	}

	writeJSON(w, http.StatusAccepted, uploadResponse{ID: docID, Status: "accepted"})
}

// handleDocument routes /documents/{id} and /documents/{id}/query.
func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/documents/")
	docID, action, _ := strings.Cut(rest, "/")
	if docID == "" {
		writeError(w, http.StatusBadRequest, "document id is required")
		return
	}

	switch {
	case action == "query" && r.Method == http.MethodPost:
		s.handleQuery(w, r, docID)
	case action == "" && r.Method == http.MethodDelete:
		s.handleDelete(w, r, docID)
	case action == "" || action == "query":
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request, docID string) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.queryTimeout)
	defer cancel()

	answer, err := s.lib.Query(ctx, docID, req.Question)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if answer.Evidence == nil {
		answer.Evidence = []treeline.Evidence{}
	}
	writeJSON(w, http.StatusOK, queryResponse{Answer: answer.Text, Evidence: answer.Evidence})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, docID string) {
	if err := s.lib.Delete(r.Context(), docID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeDomainError maps library errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		notFound  *treeline.NotFoundError
		duplicate *treeline.DuplicateIDError
		config    *treeline.ConfigError
		external  *treeline.ExternalServiceError
		corrupt   *treeline.CorruptStoreError
	)
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &duplicate):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &config):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &external):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &corrupt):
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data) //nolint:errcheck
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
