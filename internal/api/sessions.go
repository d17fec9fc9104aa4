package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/dunamismax/cropflow/internal/errs"
	"github.com/dunamismax/cropflow/internal/geometry"
	"github.com/dunamismax/cropflow/internal/pipeline"
)

type sessionView struct {
	ID        string               `json:"session_id"`
	Bucket    domain.Bucket        `json:"bucket"`
	Spec      domain.OutputSpec    `json:"spec"`
	State     pipeline.State       `json:"state"`
	States    []pipeline.State     `json:"states"`
	Natural   domain.Size          `json:"natural"`
	Preview   pipeline.Preview     `json:"preview"`
	Crop      geometry.CropSession `json:"crop"`
	CropRect  domain.CropRect      `json:"crop_rect"`
	CreatedAt time.Time            `json:"created_at"`
}

func viewSession(sess *pipeline.Session) sessionView {
	crop, rect := sess.Crop()
	return sessionView{
		ID:        sess.ID(),
		Bucket:    sess.Bucket(),
		Spec:      sess.Spec(),
		State:     sess.State(),
		States:    sess.States(),
		Natural:   sess.Natural(),
		Preview:   sess.Preview(),
		Crop:      crop,
		CropRect:  rect,
		CreatedAt: sess.CreatedAt(),
	}
}

func (s *Server) handleBeginSession(w http.ResponseWriter, r *http.Request) {
	bucket, err := bucketParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := s.readSource(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	sess, err := s.processor.Begin(r.Context(), pipeline.Request{
		Bucket:      bucket,
		Folder:      q.Get("folder"),
		ReplacePath: q.Get("replace_path"),
		Data:        data,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewSession(sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewSession(sess))
}

func (s *Server) handleAdjustSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var crop geometry.CropSession
	if err := decodeJSON(r, &crop); err != nil {
		s.writeError(w, r, errs.New(errs.KindInvalidInput, "api.adjust", err))
		return
	}
	if _, err := sess.Adjust(crop); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewSession(sess))
}

func (s *Server) handleCommitSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	res, err := sess.Commit(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeResult(w, http.StatusCreated, res)
}

func (s *Server) handleRetrySession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	res, err := sess.RetryUpload(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeResult(w, http.StatusCreated, res)
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetPreview(w http.ResponseWriter, r *http.Request) {
	preview, data, ok := s.processor.Previews().Get(chi.URLParam(r, "id"))
	if !ok {
		writeMessage(w, http.StatusNotFound, "preview not found")
		return
	}
	w.Header().Set("Content-Type", preview.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*pipeline.Session, bool) {
	sess, ok := s.processor.Session(chi.URLParam(r, "id"))
	if !ok {
		writeMessage(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}
