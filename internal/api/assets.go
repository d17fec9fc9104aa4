package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/dunamismax/cropflow/internal/errs"
	"github.com/dunamismax/cropflow/internal/pipeline"
)

type bucketView struct {
	Bucket domain.Bucket     `json:"bucket"`
	Spec   domain.OutputSpec `json:"spec"`
	Aspect float64           `json:"aspect"`
}

type resultView struct {
	Asset       domain.StoredAsset       `json:"asset"`
	URL         string                   `json:"url"`
	Compression domain.CompressionResult `json:"compression"`
	Crop        domain.CropRect          `json:"crop"`
	Source      domain.Size              `json:"source"`
	SourceBytes int                      `json:"source_bytes"`
	States      []pipeline.State         `json:"states"`
	DurationMS  int64                    `json:"duration_ms"`
	Warning     string                   `json:"warning,omitempty"`
}

const warningBudgetNotMet = "budget_not_met"

func (s *Server) handleListBuckets(w http.ResponseWriter, _ *http.Request) {
	out := make([]bucketView, 0, len(domain.Buckets()))
	for _, b := range domain.Buckets() {
		spec, _ := b.Spec()
		out = append(out, bucketView{Bucket: b, Spec: spec, Aspect: spec.Aspect()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"buckets": out})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
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

	res, err := s.processor.Process(r.Context(), pipeline.Request{
		Bucket: bucket,
		Folder: r.URL.Query().Get("folder"),
		Data:   data,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeResult(w, http.StatusCreated, res)
}

func (s *Server) handleReplaceAsset(w http.ResponseWriter, r *http.Request) {
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

	res, err := s.processor.Process(r.Context(), pipeline.Request{
		Bucket:      bucket,
		ReplacePath: assetPath(r),
		Data:        data,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, res)
}

func (s *Server) handleRemoveAsset(w http.ResponseWriter, r *http.Request) {
	if err := s.processor.Assets().Remove(r.Context(), assetPath(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func assetPath(r *http.Request) string {
	return chi.URLParam(r, "*")
}

func bucketParam(r *http.Request) (domain.Bucket, error) {
	raw := r.URL.Query().Get("bucket")
	if raw == "" {
		return "", errs.Newf(errs.KindInvalidInput, "api.bucket", "bucket query parameter is required")
	}
	b, err := domain.ParseBucket(raw)
	if err != nil {
		return "", errs.New(errs.KindInvalidInput, "api.bucket", err)
	}
	return b, nil
}

// readSource returns the image bytes of a raw or multipart ("file" field) body.
func (s *Server) readSource(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "multipart/") {
		file, _, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, err
			}
			return nil, errs.New(errs.KindInvalidInput, "api.read_source", err)
		}
		defer file.Close()
		return readAll(file)
	}
	return readAll(r.Body)
}

func readAll(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, errs.New(errs.KindInvalidInput, "api.read_source", err)
	}
	if len(data) == 0 {
		return nil, errs.Newf(errs.KindInvalidInput, "api.read_source", "request body is empty")
	}
	return data, nil
}

// writeResult surfaces a best-effort compression as a warning, never as an error.
func writeResult(w http.ResponseWriter, status int, res pipeline.Result) {
	view := resultView{
		Asset:       res.Asset,
		URL:         res.Asset.CacheBustedURL(),
		Compression: res.Compression,
		Crop:        res.Crop,
		Source:      res.Source,
		SourceBytes: res.SourceBytes,
		States:      res.States,
		DurationMS:  res.Duration.Milliseconds(),
	}
	if res.BudgetWarning {
		view.Warning = warningBudgetNotMet
		w.Header().Set("X-Budget-Warning", "1")
	}
	writeJSON(w, status, view)
}
