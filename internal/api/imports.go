package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/dunamismax/cropflow/internal/errs"
	"github.com/dunamismax/cropflow/internal/id"
	"github.com/dunamismax/cropflow/internal/queue"
	"github.com/dunamismax/cropflow/internal/storage"
)

type importView struct {
	JobID       string        `json:"job_id"`
	Status      string        `json:"status"`
	Bucket      domain.Bucket `json:"bucket"`
	Folder      string        `json:"folder,omitempty"`
	ReplacePath string        `json:"replace_path,omitempty"`
	AssetPath   string        `json:"asset_path,omitempty"`
	AssetURL    string        `json:"asset_url,omitempty"`
	MeetsBudget bool          `json:"meets_budget"`
	Warning     string        `json:"warning,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func viewImport(job domain.ImportJob) importView {
	v := importView{
		JobID:       job.ID,
		Status:      job.Status,
		Bucket:      job.Bucket,
		Folder:      job.Folder,
		ReplacePath: job.ReplacePath,
		AssetPath:   job.AssetPath,
		AssetURL:    job.AssetURL,
		MeetsBudget: job.MeetsBudget,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
	if job.Status == domain.JobStatusSucceeded && !job.MeetsBudget {
		v.Warning = warningBudgetNotMet
	}
	return v
}

func (s *Server) handleCreateImport(w http.ResponseWriter, r *http.Request) {
	if !s.importsEnabled(w) {
		return
	}

	var req domain.CreateImportRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, errs.New(errs.KindInvalidInput, "api.create_import", err))
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, r, errs.New(errs.KindInvalidInput, "api.create_import", err))
		return
	}
	bucket, _ := domain.ParseBucket(req.Bucket)

	now := time.Now().UTC()
	jobID := id.New()
	job := domain.ImportJob{
		ID:          jobID,
		UserID:      req.UserID,
		Status:      domain.JobStatusCreated,
		Bucket:      bucket,
		Folder:      req.Folder,
		ReplacePath: req.ReplacePath,
		WebhookURL:  req.WebhookURL,
		ObjectKey:   s.imports.Storage.StagingPath(jobID),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	uploadURL, direct, err := s.stagingURL(r.Context(), job)
	if err != nil {
		s.logger.Error("presign staging upload failed", zap.String("job_id", jobID), zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "failed to generate upload URL")
		return
	}

	if err := s.imports.Jobs.Create(r.Context(), job); err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
		"upload": map[string]any{
			"object_key": job.ObjectKey,
			"url":        uploadURL,
			"method":     http.MethodPut,
			"presigned":  direct,
		},
		"start_url": "/v1/imports/" + job.ID + "/start",
	})
}

// stagingURL presigns a direct PUT when the staging store supports it and
// otherwise points the client at the API's own source endpoint.
func (s *Server) stagingURL(ctx context.Context, job domain.ImportJob) (string, bool, error) {
	if p, ok := s.imports.Staging.(storage.Presigner); ok {
		u, err := p.PresignedPutURL(ctx, job.ObjectKey, s.imports.Storage.PresignTTL)
		if err != nil {
			return "", false, err
		}
		return u, true, nil
	}
	return "/v1/imports/" + job.ID + "/source", false, nil
}

func (s *Server) handleStageImportSource(w http.ResponseWriter, r *http.Request) {
	job, ok := s.importJob(w, r)
	if !ok {
		return
	}
	if job.Status != domain.JobStatusCreated {
		s.writeError(w, r, errs.Newf(errs.KindConflict, "api.stage_import", "job %s is %s", job.ID, job.Status))
		return
	}

	data, err := s.readSource(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.imports.Staging.Replace(r.Context(), job.ObjectKey, data, r.Header.Get("Content-Type")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	job, ok := s.importJob(w, r)
	if !ok {
		return
	}
	if job.Status != domain.JobStatusCreated {
		s.writeError(w, r, errs.Newf(errs.KindConflict, "api.start_import", "job %s is already %s", job.ID, job.Status))
		return
	}

	if stager, ok := s.imports.Staging.(storage.Stager); ok {
		exists, err := stager.ObjectExists(r.Context(), job.ObjectKey)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if !exists {
			s.writeError(w, r, errs.Newf(errs.KindConflict, "api.start_import", "source object is missing: %s", job.ObjectKey))
			return
		}
	}

	info, err := s.imports.Queue.EnqueueImportImage(r.Context(), queue.ImportImagePayload{
		JobID:       job.ID,
		Bucket:      string(job.Bucket),
		Folder:      job.Folder,
		ReplacePath: job.ReplacePath,
		WebhookURL:  job.WebhookURL,
		ObjectKey:   job.ObjectKey,
		UserID:      job.UserID,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("enqueue import failed", zap.String("job_id", job.ID), zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(info.Queue).Inc()

	if _, err := s.imports.Jobs.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Warn("job status update failed", zap.String("job_id", job.ID), zap.Error(err))
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       info.Queue,
		"task_id":     info.ID,
		"state":       info.State.String(),
		"enqueued_at": info.NextProcessAt,
	})
}

func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	job, ok := s.importJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewImport(job))
}

func (s *Server) importJob(w http.ResponseWriter, r *http.Request) (domain.ImportJob, bool) {
	if !s.importsEnabled(w) {
		return domain.ImportJob{}, false
	}
	job, ok, err := s.imports.Jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return domain.ImportJob{}, false
	}
	if !ok {
		writeMessage(w, http.StatusNotFound, "job not found")
		return domain.ImportJob{}, false
	}
	return job, true
}

func (s *Server) importsEnabled(w http.ResponseWriter) bool {
	if s.imports == nil {
		writeMessage(w, http.StatusServiceUnavailable, "imports are not configured")
		return false
	}
	return true
}
