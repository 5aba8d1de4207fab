package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dunamismax/imagery/internal/domain"
	"github.com/dunamismax/imagery/internal/id"
	"github.com/dunamismax/imagery/internal/queue"
)

var errSourceMissing = errors.New("source object is missing")

type uploadInfo struct {
	ObjectKey    string `json:"object_key"`
	PresignedURL string `json:"presigned_put_url"`
	State        string `json:"presigned_url_state"`
}

type createJobResponse struct {
	JobID    string     `json:"job_id"`
	Status   string     `json:"status"`
	Upload   uploadInfo `json:"upload"`
	StartURL string     `json:"start_url"`
}

type jobResponse struct {
	JobID      string                `json:"job_id"`
	Status     string                `json:"status"`
	SourceType string                `json:"source_type"`
	ObjectKey  string                `json:"object_key"`
	Pipeline   []domain.PipelineStep `json:"pipeline"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

type startJobResponse struct {
	JobID      string    `json:"job_id"`
	Status     string    `json:"status"`
	Queue      string    `json:"queue"`
	TaskID     string    `json:"task_id"`
	State      string    `json:"state"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// handleCreateJob stores a job in the created state. Presigned jobs get an
// upload URL under uploads/<id>/source; local jobs point at a worker path.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	job := domain.Job{
		ID:         id.New(),
		UserID:     s.userID(r),
		Status:     domain.JobStatusCreated,
		SourceType: strings.ToLower(strings.TrimSpace(req.SourceType)),
		WebhookURL: req.WebhookURL,
		Pipeline:   req.Pipeline,
		ObjectKey:  strings.TrimSpace(req.ObjectKey),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	upload := uploadInfo{State: "not_required"}

	if job.SourceType == domain.SourceTypeS3Presigned {
		job.ObjectKey = "uploads/" + job.ID + "/source"
		url, err := s.storage.PresignedPutURL(r.Context(), job.ObjectKey, s.presignTTL)
		if err != nil {
			s.logger.Printf("presign failed job_id=%s err=%v", job.ID, err)
			writeError(w, http.StatusInternalServerError, "failed to generate upload URL")
			return
		}
		upload.PresignedURL, upload.State = url, "ready"
	}
	upload.ObjectKey = job.ObjectKey

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed job_id=%s err=%v", job.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	s.metrics.jobsCreated.WithLabelValues(job.SourceType).Inc()

	writeJSON(w, http.StatusAccepted, createJobResponse{
		JobID:    job.ID,
		Status:   job.Status,
		Upload:   upload,
		StartURL: "/v1/jobs/" + job.ID + "/start",
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, jobResponse{
		JobID:      job.ID,
		Status:     job.Status,
		SourceType: job.SourceType,
		ObjectKey:  job.ObjectKey,
		Pipeline:   job.Pipeline,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
	})
}

// handleStartJob enqueues a created or failed job once its source exists.
func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status != domain.JobStatusCreated && job.Status != domain.JobStatusFailed {
		writeError(w, http.StatusConflict, "job already "+job.Status)
		return
	}
	if err := s.verifySourceExists(r.Context(), job); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	info, err := s.queueClient.EnqueueProcessImage(r.Context(), queue.ProcessImagePayload{
		JobID:       job.ID,
		SourceType:  job.SourceType,
		WebhookURL:  job.WebhookURL,
		ObjectKey:   job.ObjectKey,
		Pipeline:    job.Pipeline,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Printf("enqueue failed job_id=%s err=%v", job.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(info.Queue).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Printf("status update failed job_id=%s err=%v", job.ID, err)
	}

	writeJSON(w, http.StatusAccepted, startJobResponse{
		JobID:      job.ID,
		Status:     domain.JobStatusQueued,
		Queue:      info.Queue,
		TaskID:     info.ID,
		State:      info.State.String(),
		EnqueuedAt: info.NextProcessAt,
	})
}

// loadJob resolves the {id} path segment. Malformed ids are reported as
// missing without touching the store.
func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (domain.Job, bool) {
	jobID := strings.TrimSpace(r.PathValue("id"))
	if !id.Valid(jobID) {
		writeError(w, http.StatusNotFound, "job not found")
		return domain.Job{}, false
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	switch {
	case err != nil:
		s.logger.Printf("fetch job failed job_id=%s err=%v", jobID, err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return domain.Job{}, false
	case !ok:
		writeError(w, http.StatusNotFound, "job not found")
		return domain.Job{}, false
	}
	return job, true
}

func (s *Server) verifySourceExists(ctx context.Context, job domain.Job) error {
	if job.SourceType == domain.SourceTypeLocalFile {
		_, err := os.Stat(job.ObjectKey)
		switch {
		case errors.Is(err, os.ErrNotExist):
			return fmt.Errorf("%w: %s", errSourceMissing, job.ObjectKey)
		case err != nil:
			return fmt.Errorf("source object check failed: %w", err)
		}
		return nil
	}

	exists, err := s.storage.ObjectExists(ctx, job.ObjectKey)
	if err != nil {
		return fmt.Errorf("source object check failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", errSourceMissing, job.ObjectKey)
	}
	return nil
}
