package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/narrately/novelgraph/internal/metrics"
	"github.com/narrately/novelgraph/internal/novel"
)

const manuscriptContentType = "text/plain; charset=utf-8"

// uploadNovel handles POST /v1/novels. The manuscript arrives either as a
// multipart "manuscript" file or as a raw text/plain body; the optional
// title and extraction knobs come from query parameters or form fields.
func (s *Server) uploadNovel(w http.ResponseWriter, r *http.Request) {
	text, title, err := s.readManuscript(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(strings.TrimSpace(string(text))) == 0 {
		writeError(w, http.StatusBadRequest, "manuscript is empty")
		return
	}

	jobID, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate job id failed")
		return
	}
	hash, err := s.hasher.Hash(text)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "hash manuscript failed")
		return
	}

	blobPath := fmt.Sprintf("manuscripts/%s/%s.txt", jobID, hash)
	blobURI, err := s.blobStore.PutObject(r.Context(), blobPath, manuscriptContentType, bytes.NewReader(text))
	if err != nil {
		s.logger.Error("store manuscript failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "store manuscript failed")
		return
	}

	params := novel.JobParameters{
		MinMentions: s.cfg.Extract.MinMentions,
	}
	now := s.clock.Now()
	job := novel.Job{
		ID:         jobID,
		Title:      title,
		BlobURI:    blobURI,
		TextHash:   hash,
		Status:     novel.JobStatusQueued,
		Submitted:  now,
		Parameters: params,
	}
	if err := s.jobStore.CreateJob(r.Context(), job); err != nil {
		s.logger.Error("create job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create job failed")
		return
	}

	item := novel.QueueItem{
		JobID:     jobID,
		BlobURI:   blobURI,
		Params:    params,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.dispatcher.Enqueue(r.Context(), item); err != nil {
		s.logger.Error("enqueue job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue job failed")
		return
	}
	metrics.ObserveJob(string(novel.JobStatusQueued))
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status != novel.JobStatusQueued && job.Status != novel.JobStatusRunning {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is already %s", job.Status))
		return
	}
	if err := s.jobStore.UpdateJobStatus(r.Context(), jobID, novel.JobStatusCanceled, "canceled via API", job.Counters); err != nil {
		writeError(w, http.StatusInternalServerError, "cancel job failed")
		return
	}
	metrics.ObserveJob(string(novel.JobStatusCanceled))
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(novel.JobStatusCanceled)})
}

func (s *Server) readManuscript(r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, s.cfg.Server.MaxUploadBytes)

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		return readMultipartManuscript(r)
	}

	text, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", errors.New("read manuscript body failed (too large?)")
	}
	title := strings.TrimSpace(r.URL.Query().Get("title"))
	if title == "" {
		title = "Untitled"
	}
	return text, title, nil
}

func readMultipartManuscript(r *http.Request) ([]byte, string, error) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		return nil, "", errors.New("invalid multipart form")
	}
	file, header, err := r.FormFile("manuscript")
	if err != nil {
		return nil, "", errors.New("manuscript file is required")
	}
	defer closeQuietly(file)

	text, err := io.ReadAll(file)
	if err != nil {
		return nil, "", errors.New("read manuscript file failed")
	}
	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = strings.TrimSuffix(header.Filename, ".txt")
	}
	if title == "" {
		title = "Untitled"
	}
	return text, title, nil
}

func closeQuietly(f multipart.File) {
	_ = f.Close()
}

func isNotFound(err error) bool {
	return errors.Is(err, novel.ErrJobNotFound)
}
