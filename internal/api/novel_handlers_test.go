package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/narrately/novelgraph/internal/config"
	"github.com/narrately/novelgraph/internal/novel"
)

const sampleManuscript = `Chapter 1

Elizabeth walked with Darcy through the garden. "You must allow me," said Darcy to Elizabeth.
`

func postManuscript(t *testing.T, env *testEnv, body string, contentType string) *http.Response {
	t.Helper()
	resp, err := http.Post(env.http.URL+"/v1/novels", contentType, strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

// TestUploadNovelRawBody verifies a plain text upload is accepted, persisted
// and enqueued.
func TestUploadNovelRawBody(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	resp := postManuscript(t, env, sampleManuscript, "text/plain")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	body := decodeBody(t, resp)
	jobID, ok := body["job_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, jobID)

	job, err := env.jobStore.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, novel.JobStatusQueued, job.Status)
	require.NotEmpty(t, job.BlobURI)
	require.NotEmpty(t, job.TextHash)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	item, err := env.queue.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, jobID, item.JobID)
	require.Equal(t, job.BlobURI, item.BlobURI)
}

// TestUploadNovelMultipart verifies the multipart path and that the title
// falls back to the uploaded filename.
func TestUploadNovelMultipart(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("manuscript", "pride-and-prejudice.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte(sampleManuscript))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp := postManuscript(t, env, buf.String(), mw.FormDataContentType())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	body := decodeBody(t, resp)
	jobID := body["job_id"].(string)
	job, err := env.jobStore.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, "pride-and-prejudice", job.Title)
}

// TestUploadNovelEmptyBodyRejected verifies an empty manuscript is a client
// error before anything is stored.
func TestUploadNovelEmptyBodyRejected(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	resp := postManuscript(t, env, "   \n", "text/plain")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestUploadNovelTooLargeRejected verifies the upload size cap.
func TestUploadNovelTooLargeRejected(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Server.MaxUploadBytes = 64
	})
	resp := postManuscript(t, env, strings.Repeat("x", 256), "text/plain")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestUploadNovelRateLimited verifies uploads beyond the per-client burst
// are rejected with 429.
func TestUploadNovelRateLimited(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Server.UploadRPS = 0.001
		cfg.Server.UploadBurst = 2
	})
	for i := 0; i < 2; i++ {
		resp := postManuscript(t, env, sampleManuscript, "text/plain")
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}
	resp := postManuscript(t, env, sampleManuscript, "text/plain")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

// TestGetJob covers the found and not-found paths.
func TestGetJob(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	resp := postManuscript(t, env, sampleManuscript, "text/plain")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	jobID := decodeBody(t, resp)["job_id"].(string)

	got, err := http.Get(env.http.URL + "/v1/jobs/" + jobID + "/")
	require.NoError(t, err)
	defer got.Body.Close()
	require.Equal(t, http.StatusOK, got.StatusCode)

	missing, err := http.Get(env.http.URL + "/v1/jobs/nope/")
	require.NoError(t, err)
	defer missing.Body.Close()
	require.Equal(t, http.StatusNotFound, missing.StatusCode)
}

// TestCancelJob verifies cancellation of a queued job and the conflict
// response once the job reached a terminal state.
func TestCancelJob(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	resp := postManuscript(t, env, sampleManuscript, "text/plain")
	jobID := decodeBody(t, resp)["job_id"].(string)

	canceled, err := http.Post(env.http.URL+"/v1/jobs/"+jobID+"/cancel", "", nil)
	require.NoError(t, err)
	defer canceled.Body.Close()
	require.Equal(t, http.StatusOK, canceled.StatusCode)

	job, err := env.jobStore.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, novel.JobStatusCanceled, job.Status)

	again, err := http.Post(env.http.URL+"/v1/jobs/"+jobID+"/cancel", "", nil)
	require.NoError(t, err)
	defer again.Body.Close()
	require.Equal(t, http.StatusConflict, again.StatusCode)
}

// TestHealthEndpoints exercises the liveness and readiness probes.
func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(env.http.URL + path)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		_ = resp.Body.Close()
	}
}
