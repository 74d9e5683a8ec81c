package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/subrelay/internal/apperr"
	"github.com/MimeLyc/subrelay/internal/jobs"
	"github.com/MimeLyc/subrelay/internal/persistence"
	"github.com/MimeLyc/subrelay/internal/session"
)

const sample = "1\n00:00:01,000 --> 00:00:02,000\nHello\n\n"

type fakeRuns struct {
	limit int
	runs  []persistence.Run
	err   error
}

func (f *fakeRuns) ListRuns(_ context.Context, _ int64, limit int) ([]persistence.Run, error) {
	f.limit = limit
	return f.runs, f.err
}

type fixture struct {
	registry *session.Registry
	queue    *jobs.Queue
	server   *Server
}

func newFixture(t *testing.T, maxSize int64, opts ...Option) *fixture {
	t.Helper()
	root := t.TempDir()
	cfg := session.DefaultConfig()
	cfg.BaseDir = filepath.Join(root, "temp")
	cfg.OutputDir = filepath.Join(root, "output")
	if maxSize > 0 {
		cfg.MaxFileSize = maxSize
	}
	registry := session.NewRegistry(cfg)
	t.Cleanup(func() { _ = registry.Close() })

	queue := jobs.NewQueue(1, nil)
	t.Cleanup(queue.Stop)

	return &fixture{
		registry: registry,
		queue:    queue,
		server:   NewServer(registry, queue, opts...),
	}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, userID, field, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/users/"+userID+"/uploads", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestServer_UploadDownloadsAndEnqueues(t *testing.T) {
	f := newFixture(t, 0)

	rec := f.do(t, uploadRequest(t, "42", "file", "movie.srt", sample))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Created)
	assert.Equal(t, session.StatusDownloaded, resp.Session.Status)
	assert.Equal(t, int64(len(sample)), resp.Session.ActualSize)
	require.NotNil(t, resp.Job)
	assert.Equal(t, jobs.StatusPending, resp.Job.Status)
	assert.Equal(t, resp.Session.Path, resp.Job.Payload.Path)
	assert.Equal(t, resp.Session.FileID, resp.Job.Payload.FileID)

	data, err := os.ReadFile(resp.Session.Path)
	require.NoError(t, err)
	assert.Equal(t, sample, string(data))
}

func TestServer_UploadRejectsBusyUser(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.registry.PrepareUpload(5, "a.srt", 10)
	require.NoError(t, err)
	_, err = f.registry.StartDownload(5)
	require.NoError(t, err)

	rec := f.do(t, uploadRequest(t, "5", "file", "b.srt", sample))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperr.CodeBusy, decodeError(t, rec).Code)
}

func TestServer_UploadRejectsUserWithQueuedJob(t *testing.T) {
	f := newFixture(t, 0)

	first := f.do(t, uploadRequest(t, "6", "file", "a.srt", sample))
	require.Equal(t, http.StatusAccepted, first.Code)

	second := f.do(t, uploadRequest(t, "6", "file", "b.srt", sample))
	assert.Equal(t, http.StatusConflict, second.Code)

	s, ok := f.registry.Snapshot(6)
	require.True(t, ok)
	assert.Equal(t, "a.srt", s.OriginalFilename, "the queued upload is left alone")
}

func TestServer_UploadGateDenies(t *testing.T) {
	f := newFixture(t, 0, WithGate(GateFunc(func(context.Context, int64) (bool, error) {
		return false, nil
	})))

	rec := f.do(t, uploadRequest(t, "7", "file", "movie.srt", sample))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, codeNotAllowed, decodeError(t, rec).Code)
	_, ok := f.registry.Snapshot(7)
	assert.False(t, ok)
}

func TestServer_UploadGateError(t *testing.T) {
	f := newFixture(t, 0, WithGate(GateFunc(func(context.Context, int64) (bool, error) {
		return false, errors.New("billing unreachable")
	})))

	rec := f.do(t, uploadRequest(t, "7", "file", "movie.srt", sample))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, apperr.CodeInternal, resp.Code)
	assert.NotContains(t, resp.Message, "billing")
}

func TestServer_UploadValidation(t *testing.T) {
	tests := []struct {
		name     string
		userID   string
		field    string
		content  string
		wantCode string
		status   int
	}{
		{"bad user id", "abc", "file", sample, apperr.CodeInvalidUserID, http.StatusBadRequest},
		{"negative user id", "-1", "file", sample, apperr.CodeInvalidUserID, http.StatusBadRequest},
		{"missing field", "8", "other", sample, codeBadRequest, http.StatusBadRequest},
		{"too large", "8", "file", strings.Repeat("x", 200), apperr.CodeFileTooLarge, http.StatusBadRequest},
		{"empty", "8", "file", "", apperr.CodeInvalidSize, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 100)
			rec := f.do(t, uploadRequest(t, tt.userID, tt.field, "movie.srt", tt.content))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
			assert.Zero(t, f.registry.Stats().ActiveSessions)
		})
	}
}

func TestServer_SessionLifecycle(t *testing.T) {
	f := newFixture(t, 0)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/users/9/session", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperr.CodeNoSession, decodeError(t, rec).Code)

	require.Equal(t, http.StatusAccepted, f.do(t, uploadRequest(t, "9", "file", "movie.srt", sample)).Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/users/9/session", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var s session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.Equal(t, session.StatusDownloaded, s.Status)

	rec = f.do(t, httptest.NewRequest(http.MethodDelete, "/api/users/9/session?force=maybe", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodDelete, "/api/users/9/session", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"result":"cleaned"}`, rec.Body.String())
	assert.NoFileExists(t, s.Path)

	rec = f.do(t, httptest.NewRequest(http.MethodDelete, "/api/users/9/session?force=true", nil))
	assert.JSONEq(t, `{"result":"none"}`, rec.Body.String())
}

func TestServer_DeleteSkipsBusySessionUnlessForced(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.registry.PrepareUpload(10, "a.srt", 10)
	require.NoError(t, err)
	_, err = f.registry.StartDownload(10)
	require.NoError(t, err)

	rec := f.do(t, httptest.NewRequest(http.MethodDelete, "/api/users/10/session", nil))
	assert.JSONEq(t, `{"result":"skipped"}`, rec.Body.String())

	rec = f.do(t, httptest.NewRequest(http.MethodDelete, "/api/users/10/session?force=1", nil))
	assert.JSONEq(t, `{"result":"cleaned"}`, rec.Body.String())
}

func TestServer_Output(t *testing.T) {
	f := newFixture(t, 0)
	require.Equal(t, http.StatusAccepted, f.do(t, uploadRequest(t, "11", "file", "movie.srt", sample)).Code)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/users/11/output", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperr.CodeInvalidState, decodeError(t, rec).Code)

	_, err := f.registry.StartProcessing(11)
	require.NoError(t, err)
	out := filepath.Join(f.registry.Config().OutputDir, "user_11", "movie_translated.srt")
	require.NoError(t, os.MkdirAll(filepath.Dir(out), 0o755))
	require.NoError(t, os.WriteFile(out, []byte("translated"), 0o644))
	_, err = f.registry.CompleteProcessing(11, out)
	require.NoError(t, err)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/users/11/output", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "translated", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "movie_translated.srt")
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/x-subrip")
}

func TestServer_Runs(t *testing.T) {
	f := newFixture(t, 0)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/users/1/runs", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	runs := &fakeRuns{runs: []persistence.Run{{ID: "r1", UserID: 1, Status: persistence.RunSucceeded}}}
	f = newFixture(t, 0, WithRunLister(runs))

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/users/1/runs?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, runs.limit)
	var got []persistence.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].ID)

	f.do(t, httptest.NewRequest(http.MethodGet, "/api/users/1/runs?limit=-3", nil))
	assert.Equal(t, defaultRunsLimit, runs.limit)

	runs.err = errors.New("database is locked")
	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/users/1/runs", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_JobsAndStats(t *testing.T) {
	f := newFixture(t, 0)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codeJobNotFound, decodeError(t, rec).Code)

	var up uploadResponse
	rec = f.do(t, uploadRequest(t, "12", "file", "movie.srt", sample))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/"+up.Job.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var job jobs.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, int64(12), job.UserID)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var stats statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Sessions.ActiveSessions)
	assert.Equal(t, 1, stats.Sessions.ByStatus[session.StatusDownloaded])
	assert.Equal(t, 1, stats.Jobs[jobs.StatusPending])
}

func TestServer_JobStreamEndsOnTerminalStatus(t *testing.T) {
	f := newFixture(t, 0, WithStreamInterval(10*time.Millisecond))
	f.queue.Start(func(_ context.Context, job *jobs.Job) (jobs.Outcome, error) {
		return jobs.Outcome{OutputPath: job.Payload.Path + ".out", EntryCount: 1}, nil
	})

	var up uploadResponse
	rec := f.do(t, uploadRequest(t, "13", "file", "movie.srt", sample))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))

	require.Eventually(t, func() bool {
		job, ok := f.queue.Get(up.Job.ID)
		return ok && job.Status == jobs.StatusSuccess
	}, 2*time.Second, 10*time.Millisecond)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/"+up.Job.ID+"/events", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, 1, strings.Count(rec.Body.String(), "data: "))
	assert.Contains(t, rec.Body.String(), `"status":"success"`)
}
