package httpapi

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/MimeLyc/subrelay/internal/apperr"
	"github.com/MimeLyc/subrelay/internal/jobs"
	"github.com/MimeLyc/subrelay/internal/session"
	"github.com/MimeLyc/subrelay/pkg/log"
)

// multipartOverhead is the body allowance on top of the file size limit.
const multipartOverhead = 1 << 20

const defaultRunsLimit = 20

type uploadResponse struct {
	Created bool            `json:"created"`
	Session session.Session `json:"session"`
	Job     *jobs.Job       `json:"job"`
}

type cleanupResponse struct {
	Result session.CleanupResult `json:"result"`
}

type statsResponse struct {
	Sessions session.Stats       `json:"sessions"`
	Jobs     map[jobs.Status]int `json:"jobs"`
}

func userIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.New(apperr.KindValidation, apperr.CodeInvalidUserID, "user id must be a positive integer")
	}
	return id, nil
}

func parsePositiveIntWithDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// handleUpload walks the front-end side of the lifecycle: registration, download and enqueue.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		writeAppError(w, err)
		return
	}

	if _, active := s.queue.Active(userID); active || !s.sessions.CanUpload(userID) {
		writeAppError(w, apperr.New(apperr.KindBusy, apperr.CodeBusy, "a file is already being processed").
			WithContext("user_id", userID))
		return
	}

	allowed, err := s.gate.Allow(r.Context(), userID)
	if err != nil {
		writeAppError(w, apperr.Wrap(err, apperr.KindInternal, apperr.CodeInternal, "gate check failed"))
		return
	}
	if !allowed {
		writeError(w, http.StatusForbidden, codeNotAllowed, "Translation is not available for this user right now.")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.sessions.Config().MaxFileSize+multipartOverhead)
	src, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeAppError(w, apperr.New(apperr.KindValidation, apperr.CodeFileTooLarge, "file exceeds the upload limit"))
			return
		}
		writeError(w, http.StatusBadRequest, codeBadRequest, `multipart field "file" is required`)
		return
	}
	defer src.Close()

	sess, err := s.sessions.PrepareUpload(userID, header.Filename, header.Size)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if _, err := s.sessions.StartDownload(userID); err != nil {
		writeAppError(w, err)
		return
	}
	if err := storeUpload(sess.Path, src); err != nil {
		s.sessions.Cleanup(userID, true)
		writeAppError(w, apperr.Wrap(err, apperr.KindFileProcessing, apperr.CodeIOFailed, "failed to store upload"))
		return
	}
	sess, err = s.sessions.CompleteDownload(userID)
	if err != nil {
		s.sessions.Cleanup(userID, true)
		writeAppError(w, err)
		return
	}

	job, created := s.queue.Enqueue(jobs.EnqueueRequest{
		Source:  "http",
		UserID:  userID,
		Payload: jobs.JobPayload{FileID: sess.FileID, Path: sess.Path},
	})
	log.Info("Accepted %s (%d bytes) from user %d as job %s", sess.OriginalFilename, header.Size, userID, job.ID)
	writeJSON(w, http.StatusAccepted, uploadResponse{
		Created: created,
		Session: sess,
		Job:     job,
	})
}

func storeUpload(path string, src io.Reader) error {
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	sess, ok := s.sessions.Snapshot(userID)
	if !ok {
		writeAppError(w, apperr.New(apperr.KindNotFound, apperr.CodeNoSession, "no active session"))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		force, err = strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, "force must be a boolean")
			return
		}
	}
	writeJSON(w, http.StatusOK, cleanupResponse{Result: s.sessions.Cleanup(userID, force)})
}

// handleOutput delivers the translated file of a completed session.
func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	sess, ok := s.sessions.Snapshot(userID)
	if !ok {
		writeAppError(w, apperr.New(apperr.KindNotFound, apperr.CodeNoSession, "no active session"))
		return
	}
	if sess.Status != session.StatusCompleted || sess.OutputPath == "" {
		writeAppError(w, apperr.Newf(apperr.KindState, apperr.CodeInvalidState,
			"session is %s, not completed", sess.Status))
		return
	}
	if _, err := os.Stat(sess.OutputPath); err != nil {
		writeAppError(w, apperr.Wrap(err, apperr.KindFileProcessing, apperr.CodeFileMissing, "output file is missing"))
		return
	}

	w.Header().Set("Content-Type", "application/x-subrip; charset=utf-8")
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": filepath.Base(sess.OutputPath)}))
	http.ServeFile(w, r, sess.OutputPath)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if s.runs == nil {
		writeError(w, http.StatusNotImplemented, codeNotConfigured, "run history is not configured")
		return
	}
	limit := parsePositiveIntWithDefault(r.URL.Query().Get("limit"), defaultRunsLimit)
	runs, err := s.runs.ListRuns(r.Context(), userID, limit)
	if err != nil {
		writeAppError(w, apperr.Wrap(err, apperr.KindInternal, apperr.CodeInternal, "failed to list runs"))
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.queue.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, codeJobNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Sessions: s.sessions.Stats(),
		Jobs:     s.queue.Counts(),
	})
}
