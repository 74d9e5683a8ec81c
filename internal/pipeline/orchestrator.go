package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/text/language"

	"github.com/MimeLyc/subrelay/internal/apperr"
	"github.com/MimeLyc/subrelay/internal/metrics"
	"github.com/MimeLyc/subrelay/internal/persistence"
	"github.com/MimeLyc/subrelay/internal/session"
	"github.com/MimeLyc/subrelay/internal/subtitle"
	"github.com/MimeLyc/subrelay/internal/translator"
	"github.com/MimeLyc/subrelay/pkg/file"
	"github.com/MimeLyc/subrelay/pkg/log"
)

const outputSuffix = "_translated"

// Lifecycle is the part of the session registry the orchestrator drives.
type Lifecycle interface {
	Config() session.Config
	Snapshot(userID int64) (session.Session, bool)
	StartProcessingFile(userID int64, fileID string) (session.Session, error)
	CompleteProcessing(userID int64, outputPath string) (session.Session, error)
	Cleanup(userID int64, force bool) session.CleanupResult
}

type RunRecorder interface {
	RecordRun(ctx context.Context, run *persistence.Run) error
}

// Result describes a finished translation.
type Result struct {
	OutputPath     string         `json:"output_path"`
	EntryCount     int            `json:"entry_count"`
	Diagnostics    []string       `json:"diagnostics,omitempty"`
	Stats          subtitle.Stats `json:"stats"`
	SourceLanguage string         `json:"source_language,omitempty"`
	Duration       time.Duration  `json:"duration"`
}

type Orchestrator struct {
	registry       Lifecycle
	translator     translator.Translator
	reader         subtitle.Reader
	writer         subtitle.Writer
	recorder       RunRecorder
	targetLanguage string
	strictTiming   bool
	timeout        time.Duration
}

type Option func(*Orchestrator)

func WithReader(r subtitle.Reader) Option {
	return func(o *Orchestrator) { o.reader = r }
}

func WithWriter(w subtitle.Writer) Option {
	return func(o *Orchestrator) { o.writer = w }
}

// WithRecorder stores a run row after every Process call.
func WithRecorder(r RunRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithStrictTiming turns timing diagnostics (overlaps, non-positive durations) into failures.
func WithStrictTiming(strict bool) Option {
	return func(o *Orchestrator) { o.strictTiming = strict }
}

// WithTranslateTimeout overrides the translation deadline, which defaults to the processing timeout.
func WithTranslateTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

func NewOrchestrator(registry Lifecycle, tr translator.Translator, targetLanguage string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:       registry,
		translator:     tr,
		reader:         subtitle.NewReader(),
		writer:         subtitle.NewWriter(),
		targetLanguage: targetLanguage,
		timeout:        registry.Config().ProcessingTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) TargetLanguage() string {
	return o.targetLanguage
}

// Process translates the downloaded file of userID and leaves the session completed.
// Any failure after processing has started force-cleans the session before returning.
func (o *Orchestrator) Process(ctx context.Context, userID int64, downloadedPath string) (*Result, error) {
	started := time.Now()

	snap, ok := o.registry.Snapshot(userID)
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, apperr.CodeNoSession, "no active session").
			WithContext("user_id", userID)
	}
	if filepath.Clean(downloadedPath) != filepath.Clean(snap.Path) {
		return nil, apperr.New(apperr.KindValidation, apperr.CodePathEscape,
			"downloaded path does not belong to the session").
			WithContext("user_id", userID)
	}

	// refused when a re-upload replaced the snapshotted session
	s, err := o.registry.StartProcessingFile(userID, snap.FileID)
	if err != nil {
		return nil, err
	}
	log.Info("Processing %s for user %d", s.FileID, userID)

	result, err := o.run(ctx, s)
	if err != nil {
		o.registry.Cleanup(userID, true)
		o.finish(ctx, s, result, started, err)
		log.Error("Processing %s for user %d failed: %v (%s)", s.FileID, userID, err, apperr.Advice(err))
		return nil, err
	}

	if _, err := o.registry.CompleteProcessing(userID, result.OutputPath); err != nil {
		if rmErr := os.Remove(result.OutputPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			log.Warn("Failed to remove output %s: %v", result.OutputPath, rmErr)
		}
		o.registry.Cleanup(userID, true)
		o.finish(ctx, s, result, started, err)
		return nil, err
	}

	result.Duration = time.Since(started)
	o.finish(ctx, s, result, started, nil)
	log.Info("Translated %d entries for user %d into %s in %s",
		result.EntryCount, userID, result.OutputPath, result.Duration.Round(time.Millisecond))
	return result, nil
}

// run covers validation through writing. The returned result is partial on error.
func (o *Orchestrator) run(ctx context.Context, s session.Session) (*Result, error) {
	result := &Result{}

	if err := subtitle.ValidateShape(s.Path); err != nil {
		return result, fileError(err)
	}

	parsed, err := o.reader.Read(s.Path)
	if err != nil {
		return result, fileError(err)
	}
	if len(parsed.Entries) == 0 {
		return result, apperr.New(apperr.KindFileProcessing, apperr.CodeEmptyFile, "subtitle file has no entries")
	}
	if parsed.Language != language.Und {
		result.SourceLanguage = parsed.Language.String()
	}

	result.Diagnostics = subtitle.ValidateSequence(parsed.Entries)
	if len(result.Diagnostics) > 0 {
		if o.strictTiming {
			return result, apperr.Newf(apperr.KindFileProcessing, apperr.CodeMalformedTiming,
				"timing check failed: %s", result.Diagnostics[0]).
				WithContext("issues", len(result.Diagnostics))
		}
		log.Warn("File %s has %d timing issues, first: %s", s.FileID, len(result.Diagnostics), result.Diagnostics[0])
	}

	translateCtx, cancel := context.WithTimeout(ctx, o.timeout)
	translated, err := o.translator.TranslateBatch(translateCtx, parsed.Texts(), o.targetLanguage)
	cancel()
	if err != nil {
		return result, err
	}

	entries, err := subtitle.Preserve(parsed.Entries, translated)
	if err != nil {
		return result, apperr.Wrap(err, apperr.KindTranslation, apperr.CodeCountMismatch,
			"translation returned a different number of lines")
	}
	for _, e := range entries {
		if e.Err != nil {
			log.Warn("Entry %d of %s used fallback timing: %v", e.Index, s.FileID, e.Err)
		}
	}

	outputPath := o.outputPath(s)
	out := &subtitle.File{
		Path:     outputPath,
		Entries:  entries,
		Encoding: subtitle.EncodingUTF8,
		Format:   "SRT",
	}
	if err := o.writer.Write(outputPath, out); err != nil {
		return result, apperr.Wrap(err, apperr.KindFileProcessing, apperr.CodeIOFailed,
			"failed to write translated file")
	}

	result.OutputPath = outputPath
	result.EntryCount = len(entries)
	result.Stats = subtitle.Statistics(entries)
	return result, nil
}

// outputPath is <output>/user_<id>/<sanitized original stem>_translated.srt.
func (o *Orchestrator) outputPath(s session.Session) string {
	name := file.WithSuffix(file.SanitizeName(s.OriginalFilename, ".srt"), outputSuffix)
	return filepath.Join(o.registry.Config().OutputDir, fmt.Sprintf("user_%d", s.UserID), name)
}

func (o *Orchestrator) finish(ctx context.Context, s session.Session, result *Result, started time.Time, err error) {
	status := persistence.RunSucceeded
	if err != nil {
		status = persistence.RunFailed
	}
	metrics.PipelineRunsTotal.WithLabelValues(string(status)).Inc()
	metrics.PipelineDuration.Observe(time.Since(started).Seconds())

	if o.recorder == nil {
		return
	}
	run := &persistence.Run{
		UserID:         s.UserID,
		FileID:         s.FileID,
		Filename:       s.OriginalFilename,
		TargetLanguage: o.targetLanguage,
		Status:         status,
		StartedAt:      started,
		FinishedAt:     time.Now(),
	}
	if result != nil {
		run.EntryCount = result.EntryCount
		run.SourceLanguage = result.SourceLanguage
	}
	if err != nil {
		run.ErrorCode = apperr.CodeOf(err)
	}
	// best effort
	if recErr := o.recorder.RecordRun(context.WithoutCancel(ctx), run); recErr != nil {
		log.Warn("Failed to record run for user %d: %v", s.UserID, recErr)
	}
}

// fileError maps reader failures to file processing errors with a stable code.
func fileError(err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}

	code := apperr.CodeIOFailed
	msg := "failed to read subtitle file"
	switch {
	case errors.Is(err, subtitle.ErrMalformedTiming):
		code, msg = apperr.CodeMalformedTiming, "subtitle file has a malformed timing line"
	case errors.Is(err, subtitle.ErrInvalidFormat):
		code, msg = apperr.CodeInvalidFormat, "file is not a valid SRT subtitle"
	case errors.Is(err, fs.ErrNotExist):
		code, msg = apperr.CodeFileMissing, "subtitle file is missing"
	}
	return apperr.Wrap(err, apperr.KindFileProcessing, code, msg)
}
