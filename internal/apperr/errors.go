package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindBusy
	KindNotFound
	KindState
	KindFileProcessing
	KindTranslation
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "Validation"
	case KindBusy:
		return "Busy"
	case KindNotFound:
		return "NotFound"
	case KindState:
		return "State"
	case KindFileProcessing:
		return "FileProcessing"
	case KindTranslation:
		return "Translation"
	default:
		return "Internal"
	}
}

// Stable error codes surfaced to front-ends.
const (
	CodeInvalidUserID     = "invalid_user_id"
	CodeInvalidFilename   = "invalid_filename"
	CodeInvalidSize       = "invalid_size"
	CodeFileTooLarge      = "file_too_large"
	CodePathEscape        = "path_escape"
	CodeBusy              = "busy"
	CodeNoSession         = "no_session"
	CodeInvalidState      = "invalid_state"
	CodeFileMissing       = "file_missing"
	CodeInvalidFormat     = "invalid_format"
	CodeMalformedTiming   = "malformed_timing"
	CodeEmptyFile         = "empty_file"
	CodeIOFailed          = "io_failed"
	CodeCountMismatch     = "count_mismatch"
	CodeTranslationFailed = "translation_failed"
	CodeRateLimited       = "rate_limited"
	CodeTimeout           = "timeout"
	CodeInternal          = "internal"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Context map[string]any
	Cause   error
}

func New(kind Kind, code, message string) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

func Newf(kind Kind, code, format string, args ...any) *Error {
	return New(kind, code, fmt.Sprintf(format, args...))
}

func Wrap(err error, kind Kind, code, message string) *Error {
	e := New(kind, code, message)
	e.Cause = err
	return e
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s/%s] %s", e.Kind, e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, "context: "+strings.Join(ctxParts, ", "))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// KindOf returns the kind of the first *Error in err's chain, KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of the first *Error in err's chain, CodeInternal otherwise.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

func IsCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// UserMessage renders err for an end user. Causes and context never leak into the text.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return "An unexpected error occurred. Please contact support."
	}

	switch e.Code {
	case CodeBusy:
		return "A file is already being processed for you. Please wait until it finishes."
	case CodeRateLimited:
		return "Too many requests right now. Please wait a moment and try again."
	case CodeTimeout:
		return "Translation took too long. Please try again with a smaller file."
	}

	switch e.Kind {
	case KindValidation:
		return "Invalid input: " + e.Message
	case KindNotFound:
		return "No active file was found. Please upload a subtitle file first."
	case KindState:
		return "This action is not possible right now. Please start a new upload."
	case KindFileProcessing:
		return "The file could not be processed. Please check that it is a valid SRT file."
	case KindTranslation:
		return "Translation failed. Please try again later."
	default:
		return "An unexpected error occurred. Please contact support."
	}
}

// Advice gives operator-facing hints for log lines.
func Advice(err error) string {
	switch KindOf(err) {
	case KindValidation:
		return "Check the upload parameters: user id, filename and declared size"
	case KindBusy:
		return "Wait for the current session to finish or force a cleanup"
	case KindNotFound, KindState:
		return "Inspect the user's session state; the front-end may be out of sync"
	case KindFileProcessing:
		return "Verify the file is UTF-8 or Windows-1252 SRT with well-formed timing lines"
	case KindTranslation:
		return "Check the LLM endpoint, API key and rate limits"
	default:
		return "Review the detailed error and the working directory permissions"
	}
}

func SafeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Newf(KindInternal, CodeInternal, "runtime error: %v", r)
		}
	}()

	return fn()
}
