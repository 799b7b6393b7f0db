package pipeline

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/tldrify/core/internal/models"
	"github.com/tldrify/core/internal/modules/summarize/queue"
	"github.com/tldrify/core/internal/pkg/errkind"
	"golang.org/x/text/language"
)

// Request bounds per the API contract.
const (
	minPayloadChars  = 10
	maxPayloadChars  = 100_000
	minMaxLength     = 50
	maxMaxLength     = 2000
	defaultMaxLength = 500
	maxFocusAreas    = 8
	maxFocusAreaLen  = 64
)

// SubmitRequest is the POST body for a summarization request.
type SubmitRequest struct {
	RequestID string                 `json:"request_id"`
	UserID    string                 `json:"user_id"`
	Payload   string                 `json:"payload"`
	Method    models.SummarizeMethod `json:"method"`
	Options   models.SummaryOptions  `json:"options"`
	Priority  int                    `json:"priority"`
}

// Normalize applies defaults and validates the request, returning the
// immutable internal request or a Validation error.
func (r *SubmitRequest) Normalize() (*models.SummarizeRequest, error) {
	if r.UserID == "" {
		return nil, errkind.New(errkind.Validation, "user_id is required")
	}

	chars := utf8.RuneCountInString(r.Payload)
	if chars < minPayloadChars || chars > maxPayloadChars {
		return nil, errkind.Newf(errkind.Validation,
			"payload length %d outside [%d, %d]", chars, minPayloadChars, maxPayloadChars).
			WithDetail("payload_chars", chars)
	}

	if r.Method == "" {
		r.Method = models.MethodExtractive
	}
	if !r.Method.Valid() {
		return nil, errkind.Newf(errkind.Validation, "unknown method %q", r.Method)
	}

	opts := r.Options
	if opts.MaxLength == 0 {
		opts.MaxLength = defaultMaxLength
	}
	if opts.MaxLength < minMaxLength || opts.MaxLength > maxMaxLength {
		return nil, errkind.Newf(errkind.Validation,
			"max_length %d outside [%d, %d]", opts.MaxLength, minMaxLength, maxMaxLength)
	}

	if opts.Style == "" {
		opts.Style = models.StyleBalanced
	}
	switch opts.Style {
	case models.StyleConcise, models.StyleBalanced, models.StyleTechnical:
	default:
		return nil, errkind.Newf(errkind.Validation, "unknown style %q", opts.Style)
	}

	if len(opts.FocusAreas) > maxFocusAreas {
		return nil, errkind.Newf(errkind.Validation,
			"at most %d focus_areas allowed", maxFocusAreas)
	}
	for _, area := range opts.FocusAreas {
		trimmed := strings.TrimSpace(area)
		if trimmed == "" || utf8.RuneCountInString(trimmed) > maxFocusAreaLen {
			return nil, errkind.Newf(errkind.Validation, "invalid focus area %q", area)
		}
	}

	if opts.Language != "" {
		if _, err := language.Parse(opts.Language); err != nil {
			return nil, errkind.Newf(errkind.Validation, "invalid language tag %q", opts.Language)
		}
	}

	if r.Priority != 0 && (r.Priority < queue.PriorityHighest || r.Priority > queue.PriorityLowest) {
		return nil, errkind.Newf(errkind.Validation,
			"priority %d outside [%d, %d]", r.Priority, queue.PriorityHighest, queue.PriorityLowest)
	}

	requestID := r.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	return &models.SummarizeRequest{
		RequestID: requestID,
		UserID:    r.UserID,
		Payload:   r.Payload,
		Method:    r.Method,
		Options:   opts,
		Priority:  queue.ClampPriority(r.Priority),
	}, nil
}

// Response is what Submit returns: a finished result for sync requests,
// or a job reference for async ones.
type Response struct {
	RequestID        string                `json:"request_id"`
	Result           *models.SummaryResult `json:"result,omitempty"`
	JobID            string                `json:"job_id,omitempty"`
	State            models.JobState       `json:"state,omitempty"`
	EstimatedSeconds int                   `json:"estimated_seconds,omitempty"`
}

// Async reports whether the response refers to a queued job.
func (r *Response) Async() bool { return r.Result == nil }

// StatusResponse reports the current state of a submitted request.
type StatusResponse struct {
	RequestID string                `json:"request_id"`
	State     models.JobState       `json:"state"`
	Attempts  int                   `json:"attempts,omitempty"`
	LastError string                `json:"last_error,omitempty"`
	Result    *models.SummaryResult `json:"result,omitempty"`
}

// BalanceResponse reports a user's credit position.
type BalanceResponse struct {
	UserID    string `json:"user_id"`
	Credits   int64  `json:"credits"`
	Available int64  `json:"available"`
}

// JobListItem is one row of a user's job history.
type JobListItem struct {
	RequestID string                 `json:"request_id"`
	Method    models.SummarizeMethod `json:"method"`
	State     models.JobState        `json:"state"`
	Priority  int                    `json:"priority"`
	Attempts  int                    `json:"attempts"`
	LastError string                 `json:"last_error,omitempty"`
	CreatedAt time.Time              `json:"created"`
}
