package paper

import (
	"encoding/json"
	"fmt"

	"github.com/citeai/citeai/internal/sections"
)

// Kind classifies a failed generation.
type Kind string

const (
	KindInvalidRequest    Kind = "invalid_request"
	KindCredential        Kind = "credential"
	KindRateLimited       Kind = "rate_limited"
	KindUnavailable       Kind = "unavailable"
	KindMalformedResponse Kind = "malformed_response"
	KindTimeout           Kind = "timeout"
	KindCancelled         Kind = "cancelled"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Result is either a *Success or a *Failure.
type Result interface {
	Status() string
	result()
}

// Success is a generated, segmented and scored paper.
type Success struct {
	Sections         sections.Map `json:"sections"`
	WordCount        int          `json:"word_count"`
	ReadabilityScore int          `json:"readability_score"`
	// SimulatedPlagiarism is a random placeholder, not an analysis.
	SimulatedPlagiarism *int   `json:"simulated_plagiarism_score,omitempty"`
	Model               string `json:"model,omitempty"`
	Attempts            int    `json:"attempts"`
	// Raw is the unsegmented model output, kept only in debug mode.
	Raw string `json:"raw,omitempty"`
}

// Failure explains why no paper was produced. Message is safe to show to
// users; Detail carries the underlying error in debug mode only.
type Failure struct {
	Kind     Kind   `json:"kind"`
	Message  string `json:"message"`
	Detail   string `json:"detail,omitempty"`
	Attempts int    `json:"attempts"`
}

func (*Success) Status() string { return StatusSuccess }
func (*Failure) Status() string { return StatusError }
func (*Success) result()        {}
func (*Failure) result()        {}

func (f *Failure) Error() string { return f.Message }

func (s *Success) MarshalJSON() ([]byte, error) {
	type alias Success
	return json.Marshal(struct {
		Status string `json:"status"`
		*alias
	}{StatusSuccess, (*alias)(s)})
}

func (f *Failure) MarshalJSON() ([]byte, error) {
	type alias Failure
	return json.Marshal(struct {
		Status string `json:"status"`
		*alias
	}{StatusError, (*alias)(f)})
}

// DecodeResult parses the JSON form produced by marshaling a Result.
func DecodeResult(data []byte) (Result, error) {
	var probe struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decoding result: %w", err)
	}
	switch probe.Status {
	case StatusSuccess:
		var s Success
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("decoding success: %w", err)
		}
		return &s, nil
	case StatusError:
		var f Failure
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decoding failure: %w", err)
		}
		return &f, nil
	default:
		return nil, fmt.Errorf("decoding result: unknown status %q", probe.Status)
	}
}
