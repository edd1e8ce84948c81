// Package paper turns a generation request into a segmented, scored paper.
//
// Generate never returns a Go error. Every outcome is a Result: either a
// *Success or a *Failure whose Message can be shown to users as is.
package paper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/citeai/citeai/internal/provider"
	"github.com/citeai/citeai/internal/readability"
	"github.com/citeai/citeai/internal/retry"
	"github.com/citeai/citeai/internal/sections"
)

const DefaultTimeout = 120 * time.Second

// User-facing failure messages.
const (
	msgNoCredential = "The model provider API key is not configured. Set CITEAI_API_KEY or run `citeai config` to add one."
	msgBadKey       = "The model provider rejected the API key. Check that CITEAI_API_KEY is valid."
	msgRateLimited  = "Rate limited by the model provider. Wait a moment and try again, or pick another model."
	msgUnavailable  = "The model service is unavailable, please try again."
	msgMalformed    = "Could not parse the model response."
	msgTimeout      = "The request took too long; try reducing the word limit."
	msgCancelled    = "The request was cancelled because a newer one was started."
)

// Completer sends one prompt to a model. Implemented by *provider.Client.
type Completer interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
	HasCredential() bool
}

// Recorder observes generation outcomes. outcome is "success" or a Kind.
type Recorder interface {
	ObserveGeneration(outcome string, attempts int, elapsed time.Duration)
	ObserveRetry(delay time.Duration)
}

// Options configures a Generator.
type Options struct {
	Policy   retry.Policy
	Timeout  time.Duration
	Model    string
	Debug    bool
	Logger   *slog.Logger
	Recorder Recorder

	// Plagiarism returns the simulated plagiarism score. Defaults to a
	// random value in [1, 15].
	Plagiarism func() int
}

// Generator orchestrates prompt, retries, segmentation and scoring.
type Generator struct {
	client     Completer
	policy     retry.Policy
	timeout    time.Duration
	model      string
	debug      bool
	logger     *slog.Logger
	recorder   Recorder
	plagiarism func() int
}

// New creates a Generator. Zero options fall back to defaults.
func New(client Completer, opts Options) *Generator {
	g := &Generator{
		client:     client,
		policy:     opts.Policy,
		timeout:    opts.Timeout,
		model:      opts.Model,
		debug:      opts.Debug,
		logger:     opts.Logger,
		recorder:   opts.Recorder,
		plagiarism: opts.Plagiarism,
	}
	if g.policy == (retry.Policy{}) {
		g.policy = retry.DefaultPolicy()
	}
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout
	}
	if g.model == "" {
		g.model = provider.DefaultModel
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.plagiarism == nil {
		g.plagiarism = func() int { return 1 + rand.IntN(15) }
	}
	return g
}

// Model returns the model used when a request does not name one.
func (g *Generator) Model() string { return g.model }

// Generate produces a paper for req.
func (g *Generator) Generate(ctx context.Context, req Request) Result {
	start := time.Now()
	res := g.generate(ctx, req)

	outcome, attempts := StatusSuccess, 0
	switch r := res.(type) {
	case *Success:
		attempts = r.Attempts
	case *Failure:
		outcome, attempts = string(r.Kind), r.Attempts
	}
	if g.recorder != nil {
		g.recorder.ObserveGeneration(outcome, attempts, time.Since(start))
	}
	return res
}

func (g *Generator) generate(ctx context.Context, req Request) Result {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return &Failure{Kind: KindInvalidRequest, Message: err.Error()}
	}
	if !g.client.HasCredential() {
		return &Failure{Kind: KindCredential, Message: msgNoCredential}
	}

	model := req.Model
	if model == "" {
		model = g.model
	}
	prompt := BuildPrompt(req)
	log := g.logger.With("topic", req.Topic, "model", model)

	attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	exec := retry.New(g.policy)
	exec.Retryable = retryable
	exec.OnTransition = func(t retry.Transition) {
		switch t.To {
		case retry.Attempting:
			log.Debug("generation attempt", "attempt", t.Attempt)
		case retry.Waiting:
			log.Warn("generation attempt failed, retrying", "attempt", t.Attempt, "delay", t.Delay, "error", t.Err)
			if g.recorder != nil {
				g.recorder.ObserveRetry(t.Delay)
			}
		case retry.FailedTerminal:
			log.Debug("generation gave up", "attempt", t.Attempt, "error", t.Err)
		}
	}

	text, out, err := retry.Do(attemptCtx, exec, func(ctx context.Context) (string, error) {
		return g.client.Generate(ctx, model, prompt)
	})
	if err != nil {
		f := g.failure(ctx, attemptCtx, err)
		f.Attempts = out.Attempts
		log.Info("generation failed", "kind", f.Kind, "attempts", out.Attempts, "error", err)
		return f
	}

	secs := sections.Extract(text, req.Sections)
	plag := g.plagiarism()
	s := &Success{
		Sections:            secs,
		WordCount:           readability.WordCount(secs),
		ReadabilityScore:    readability.Score(readability.Text(secs)),
		SimulatedPlagiarism: &plag,
		Model:               model,
		Attempts:            out.Attempts,
	}
	if g.debug {
		s.Raw = text
	}
	log.Info("paper generated", "sections", secs.Len(), "words", s.WordCount, "attempts", out.Attempts)
	return s
}

// retryable keeps transient provider and transport failures in the retry
// loop. Credentials, malformed bodies and client errors are final.
func retryable(err error) bool {
	var se *provider.StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	switch {
	case errors.Is(err, provider.ErrNoCredential),
		errors.Is(err, provider.ErrMalformedEnvelope),
		errors.Is(err, provider.ErrEmptyContent):
		return false
	}
	return true
}

// failure maps err to a user-legible Failure. parent is the caller's context,
// attemptCtx the one bounded by the overall timeout.
func (g *Generator) failure(parent, attemptCtx context.Context, err error) *Failure {
	f := &Failure{}
	if g.debug {
		f.Detail = err.Error()
	}

	var se *provider.StatusError
	switch {
	case parent.Err() != nil && errors.Is(parent.Err(), context.Canceled):
		f.Kind, f.Message = KindCancelled, msgCancelled
	case errors.Is(attemptCtx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		f.Kind, f.Message = KindTimeout, msgTimeout
	case errors.Is(err, context.Canceled):
		f.Kind, f.Message = KindCancelled, msgCancelled
	case errors.Is(err, provider.ErrNoCredential):
		f.Kind, f.Message = KindCredential, msgNoCredential
	case errors.As(err, &se):
		switch {
		case se.Credential():
			f.Kind, f.Message = KindCredential, msgBadKey
		case se.RateLimited():
			f.Kind, f.Message = KindRateLimited, msgRateLimited
		case se.Temporary():
			f.Kind, f.Message = KindUnavailable, msgUnavailable
		default:
			f.Kind = KindUnavailable
			f.Message = fmt.Sprintf("The model provider rejected the request: %s", providerMessage(se))
		}
	case errors.Is(err, provider.ErrMalformedEnvelope), errors.Is(err, provider.ErrEmptyContent):
		f.Kind, f.Message = KindMalformedResponse, msgMalformed
	default:
		f.Kind, f.Message = KindUnavailable, msgUnavailable
	}
	return f
}

func providerMessage(se *provider.StatusError) string {
	if se.Message != "" {
		return se.Message
	}
	return fmt.Sprintf("HTTP %d", se.Status)
}
