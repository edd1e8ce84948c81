package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"google.golang.org/genai"
)

// Options are the sampling parameters sent with every request.
type Options struct {
	Temperature float64
	MaxTokens   int
	TopP        float64
}

// Envelope encodes a prompt into a provider request body and extracts the
// generated text from a provider response body.
type Envelope interface {
	Name() string
	EncodeRequest(model, prompt string, opts Options) ([]byte, error)
	DecodeResponse(body []byte) (string, error)
}

const (
	EnvelopeChat       = "chat"
	EnvelopeCandidates = "candidates"
)

// EnvelopeFor returns the envelope registered under name.
func EnvelopeFor(name string) (Envelope, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", EnvelopeChat:
		return ChatEnvelope{}, nil
	case EnvelopeCandidates:
		return CandidatesEnvelope{}, nil
	default:
		return nil, fmt.Errorf("unknown envelope %q (want %q or %q)", name, EnvelopeChat, EnvelopeCandidates)
	}
}

// ChatEnvelope is the OpenAI-compatible chat completion shape:
// text = choices[0].message.content.
type ChatEnvelope struct{}

func (ChatEnvelope) Name() string { return EnvelopeChat }

func (ChatEnvelope) EncodeRequest(model, prompt string, opts Options) ([]byte, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.TopP > 0 {
		params.TopP = openai.Float(opts.TopP)
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshaling chat request: %w", err)
	}
	return b, nil
}

func (ChatEnvelope) DecodeResponse(body []byte) (string, error) {
	var probe struct {
		Choices json.RawMessage `json:"choices"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if len(probe.Choices) == 0 || string(probe.Choices) == "null" {
		return "", fmt.Errorf("%w: no choices", ErrMalformedEnvelope)
	}

	var resp openai.ChatCompletion
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrMalformedEnvelope)
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyContent
	}
	return text, nil
}

// CandidatesEnvelope is the generateContent shape:
// text = concatenation of candidates[0].content.parts[].text.
type CandidatesEnvelope struct{}

type candidatesGenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
}

type candidatesRequest struct {
	Contents         []*genai.Content           `json:"contents"`
	GenerationConfig candidatesGenerationConfig `json:"generationConfig"`
}

func (CandidatesEnvelope) Name() string { return EnvelopeCandidates }

// EncodeRequest ignores model: generateContent endpoints carry the model in
// the URL (see Config.Endpoint).
func (CandidatesEnvelope) EncodeRequest(_ string, prompt string, opts Options) ([]byte, error) {
	req := candidatesRequest{
		Contents: []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		GenerationConfig: candidatesGenerationConfig{
			Temperature:     opts.Temperature,
			MaxOutputTokens: opts.MaxTokens,
			TopP:            opts.TopP,
		},
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling candidates request: %w", err)
	}
	return b, nil
}

func (CandidatesEnvelope) DecodeResponse(body []byte) (string, error) {
	var resp genai.GenerateContentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: no candidates", ErrMalformedEnvelope)
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrEmptyContent
	}
	return sb.String(), nil
}
