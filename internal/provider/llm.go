package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"quiz-tutor-service/internal/domain"
)

// LLM generates quiz content through an OpenAI-compatible chat completions API.
type LLM struct {
	Client  *http.Client
	BaseURL string
	APIKey  string
	Model   string
}

// NewLLM builds a client; timeout bounds a single HTTP round trip.
func NewLLM(baseURL, apiKey, model string, timeout time.Duration) *LLM {
	return &LLM{
		Client:  &http.Client{Timeout: timeout},
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Model:   model,
	}
}

type chatCompletionRequest struct {
	Model          string                  `json:"model"`
	Messages       []chatCompletionMessage `json:"messages"`
	Stream         bool                    `json:"stream"`
	ResponseFormat *responseFormat         `json:"response_format,omitempty"`
}

type chatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatCompletionMessage `json:"message"`
	} `json:"choices"`
}

const systemPrompt = "You are a tutor writing multiple-choice practice material. " +
	"Reply with a single JSON object and nothing else."

type questionPayload struct {
	Question     string   `json:"question"`
	Options      []string `json:"options"`
	CorrectIndex *int     `json:"correctIndex"`
	ImageURL     string   `json:"imageUrl"`
}

type explanationPayload struct {
	Explanation string `json:"explanation"`
	ImageURL    string `json:"imageUrl"`
}

type objectivesPayload struct {
	Content    string   `json:"content"`
	Objectives []string `json:"objectives"`
}

func (l *LLM) GenerateQuestion(ctx context.Context, req domain.QuestionRequest) (domain.Question, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Write one %s multiple-choice question about %s, specifically %s.\n",
		req.Difficulty, req.Subject, req.Subtopic)
	b.WriteString("Use 4 options with exactly one correct answer.\n")
	if len(req.ExcludedPrompts) > 0 {
		b.WriteString("Do not repeat any of these questions:\n")
		for _, p := range req.ExcludedPrompts {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	b.WriteString(`Respond as {"question": string, "options": [string], "correctIndex": number, "imageUrl": string}.`)

	var payload questionPayload
	if err := l.complete(ctx, b.String(), &payload); err != nil {
		return domain.Question{}, err
	}
	if payload.CorrectIndex == nil {
		return domain.Question{}, fmt.Errorf("%w: correctIndex missing", domain.ErrMalformedResponse)
	}
	q := domain.Question{
		ID:           uuid.NewString(),
		Prompt:       strings.TrimSpace(payload.Question),
		ImageURL:     payload.ImageURL,
		Options:      payload.Options,
		CorrectIndex: *payload.CorrectIndex,
	}
	if err := q.Validate(); err != nil {
		return domain.Question{}, err
	}
	return q, nil
}

func (l *LLM) GenerateExplanation(ctx context.Context, req domain.ExplanationRequest) (domain.Explanation, error) {
	var b strings.Builder
	writeQuestion(&b, req)
	if req.SelectedIndex == nil {
		b.WriteString("The learner ran out of time before answering.\n")
	} else if *req.SelectedIndex >= 0 && *req.SelectedIndex < len(req.Options) {
		fmt.Fprintf(&b, "The learner picked %q.\n", req.Options[*req.SelectedIndex])
	}
	b.WriteString("Explain why the correct answer is correct in a short paragraph.\n")
	b.WriteString(`Respond as {"explanation": string, "imageUrl": string}.`)

	var payload explanationPayload
	if err := l.complete(ctx, b.String(), &payload); err != nil {
		return domain.Explanation{}, err
	}
	if strings.TrimSpace(payload.Explanation) == "" {
		return domain.Explanation{}, fmt.Errorf("%w: explanation is empty", domain.ErrMalformedResponse)
	}
	return domain.Explanation{Text: payload.Explanation, ImageURL: payload.ImageURL}, nil
}

func (l *LLM) GenerateLearningObjectives(ctx context.Context, req domain.ExplanationRequest) (domain.LearningObjectives, error) {
	var b strings.Builder
	writeQuestion(&b, req)
	b.WriteString("List the learning objectives this question assesses.\n")
	b.WriteString(`Respond as {"content": string, "objectives": [string]}.`)

	var payload objectivesPayload
	if err := l.complete(ctx, b.String(), &payload); err != nil {
		return domain.LearningObjectives{}, err
	}
	if strings.TrimSpace(payload.Content) == "" && len(payload.Objectives) == 0 {
		return domain.LearningObjectives{}, fmt.Errorf("%w: learning objectives are empty", domain.ErrMalformedResponse)
	}
	return domain.LearningObjectives{Content: payload.Content, Items: payload.Objectives}, nil
}

func writeQuestion(b *strings.Builder, req domain.ExplanationRequest) {
	fmt.Fprintf(b, "Topic: %s / %s (%s).\n", req.Subject, req.Subtopic, req.Difficulty)
	fmt.Fprintf(b, "Question: %s\n", req.Prompt)
	for i, opt := range req.Options {
		marker := " "
		if i == req.CorrectIndex {
			marker = "*"
		}
		fmt.Fprintf(b, "%s %d. %s\n", marker, i+1, opt)
	}
}

// complete sends one chat request and decodes the assistant's JSON reply into out.
func (l *LLM) complete(ctx context.Context, prompt string, out any) error {
	request := chatCompletionRequest{
		Model: l.Model,
		Messages: []chatCompletionMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	jsonData, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.BaseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("%w: create request: %w", domain.ErrProviderUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if l.APIKey != "" && l.APIKey != "none" {
		req.Header.Set("Authorization", "Bearer "+l.APIKey)
	}

	resp, err := l.Client.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Printf("llm: status %d: %.200s", resp.StatusCode, body)
		return fmt.Errorf("%w: status %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return fmt.Errorf("%w: decode completion: %w", domain.ErrMalformedResponse, err)
	}
	if len(completion.Choices) == 0 {
		return fmt.Errorf("%w: no choices in completion", domain.ErrMalformedResponse)
	}
	content := stripFence(completion.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("%w: decode content: %w", domain.ErrMalformedResponse, err)
	}
	return nil
}

func transportError(ctx context.Context, err error) error {
	var netErr interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", domain.ErrProviderTimeout, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
}

// stripFence removes a markdown code fence some models wrap around JSON.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
