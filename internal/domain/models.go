package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Difficulty names the depth of the generated questions.
type Difficulty string

const (
	DifficultyBasic        Difficulty = "basic"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// SessionConfig is fixed once a session starts.
type SessionConfig struct {
	Subject          string     `json:"subject"`
	Subtopic         string     `json:"subtopic"`
	Difficulty       Difficulty `json:"difficulty"`
	QuestionLimit    int        `json:"questionLimit"`    // 0 = unbounded
	TimeLimitSeconds int        `json:"timeLimitSeconds"` // 0 = no timer
}

// Validate rejects empty identifiers and negative limits.
func (c SessionConfig) Validate() error {
	switch {
	case strings.TrimSpace(c.Subject) == "":
		return invalidConfig("subject is required")
	case strings.TrimSpace(c.Subtopic) == "":
		return invalidConfig("subtopic is required")
	case strings.TrimSpace(string(c.Difficulty)) == "":
		return invalidConfig("difficulty is required")
	case c.QuestionLimit < 0:
		return invalidConfig("questionLimit must not be negative")
	case c.TimeLimitSeconds < 0:
		return invalidConfig("timeLimitSeconds must not be negative")
	}
	return nil
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID           string   `json:"id"`
	Prompt       string   `json:"prompt"`
	ImageURL     string   `json:"imageUrl,omitempty"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
}

// Validate checks the shape of a question received from a provider.
func (q Question) Validate() error {
	if strings.TrimSpace(q.Prompt) == "" {
		return malformed("question prompt is empty")
	}
	if len(q.Options) < 2 {
		return malformed("question needs at least 2 options, got %d", len(q.Options))
	}
	if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
		return malformed("correct index %d out of range for %d options", q.CorrectIndex, len(q.Options))
	}
	return nil
}

// Public strips the answer key so the question can be shown before it is answered.
func (q Question) Public() PublicQuestion {
	opts := make([]string, len(q.Options))
	copy(opts, q.Options)
	return PublicQuestion{ID: q.ID, Prompt: q.Prompt, ImageURL: q.ImageURL, Options: opts}
}

// PublicQuestion is the client-safe view of a question.
type PublicQuestion struct {
	ID       string   `json:"id"`
	Prompt   string   `json:"prompt"`
	ImageURL string   `json:"imageUrl,omitempty"`
	Options  []string `json:"options"`
}

// AnswerRecord is appended once per question and never mutated.
type AnswerRecord struct {
	Question      Question  `json:"question"`
	SelectedIndex *int      `json:"selectedIndex"` // nil when time expired
	Correct       bool      `json:"correct"`
	TimedOut      bool      `json:"timedOut"`
	AnsweredAt    time.Time `json:"answeredAt"`
}

// Explanation describes why the correct option is correct.
type Explanation struct {
	Text     string `json:"text"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// LearningObjectives lists what the question was meant to teach.
type LearningObjectives struct {
	Content string   `json:"content"`
	Items   []string `json:"items,omitempty"`
}

// Resolution bundles an answered question with its generated feedback.
type Resolution struct {
	Record      AnswerRecord       `json:"record"`
	Explanation Explanation        `json:"explanation"`
	Objectives  LearningObjectives `json:"objectives"`
}

// ScoreSummary is the final tally for a session.
type ScoreSummary struct {
	Total      int `json:"total"`
	Correct    int `json:"correct"`
	Wrong      int `json:"wrong"`
	Unanswered int `json:"unanswered"` // included in Wrong
	Percentage int `json:"percentage"`
}

// Progress reports the position of the current question.
type Progress struct {
	Number int `json:"number"`
	Total  int `json:"total"` // 0 = unbounded
}

// SessionState is the top-level lifecycle of a session.
type SessionState string

const (
	StateNotStarted SessionState = "notStarted"
	StateInProgress SessionState = "inProgress"
	StateFinished   SessionState = "finished"
)

// Phase is the sub-state while a session is in progress.
type Phase string

const (
	PhaseNone               Phase = ""
	PhaseAwaitingAnswer     Phase = "awaitingAnswer"
	PhaseShowingExplanation Phase = "showingExplanation"
)

// Snapshot is a point-in-time view for clients that (re)attach to a session.
type Snapshot struct {
	SessionID  string          `json:"sessionId"`
	State      SessionState    `json:"state"`
	Phase      Phase           `json:"phase,omitempty"`
	Config     *SessionConfig  `json:"config,omitempty"`
	Question   *PublicQuestion `json:"question,omitempty"`
	Resolution *Resolution     `json:"resolution,omitempty"` // set while showing the explanation
	Progress   Progress        `json:"progress"`
	Correct    int             `json:"correct"`
	Wrong      int             `json:"wrong"`
	Fetching   bool            `json:"fetching"`
}

// QuestionRequest seeds question generation.
type QuestionRequest struct {
	Subject         string
	Subtopic        string
	Difficulty      Difficulty
	ExcludedPrompts []string
}

// ExplanationRequest seeds explanation and learning-objective generation.
type ExplanationRequest struct {
	Subject       string
	Subtopic      string
	Difficulty    Difficulty
	Prompt        string
	Options       []string
	CorrectIndex  int
	SelectedIndex *int // nil when time expired
}

// CacheKey identifies the generated content for a request. Learning objectives do not
// depend on the learner's pick, so callers caching them pass withSelection=false.
func (r ExplanationRequest) CacheKey(withSelection bool) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%d", r.Subject, r.Subtopic, r.Difficulty, r.Prompt, r.CorrectIndex)
	for _, opt := range r.Options {
		fmt.Fprintf(h, "\x00%s", opt)
	}
	if withSelection {
		if r.SelectedIndex == nil {
			h.Write([]byte("\x00expired"))
		} else {
			fmt.Fprintf(h, "\x00selected:%d", *r.SelectedIndex)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// BankEntry is one authored question with its feedback.
type BankEntry struct {
	Subject     string             `json:"subject"`
	Subtopic    string             `json:"subtopic"`
	Difficulty  Difficulty         `json:"difficulty"`
	Question    Question           `json:"question"`
	Explanation Explanation        `json:"explanation"`
	Objectives  LearningObjectives `json:"objectives"`
}

// DefaultExplanation names the correct option when no authored explanation exists.
func (r ExplanationRequest) DefaultExplanation() (Explanation, error) {
	if r.CorrectIndex < 0 || r.CorrectIndex >= len(r.Options) {
		return Explanation{}, malformed("correct index %d out of range for %d options", r.CorrectIndex, len(r.Options))
	}
	return Explanation{Text: fmt.Sprintf("The correct answer is %q.", r.Options[r.CorrectIndex])}, nil
}

// DefaultObjectives points the learner back at the topic when nothing was authored.
func (r ExplanationRequest) DefaultObjectives() LearningObjectives {
	return LearningObjectives{Content: fmt.Sprintf("Review %s: %s.", r.Subject, r.Subtopic)}
}
