package memory

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"quiz-tutor-service/internal/domain"
)

// StaticProvider serves questions from an in-process bank (useful for tests/demos
// and as the fallback when no generation backend is configured).
type StaticProvider struct {
	entries []domain.BankEntry

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewStaticProvider(entries []domain.BankEntry) *StaticProvider {
	return &StaticProvider{
		entries: entries,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// GenerateQuestion picks a matching question, preferring prompts not yet asked.
// When every candidate was asked already it repeats one rather than failing.
func (p *StaticProvider) GenerateQuestion(ctx context.Context, req domain.QuestionRequest) (domain.Question, error) {
	if err := ctx.Err(); err != nil {
		return domain.Question{}, err
	}

	excluded := make(map[string]struct{}, len(req.ExcludedPrompts))
	for _, prompt := range req.ExcludedPrompts {
		excluded[prompt] = struct{}{}
	}

	var fresh, seen []domain.BankEntry
	for _, e := range p.entries {
		if !matches(e, req.Subject, req.Subtopic, req.Difficulty) {
			continue
		}
		if _, ok := excluded[e.Question.Prompt]; ok {
			seen = append(seen, e)
		} else {
			fresh = append(fresh, e)
		}
	}
	candidates := fresh
	if len(candidates) == 0 {
		candidates = seen
	}
	if len(candidates) == 0 {
		return domain.Question{}, fmt.Errorf("%w: no questions for %s/%s/%s",
			domain.ErrProviderUnavailable, req.Subject, req.Subtopic, req.Difficulty)
	}

	p.mu.Lock()
	pick := candidates[p.rnd.Intn(len(candidates))]
	p.mu.Unlock()

	q := pick.Question
	q.Options = append([]string(nil), q.Options...)
	return q, nil
}

func (p *StaticProvider) GenerateExplanation(ctx context.Context, req domain.ExplanationRequest) (domain.Explanation, error) {
	if err := ctx.Err(); err != nil {
		return domain.Explanation{}, err
	}
	if e, ok := p.lookup(req.Prompt); ok && e.Explanation.Text != "" {
		return e.Explanation, nil
	}
	return req.DefaultExplanation()
}

func (p *StaticProvider) GenerateLearningObjectives(ctx context.Context, req domain.ExplanationRequest) (domain.LearningObjectives, error) {
	if err := ctx.Err(); err != nil {
		return domain.LearningObjectives{}, err
	}
	if e, ok := p.lookup(req.Prompt); ok && (e.Objectives.Content != "" || len(e.Objectives.Items) > 0) {
		return e.Objectives, nil
	}
	return req.DefaultObjectives(), nil
}

func (p *StaticProvider) lookup(prompt string) (domain.BankEntry, bool) {
	for _, e := range p.entries {
		if e.Question.Prompt == prompt {
			return e, true
		}
	}
	return domain.BankEntry{}, false
}

func matches(e domain.BankEntry, subject, subtopic string, difficulty domain.Difficulty) bool {
	return strings.EqualFold(e.Subject, subject) &&
		strings.EqualFold(e.Subtopic, subtopic) &&
		strings.EqualFold(string(e.Difficulty), string(difficulty))
}

// SampleBank provides a minimal set of questions; swap in the Postgres bank or the LLM provider in production.
func SampleBank() []domain.BankEntry {
	return []domain.BankEntry{
		{
			Subject: "Anatomy", Subtopic: "Heart", Difficulty: domain.DifficultyBasic,
			Question: domain.Question{
				ID:           "heart-1",
				Prompt:       "Which chamber of the heart pumps oxygenated blood to the body?",
				Options:      []string{"Right atrium", "Left ventricle", "Right ventricle", "Left atrium"},
				CorrectIndex: 1,
			},
			Explanation: domain.Explanation{Text: "The left ventricle pumps oxygenated blood into the aorta and on to the systemic circulation."},
			Objectives: domain.LearningObjectives{
				Content: "Trace systemic circulation from the left ventricle.",
				Items:   []string{"Name the four chambers", "Describe the aortic outflow"},
			},
		},
		{
			Subject: "Anatomy", Subtopic: "Heart", Difficulty: domain.DifficultyBasic,
			Question: domain.Question{
				ID:           "heart-2",
				Prompt:       "Which valve separates the left atrium from the left ventricle?",
				Options:      []string{"Tricuspid", "Pulmonary", "Mitral", "Aortic"},
				CorrectIndex: 2,
			},
			Explanation: domain.Explanation{Text: "The mitral (bicuspid) valve lies between the left atrium and left ventricle."},
			Objectives: domain.LearningObjectives{
				Content: "Locate the atrioventricular valves.",
				Items:   []string{"Distinguish mitral from tricuspid"},
			},
		},
		{
			Subject: "Anatomy", Subtopic: "Heart", Difficulty: domain.DifficultyIntermediate,
			Question: domain.Question{
				ID:           "heart-3",
				Prompt:       "Where is the sinoatrial node located?",
				Options:      []string{"Interventricular septum", "Right atrial wall", "Apex", "Left atrial appendage"},
				CorrectIndex: 1,
			},
			Explanation: domain.Explanation{Text: "The SA node sits in the wall of the right atrium near the opening of the superior vena cava."},
			Objectives:  domain.LearningObjectives{Content: "Describe the cardiac conduction pathway."},
		},
	}
}
