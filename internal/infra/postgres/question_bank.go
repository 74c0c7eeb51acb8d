package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-tutor-service/internal/domain"
)

// QuestionBank serves authored questions stored as JSONB rows in Postgres.
type QuestionBank struct {
	pool *pgxpool.Pool
}

func NewQuestionBank(pool *pgxpool.Pool) *QuestionBank {
	return &QuestionBank{pool: pool}
}

const pickQuestionSQL = `
SELECT data FROM questions
WHERE lower(subject) = lower($1) AND lower(subtopic) = lower($2) AND lower(difficulty) = lower($3)
  AND NOT (data->'question'->>'prompt' = ANY($4::text[]))
ORDER BY random()
LIMIT 1`

// GenerateQuestion picks a random matching row, preferring prompts not yet asked.
func (b *QuestionBank) GenerateQuestion(ctx context.Context, req domain.QuestionRequest) (domain.Question, error) {
	excluded := append([]string{}, req.ExcludedPrompts...)
	entry, err := b.pick(ctx, req, excluded)
	if errors.Is(err, pgx.ErrNoRows) && len(excluded) > 0 {
		entry, err = b.pick(ctx, req, []string{})
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, fmt.Errorf("%w: no questions for %s/%s/%s",
			domain.ErrProviderUnavailable, req.Subject, req.Subtopic, req.Difficulty)
	}
	if err != nil {
		return domain.Question{}, err
	}
	return entry.Question, nil
}

func (b *QuestionBank) pick(ctx context.Context, req domain.QuestionRequest, excluded []string) (domain.BankEntry, error) {
	var raw []byte
	err := b.pool.QueryRow(ctx, pickQuestionSQL, req.Subject, req.Subtopic, string(req.Difficulty), excluded).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BankEntry{}, err
		}
		return domain.BankEntry{}, fmt.Errorf("%w: load question: %w", domain.ErrProviderUnavailable, err)
	}
	return decodeEntry(raw)
}

func (b *QuestionBank) GenerateExplanation(ctx context.Context, req domain.ExplanationRequest) (domain.Explanation, error) {
	entry, found, err := b.byPrompt(ctx, req.Prompt)
	if err != nil {
		return domain.Explanation{}, err
	}
	if found && entry.Explanation.Text != "" {
		return entry.Explanation, nil
	}
	return req.DefaultExplanation()
}

func (b *QuestionBank) GenerateLearningObjectives(ctx context.Context, req domain.ExplanationRequest) (domain.LearningObjectives, error) {
	entry, found, err := b.byPrompt(ctx, req.Prompt)
	if err != nil {
		return domain.LearningObjectives{}, err
	}
	if found && (entry.Objectives.Content != "" || len(entry.Objectives.Items) > 0) {
		return entry.Objectives, nil
	}
	return req.DefaultObjectives(), nil
}

func (b *QuestionBank) byPrompt(ctx context.Context, prompt string) (domain.BankEntry, bool, error) {
	var raw []byte
	err := b.pool.QueryRow(ctx, `SELECT data FROM questions WHERE data->'question'->>'prompt' = $1 LIMIT 1`, prompt).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.BankEntry{}, false, nil
	}
	if err != nil {
		return domain.BankEntry{}, false, fmt.Errorf("%w: load feedback: %w", domain.ErrProviderUnavailable, err)
	}
	entry, err := decodeEntry(raw)
	return entry, err == nil, err
}

// Upsert stores entries, assigning ids to questions that have none.
func (b *QuestionBank) Upsert(ctx context.Context, entries []domain.BankEntry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		if err := e.Question.Validate(); err != nil {
			return fmt.Errorf("question %q: %w", e.Question.Prompt, err)
		}
		if e.Question.ID == "" {
			e.Question.ID = uuid.NewString()
		}
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal question: %w", err)
		}
		batch.Queue(`INSERT INTO questions (id, subject, subtopic, difficulty, data) VALUES ($1, $2, $3, $4, $5::jsonb)
ON CONFLICT (id) DO UPDATE SET subject=EXCLUDED.subject, subtopic=EXCLUDED.subtopic, difficulty=EXCLUDED.difficulty, data=EXCLUDED.data`,
			e.Question.ID, e.Subject, e.Subtopic, string(e.Difficulty), string(data))
	}
	results := b.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert question: %w", err)
		}
	}
	return nil
}

func decodeEntry(raw []byte) (domain.BankEntry, error) {
	var entry domain.BankEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return domain.BankEntry{}, fmt.Errorf("%w: unmarshal question: %w", domain.ErrMalformedResponse, err)
	}
	return entry, nil
}
