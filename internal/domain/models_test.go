package domain

import (
	"errors"
	"testing"
)

func TestSessionConfigValidate(t *testing.T) {
	valid := SessionConfig{Subject: "Anatomy", Subtopic: "Heart", Difficulty: DifficultyBasic}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	bad := []SessionConfig{
		{Subtopic: "Heart", Difficulty: DifficultyBasic},
		{Subject: "Anatomy", Difficulty: DifficultyBasic},
		{Subject: "Anatomy", Subtopic: "Heart"},
		{Subject: "Anatomy", Subtopic: "Heart", Difficulty: DifficultyBasic, QuestionLimit: -1},
		{Subject: "Anatomy", Subtopic: "Heart", Difficulty: DifficultyBasic, TimeLimitSeconds: -5},
	}
	for i, cfg := range bad {
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("case %d: expected ErrInvalidConfig, got %v", i, err)
		}
	}
}

func TestQuestionValidate(t *testing.T) {
	cases := []struct {
		name string
		q    Question
		ok   bool
	}{
		{"valid", Question{Prompt: "p", Options: []string{"a", "b"}, CorrectIndex: 1}, true},
		{"empty prompt", Question{Options: []string{"a", "b"}}, false},
		{"one option", Question{Prompt: "p", Options: []string{"a"}}, false},
		{"index too high", Question{Prompt: "p", Options: []string{"a", "b", "c"}, CorrectIndex: 5}, false},
		{"negative index", Question{Prompt: "p", Options: []string{"a", "b"}, CorrectIndex: -1}, false},
	}
	for _, tc := range cases {
		err := tc.q.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrMalformedResponse) {
			t.Fatalf("%s: expected ErrMalformedResponse, got %v", tc.name, err)
		}
	}
}

func TestKindOfPrefersSpecificKind(t *testing.T) {
	err := errors.Join(ErrGenerationFailed, ErrMalformedResponse)
	if got := KindOf(err); got != "MalformedResponse" {
		t.Fatalf("expected MalformedResponse, got %s", got)
	}
	if got := KindOf(ErrGenerationFailed); got != "GenerationFailed" {
		t.Fatalf("expected GenerationFailed, got %s", got)
	}
}

func TestCacheKeySelectionFraming(t *testing.T) {
	zero, one := 0, 1
	base := ExplanationRequest{Prompt: "p", Options: []string{"a", "b"}, CorrectIndex: 1}

	picked0, picked1, expired := base, base, base
	picked0.SelectedIndex = &zero
	picked1.SelectedIndex = &one

	if picked0.CacheKey(false) != expired.CacheKey(false) {
		t.Fatalf("selection must not affect key when ignored")
	}
	if picked0.CacheKey(true) == picked1.CacheKey(true) {
		t.Fatalf("different selections must produce different keys")
	}
	if expired.CacheKey(true) == picked0.CacheKey(true) {
		t.Fatalf("expired and answered must produce different keys")
	}

	other := base
	other.Options = []string{"a", "c"}
	if other.CacheKey(false) == base.CacheKey(false) {
		t.Fatalf("options must be part of the key")
	}
}
