package domain

// EventType identifies a session lifecycle event.
type EventType string

const (
	EventQuestionReady   EventType = "questionReady"
	EventAnswerResolved  EventType = "answerResolved"
	EventTimerTick       EventType = "timerTick"
	EventSessionFinished EventType = "sessionFinished"
	EventError           EventType = "error"
)

// Event is emitted to subscribers. Only the fields relevant to Type are set.
type Event struct {
	Type       EventType       `json:"type"`
	SessionID  string          `json:"sessionId"`
	Question   *PublicQuestion `json:"question,omitempty"`
	Progress   *Progress       `json:"progress,omitempty"`
	Resolution *Resolution     `json:"resolution,omitempty"`
	Remaining  *int            `json:"remaining,omitempty"`
	Display    string          `json:"display,omitempty"`
	Summary    *ScoreSummary   `json:"summary,omitempty"`
	Error      *ErrorInfo      `json:"error,omitempty"`
}

// ErrorInfo carries an error kind from the taxonomy and a readable message.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// NewErrorInfo builds an ErrorInfo from err.
func NewErrorInfo(err error) *ErrorInfo {
	return &ErrorInfo{Kind: KindOf(err), Message: err.Error()}
}
