package models

// Question end reasons recorded on a Result.
const (
	EndReasonTimeout = "timeout"
	EndReasonQuorum  = "quorum"
)

// Question time limits in seconds. DefaultTimeLimitSec applies when a
// question is created without one.
const (
	DefaultTimeLimitSec = 60
	MaxTimeLimitSec     = 24 * 60 * 60
)

// Option is one selectable answer of a question.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is immutable once appended to a poll.
type Question struct {
	ID           string   `json:"id"`
	Text         string   `json:"text"`
	Options      []Option `json:"options"`
	TimeLimitSec int      `json:"timeLimitSec"`
}

// HasOption reports whether optionID belongs to the question.
func (q Question) HasOption(optionID string) bool {
	for _, o := range q.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

// Participant is a participant session known to a poll.
// The session ID stays the same across reconnects.
type Participant struct {
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

// Result is the snapshot taken when a question ends.
type Result struct {
	QuestionIndex     int            `json:"questionIndex"`
	Counts            map[string]int `json:"counts"`
	TotalAnswers      int            `json:"totalAnswers"`
	TotalParticipants int            `json:"totalParticipants"`
	Question          Question       `json:"question"`
	EndedAt           int64          `json:"endedAt"`
	Reason            string         `json:"reason"`
}

// ActiveQuestion is the public view of a running question. The answers
// themselves are never exposed, only their aggregate.
type ActiveQuestion struct {
	QuestionIndex int            `json:"questionIndex"`
	Counts        map[string]int `json:"counts"`
	TotalAnswers  int            `json:"totalAnswers"`
	EndsAt        int64          `json:"endsAt"`
}

// Poll is the representation returned to presenters and participants.
type Poll struct {
	ID                   string          `json:"id"`
	Title                string          `json:"title"`
	Questions            []Question      `json:"questions"`
	CurrentQuestionIndex *int            `json:"currentQuestionIndex"`
	ActiveQuestion       *ActiveQuestion `json:"activeQuestion"`
	Participants         []Participant   `json:"participants"`
	LastResult           *Result         `json:"lastResult"`
	CreatedAt            int64           `json:"createdAt"`
}

// PollSummary is the list view of a poll.
type PollSummary struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	QuestionCount    int    `json:"questionCount"`
	ParticipantCount int    `json:"participantCount"`
	Active           bool   `json:"active"`
	CreatedAt        int64  `json:"createdAt"`
}
