package models

// Events published to every subscriber of a poll.
const (
	EventPresenceChanged = "presence_changed"
	EventQuestionStarted = "question_started"
	EventCountsUpdated   = "counts_updated"
	EventQuestionEnded   = "question_ended"
)

type PresenceChanged struct {
	Participants []Participant `json:"participants"`
}

type QuestionStarted struct {
	QuestionIndex int      `json:"questionIndex"`
	Question      Question `json:"question"`
	EndsAt        int64    `json:"endsAt"`
}

type CountsUpdated struct {
	Counts       map[string]int `json:"counts"`
	TotalAnswers int            `json:"totalAnswers"`
}

type QuestionEnded struct {
	Result Result `json:"result"`
}
