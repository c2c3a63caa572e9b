package services

import (
	"fmt"
	"time"

	"livepoll/internal/models"
)

// activeQuestion holds the answers of the running question. Each session
// answers at most once and answers are final.
type activeQuestion struct {
	generation uint64
	index      int
	question   models.Question
	answers    map[string]string // sessionID -> optionID
	counts     map[string]int    // optionID -> answers
	endsAt     time.Time
	timer      Timer
}

func newActiveQuestion(generation uint64, index int, q models.Question, endsAt time.Time) *activeQuestion {
	counts := make(map[string]int, len(q.Options))
	for _, o := range q.Options {
		counts[o.ID] = 0
	}
	return &activeQuestion{
		generation: generation,
		index:      index,
		question:   q,
		answers:    make(map[string]string),
		counts:     counts,
		endsAt:     endsAt,
	}
}

// submit records one answer. It validates before mutating so a rejected
// answer leaves counts untouched.
func (a *activeQuestion) submit(sessionID, optionID string) error {
	if _, answered := a.answers[sessionID]; answered {
		return ErrAlreadyAnswered
	}
	if !a.question.HasOption(optionID) {
		return ErrInvalidOption
	}
	a.answers[sessionID] = optionID
	a.counts[optionID]++
	a.mustBeConsistent()
	return nil
}

func (a *activeQuestion) hasAnswered(sessionID string) bool {
	_, ok := a.answers[sessionID]
	return ok
}

func (a *activeQuestion) totalAnswers() int {
	return len(a.answers)
}

func (a *activeQuestion) countsSnapshot() map[string]int {
	out := make(map[string]int, len(a.counts))
	for k, v := range a.counts {
		out[k] = v
	}
	return out
}

func (a *activeQuestion) view() *models.ActiveQuestion {
	return &models.ActiveQuestion{
		QuestionIndex: a.index,
		Counts:        a.countsSnapshot(),
		TotalAnswers:  a.totalAnswers(),
		EndsAt:        a.endsAt.UnixMilli(),
	}
}

// mustBeConsistent panics when the counts no longer match the answers or the
// option set. Reaching it means the state machine itself is broken.
func (a *activeQuestion) mustBeConsistent() {
	if len(a.counts) != len(a.question.Options) {
		panic(fmt.Sprintf("poll: counts track %d options, question has %d", len(a.counts), len(a.question.Options)))
	}
	sum := 0
	for _, o := range a.question.Options {
		n, ok := a.counts[o.ID]
		if !ok {
			panic(fmt.Sprintf("poll: counts missing option %s", o.ID))
		}
		sum += n
	}
	if sum != len(a.answers) {
		panic(fmt.Sprintf("poll: counts sum %d != %d answers", sum, len(a.answers)))
	}
}
