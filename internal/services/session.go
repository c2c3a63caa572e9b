package services

import (
	"sync"
	"time"

	"livepoll/internal/models"
)

// questionState is either idle or active. A poll never holds counts without
// a running question.
type questionState interface {
	isQuestionState()
}

type idle struct{}

type active struct {
	q *activeQuestion
}

func (idle) isQuestionState()   {}
func (active) isQuestionState() {}

// PollSession holds the mutable state of one poll. Every field is guarded by
// mu; all operations on a poll are serialized through it.
type PollSession struct {
	mu sync.Mutex

	id        string
	title     string
	createdAt time.Time
	questions []models.Question

	currentIndex *int
	state        questionState
	generation   uint64
	lastResult   *models.Result
	history      []models.Result

	participants *participantRegistry
}

func newPollSession(id, title string, questions []models.Question, createdAt time.Time) *PollSession {
	return &PollSession{
		id:           id,
		title:        title,
		createdAt:    createdAt,
		questions:    questions,
		state:        idle{},
		participants: newParticipantRegistry(),
	}
}

func (s *PollSession) activeQuestion() (*activeQuestion, bool) {
	a, ok := s.state.(active)
	if !ok {
		return nil, false
	}
	return a.q, true
}

// start moves the poll from idle to active. The caller arms the timer.
func (s *PollSession) start(index int, now time.Time) (*activeQuestion, error) {
	if _, running := s.activeQuestion(); running {
		return nil, ErrQuestionActive
	}
	if index < 0 || index >= len(s.questions) {
		return nil, ErrQuestionNotFound
	}

	q := s.questions[index]
	s.generation++
	aq := newActiveQuestion(s.generation, index, q, now.Add(time.Duration(q.TimeLimitSec)*time.Second))

	s.state = active{q: aq}
	idx := index
	s.currentIndex = &idx
	s.lastResult = nil
	return aq, nil
}

// end moves the poll back to idle and stores the result. It reports false
// when there was nothing to end, so duplicate triggers are harmless.
func (s *PollSession) end(reason string, now time.Time) (models.Result, bool) {
	aq, running := s.activeQuestion()
	if !running {
		return models.Result{}, false
	}
	if aq.timer != nil {
		aq.timer.Stop()
		aq.timer = nil
	}

	result := models.Result{
		QuestionIndex:     aq.index,
		Counts:            aq.countsSnapshot(),
		TotalAnswers:      aq.totalAnswers(),
		TotalParticipants: s.participants.size(),
		Question:          aq.question,
		EndedAt:           now.UnixMilli(),
		Reason:            reason,
	}
	s.lastResult = &result
	s.history = append(s.history, result)
	s.state = idle{}
	return result, true
}

func (s *PollSession) appendQuestion(q models.Question) {
	s.questions = append(s.questions, q)
}

func (s *PollSession) view() models.Poll {
	p := models.Poll{
		ID:           s.id,
		Title:        s.title,
		Questions:    append([]models.Question(nil), s.questions...),
		Participants: s.participants.list(),
		CreatedAt:    s.createdAt.UnixMilli(),
	}
	if s.currentIndex != nil {
		idx := *s.currentIndex
		p.CurrentQuestionIndex = &idx
	}
	if aq, running := s.activeQuestion(); running {
		p.ActiveQuestion = aq.view()
	}
	if s.lastResult != nil {
		r := *s.lastResult
		p.LastResult = &r
	}
	return p
}

func (s *PollSession) summary() models.PollSummary {
	_, running := s.activeQuestion()
	return models.PollSummary{
		ID:               s.id,
		Title:            s.title,
		QuestionCount:    len(s.questions),
		ParticipantCount: s.participants.size(),
		Active:           running,
		CreatedAt:        s.createdAt.UnixMilli(),
	}
}
