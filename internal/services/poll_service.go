package services

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"livepoll/internal/idgen"
	"livepoll/internal/models"

	"github.com/google/logger"
)

// Publisher fans an event out to every subscriber of a poll. Implementations
// must not block; PollService publishes while holding the poll's lock so that
// subscribers observe events in transition order.
type Publisher interface {
	Publish(pollID, event string, payload any)
}

// Timer is a pending expiry that can be cancelled.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run once after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, string, any) {}

// Option customizes PollService construction.
type Option func(*PollService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *PollService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAfterFunc overrides how question expiry timers are scheduled.
func WithAfterFunc(f AfterFunc) Option {
	return func(s *PollService) {
		if f != nil {
			s.afterFunc = f
		}
	}
}

// WithDefaultTimeLimit sets the limit used for questions created without one.
func WithDefaultTimeLimit(sec int) Option {
	return func(s *PollService) {
		if sec > 0 && sec <= models.MaxTimeLimitSec {
			s.defaultTimeLimit = sec
		}
	}
}

// PollService owns every poll of the process. The registry map has its own
// lock; each poll's state is guarded by the poll's mutex, so different polls
// never contend with each other.
type PollService struct {
	mu    sync.RWMutex
	polls map[string]*PollSession
	order []string // creation order

	publisher        Publisher
	now              func() time.Time
	afterFunc        AfterFunc
	defaultTimeLimit int
}

// NewPollService creates an empty registry that announces changes through
// publisher.
func NewPollService(publisher Publisher, opts ...Option) *PollService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	s := &PollService{
		polls:            make(map[string]*PollSession),
		publisher:        publisher,
		now:              time.Now,
		afterFunc:        realAfterFunc,
		defaultTimeLimit: models.DefaultTimeLimitSec,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// JoinResult is returned to a participant joining a poll.
type JoinResult struct {
	Participant models.Participant
	Rejoin      bool
	Poll        models.Poll
	LastResult  *models.Result
}

func (s *PollService) lookup(pollID string) (*PollSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.polls[pollID]
	if !exists {
		return nil, ErrPollNotFound
	}
	return session, nil
}

// buildQuestion validates input and assigns fresh identifiers.
func (s *PollService) buildQuestion(in models.QuestionInput) (models.Question, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return models.Question{}, validationError("question text is required")
	}
	if len(in.Options) == 0 {
		return models.Question{}, validationError("question options are required")
	}
	if in.TimeLimitSec < 0 {
		return models.Question{}, validationError("timeLimitSec must be positive")
	}
	if in.TimeLimitSec > models.MaxTimeLimitSec {
		return models.Question{}, validationError(fmt.Sprintf("timeLimitSec must be at most %d", models.MaxTimeLimitSec))
	}

	options := make([]models.Option, 0, len(in.Options))
	for _, o := range in.Options {
		o = strings.TrimSpace(o)
		if o == "" {
			return models.Question{}, validationError("option text is required")
		}
		options = append(options, models.Option{ID: idgen.Option(), Text: o})
	}

	limit := in.TimeLimitSec
	if limit == 0 {
		limit = s.defaultTimeLimit
	}
	return models.Question{
		ID:           idgen.Question(),
		Text:         text,
		Options:      options,
		TimeLimitSec: limit,
	}, nil
}

// CreatePoll registers a new poll with generated identifiers for the poll and
// every question and option.
func (s *PollService) CreatePoll(title string, inputs []models.QuestionInput) (models.Poll, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return models.Poll{}, validationError("title is required")
	}
	if len(inputs) == 0 {
		return models.Poll{}, validationError("at least one question is required")
	}

	questions := make([]models.Question, 0, len(inputs))
	for _, in := range inputs {
		q, err := s.buildQuestion(in)
		if err != nil {
			return models.Poll{}, err
		}
		questions = append(questions, q)
	}

	s.mu.Lock()
	id := idgen.Poll()
	for s.polls[id] != nil {
		id = idgen.Poll()
	}
	session := newPollSession(id, title, questions, s.now())
	s.polls[id] = session
	s.order = append(s.order, id)
	s.mu.Unlock()

	logger.Infof("poll %s created: %q with %d questions", id, title, len(questions))

	session.mu.Lock()
	defer session.mu.Unlock()
	return session.view(), nil
}

// GetPoll returns the current representation of a poll.
func (s *PollService) GetPoll(pollID string) (models.Poll, error) {
	session, err := s.lookup(pollID)
	if err != nil {
		return models.Poll{}, err
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.view(), nil
}

// ListPolls returns a summary of every poll, newest first.
func (s *PollService) ListPolls() []models.PollSummary {
	s.mu.RLock()
	sessions := make([]*PollSession, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		sessions = append(sessions, s.polls[s.order[i]])
	}
	s.mu.RUnlock()

	out := make([]models.PollSummary, 0, len(sessions))
	for _, session := range sessions {
		session.mu.Lock()
		out = append(out, session.summary())
		session.mu.Unlock()
	}
	return out
}

// AppendQuestion adds a question to the end of a poll.
func (s *PollService) AppendQuestion(pollID string, in models.QuestionInput) (models.Question, error) {
	session, err := s.lookup(pollID)
	if err != nil {
		return models.Question{}, err
	}
	q, err := s.buildQuestion(in)
	if err != nil {
		return models.Question{}, err
	}

	session.mu.Lock()
	session.appendQuestion(q)
	n := len(session.questions)
	session.mu.Unlock()

	logger.Infof("poll %s: question %d appended (%s)", pollID, n-1, q.ID)
	return q, nil
}

// Results returns every result the poll has produced, oldest first.
func (s *PollService) Results(pollID string) ([]models.Result, error) {
	session, err := s.lookup(pollID)
	if err != nil {
		return nil, err
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	return append([]models.Result(nil), session.history...), nil
}

// Join registers a participant, or reconnects one when sessionID is already
// known to the poll. A supplied but unknown sessionID is adopted as is.
func (s *PollService) Join(pollID, name, sessionID string) (JoinResult, error) {
	session, err := s.lookup(pollID)
	if err != nil {
		return JoinResult{}, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	p, rejoin := session.participants.join(strings.TrimSpace(name), sessionID, idgen.Session)
	s.publishPresence(session)

	if rejoin {
		logger.Infof("poll %s: participant %s rejoined", pollID, p.SessionID)
	} else {
		logger.Infof("poll %s: participant %s joined as %q", pollID, p.SessionID, p.Name)
	}

	view := session.view()
	return JoinResult{
		Participant: p,
		Rejoin:      rejoin,
		Poll:        view,
		LastResult:  view.LastResult,
	}, nil
}

// MarkDisconnected records that a participant's transport went away. Unknown
// polls and sessions are ignored.
func (s *PollService) MarkDisconnected(pollID, sessionID string) {
	session, err := s.lookup(pollID)
	if err != nil {
		return
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.participants.markDisconnected(sessionID) {
		logger.Infof("poll %s: participant %s disconnected", pollID, sessionID)
		s.publishPresence(session)
	}
}

// RemoveParticipant deletes a participant record on the presenter's request.
func (s *PollService) RemoveParticipant(pollID, sessionID string) error {
	session, err := s.lookup(pollID)
	if err != nil {
		return err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if err := session.participants.remove(sessionID); err != nil {
		return err
	}
	logger.Infof("poll %s: participant %s removed", pollID, sessionID)
	s.publishPresence(session)
	return nil
}

// StartQuestion activates the question at index and arms its expiry timer.
func (s *PollService) StartQuestion(pollID string, index int) (models.QuestionStarted, error) {
	session, err := s.lookup(pollID)
	if err != nil {
		return models.QuestionStarted{}, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	aq, err := session.start(index, s.now())
	if err != nil {
		return models.QuestionStarted{}, err
	}

	generation := aq.generation
	aq.timer = s.afterFunc(time.Duration(aq.question.TimeLimitSec)*time.Second, func() {
		s.expire(session, generation)
	})

	event := models.QuestionStarted{
		QuestionIndex: index,
		Question:      aq.question,
		EndsAt:        aq.endsAt.UnixMilli(),
	}
	s.publisher.Publish(pollID, models.EventQuestionStarted, event)
	logger.Infof("poll %s: question %d started, %ds limit", pollID, index, aq.question.TimeLimitSec)
	return event, nil
}

// SubmitAnswer records a participant's answer to the active question. When
// every connected participant has answered the question ends immediately.
func (s *PollService) SubmitAnswer(pollID, sessionID, optionID string) error {
	session, err := s.lookup(pollID)
	if err != nil {
		return err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	aq, running := session.activeQuestion()
	if !running {
		return ErrNoActiveQuestion
	}
	if err := aq.submit(sessionID, optionID); err != nil {
		return err
	}

	s.publisher.Publish(pollID, models.EventCountsUpdated, models.CountsUpdated{
		Counts:       aq.countsSnapshot(),
		TotalAnswers: aq.totalAnswers(),
	})
	logger.V(1).Infof("poll %s: %s answered question %d", pollID, sessionID, aq.index)

	// The connected count is sampled now: a participant who disconnected
	// mid-question no longer holds the question open.
	if aq.totalAnswers() >= session.participants.connectedCount() {
		s.endLocked(session, models.EndReasonQuorum)
	}
	return nil
}

// HasAnswered reports whether sessionID already answered the active question.
func (s *PollService) HasAnswered(pollID, sessionID string) (bool, error) {
	session, err := s.lookup(pollID)
	if err != nil {
		return false, err
	}
	session.mu.Lock()
	defer session.mu.Unlock()

	aq, running := session.activeQuestion()
	if !running {
		return false, nil
	}
	return aq.hasAnswered(sessionID), nil
}

// expire is the timer callback. It only ends the question it was armed for.
func (s *PollService) expire(session *PollSession, generation uint64) {
	session.mu.Lock()
	defer session.mu.Unlock()

	aq, running := session.activeQuestion()
	if !running || aq.generation != generation {
		return
	}
	s.endLocked(session, models.EndReasonTimeout)
}

// endLocked ends the active question, if any. session.mu must be held.
func (s *PollService) endLocked(session *PollSession, reason string) bool {
	result, ended := session.end(reason, s.now())
	if !ended {
		return false
	}
	s.publisher.Publish(session.id, models.EventQuestionEnded, models.QuestionEnded{Result: result})
	logger.Infof("poll %s: question %d ended by %s, %d/%d answered",
		session.id, result.QuestionIndex, reason, result.TotalAnswers, result.TotalParticipants)
	return true
}

func (s *PollService) publishPresence(session *PollSession) {
	s.publisher.Publish(session.id, models.EventPresenceChanged, models.PresenceChanged{
		Participants: session.participants.list(),
	})
}
