package services

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"livepoll/internal/models"
)

type recordedEvent struct {
	pollID  string
	name    string
	payload any
}

// recorder is a Publisher that keeps every event in order.
type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) Publish(pollID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{pollID: pollID, name: event, payload: payload})
}

func (r *recorder) named(name string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.name
	}
	return out
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	wasPending := !t.stopped
	t.stopped = true
	return wasPending
}

// scheduler hands out fake timers that only fire when the test says so.
type scheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *scheduler) afterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

// fire runs the i-th timer callback even if it was stopped, the way a real
// timer can fire concurrently with Stop.
func (s *scheduler) fire(i int) {
	s.mu.Lock()
	t := s.timers[i]
	s.mu.Unlock()
	t.f()
}

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService() (*PollService, *recorder, *scheduler) {
	rec := &recorder{}
	sched := &scheduler{}
	svc := NewPollService(rec,
		WithClock(func() time.Time { return testNow }),
		WithAfterFunc(sched.afterFunc),
	)
	return svc, rec, sched
}

func createTestPoll(t *testing.T, svc *PollService) models.Poll {
	t.Helper()
	poll, err := svc.CreatePoll("T", []models.QuestionInput{
		{Text: "Q1", Options: []string{"A", "B"}, TimeLimitSec: 5},
		{Text: "Q2", Options: []string{"Yes", "No", "Maybe"}},
	})
	if err != nil {
		t.Fatalf("Expected no error creating poll, but got %v", err)
	}
	return poll
}

func optionID(t *testing.T, poll models.Poll, question int, text string) string {
	t.Helper()
	for _, o := range poll.Questions[question].Options {
		if o.Text == text {
			return o.ID
		}
	}
	t.Fatalf("option %q not found in question %d", text, question)
	return ""
}

func TestPollService_CreatePoll(t *testing.T) {
	svc, _, _ := newTestService()

	tests := []struct {
		name      string
		title     string
		questions []models.QuestionInput
		wantErr   bool
	}{
		{"valid poll", "Quiz", []models.QuestionInput{{Text: "Q", Options: []string{"A"}}}, false},
		{"empty title", "  ", []models.QuestionInput{{Text: "Q", Options: []string{"A"}}}, true},
		{"no questions", "Quiz", nil, true},
		{"question without text", "Quiz", []models.QuestionInput{{Options: []string{"A"}}}, true},
		{"question without options", "Quiz", []models.QuestionInput{{Text: "Q"}}, true},
		{"blank option", "Quiz", []models.QuestionInput{{Text: "Q", Options: []string{"A", " "}}}, true},
		{"negative limit", "Quiz", []models.QuestionInput{{Text: "Q", Options: []string{"A"}, TimeLimitSec: -1}}, true},
		{"limit above one day", "Quiz", []models.QuestionInput{{Text: "Q", Options: []string{"A"}, TimeLimitSec: models.MaxTimeLimitSec + 1}}, true},
		{"limit overflowing a duration", "Quiz", []models.QuestionInput{{Text: "Q", Options: []string{"A"}, TimeLimitSec: math.MaxInt}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			poll, err := svc.CreatePoll(tt.title, tt.questions)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("Expected a validation error, but got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, but got %v", err)
			}
			if len(poll.ID) != 8 {
				t.Errorf("Expected an 8 character poll id, but got %q", poll.ID)
			}
			q := poll.Questions[0]
			if q.ID == "" || q.Options[0].ID == "" {
				t.Error("Expected question and option ids to be generated")
			}
			if q.TimeLimitSec != models.DefaultTimeLimitSec {
				t.Errorf("Expected default limit %d, but got %d", models.DefaultTimeLimitSec, q.TimeLimitSec)
			}
			if poll.CurrentQuestionIndex != nil || poll.ActiveQuestion != nil || poll.LastResult != nil {
				t.Error("Expected a new poll to be idle with no result")
			}
		})
	}

	if got := len(svc.ListPolls()); got != 1 {
		t.Errorf("Expected only the valid poll to be registered, but got %d", got)
	}
}

func TestPollService_GetPollAndList(t *testing.T) {
	svc, _, _ := newTestService()

	if _, err := svc.GetPoll("missing"); !errors.Is(err, ErrPollNotFound) {
		t.Fatalf("Expected ErrPollNotFound, but got %v", err)
	}

	first := createTestPoll(t, svc)
	second := createTestPoll(t, svc)

	got, err := svc.GetPoll(first.ID)
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	if got.Title != "T" || len(got.Questions) != 2 {
		t.Errorf("Unexpected poll %+v", got)
	}

	list := svc.ListPolls()
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Errorf("Expected newest poll first, but got %+v", list)
	}
}

func TestPollService_AppendQuestion(t *testing.T) {
	svc, _, _ := newTestService()
	poll := createTestPoll(t, svc)

	t.Run("unknown poll", func(t *testing.T) {
		_, err := svc.AppendQuestion("nope", models.QuestionInput{Text: "Q", Options: []string{"A"}})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("Expected a not found error, but got %v", err)
		}
	})

	t.Run("missing options", func(t *testing.T) {
		_, err := svc.AppendQuestion(poll.ID, models.QuestionInput{Text: "Q"})
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("Expected a validation error, but got %v", err)
		}
	})

	t.Run("appended in order", func(t *testing.T) {
		q, err := svc.AppendQuestion(poll.ID, models.QuestionInput{Text: "Q3", Options: []string{"X", "Y"}, TimeLimitSec: 30})
		if err != nil {
			t.Fatalf("Expected no error, but got %v", err)
		}
		got, _ := svc.GetPoll(poll.ID)
		if len(got.Questions) != 3 || got.Questions[2].ID != q.ID {
			t.Errorf("Expected question to be appended last, got %+v", got.Questions)
		}
		if q.TimeLimitSec != 30 {
			t.Errorf("Expected limit 30, but got %d", q.TimeLimitSec)
		}
	})
}

func TestPollService_Join(t *testing.T) {
	svc, rec, _ := newTestService()
	poll := createTestPoll(t, svc)

	if _, err := svc.Join("missing", "Alice", ""); !errors.Is(err, ErrPollNotFound) {
		t.Fatalf("Expected ErrPollNotFound, but got %v", err)
	}

	alice, err := svc.Join(poll.ID, "Alice", "")
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	if alice.Rejoin || alice.Participant.SessionID == "" || !alice.Participant.Connected {
		t.Errorf("Expected a new connected participant, got %+v", alice.Participant)
	}

	bob, _ := svc.Join(poll.ID, "Bob", "client-chosen-id")
	if bob.Participant.SessionID != "client-chosen-id" {
		t.Errorf("Expected the supplied session id to be adopted, got %s", bob.Participant.SessionID)
	}

	svc.MarkDisconnected(poll.ID, alice.Participant.SessionID)
	again, _ := svc.Join(poll.ID, "", alice.Participant.SessionID)
	if !again.Rejoin || !again.Participant.Connected || again.Participant.Name != "Alice" {
		t.Errorf("Expected a reconnected Alice, got %+v (rejoin=%v)", again.Participant, again.Rejoin)
	}
	if len(again.Poll.Participants) != 2 {
		t.Errorf("Expected rejoin to reuse the record, got %d participants", len(again.Poll.Participants))
	}

	// join, join, disconnect, rejoin
	if got := len(rec.named(models.EventPresenceChanged)); got != 4 {
		t.Errorf("Expected 4 presence events, but got %d", got)
	}
}

func TestPollService_MarkDisconnectedAndRemove(t *testing.T) {
	svc, rec, _ := newTestService()
	poll := createTestPoll(t, svc)
	alice, _ := svc.Join(poll.ID, "Alice", "")
	sid := alice.Participant.SessionID

	svc.MarkDisconnected(poll.ID, "unknown")
	svc.MarkDisconnected("unknown-poll", sid)
	if got := len(rec.named(models.EventPresenceChanged)); got != 1 {
		t.Fatalf("Expected unknown sessions to be ignored, but got %d presence events", got)
	}

	svc.MarkDisconnected(poll.ID, sid)
	got, _ := svc.GetPoll(poll.ID)
	if got.Participants[0].Connected {
		t.Error("Expected participant to be disconnected")
	}

	if err := svc.RemoveParticipant(poll.ID, "unknown"); !errors.Is(err, ErrParticipantNotFound) {
		t.Fatalf("Expected ErrParticipantNotFound, but got %v", err)
	}
	if err := svc.RemoveParticipant(poll.ID, sid); err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	got, _ = svc.GetPoll(poll.ID)
	if len(got.Participants) != 0 {
		t.Errorf("Expected participant to be removed, got %+v", got.Participants)
	}
	if got := len(rec.named(models.EventPresenceChanged)); got != 3 {
		t.Errorf("Expected 3 presence events, but got %d", got)
	}
}

func TestPollService_StartQuestion(t *testing.T) {
	svc, rec, sched := newTestService()
	poll := createTestPoll(t, svc)

	if _, err := svc.StartQuestion(poll.ID, 5); !errors.Is(err, ErrQuestionNotFound) {
		t.Fatalf("Expected ErrQuestionNotFound, but got %v", err)
	}
	if _, err := svc.StartQuestion(poll.ID, -1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected a not found error, but got %v", err)
	}

	started, err := svc.StartQuestion(poll.ID, 0)
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	wantEndsAt := testNow.Add(5 * time.Second).UnixMilli()
	if started.EndsAt != wantEndsAt {
		t.Errorf("Expected endsAt %d, but got %d", wantEndsAt, started.EndsAt)
	}
	if len(sched.timers) != 1 || sched.timers[0].d != 5*time.Second {
		t.Fatalf("Expected one 5s timer, got %+v", sched.timers)
	}

	got, _ := svc.GetPoll(poll.ID)
	if got.ActiveQuestion == nil || *got.CurrentQuestionIndex != 0 {
		t.Fatalf("Expected question 0 to be active, got %+v", got)
	}
	for _, o := range got.Questions[0].Options {
		if n, ok := got.ActiveQuestion.Counts[o.ID]; !ok || n != 0 {
			t.Errorf("Expected zero count for option %s, got %d (present=%v)", o.ID, n, ok)
		}
	}

	t.Run("second start conflicts and changes nothing", func(t *testing.T) {
		alice, _ := svc.Join(poll.ID, "Alice", "")
		svc.Join(poll.ID, "Bob", "")
		if err := svc.SubmitAnswer(poll.ID, alice.Participant.SessionID, optionID(t, poll, 0, "A")); err != nil {
			t.Fatalf("Expected no error, but got %v", err)
		}
		before, _ := svc.GetPoll(poll.ID)

		if _, err := svc.StartQuestion(poll.ID, 1); !errors.Is(err, ErrQuestionActive) {
			t.Fatalf("Expected ErrQuestionActive, but got %v", err)
		}
		after, _ := svc.GetPoll(poll.ID)
		if after.ActiveQuestion.EndsAt != before.ActiveQuestion.EndsAt ||
			after.ActiveQuestion.QuestionIndex != 0 ||
			after.ActiveQuestion.TotalAnswers != 1 {
			t.Errorf("Expected active question untouched, before %+v after %+v", before.ActiveQuestion, after.ActiveQuestion)
		}
		if len(sched.timers) != 1 {
			t.Errorf("Expected no extra timer, got %d", len(sched.timers))
		}
	})

	if got := len(rec.named(models.EventQuestionStarted)); got != 1 {
		t.Errorf("Expected 1 question_started event, but got %d", got)
	}
}

func TestPollService_SubmitAnswer(t *testing.T) {
	svc, rec, _ := newTestService()
	poll := createTestPoll(t, svc)
	a, _ := svc.Join(poll.ID, "A", "")
	b, _ := svc.Join(poll.ID, "B", "")
	svc.Join(poll.ID, "C", "")
	optA := optionID(t, poll, 0, "A")

	if err := svc.SubmitAnswer(poll.ID, a.Participant.SessionID, optA); !errors.Is(err, ErrNoActiveQuestion) {
		t.Fatalf("Expected ErrNoActiveQuestion, but got %v", err)
	}
	if _, err := svc.StartQuestion(poll.ID, 0); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		sessionID string
		optionID  string
		wantErr   error
		wantTotal int
	}{
		{"first answer", a.Participant.SessionID, optA, nil, 1},
		{"second answer from same session", a.Participant.SessionID, optA, ErrAlreadyAnswered, 1},
		{"option from another question", b.Participant.SessionID, optionID(t, poll, 1, "Yes"), ErrInvalidOption, 1},
		{"unknown option", b.Participant.SessionID, "zzz", ErrInvalidOption, 1},
		{"second participant", b.Participant.SessionID, optA, nil, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.SubmitAnswer(poll.ID, tt.sessionID, tt.optionID)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, but got %v", tt.wantErr, err)
				}
			} else if err != nil {
				t.Fatalf("Expected no error, but got %v", err)
			}

			got, _ := svc.GetPoll(poll.ID)
			if got.ActiveQuestion.TotalAnswers != tt.wantTotal {
				t.Errorf("Expected %d answers, but got %d", tt.wantTotal, got.ActiveQuestion.TotalAnswers)
			}
			sum := 0
			for _, n := range got.ActiveQuestion.Counts {
				sum += n
			}
			if sum != got.ActiveQuestion.TotalAnswers {
				t.Errorf("Expected counts to sum to %d, but got %d", got.ActiveQuestion.TotalAnswers, sum)
			}
		})
	}

	if !errors.Is(ErrAlreadyAnswered, ErrConflict) || !errors.Is(ErrInvalidOption, ErrValidation) {
		t.Error("Expected specific errors to match their kind")
	}
	if got := len(rec.named(models.EventCountsUpdated)); got != 2 {
		t.Errorf("Expected counts_updated only for accepted answers, but got %d", got)
	}
}

// Two connected participants answering differing options end the question
// before its time limit.
func TestPollService_QuorumEndsQuestionEarly(t *testing.T) {
	svc, rec, sched := newTestService()
	poll := createTestPoll(t, svc)
	a, _ := svc.Join(poll.ID, "A", "")
	b, _ := svc.Join(poll.ID, "B", "")
	optA, optB := optionID(t, poll, 0, "A"), optionID(t, poll, 0, "B")

	if _, err := svc.StartQuestion(poll.ID, 0); err != nil {
		t.Fatal(err)
	}
	if err := svc.SubmitAnswer(poll.ID, a.Participant.SessionID, optA); err != nil {
		t.Fatal(err)
	}
	if err := svc.SubmitAnswer(poll.ID, b.Participant.SessionID, optB); err != nil {
		t.Fatal(err)
	}

	ended := rec.named(models.EventQuestionEnded)
	if len(ended) != 1 {
		t.Fatalf("Expected 1 question_ended event, but got %d", len(ended))
	}
	result := ended[0].payload.(models.QuestionEnded).Result
	if result.Counts[optA] != 1 || result.Counts[optB] != 1 || result.TotalAnswers != 2 {
		t.Errorf("Unexpected result %+v", result)
	}
	if result.TotalParticipants != 2 || result.Reason != models.EndReasonQuorum {
		t.Errorf("Unexpected result metadata %+v", result)
	}
	if !sched.timers[0].stopped {
		t.Error("Expected the expiry timer to be cancelled")
	}

	want := []string{
		models.EventPresenceChanged, models.EventPresenceChanged,
		models.EventQuestionStarted,
		models.EventCountsUpdated, models.EventCountsUpdated,
		models.EventQuestionEnded,
	}
	names := rec.names()
	if len(names) != len(want) {
		t.Fatalf("Expected events %v, but got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Expected events %v, but got %v", want, names)
		}
	}

	got, _ := svc.GetPoll(poll.ID)
	if got.ActiveQuestion != nil || got.LastResult == nil || got.LastResult.TotalAnswers != 2 {
		t.Errorf("Expected idle poll holding the result, got %+v", got)
	}
}

func TestPollService_TimerExpiry(t *testing.T) {
	svc, rec, sched := newTestService()
	poll := createTestPoll(t, svc)
	svc.Join(poll.ID, "A", "")
	svc.Join(poll.ID, "B", "")

	svc.StartQuestion(poll.ID, 1)
	sched.fire(0)

	ended := rec.named(models.EventQuestionEnded)
	if len(ended) != 1 {
		t.Fatalf("Expected 1 question_ended event, but got %d", len(ended))
	}
	result := ended[0].payload.(models.QuestionEnded).Result
	if result.Reason != models.EndReasonTimeout || result.TotalAnswers != 0 || len(result.Counts) != 3 {
		t.Errorf("Unexpected result %+v", result)
	}

	// The timer firing again after the question ended is a no-op.
	sched.fire(0)
	if got := len(rec.named(models.EventQuestionEnded)); got != 1 {
		t.Errorf("Expected a late timer to be ignored, got %d question_ended events", got)
	}
}

func TestPollService_EndIsIdempotent(t *testing.T) {
	svc, rec, sched := newTestService()
	poll := createTestPoll(t, svc)
	a, _ := svc.Join(poll.ID, "A", "")
	svc.StartQuestion(poll.ID, 0)

	// Quorum reached by the only participant while the timer is in flight.
	if err := svc.SubmitAnswer(poll.ID, a.Participant.SessionID, optionID(t, poll, 0, "A")); err != nil {
		t.Fatal(err)
	}
	sched.fire(0)

	session, _ := svc.lookup(poll.ID)
	session.mu.Lock()
	again := svc.endLocked(session, models.EndReasonTimeout)
	history := len(session.history)
	session.mu.Unlock()

	if again {
		t.Error("Expected ending an idle poll to report false")
	}
	if got := len(rec.named(models.EventQuestionEnded)); got != 1 {
		t.Errorf("Expected exactly 1 question_ended event, but got %d", got)
	}
	if history != 1 {
		t.Errorf("Expected exactly 1 stored result, but got %d", history)
	}
}

func TestPollService_StaleTimerDoesNotEndNextQuestion(t *testing.T) {
	svc, rec, sched := newTestService()
	poll := createTestPoll(t, svc)
	a, _ := svc.Join(poll.ID, "A", "")

	svc.StartQuestion(poll.ID, 0)
	svc.SubmitAnswer(poll.ID, a.Participant.SessionID, optionID(t, poll, 0, "A"))
	if _, err := svc.StartQuestion(poll.ID, 1); err != nil {
		t.Fatalf("Expected the next question to start, but got %v", err)
	}

	got, _ := svc.GetPoll(poll.ID)
	if got.LastResult != nil {
		t.Error("Expected starting a question to clear the last result")
	}

	sched.fire(0)
	got, _ = svc.GetPoll(poll.ID)
	if got.ActiveQuestion == nil || got.ActiveQuestion.QuestionIndex != 1 {
		t.Fatalf("Expected question 1 to stay active, got %+v", got.ActiveQuestion)
	}
	if n := len(rec.named(models.EventQuestionEnded)); n != 1 {
		t.Errorf("Expected only the first question to have ended, got %d", n)
	}

	sched.fire(1)
	history, _ := svc.Results(poll.ID)
	if len(history) != 2 || history[1].QuestionIndex != 1 {
		t.Errorf("Expected two results in order, got %+v", history)
	}
}

func TestPollService_RejoinKeepsAnswer(t *testing.T) {
	svc, _, _ := newTestService()
	poll := createTestPoll(t, svc)
	a, _ := svc.Join(poll.ID, "A", "")
	svc.Join(poll.ID, "B", "")
	svc.Join(poll.ID, "C", "")
	sid := a.Participant.SessionID

	svc.StartQuestion(poll.ID, 0)
	if err := svc.SubmitAnswer(poll.ID, sid, optionID(t, poll, 0, "A")); err != nil {
		t.Fatal(err)
	}
	svc.MarkDisconnected(poll.ID, sid)
	rejoin, _ := svc.Join(poll.ID, "A", sid)

	if !rejoin.Rejoin || !rejoin.Participant.Connected {
		t.Errorf("Expected a connected rejoin, got %+v", rejoin)
	}
	if answered, _ := svc.HasAnswered(poll.ID, sid); !answered {
		t.Error("Expected the earlier answer to be kept")
	}
	if err := svc.SubmitAnswer(poll.ID, sid, optionID(t, poll, 0, "B")); !errors.Is(err, ErrAlreadyAnswered) {
		t.Errorf("Expected ErrAlreadyAnswered after rejoin, but got %v", err)
	}
}

// A participant leaving mid-question lowers the bar for the rest.
func TestPollService_DisconnectLowersQuorum(t *testing.T) {
	svc, rec, _ := newTestService()
	poll := createTestPoll(t, svc)
	a, _ := svc.Join(poll.ID, "A", "")
	b, _ := svc.Join(poll.ID, "B", "")
	c, _ := svc.Join(poll.ID, "C", "")
	optA := optionID(t, poll, 0, "A")

	svc.StartQuestion(poll.ID, 0)
	svc.SubmitAnswer(poll.ID, a.Participant.SessionID, optA)
	svc.MarkDisconnected(poll.ID, c.Participant.SessionID)
	if len(rec.named(models.EventQuestionEnded)) != 0 {
		t.Fatal("Expected disconnect alone not to end the question")
	}
	svc.SubmitAnswer(poll.ID, b.Participant.SessionID, optA)

	ended := rec.named(models.EventQuestionEnded)
	if len(ended) != 1 {
		t.Fatalf("Expected the question to end, got %d question_ended events", len(ended))
	}
	if r := ended[0].payload.(models.QuestionEnded).Result; r.TotalParticipants != 3 || r.TotalAnswers != 2 {
		t.Errorf("Unexpected result %+v", r)
	}
}

func TestPollService_ConcurrentAnswers(t *testing.T) {
	svc, rec, _ := newTestService()
	poll := createTestPoll(t, svc)

	const n = 50
	ids := make([]string, n)
	for i := range ids {
		res, _ := svc.Join(poll.ID, "p", "")
		ids[i] = res.Participant.SessionID
	}
	svc.StartQuestion(poll.ID, 0)
	optA, optB := optionID(t, poll, 0, "A"), optionID(t, poll, 0, "B")

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(2)
		opt := optA
		if i%2 == 1 {
			opt = optB
		}
		// Each participant submits twice; only one may count.
		for j := 0; j < 2; j++ {
			go func(id, opt string) {
				defer wg.Done()
				svc.SubmitAnswer(poll.ID, id, opt)
			}(id, opt)
		}
	}
	wg.Wait()

	ended := rec.named(models.EventQuestionEnded)
	if len(ended) != 1 {
		t.Fatalf("Expected exactly 1 question_ended event, but got %d", len(ended))
	}
	r := ended[0].payload.(models.QuestionEnded).Result
	if r.TotalAnswers != n || r.Counts[optA] != n/2 || r.Counts[optB] != n/2 {
		t.Errorf("Unexpected result %+v", r)
	}
	if got := len(rec.named(models.EventCountsUpdated)); got != n {
		t.Errorf("Expected %d counts_updated events, but got %d", n, got)
	}
}

func TestActiveQuestion_InvariantViolationPanics(t *testing.T) {
	q := models.Question{ID: "q", Options: []models.Option{{ID: "a"}, {ID: "b"}}}
	aq := newActiveQuestion(1, 0, q, testNow)
	delete(aq.counts, "b")
	aq.counts["c"] = 0

	defer func() {
		if recover() == nil {
			t.Error("Expected a panic for counts missing an option")
		}
	}()
	aq.submit("s1", "a")
}

// A reconnect can land before the old transport is noticed as gone.
func TestPollService_OverlappingConnections(t *testing.T) {
	svc, _, _ := newTestService()
	poll := createTestPoll(t, svc)
	a, _ := svc.Join(poll.ID, "A", "")
	sid := a.Participant.SessionID

	if again, _ := svc.Join(poll.ID, "", sid); !again.Rejoin {
		t.Fatalf("Expected a rejoin, got %+v", again)
	}
	svc.MarkDisconnected(poll.ID, sid)

	got, _ := svc.GetPoll(poll.ID)
	if !got.Participants[0].Connected {
		t.Error("Expected the participant to stay connected through the newer connection")
	}

	svc.MarkDisconnected(poll.ID, sid)
	got, _ = svc.GetPoll(poll.ID)
	if got.Participants[0].Connected {
		t.Error("Expected the participant to be disconnected once both connections went")
	}
}
