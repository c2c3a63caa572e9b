package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"livepoll/internal/broadcast"
	"livepoll/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"github.com/gorilla/websocket"
)

// Commands accepted on the websocket.
const (
	CmdPresenterJoin     = "presenter:join"
	CmdParticipantJoin   = "participant:join"
	CmdPresenterStart    = "presenter:start"
	CmdParticipantAnswer = "participant:answer"
	CmdRemoveParticipant = "presenter:remove_participant"

	ackType = "ack"
)

// WSHandler upgrades /ws requests and dispatches their commands to the poll
// service. Each connection is subscribed to at most one poll room.
type WSHandler struct {
	service  *services.PollService
	hub      *broadcast.Hub
	upgrader websocket.Upgrader
	opts     broadcast.ClientOptions
}

func NewWSHandler(service *services.PollService, hub *broadcast.Hub, allowedOrigins []string, opts broadcast.ClientOptions) *WSHandler {
	return &WSHandler{
		service: service,
		hub:     hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
		opts: opts,
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// RegisterRoutes registers the websocket endpoint.
func (h *WSHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket serves one connection until it closes.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warningf("ws: upgrade error: %v", err)
		return
	}

	client := broadcast.NewClient(conn, h.opts)
	sc := &wsSession{h: h, client: client}
	logger.V(1).Infof("ws: connection opened from %s", c.ClientIP())

	go client.WritePump()
	client.ReadPump(sc.handle)
	sc.leave()
	logger.V(1).Infof("ws: connection from %s closed", c.ClientIP())
}

type inboundFrame struct {
	Type string          `json:"type"`
	Ref  string          `json:"ref"`
	Data json.RawMessage `json:"data"`
}

type ackFrame struct {
	Type string `json:"type"`
	Ref  string `json:"ref,omitempty"`
	Data gin.H  `json:"data"`
}

type pollRef struct {
	PollID string `json:"pollId"`
}

type participantJoinData struct {
	PollID    string `json:"pollId"`
	Name      string `json:"name"`
	SessionID string `json:"sessionId"`
}

type startData struct {
	PollID        string `json:"pollId"`
	QuestionIndex *int   `json:"questionIndex"`
}

type answerData struct {
	PollID    string `json:"pollId"`
	SessionID string `json:"sessionId"`
	OptionID  string `json:"optionId"`
}

type removeData struct {
	PollID    string `json:"pollId"`
	SessionID string `json:"sessionId"`
}

var errBadRequest = errors.New("malformed command")

// wsSession is the per-connection state. handle runs on the read goroutine
// only, so its fields need no locking.
type wsSession struct {
	h      *WSHandler
	client *broadcast.Client

	pollID      string
	sessionID   string
	participant bool
}

func (s *wsSession) handle(raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.fail("", "bad_request", "invalid JSON frame")
		return
	}

	var data gin.H
	var err error
	switch frame.Type {
	case CmdPresenterJoin:
		data, err = s.presenterJoin(frame.Data)
	case CmdParticipantJoin:
		data, err = s.participantJoin(frame.Data)
	case CmdPresenterStart:
		data, err = s.start(frame.Data)
	case CmdParticipantAnswer:
		data, err = s.answer(frame.Data)
	case CmdRemoveParticipant:
		data, err = s.remove(frame.Data)
	default:
		s.fail(frame.Ref, "unknown_command", "unknown command "+frame.Type)
		return
	}

	if errors.Is(err, errBadRequest) {
		s.fail(frame.Ref, "bad_request", err.Error())
		return
	}
	if err != nil {
		s.fail(frame.Ref, services.CodeOf(err), err.Error())
		return
	}
	if data == nil {
		data = gin.H{}
	}
	data["ok"] = true
	s.reply(frame.Ref, data)
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return errBadRequest
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errBadRequest
	}
	return nil
}

func (s *wsSession) reply(ref string, data gin.H) {
	msg, err := json.Marshal(ackFrame{Type: ackType, Ref: ref, Data: data})
	if err != nil {
		logger.Errorf("ws: marshal ack: %v", err)
		return
	}
	if !s.client.Send(msg) {
		logger.Warningf("ws: dropping ack %q, client not accepting writes", ref)
	}
}

func (s *wsSession) fail(ref, code, message string) {
	s.reply(ref, gin.H{"ok": false, "error": code, "message": message})
}

// subscribe moves the connection into pollID's room, leaving any previous one.
func (s *wsSession) subscribe(pollID string) {
	if s.pollID == pollID {
		return
	}
	s.leave()
	s.h.hub.Subscribe(pollID, s.client)
	s.pollID = pollID
}

// leave unsubscribes from the current room and, for participants, records
// the disconnect.
func (s *wsSession) leave() {
	if s.pollID == "" {
		return
	}
	s.h.hub.Unsubscribe(s.pollID, s.client)
	if s.participant {
		s.h.service.MarkDisconnected(s.pollID, s.sessionID)
	}
	s.pollID, s.sessionID, s.participant = "", "", false
}

func (s *wsSession) presenterJoin(raw json.RawMessage) (gin.H, error) {
	var in pollRef
	if err := decode(raw, &in); err != nil {
		return nil, err
	}
	poll, err := s.h.service.GetPoll(in.PollID)
	if err != nil {
		return nil, err
	}
	s.subscribe(in.PollID)
	return gin.H{"poll": poll}, nil
}

func (s *wsSession) participantJoin(raw json.RawMessage) (gin.H, error) {
	var in participantJoinData
	if err := decode(raw, &in); err != nil {
		return nil, err
	}
	if _, err := s.h.service.GetPoll(in.PollID); err != nil {
		return nil, err
	}

	// Subscribe first so no event between the join snapshot and the
	// subscription is missed.
	s.subscribe(in.PollID)
	res, err := s.h.service.Join(in.PollID, in.Name, in.SessionID)
	if err != nil {
		return nil, err
	}
	// A connection holds one attachment at a time. Release the one from an
	// earlier join on this poll; for the same session that only drops the
	// extra count.
	if s.participant {
		s.h.service.MarkDisconnected(in.PollID, s.sessionID)
	}
	s.participant = true
	s.sessionID = res.Participant.SessionID

	answered, err := s.h.service.HasAnswered(in.PollID, s.sessionID)
	if err != nil {
		return nil, err
	}
	return gin.H{
		"sessionId":  res.Participant.SessionID,
		"name":       res.Participant.Name,
		"rejoin":     res.Rejoin,
		"poll":       res.Poll,
		"lastResult": res.LastResult,
		"answered":   answered,
	}, nil
}

func (s *wsSession) start(raw json.RawMessage) (gin.H, error) {
	var in startData
	if err := decode(raw, &in); err != nil {
		return nil, err
	}
	if in.QuestionIndex == nil {
		return nil, errBadRequest
	}
	started, err := s.h.service.StartQuestion(in.PollID, *in.QuestionIndex)
	if err != nil {
		return nil, err
	}
	return gin.H{"endsAt": started.EndsAt}, nil
}

func (s *wsSession) answer(raw json.RawMessage) (gin.H, error) {
	var in answerData
	if err := decode(raw, &in); err != nil {
		return nil, err
	}
	if in.SessionID == "" && in.PollID == s.pollID {
		in.SessionID = s.sessionID
	}
	if in.SessionID == "" {
		return nil, errBadRequest
	}
	return nil, s.h.service.SubmitAnswer(in.PollID, in.SessionID, in.OptionID)
}

func (s *wsSession) remove(raw json.RawMessage) (gin.H, error) {
	var in removeData
	if err := decode(raw, &in); err != nil {
		return nil, err
	}
	return nil, s.h.service.RemoveParticipant(in.PollID, in.SessionID)
}
