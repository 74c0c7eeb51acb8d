package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"quiz-tutor-service/internal/app"
	"quiz-tutor-service/internal/domain"
)

type WSHandler struct {
	service  *app.QuizService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.QuizService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type startPayload struct {
	Subject          string `json:"subject"`
	Subtopic         string `json:"subtopic"`
	Difficulty       string `json:"difficulty"`
	QuestionLimit    int    `json:"questionLimit"`
	TimeLimitSeconds int    `json:"timeLimitSeconds"`
}

type answerPayload struct {
	Index *int `json:"index"`
}

type resultsPayload struct {
	Summary domain.ScoreSummary   `json:"summary"`
	History []domain.AnswerRecord `json:"history"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// ServeWS upgrades HTTP requests to websockets and binds each connection to a quiz session.
// Passing ?sessionId= reattaches to a session that is still alive.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	var session *app.Session
	if id := r.URL.Query().Get("sessionId"); id != "" {
		var err error
		session, err = h.service.Resume(id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
	} else {
		session = h.service.Open()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancelIntents := context.WithCancel(r.Context())
	events, unsubscribe := session.Subscribe()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})
	var intents sync.WaitGroup

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				// keep draining so producers never block on a dead connection
				for range send {
				}
				return
			}
		}
	}()

	go func() {
		defer close(eventsDone)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: string(ev.Type), Payload: ev}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	reply := func(typ string, payload any) {
		select {
		case send <- outboundMessage[any]{Type: typ, Payload: payload}:
		case <-closeSignals:
		}
	}
	replyError := func(info *domain.ErrorInfo) {
		reply(string(domain.EventError), domain.Event{Type: domain.EventError, SessionID: session.ID(), Error: info})
	}
	fail := func(err error) {
		// fetch failures and stale results are already reported through session events
		if errors.Is(err, domain.ErrGenerationFailed) || errors.Is(err, domain.ErrStaleResult) {
			return
		}
		replyError(domain.NewErrorInfo(err))
	}
	// provider-bound intents run off the read loop so reset can interrupt them
	async := func(fn func()) {
		intents.Add(1)
		go func() {
			defer intents.Done()
			fn()
		}()
	}

	reply("session", session.Snapshot())

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "start":
			var p startPayload
			if err := json.Unmarshal(inbound.Payload, &p); err != nil {
				replyError(&domain.ErrorInfo{Kind: "InvalidConfig", Message: "invalid start payload"})
				continue
			}
			cfg := domain.SessionConfig{
				Subject:          p.Subject,
				Subtopic:         p.Subtopic,
				Difficulty:       domain.Difficulty(p.Difficulty),
				QuestionLimit:    p.QuestionLimit,
				TimeLimitSeconds: p.TimeLimitSeconds,
			}
			async(func() {
				if _, _, err := h.service.Start(ctx, session, cfg); err != nil {
					fail(err)
				}
			})
		case "answer":
			var p answerPayload
			if err := json.Unmarshal(inbound.Payload, &p); err != nil || p.Index == nil {
				replyError(&domain.ErrorInfo{Kind: "InvalidAnswerIndex", Message: "invalid answer payload"})
				continue
			}
			idx := *p.Index
			async(func() {
				if _, err := session.SubmitAnswer(ctx, idx); err != nil {
					fail(err)
				}
			})
		case "advance":
			async(func() {
				if _, _, err := h.service.Advance(ctx, session); err != nil {
					fail(err)
				}
			})
		case "next":
			async(func() {
				if _, _, err := h.service.Next(ctx, session); err != nil {
					fail(err)
				}
			})
		case "reset":
			session.Reset()
			reply("session", session.Snapshot())
		case "results":
			summary, err := session.Results()
			if err != nil {
				fail(err)
				continue
			}
			reply("results", resultsPayload{Summary: summary, History: session.History()})
		default:
			replyError(&domain.ErrorInfo{Kind: "InvalidState", Message: "unsupported message type"})
		}
	}

	cancelIntents()
	intents.Wait()
	close(closeSignals)
	<-eventsDone
	unsubscribe()
	close(send)
	<-writerDone

	// in-progress sessions stay registered so the client can reconnect with sessionId
	if snap := session.Snapshot(); snap.State != domain.StateInProgress {
		h.service.Close(session.ID())
	}
}
