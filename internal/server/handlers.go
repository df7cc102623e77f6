package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"mandalaquest/internal/challenge"
	"mandalaquest/internal/progression"
	"mandalaquest/internal/session"
	"mandalaquest/internal/teams"
	"mandalaquest/internal/wshub"
)

type Server struct {
	Teams    *teams.Store
	Registry *prometheus.Registry // nil disables /metrics
	Logger   *slog.Logger
}

func (s *Server) log() *slog.Logger {
	return logOrDefault(s.Logger)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("writing response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrWrongPhase), errors.Is(err, progression.ErrLocked):
		return http.StatusConflict
	case errors.Is(err, challenge.ErrUnknownVariant), errors.Is(err, progression.ErrUnknownTeam):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// getTeam resolves the instance named by the {code} path segment.
func (s *Server) getTeam(w http.ResponseWriter, r *http.Request) *teams.Instance {
	code := strings.ToUpper(r.PathValue("code"))
	in := s.Teams.Get(code)
	if in == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("team %q not found", code))
	}
	return in
}

func formLevel(r *http.Request) (int, error) {
	v := r.FormValue("level")
	if v == "" {
		return 0, nil
	}
	level, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid level %q", v)
	}
	return level, nil
}

func (s *Server) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	team, err := progression.ParseTeam(r.FormValue("team"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	in, err := s.Teams.Create(team)
	if err != nil {
		s.log().Error("create team", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.log().Info("team created", "team", team, "code", in.Code)
	writeJSON(w, http.StatusCreated, map[string]any{
		"code":  in.Code,
		"team":  in.Team,
		"color": in.Team.Color(),
	})
}

func (s *Server) handleDeleteTeam(w http.ResponseWriter, r *http.Request) {
	in := s.getTeam(w, r)
	if in == nil {
		return
	}
	s.Teams.Delete(in.Code)
	w.WriteHeader(http.StatusNoContent)
}

// handleChallenge selects the challenge for a level. Without a variant the
// level's default is used.
func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	in := s.getTeam(w, r)
	if in == nil {
		return
	}
	level, err := formLevel(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	variant := progression.VariantForLevel(level)
	if v := r.FormValue("variant"); v != "" {
		if variant, err = challenge.ParseVariant(v); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	}
	if !in.Progress.Unlocked(level, progression.Challenge) {
		err := fmt.Errorf("%w: finish the scroll and cipher of level %d first", progression.ErrLocked, level)
		writeError(w, statusFor(err), err)
		return
	}
	if err := in.Session.Setup(variant, level); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, in.Session.Snapshot())
}

func (s *Server) handleStage(w http.ResponseWriter, r *http.Request) {
	in := s.getTeam(w, r)
	if in == nil {
		return
	}
	level, err := formLevel(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	stage, err := progression.ParseStage(r.FormValue("stage"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if stage == progression.Challenge {
		writeError(w, http.StatusBadRequest, errors.New("challenges complete by playing them"))
		return
	}
	if err := in.Progress.Complete(level, stage); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, in.Progress.Progress())
}

func (s *Server) handleDecoded(w http.ResponseWriter, r *http.Request) {
	in := s.getTeam(w, r)
	if in == nil {
		return
	}
	in.Session.SetDecodedText(r.FormValue("text"))
	writeJSON(w, http.StatusOK, in.Session.Snapshot())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	in := s.getTeam(w, r)
	if in == nil {
		return
	}
	if err := in.Session.Begin(time.Now()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.log().Info("attempt started", "code", in.Code)
	writeJSON(w, http.StatusOK, in.Session.Snapshot())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	in := s.getTeam(w, r)
	if in == nil {
		return
	}
	in.Session.Reset()
	writeJSON(w, http.StatusOK, in.Session.Snapshot())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	in := s.getTeam(w, r)
	if in == nil {
		return
	}
	writeJSON(w, http.StatusOK, in.Session.Snapshot())
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	in := s.getTeam(w, r)
	if in == nil {
		return
	}
	writeJSON(w, http.StatusOK, in.Progress.Progress())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	in := s.getTeam(w, r)
	if in == nil {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	msgChan := in.Broadcaster.Subscribe()
	defer in.Broadcaster.Unsubscribe(msgChan)

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-msgChan:
			fmt.Fprintf(w, "event: %s\n", msg.Event)
			for _, line := range strings.Split(msg.Data, "\n") {
				fmt.Fprintf(w, "data: %s\n", line)
			}
			fmt.Fprint(w, "\n")
			flusher.Flush()
		}
	}
}

// handleWS streams snapshots to the client and accepts start, reset and
// decoded commands from it.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	in := s.getTeam(w, r)
	if in == nil {
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log().Warn("websocket accept", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	client := &wshub.Client{ID: uuid.NewString(), Conn: conn, Send: make(chan []byte, 32)}
	in.Hub.Register(client)
	defer in.Hub.Unregister(client.ID)
	go client.WritePump(ctx)

	if data, err := json.Marshal(in.Session.Snapshot()); err == nil {
		in.Hub.Send(client.ID, wshub.ServerMessage{Type: "state", Data: data})
	}

	err = client.ReadPump(ctx, func(msg wshub.ClientMessage) {
		var err error
		switch msg.Type {
		case "start":
			err = in.Session.Begin(time.Now())
		case "reset":
			in.Session.Reset()
		case "decoded":
			in.Session.SetDecodedText(msg.Text)
		default:
			err = fmt.Errorf("unknown command %q", msg.Type)
		}
		if err != nil {
			in.Hub.Send(client.ID, wshub.ServerMessage{Type: "error", Command: msg.Type, Error: err.Error()})
			return
		}
		in.Hub.BroadcastExcept(client.ID, wshub.ServerMessage{Type: "command", ClientID: client.ID, Command: msg.Type})
	})
	if websocket.CloseStatus(err) != websocket.StatusNormalClosure && ctx.Err() == nil {
		s.log().Debug("websocket closed", "code", in.Code, "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"teams":  len(s.Teams.List()),
	})
}
