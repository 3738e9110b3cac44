package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/talgya/war-room/internal/engine"
	"github.com/talgya/war-room/internal/game"
)

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode body: %v: %w", err, game.ErrInvalidArgument)
	}
	return nil
}

func sessionID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

func playerID(r *http.Request) string {
	return r.Header.Get(PlayerHeader)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"name":      "war-room",
		"version":   s.Version,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"readiness": s.Engine.Readiness,
		"scenarios": len(s.Scenarios.List()),
	})
}

func (s *Server) handleScenarios(w http.ResponseWriter, r *http.Request) {
	type scenarioEntry struct {
		Code        string   `json:"code"`
		Name        string   `json:"name"`
		MaxPlayers  int      `json:"max_players"`
		Nations     []string `json:"nations"`
		Territories int      `json:"territories"`
	}
	list := s.Scenarios.List()
	out := make([]scenarioEntry, 0, len(list))
	for _, sc := range list {
		out = append(out, scenarioEntry{
			Code:        sc.Code,
			Name:        sc.Name,
			MaxPlayers:  sc.MaxPlayers,
			Nations:     sc.Nations,
			Territories: len(sc.Territories),
		})
	}
	writeJSON(w, out)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Scenario string `json:"scenario"`
		HostName string `json:"host_name"`
	}
	if err := decode(r, &body); err != nil {
		fail(w, r, err)
		return
	}
	sess, host, err := s.Engine.CreateSession(r.Context(), engine.CreateRequest{
		Name:     body.Name,
		Scenario: body.Scenario,
		HostID:   playerID(r),
		HostName: body.HostName,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, map[string]any{"session": sess, "player": host})
}

func (s *Server) handleLobby(w http.ResponseWriter, r *http.Request) {
	view, err := s.Engine.Lobby(r.Context(), sessionID(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, view)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DisplayName string `json:"display_name"`
	}
	if err := decode(r, &body); err != nil {
		fail(w, r, err)
		return
	}
	p, created, err := s.Engine.JoinSession(r.Context(), sessionID(r), playerID(r), body.DisplayName)
	if err != nil {
		fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSONStatus(w, status, map[string]any{"player": p, "created": created})
}

func (s *Server) handleAssignNation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PlayerID string `json:"player_id"`
		Nation   string `json:"nation"`
	}
	if err := decode(r, &body); err != nil {
		fail(w, r, err)
		return
	}
	if err := s.Engine.AssignNation(r.Context(), sessionID(r), body.PlayerID, body.Nation, true); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"player_id": body.PlayerID, "nation": game.NormalizeKey(body.Nation)})
}

func (s *Server) handleCurrentNation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Nation string `json:"nation"`
	}
	if err := decode(r, &body); err != nil {
		fail(w, r, err)
		return
	}
	if err := s.Engine.SetCurrentNation(r.Context(), sessionID(r), playerID(r), body.Nation); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"player_id": playerID(r), "current_nation": game.NormalizeKey(body.Nation)})
}

func (s *Server) handleMaxPlayers(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MaxPlayers int `json:"max_players"`
	}
	if err := decode(r, &body); err != nil {
		fail(w, r, err)
		return
	}
	sess, err := s.Engine.SetMaxPlayers(r.Context(), sessionID(r), body.MaxPlayers, true)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, sess)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Engine.StartSession(r.Context(), sessionID(r), true)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, sess)
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.FinishSession(r.Context(), sessionID(r), true); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"status": game.StatusFinished})
}

// handlePhaseStatus reads ?round=&phase=, defaulting to the live turn.
func (s *Server) handlePhaseStatus(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	q := r.URL.Query()

	var turn game.Turn
	if q.Get("round") == "" && q.Get("phase") == "" {
		view, err := s.Engine.Lobby(r.Context(), id)
		if err != nil {
			fail(w, r, err)
			return
		}
		turn = view.Session.Turn()
	} else {
		round, err := strconv.Atoi(q.Get("round"))
		if err != nil {
			fail(w, r, fmt.Errorf("round %q: %w", q.Get("round"), game.ErrInvalidArgument))
			return
		}
		phase, err := game.ParsePhase(q.Get("phase"))
		if err != nil {
			fail(w, r, fmt.Errorf("%v: %w", err, game.ErrInvalidArgument))
			return
		}
		turn = game.Turn{Round: round, Phase: phase}
	}

	status, err := s.Engine.GetPhaseStatus(r.Context(), id, turn.Round, turn.Phase)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"round": turn.Round, "phase": turn.Phase, "nations": status})
}

type commitBody struct {
	Nation string `json:"nation"`
	Round  int    `json:"round"`
	Phase  string `json:"phase"`
}

// commitRequest builds a commit for the calling player. Over HTTP the
// player header is required so every change is attributed.
func (s *Server) commitRequest(r *http.Request) (engine.CommitRequest, error) {
	if playerID(r) == "" {
		return engine.CommitRequest{}, fmt.Errorf("%s header is required: %w", PlayerHeader, game.ErrInvalidArgument)
	}
	var body commitBody
	if err := decode(r, &body); err != nil {
		return engine.CommitRequest{}, err
	}
	phase, err := game.ParsePhase(body.Phase)
	if err != nil {
		return engine.CommitRequest{}, fmt.Errorf("%v: %w", err, game.ErrInvalidPhase)
	}
	return engine.CommitRequest{
		SessionID: sessionID(r),
		Faction:   body.Nation,
		Round:     body.Round,
		Phase:     phase,
		PlayerID:  playerID(r),
	}, nil
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	req, err := s.commitRequest(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	res, err := s.Engine.CommitPhase(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleUncommit(w http.ResponseWriter, r *http.Request) {
	req, err := s.commitRequest(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	res, err := s.Engine.UncommitPhase(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	res, err := s.Engine.AdvancePhase(r.Context(), sessionID(r), true)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handlePreviewIncome(w http.ResponseWriter, r *http.Request) {
	p, err := s.Engine.PreviewIncome(r.Context(), sessionID(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, p)
}

// handleApplyIncome applies the round in the body, or the live round when
// none is given.
func (s *Server) handleApplyIncome(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Round int `json:"round"`
	}
	if err := decode(r, &body); err != nil {
		fail(w, r, err)
		return
	}
	id := sessionID(r)
	if body.Round == 0 {
		view, err := s.Engine.Lobby(r.Context(), id)
		if err != nil {
			fail(w, r, err)
			return
		}
		body.Round = view.Session.Round
	}
	res, err := s.Engine.ApplyIncome(r.Context(), id, body.Round)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fail(w, r, fmt.Errorf("limit %q: %w", v, game.ErrInvalidArgument))
			return
		}
		limit = n
	}
	entries, err := s.Engine.SessionLog(r.Context(), sessionID(r), limit)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, entries)
}

// handleStream upgrades to a websocket that signals session changes.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if _, err := s.Engine.Lobby(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	s.Hub.ServeWS(w, r, id)
}
