// Package client is a typed HTTP client for the war room API, used by the
// warctl command line tool.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/war-room/internal/engine"
	"github.com/talgya/war-room/internal/game"
)

// PlayerHeader carries the caller's player id.
const PlayerHeader = "X-Player-ID"

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	Status  int      `json:"-"`
	Code    string   `json:"error"`
	Message string   `json:"message"`
	Pending []string `json:"pending,omitempty"`
}

func (e *APIError) Error() string {
	if len(e.Pending) > 0 {
		return fmt.Sprintf("%s (%d): %s [pending: %s]", e.Code, e.Status, e.Message, strings.Join(e.Pending, ", "))
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Unwrap maps the wire code back to the shared error values so callers can
// use errors.Is across the network.
func (e *APIError) Unwrap() error {
	return codeErrors[e.Code]
}

var codeErrors = map[string]error{
	"not_found":         game.ErrNotFound,
	"not_host":          game.ErrNotHost,
	"not_controller":    game.ErrNotController,
	"invalid_phase":     game.ErrInvalidPhase,
	"already_locked":    game.ErrAlreadyLocked,
	"not_all_committed": game.ErrNotAllCommitted,
	"not_active":        game.ErrNotActive,
	"not_lobby":         game.ErrNotLobby,
	"session_full":      game.ErrSessionFull,
	"already_finished":  game.ErrAlreadyFinished,
	"bad_request":       game.ErrInvalidArgument,
}

// Status mirrors GET /api/v1/status.
type Status struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
	Readiness string `json:"readiness"`
	Scenarios int    `json:"scenarios"`
}

// ScenarioInfo mirrors items from GET /api/v1/scenarios.
type ScenarioInfo struct {
	Code        string   `json:"code"`
	Name        string   `json:"name"`
	MaxPlayers  int      `json:"max_players"`
	Nations     []string `json:"nations"`
	Territories int      `json:"territories"`
}

// Created is the response to creating a session.
type Created struct {
	Session game.Session `json:"session"`
	Player  game.Player  `json:"player"`
}

// PhaseStatus mirrors GET /api/v1/sessions/{id}/phase-status.
type PhaseStatus struct {
	Round   int                         `json:"round"`
	Phase   game.Phase                  `json:"phase"`
	Nations map[string]game.PhaseStatus `json:"nations"`
}

// Client talks to one war room server as one player.
type Client struct {
	BaseURL    string
	PlayerID   string
	HTTPClient *http.Client
}

// New creates a Client targeting the given API base URL.
func New(baseURL, playerID string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		PlayerID: playerID,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	return &out, c.do(ctx, http.MethodGet, "/status", nil, &out)
}

func (c *Client) Scenarios(ctx context.Context) ([]ScenarioInfo, error) {
	var out []ScenarioInfo
	return out, c.do(ctx, http.MethodGet, "/scenarios", nil, &out)
}

// CreateSession creates a session hosted by the client's player.
func (c *Client) CreateSession(ctx context.Context, name, scenario, hostName string) (*Created, error) {
	var out Created
	body := map[string]string{"name": name, "scenario": scenario, "host_name": hostName}
	return &out, c.do(ctx, http.MethodPost, "/sessions", body, &out)
}

func (c *Client) Lobby(ctx context.Context, sessionID string) (*engine.LobbyView, error) {
	var out engine.LobbyView
	return &out, c.do(ctx, http.MethodGet, sessionPath(sessionID, ""), nil, &out)
}

func (c *Client) Join(ctx context.Context, sessionID, displayName string) (*game.Player, error) {
	var out struct {
		Player game.Player `json:"player"`
	}
	body := map[string]string{"display_name": displayName}
	if err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "/join"), body, &out); err != nil {
		return nil, err
	}
	return &out.Player, nil
}

func (c *Client) AssignNation(ctx context.Context, sessionID, playerID, nation string) error {
	body := map[string]string{"player_id": playerID, "nation": nation}
	return c.do(ctx, http.MethodPost, sessionPath(sessionID, "/nations"), body, nil)
}

// SetCurrentNation switches the nation the client's player acts as.
func (c *Client) SetCurrentNation(ctx context.Context, sessionID, nation string) error {
	body := map[string]string{"nation": nation}
	return c.do(ctx, http.MethodPost, sessionPath(sessionID, "/current-nation"), body, nil)
}

func (c *Client) SetMaxPlayers(ctx context.Context, sessionID string, n int) (*game.Session, error) {
	var out game.Session
	body := map[string]int{"max_players": n}
	return &out, c.do(ctx, http.MethodPost, sessionPath(sessionID, "/max-players"), body, &out)
}

func (c *Client) Start(ctx context.Context, sessionID string) (*game.Session, error) {
	var out game.Session
	return &out, c.do(ctx, http.MethodPost, sessionPath(sessionID, "/start"), nil, &out)
}

func (c *Client) Finish(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, sessionPath(sessionID, "/finish"), nil, nil)
}

// PhaseStatus reads readiness for a turn. A zero turn means the live one.
func (c *Client) PhaseStatus(ctx context.Context, sessionID string, turn game.Turn) (*PhaseStatus, error) {
	path := sessionPath(sessionID, "/phase-status")
	if turn.Round > 0 {
		q := url.Values{}
		q.Set("round", strconv.Itoa(turn.Round))
		q.Set("phase", string(turn.Phase))
		path += "?" + q.Encode()
	}
	var out PhaseStatus
	return &out, c.do(ctx, http.MethodGet, path, nil, &out)
}

func (c *Client) Commit(ctx context.Context, sessionID, nation string, turn game.Turn) (*engine.CommitResult, error) {
	return c.setStatus(ctx, sessionPath(sessionID, "/commit"), nation, turn)
}

func (c *Client) Uncommit(ctx context.Context, sessionID, nation string, turn game.Turn) (*engine.CommitResult, error) {
	return c.setStatus(ctx, sessionPath(sessionID, "/uncommit"), nation, turn)
}

func (c *Client) setStatus(ctx context.Context, path, nation string, turn game.Turn) (*engine.CommitResult, error) {
	body := map[string]any{"nation": nation, "round": turn.Round, "phase": turn.Phase}
	var out engine.CommitResult
	return &out, c.do(ctx, http.MethodPost, path, body, &out)
}

func (c *Client) Advance(ctx context.Context, sessionID string) (*engine.AdvanceResult, error) {
	var out engine.AdvanceResult
	return &out, c.do(ctx, http.MethodPost, sessionPath(sessionID, "/advance"), nil, &out)
}

func (c *Client) PreviewIncome(ctx context.Context, sessionID string) (*engine.IncomePreview, error) {
	var out engine.IncomePreview
	return &out, c.do(ctx, http.MethodGet, sessionPath(sessionID, "/income"), nil, &out)
}

// ApplyIncome applies income for round, or the live round when round is 0.
func (c *Client) ApplyIncome(ctx context.Context, sessionID string, round int) (*engine.IncomeResult, error) {
	var body any
	if round > 0 {
		body = map[string]int{"round": round}
	}
	var out engine.IncomeResult
	return &out, c.do(ctx, http.MethodPost, sessionPath(sessionID, "/income/apply"), body, &out)
}

func (c *Client) Log(ctx context.Context, sessionID string, limit int) ([]game.LogEntry, error) {
	path := sessionPath(sessionID, "/log")
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []game.LogEntry
	return out, c.do(ctx, http.MethodGet, path, nil, &out)
}

func sessionPath(sessionID, suffix string) string {
	return "/sessions/" + url.PathEscape(sessionID) + suffix
}

// do sends body as JSON and decodes a 2xx response into target.
func (c *Client) do(ctx context.Context, method, path string, body, target any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+"/api/v1"+path, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.PlayerID != "" {
		req.Header.Set(PlayerHeader, c.PlayerID)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(respBody, apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = "http_error"
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return apiErr
	}

	if target == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
