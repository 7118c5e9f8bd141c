package cli

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

	"marketsim/internal/archive"
	"marketsim/internal/game"
	"marketsim/internal/scenario"
	"marketsim/internal/sim"
)

// Client talks to a msim API server.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   strings.TrimSpace(token),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Scenarios(ctx context.Context) ([]scenario.Scenario, error) {
	var out struct {
		Scenarios []scenario.Scenario `json:"scenarios"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/scenarios", nil, &out, "")
	return out.Scenarios, err
}

func (c *Client) CreateGame(ctx context.Context, name, scenarioID string, rivals int) (game.Game, error) {
	var out game.Game
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/games", map[string]any{
		"name":        name,
		"scenario_id": scenarioID,
		"rivals":      rivals,
	}, &out, "")
	return out, err
}

func (c *Client) Game(ctx context.Context, gameID string) (game.Game, error) {
	var out game.Game
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/games/"+url.PathEscape(gameID), nil, &out, "")
	return out, err
}

func (c *Client) JoinGame(ctx context.Context, code, teamName, idem string) (game.Team, error) {
	var out game.Team
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/games/join", map[string]any{
		"code":      code,
		"team_name": teamName,
	}, &out, idem)
	return out, err
}

func (c *Client) Team(ctx context.Context, teamID string) (game.Team, error) {
	var out game.Team
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/teams/"+url.PathEscape(teamID), nil, &out, "")
	return out, err
}

func (c *Client) CreateBrand(ctx context.Context, teamID, name, target string, comps sim.Components, rd int64, idem string) (game.Brand, error) {
	var out game.Brand
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/teams/"+url.PathEscape(teamID)+"/brands", map[string]any{
		"name":           name,
		"target_segment": target,
		"components":     comps,
		"rd_investment":  rd,
	}, &out, idem)
	return out, err
}

func (c *Client) ListBrands(ctx context.Context, teamID string, all bool) ([]game.Brand, error) {
	path := "/v1/teams/" + url.PathEscape(teamID) + "/brands"
	if all {
		path += "?all=true"
	}
	var out struct {
		Brands []game.Brand `json:"brands"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out, "")
	return out.Brands, err
}

// SubmitDecision sends the raw decision document as is; the server
// validates it.
func (c *Client) SubmitDecision(ctx context.Context, teamID string, round int, final bool, decision json.RawMessage, idem string) (game.DecisionRecord, error) {
	var out game.DecisionRecord
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/teams/"+url.PathEscape(teamID)+"/decisions", map[string]any{
		"round":    round,
		"final":    final,
		"decision": decision,
	}, &out, idem)
	return out, err
}

func (c *Client) Advance(ctx context.Context, gameID string, force bool) (game.RoundSummary, error) {
	var out game.RoundSummary
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/games/"+url.PathEscape(gameID)+"/advance", map[string]any{
		"force": force,
	}, &out, "")
	return out, err
}

func (c *Client) Leaderboard(ctx context.Context, gameID string) ([]game.LeaderboardRow, error) {
	var out struct {
		Rows []game.LeaderboardRow `json:"rows"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/games/"+url.PathEscape(gameID)+"/leaderboard", nil, &out, "")
	return out.Rows, err
}

func (c *Client) TeamResults(ctx context.Context, teamID string) ([]sim.RoundResult, error) {
	var out struct {
		Results []sim.RoundResult `json:"results"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/teams/"+url.PathEscape(teamID)+"/results", nil, &out, "")
	return out.Results, err
}

func (c *Client) Research(ctx context.Context, gameID string, round int) (sim.MarketResearch, error) {
	var out sim.MarketResearch
	path := "/v1/games/" + url.PathEscape(gameID) + "/rounds/" + strconv.Itoa(round) + "/research"
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out, "")
	return out, err
}

// Export downloads and decodes the game's compressed archive.
func (c *Client) Export(ctx context.Context, gameID string) (game.Archive, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/games/"+url.PathEscape(gameID)+"/export", nil)
	if err != nil {
		return game.Archive{}, err
	}
	c.authorize(req)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return game.Archive{}, err
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return game.Archive{}, err
	}
	return archive.Read(resp.Body)
}

func (c *Client) authorize(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

func statusError(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}
	return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
