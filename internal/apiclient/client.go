// Package apiclient talks to a running teamshuffle server over its JSON API.
package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Seednode/teamshuffle/internal/roster"
)

const DefaultTimeout = 10 * time.Second

// APIError is an error response of the server.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

type errorBody struct {
	Error *APIError `json:"error"`
}

// Failure is one rejected entry of a manual assignment.
type Failure struct {
	PlayerID roster.PlayerID `json:"playerId"`
	Code     string          `json:"code"`
	Message  string          `json:"message"`
}

type AssignResult struct {
	Teams    []roster.Team `json:"teams"`
	Failures []Failure     `json:"failures,omitempty"`
}

type Status struct {
	Status      string `json:"status"`
	Version     uint64 `json:"version"`
	Subscribers int    `json:"subscribers"`
}

type JoinLink struct {
	JoinURL string `json:"joinUrl"`
	QRCode  string `json:"qrCode"`
}

type Client struct {
	http *resty.Client
	base string
}

func New(server string) *Client {
	base := strings.TrimSuffix(server, "/")

	return &Client{
		http: resty.New().
			SetBaseURL(base).
			SetTimeout(DefaultTimeout).
			SetHeader("Accept", "application/json"),
		base: base,
	}
}

// Server returns the base URL requests are sent to.
func (c *Client) Server() string {
	return c.base
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var failure errorBody

	req := c.http.R().
		SetContext(ctx).
		SetError(&failure)
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.IsError() {
		if failure.Error == nil {
			return &APIError{
				Status:  resp.StatusCode(),
				Code:    "http",
				Message: strings.TrimSpace(resp.String()),
			}
		}
		failure.Error.Status = resp.StatusCode()
		return failure.Error
	}

	return nil
}

func (c *Client) Players(ctx context.Context) (roster.State, error) {
	var state roster.State
	err := c.do(ctx, http.MethodGet, "/api/players", nil, &state)
	return state, err
}

func (c *Client) Join(ctx context.Context, name string) (roster.Player, error) {
	var out struct {
		Player roster.Player `json:"player"`
	}
	err := c.do(ctx, http.MethodPost, "/api/players", map[string]string{"name": name}, &out)
	return out.Player, err
}

func (c *Client) Remove(ctx context.Context, id roster.PlayerID) error {
	return c.do(ctx, http.MethodDelete, "/api/players/"+url.PathEscape(string(id)), nil, nil)
}

func (c *Client) Shuffle(ctx context.Context, teamSize int) ([]roster.Team, error) {
	var out struct {
		Teams []roster.Team `json:"teams"`
	}
	err := c.do(ctx, http.MethodPost, "/api/teams/shuffle", map[string]int{"teamSize": teamSize}, &out)
	return out.Teams, err
}

// Assign applies a manual assignment. Rejected entries are reported in
// the result, not as an error.
func (c *Client) Assign(ctx context.Context, mapping roster.Assignment) (AssignResult, error) {
	var out AssignResult
	err := c.do(ctx, http.MethodPost, "/api/teams/manual", map[string]roster.Assignment{"assignments": mapping}, &out)
	return out, err
}

func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/reset", struct{}{}, nil)
}

func (c *Client) CreateTeam(ctx context.Context, name string) (roster.TeamEntity, error) {
	var out struct {
		Team roster.TeamEntity `json:"team"`
	}
	err := c.do(ctx, http.MethodPost, "/api/teams", map[string]string{"name": name}, &out)
	return out.Team, err
}

func (c *Client) RenameTeam(ctx context.Context, key roster.TeamKey, name string) (roster.TeamEntity, error) {
	var out struct {
		Team roster.TeamEntity `json:"team"`
	}
	err := c.do(ctx, http.MethodPatch, "/api/teams/"+strconv.Itoa(int(key)), map[string]string{"name": name}, &out)
	return out.Team, err
}

func (c *Client) DeleteTeam(ctx context.Context, key roster.TeamKey) error {
	return c.do(ctx, http.MethodDelete, "/api/teams/"+strconv.Itoa(int(key)), nil, nil)
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var out Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &out)
	return out, err
}

func (c *Client) JoinLink(ctx context.Context) (JoinLink, error) {
	var out JoinLink
	err := c.do(ctx, http.MethodGet, "/api/qrcode", nil, &out)
	return out, err
}
