// Package client is a typed REST client for the teamsync API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/splax/teamsync/pkg/protocol"
)

// Client provides typed access to the teamsync API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// BaseURL returns the normalised API root.
func (c *Client) BaseURL() string { return c.baseURL }

// RealtimeURL returns the websocket endpoint carrying token as a query parameter.
func (c *Client) RealtimeURL(token string) string {
	u := c.baseURL + "/ws"
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

// APIError represents an error response from the API. Code carries the
// denial reason for 403 responses.
type APIError struct {
	Status  int
	Message string
	Code    string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("api request failed (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// StatusOf returns the HTTP status carried by err, or 0 when err is not an APIError.
func StatusOf(err error) int {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return extractError(resp.StatusCode, resp.Body)
	}
	if v == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(status int, body io.Reader) APIError {
	out := APIError{Status: status}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return out
	}
	var payload protocol.APIError
	if err := json.Unmarshal(data, &payload); err != nil {
		out.Message = strings.TrimSpace(string(data))
		return out
	}
	out.Message = strings.TrimSpace(payload.Error)
	out.Code = payload.Code
	return out
}

func teamPath(teamID string, rest ...string) string {
	parts := []string{"/teams", url.PathEscape(teamID)}
	for _, r := range rest {
		parts = append(parts, url.PathEscape(r))
	}
	return strings.Join(parts, "/")
}

// Signup registers an account and returns its first token pair.
func (c *Client) Signup(ctx context.Context, email, name, password string) (protocol.AuthResponse, error) {
	var resp protocol.AuthResponse
	body := protocol.Credentials{Email: email, Name: name, Password: password}
	if err := c.do(ctx, http.MethodPost, "/auth/signup", body, "", &resp); err != nil {
		return protocol.AuthResponse{}, err
	}
	return resp, nil
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (protocol.AuthResponse, error) {
	var resp protocol.AuthResponse
	body := protocol.Credentials{Email: email, Password: password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, "", &resp); err != nil {
		return protocol.AuthResponse{}, err
	}
	return resp, nil
}

// Refresh trades a refresh token for a new pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (protocol.AuthResponse, error) {
	var resp protocol.AuthResponse
	body := protocol.RefreshRequest{RefreshToken: refreshToken}
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", body, "", &resp); err != nil {
		return protocol.AuthResponse{}, err
	}
	return resp, nil
}

// ListTeams returns all teams for the authenticated user.
func (c *Client) ListTeams(ctx context.Context, token string) ([]protocol.Team, error) {
	var teams []protocol.Team
	if err := c.do(ctx, http.MethodGet, "/teams", nil, token, &teams); err != nil {
		return nil, err
	}
	return teams, nil
}

// CreateTeam creates a team owned by the authenticated user.
func (c *Client) CreateTeam(ctx context.Context, token string, input protocol.CreateTeamRequest) (protocol.Team, error) {
	var team protocol.Team
	if err := c.do(ctx, http.MethodPost, "/teams", input, token, &team); err != nil {
		return protocol.Team{}, err
	}
	return team, nil
}

// GetTeam fetches one team.
func (c *Client) GetTeam(ctx context.Context, token, teamID string) (protocol.Team, error) {
	var team protocol.Team
	if err := c.do(ctx, http.MethodGet, teamPath(teamID), nil, token, &team); err != nil {
		return protocol.Team{}, err
	}
	return team, nil
}

// UpdateTeam changes a team's name or description.
func (c *Client) UpdateTeam(ctx context.Context, token, teamID string, updates protocol.TeamUpdates) (protocol.Team, error) {
	var team protocol.Team
	if err := c.do(ctx, http.MethodPatch, teamPath(teamID), updates, token, &team); err != nil {
		return protocol.Team{}, err
	}
	return team, nil
}

// DeleteTeam removes a team and its memberships.
func (c *Client) DeleteTeam(ctx context.Context, token, teamID string) error {
	return c.do(ctx, http.MethodDelete, teamPath(teamID), nil, token, nil)
}

// ListMembers returns a team's memberships in join order.
func (c *Client) ListMembers(ctx context.Context, token, teamID string) ([]protocol.Member, error) {
	var members []protocol.Member
	if err := c.do(ctx, http.MethodGet, teamPath(teamID, "members"), nil, token, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// AddMember adds a user to the team by id or email.
func (c *Client) AddMember(ctx context.Context, token, teamID string, input protocol.AddMemberRequest) (protocol.Member, error) {
	var member protocol.Member
	if err := c.do(ctx, http.MethodPost, teamPath(teamID, "members"), input, token, &member); err != nil {
		return protocol.Member{}, err
	}
	return member, nil
}

// ChangeRole sets a member's role.
func (c *Client) ChangeRole(ctx context.Context, token, teamID, memberID, role string) (protocol.Member, error) {
	var member protocol.Member
	body := protocol.ChangeRoleRequest{Role: role}
	if err := c.do(ctx, http.MethodPatch, teamPath(teamID, "members", memberID), body, token, &member); err != nil {
		return protocol.Member{}, err
	}
	return member, nil
}

// RemoveMember deletes a membership.
func (c *Client) RemoveMember(ctx context.Context, token, teamID, memberID string) error {
	return c.do(ctx, http.MethodDelete, teamPath(teamID, "members", memberID), nil, token, nil)
}
