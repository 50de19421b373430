package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-chat/parley/internal/logging"
	"github.com/parley-chat/parley/internal/models"
)

// Credentials is the long-lived session credential, passed explicitly to
// the client rather than held in package state so nothing leaks across
// sessions and tests can construct clients freely.
type Credentials struct {
	APIKey string
}

// Client is a thin wrapper around the chat service HTTP API.
// Regular requests go through a timeout-bounded http.Client; the push
// channel uses a separate client with no overall timeout because the SSE
// response body is read for the lifetime of the connection and is bounded
// by the caller's context instead.
type Client struct {
	baseURL      string
	creds        Credentials
	httpClient   *http.Client
	streamClient *http.Client
	log          zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger attaches a logger to the client.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithHTTPClient replaces the default request client (tests mostly).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a new API client for the service at baseURL.
func NewClient(baseURL string, creds Credentials, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		creds:   creds,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		streamClient: &http.Client{},
		log:          logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// doRequest executes a JSON request against the API. It adds the credential
// header, marshals body when non-nil and unmarshals the response into out
// when non-nil.
func (c *Client) doRequest(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.creds.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// ListRooms retrieves all rooms visible to this credential.
func (c *Client) ListRooms(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	if err := c.doRequest(ctx, http.MethodGet, "/rooms", nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// GetRoom retrieves a room and its configured agents.
func (c *Client) GetRoom(ctx context.Context, roomID string) (*models.RoomInfoResponse, error) {
	var info models.RoomInfoResponse
	path := "/rooms/" + url.PathEscape(roomID)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetMessages retrieves the full message history of a room.
func (c *Client) GetMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	var resp models.GetMessagesResponse
	path := "/rooms/" + url.PathEscape(roomID) + "/messages"
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// PollMessages retrieves messages with id greater than sinceID.
func (c *Client) PollMessages(ctx context.Context, roomID string, sinceID int64) ([]models.Message, error) {
	var resp models.GetMessagesResponse
	path := "/rooms/" + url.PathEscape(roomID) + "/messages/poll?since_id=" + strconv.FormatInt(sinceID, 10)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// ChattingAgents retrieves the agents currently producing a turn, with the
// text they have accumulated so far.
func (c *Client) ChattingAgents(ctx context.Context, roomID string) ([]models.ChattingAgent, error) {
	var resp models.ChattingAgentsResponse
	path := "/rooms/" + url.PathEscape(roomID) + "/chatting-agents"
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.ChattingAgents, nil
}

// SendMessage submits a new human message to a room and returns the
// committed message the server persisted.
func (c *Client) SendMessage(ctx context.Context, roomID string, req models.SendMessageRequest) (*models.Message, error) {
	var msg models.Message
	path := "/rooms/" + url.PathEscape(roomID) + "/messages/send"
	if err := c.doRequest(ctx, http.MethodPost, path, req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SSETicket obtains a fresh single-use push-channel ticket for a room.
// Tickets are never cached; every reconnect cycle requests a new one.
func (c *Client) SSETicket(ctx context.Context, roomID string) (models.SSETicketResponse, error) {
	var ticket models.SSETicketResponse
	path := "/rooms/" + url.PathEscape(roomID) + "/sse-ticket"
	if err := c.doRequest(ctx, http.MethodPost, path, nil, &ticket); err != nil {
		return models.SSETicketResponse{}, err
	}
	return ticket, nil
}

// OpenStream opens the push channel for a room. The ticket is the only
// credential on the wire here; the session key is deliberately kept off
// the stream URL. The returned body stays open until closed by the caller
// or the context is cancelled.
func (c *Client) OpenStream(ctx context.Context, roomID, ticket string) (io.ReadCloser, error) {
	streamURL := c.baseURL + "/rooms/" + url.PathEscape(roomID) + "/stream?ticket=" + url.QueryEscape(ticket)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream request failed: %w", err)
	}

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("stream error (status %d): %s", resp.StatusCode, string(body))
	}

	return resp.Body, nil
}
