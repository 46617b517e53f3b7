// Package client is an HTTP and WebSocket client for the battle server API.
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
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/beverage-bandits/internal/model"
)

// ErrClosed is returned when the event stream ends before the awaited event.
var ErrClosed = errors.New("event stream closed")

// Event mirrors handler.WSEvent for client-side deserialization.
type Event struct {
	Type     string          `json:"type"`
	BattleID string          `json:"battle_id"`
	Data     json.RawMessage `json:"data"`
}

// StatusError is returned for non-2xx responses. Body holds the raw response
// so callers can still decode a failed battle from a 422.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, bytes.TrimSpace(e.Body))
}

// Client talks to one server as one user.
type Client struct {
	name     string
	baseURL  string
	token    string
	userID   string
	wsConn   *websocket.Conn
	events   chan Event
	httpC    *http.Client
	mu       sync.Mutex
	closedWS bool
}

// New creates a client targeting the given server URL.
func New(name, baseURL string) *Client {
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		events:  make(chan Event, 256),
		httpC:   &http.Client{Timeout: 2 * time.Minute},
	}
}

// UserID returns the user ID after login.
func (c *Client) UserID() string { return c.userID }

// Login authenticates via the dev login endpoint.
func (c *Client) Login(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/dev?name="+url.QueryEscape(c.name), nil)
	if err != nil {
		return err
	}
	var tokens struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.do(req, "/auth/dev", &tokens); err != nil {
		return fmt.Errorf("dev login: %w", err)
	}
	c.token = tokens.AccessToken

	var user model.User
	if err := c.get(ctx, "/api/v1/users/me", &user); err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	c.userID = user.ID
	log.Debug().Str("client", c.name).Str("userId", c.userID).Msg("Client logged in")
	return nil
}

// CreateBattle submits a map. With async the server returns the running
// battle immediately.
func (c *Client) CreateBattle(ctx context.Context, mapText string, async bool) (*model.Battle, error) {
	var b model.Battle
	payload := map[string]any{"map": mapText, "async": async}
	if err := c.post(ctx, "/api/v1/battles", payload, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBattle fetches a battle.
func (c *Client) GetBattle(ctx context.Context, id string) (*model.Battle, error) {
	var b model.Battle
	if err := c.get(ctx, "/api/v1/battles/"+url.PathEscape(id), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ListRounds fetches the stored round history of a battle.
func (c *Client) ListRounds(ctx context.Context, id string) ([]model.Round, error) {
	var rounds []model.Round
	if err := c.get(ctx, "/api/v1/battles/"+url.PathEscape(id)+"/rounds", &rounds); err != nil {
		return nil, err
	}
	return rounds, nil
}

// ConnectWS opens a WebSocket connection and starts listening for events.
func (c *Client) ConnectWS(ctx context.Context) error {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/api/v1/ws?token=" + url.QueryEscape(c.token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("ws dial: %w", err)
	}
	c.wsConn = conn

	go c.readWSLoop()
	return nil
}

// Subscribe asks for events of the given battle.
func (c *Client) Subscribe(battleID string) error {
	msg := map[string]string{"action": "subscribe", "battle_id": battleID}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wsConn.WriteJSON(msg)
}

// Events returns the channel of incoming WebSocket events.
func (c *Client) Events() <-chan Event { return c.events }

// Await reads events until one of the given types arrives for battleID.
// Other events for the battle are passed to fn when it is not nil.
func (c *Client) Await(ctx context.Context, battleID string, fn func(Event), types ...string) (Event, error) {
	for {
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case ev, ok := <-c.events:
			if !ok {
				return Event{}, ErrClosed
			}
			if ev.BattleID != battleID {
				continue
			}
			for _, t := range types {
				if ev.Type == t {
					return ev, nil
				}
			}
			if fn != nil {
				fn(ev)
			}
		}
	}
}

// CloseWS closes the WebSocket connection.
func (c *Client) CloseWS() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wsConn != nil && !c.closedWS {
		c.closedWS = true
		c.wsConn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.wsConn.Close()
	}
}

func (c *Client) readWSLoop() {
	defer close(c.events)
	for {
		_, msg, err := c.wsConn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closedWS
			c.mu.Unlock()
			if !closed {
				log.Debug().Err(err).Str("client", c.name).Msg("WS read error")
			}
			return
		}
		var event Event
		if err := json.Unmarshal(msg, &event); err != nil {
			continue
		}
		c.events <- event
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, path, out)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, path string, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpC.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return &StatusError{Method: req.Method, Path: path, Status: resp.StatusCode, Body: body}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
