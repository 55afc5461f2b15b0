package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Message types of the game protocol.
const (
	TypeJoin      = "join"
	TypeLeave     = "leave"
	TypeStart     = "start"
	TypeGameStart = "game_start"
)

// Player marks.
const (
	MarkX = "X"
	MarkO = "O"
)

// ErrUnexpectedMessage is returned by Expect when a different message type arrives first.
var ErrUnexpectedMessage = errors.New("unexpected message")

// Envelope is the JSON frame exchanged in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// GameStart is the payload of a game_start message.
type GameStart struct {
	GameID   string `json:"game_id"`
	YourRole string `json:"your_role"`
	Opponent string `json:"opponent"`
	Turn     string `json:"turn"`
}

// Valid reports whether the role and turn are legal marks.
func (g GameStart) Valid() bool {
	return isMark(g.YourRole) && isMark(g.Turn)
}

func isMark(s string) bool { return s == MarkX || s == MarkO }

// Client is a single websocket player connection. Writes are serialized;
// Next must be called from one goroutine at a time.
type Client struct {
	conn *websocket.Conn
	wmu  sync.Mutex
	name string
}

// Dial connects to a game server websocket URL such as ws://localhost:9000/ws.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Client{conn: conn}, nil
}

// Name returns the name sent with the last Join.
func (c *Client) Name() string { return c.name }

// Send writes one envelope with data marshalled as its payload.
// A nil data sends an empty object.
func (c *Client) Send(typ string, data any) error {
	if data == nil {
		data = struct{}{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteJSON(Envelope{Type: typ, Data: raw})
}

func (c *Client) Join(name string) error {
	c.name = name
	return c.Send(TypeJoin, map[string]string{"name": name})
}

func (c *Client) Leave() error { return c.Send(TypeLeave, nil) }

func (c *Client) Start() error { return c.Send(TypeStart, nil) }

// Next reads the next envelope, waiting at most timeout.
func (c *Client) Next(timeout time.Duration) (Envelope, error) {
	var env Envelope
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return env, err
	}
	if err := c.conn.ReadJSON(&env); err != nil {
		return env, err
	}
	return env, nil
}

// Expect reads the next envelope and fails unless it has type typ.
func (c *Client) Expect(typ string, timeout time.Duration) (Envelope, error) {
	env, err := c.Next(timeout)
	if err != nil {
		return env, err
	}
	if env.Type != typ {
		return env, fmt.Errorf("%w: got %q, want %q", ErrUnexpectedMessage, env.Type, typ)
	}
	return env, nil
}

// ExpectGameStart waits for a game_start message and decodes it.
func (c *Client) ExpectGameStart(timeout time.Duration) (GameStart, error) {
	var gs GameStart
	env, err := c.Expect(TypeGameStart, timeout)
	if err != nil {
		return gs, err
	}
	if err := json.Unmarshal(env.Data, &gs); err != nil {
		return gs, fmt.Errorf("decode game_start: %w", err)
	}
	return gs, nil
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.wmu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.conn.Close()
}
