package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sweeney/coffee-machine/internal/codec"
)

// Client is one websocket connection to the simulator.
type Client struct {
	conn  *websocket.Conn
	codec codec.Codec

	mu sync.Mutex // guards writes
}

// Dial connects to rawURL, asking the server for the given codec.
func Dial(ctx context.Context, rawURL, format string) (*Client, error) {
	c, err := codec.ByName(format)
	if err != nil {
		return nil, err
	}
	u, err := withFormat(rawURL, c.Name())
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	return &Client{conn: conn, codec: c}, nil
}

// withFormat sets ?format= on a websocket URL unless it is already present.
func withFormat(rawURL, format string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	q := u.Query()
	if q.Get("format") == "" {
		q.Set("format", format)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Send writes one command or record.
func (c *Client) Send(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

// Listen prints every frame to out until the connection closes or ctx is
// done. A normal close returns nil.
func (c *Client) Listen(ctx context.Context, out io.Writer) error {
	go func() {
		<-ctx.Done()
		c.conn.Close()
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		fmt.Fprintln(out, render(c.codec, data))
	}
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.conn.Close()
}

// render turns a frame into one human-readable line. Frames that cannot be
// decoded are shown as they arrived.
func render(c codec.Codec, data []byte) string {
	msg, err := c.Decode(data)
	if err != nil {
		return strings.TrimSpace(string(data))
	}
	text, err := codec.Text{}.Encode(msg)
	if err != nil {
		return strings.TrimSpace(string(data))
	}
	return string(text)
}

// record is a client-submitted coffee record.
type record struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Strength    int    `json:"strength"`
	Amount      int    `json:"amount"`
	CreatedDate string `json:"createdDate"`
}

var errUsage = errors.New("usage: record <type> <strength> [amount]")

// formatRecord builds the JSON for "record <type> <strength> [amount]".
func formatRecord(args []string, now time.Time) (string, error) {
	if len(args) < 2 || len(args) > 3 {
		return "", errUsage
	}
	strength, err := strconv.Atoi(args[1])
	if err != nil {
		return "", errUsage
	}
	amount := 1
	if len(args) == 3 {
		if amount, err = strconv.Atoi(args[2]); err != nil || amount <= 0 {
			return "", errUsage
		}
	}
	data, err := json.Marshal(record{
		ID:          uuid.NewString(),
		Type:        args[0],
		Strength:    strength,
		Amount:      amount,
		CreatedDate: now.Format(time.RFC3339),
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}
