package streamclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/noah-isme/civic-stream-api/pkg/channel"
)

// CloseResyncRequired is the close code the server uses when this client fell behind.
const CloseResyncRequired = 4000

// ErrResyncRequired reports that the server dropped the connection because
// events were missed.
var ErrResyncRequired = errors.New("streamclient: resync required")

// Conn is a subscription to the events of one stream.
type Conn interface {
	// Next blocks until an event arrives or the connection fails.
	Next() (channel.Event, error)
	Close() error
}

// Dialer opens event subscriptions.
type Dialer interface {
	Dial(ctx context.Context, streamID uint) (Conn, error)
}

// WebsocketDialer subscribes through GET /stream-chat/:id/ws.
type WebsocketDialer struct {
	// BaseURL is the API root using the ws or wss scheme, for example ws://host:8080/api/v1.
	BaseURL string
	Token   string
	Dialer  *websocket.Dialer
}

func (d WebsocketDialer) Dial(ctx context.Context, streamID uint) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}

	url := fmt.Sprintf("%s/stream-chat/%d/ws", strings.TrimRight(d.BaseURL, "/"), streamID)
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial stream socket: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("dial stream socket: %w", err)
	}
	return &websocketConn{conn: conn}, nil
}

type websocketConn struct {
	conn *websocket.Conn
}

func (c *websocketConn) Next() (channel.Event, error) {
	var event channel.Event
	if err := c.conn.ReadJSON(&event); err != nil {
		if websocket.IsCloseError(err, CloseResyncRequired) {
			return channel.Event{}, fmt.Errorf("%w: %v", ErrResyncRequired, err)
		}
		return channel.Event{}, err
	}
	return event, nil
}

func (c *websocketConn) Close() error {
	return c.conn.Close()
}
