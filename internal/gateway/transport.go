package gateway

import (
	"context"
	"fmt"

	"github.com/coder/websocket"
)

// readLimit bounds a single inbound frame. READY and GUILD_CREATE payloads for
// large guilds exceed the websocket library default of 32 KiB.
const readLimit = 8 << 20

// Transport is a full-duplex text frame connection to the gateway.
// Read and Write may be called concurrently from one reader and one writer.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, frame []byte) error
	Close(reason string) error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WSDialer dials the gateway over websocket.
type WSDialer struct {
	Options *websocket.DialOptions
}

// Dial opens a websocket connection to url.
func (d WSDialer) Dial(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, url, d.Options)
	if err != nil {
		return nil, fmt.Errorf("dialing gateway: %w", err)
	}
	conn.SetReadLimit(readLimit)
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	typ, data, err := t.conn.Read(ctx)
	if err != nil {
		if status := websocket.CloseStatus(err); status != -1 {
			return nil, fmt.Errorf("gateway closed connection (%d): %w", status, err)
		}
		return nil, fmt.Errorf("read: %w", err)
	}
	if typ != websocket.MessageText {
		return nil, fmt.Errorf("unexpected %s frame", typ)
	}
	return data, nil
}

func (t *wsTransport) Write(ctx context.Context, frame []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, frame)
}

func (t *wsTransport) Close(reason string) error {
	return t.conn.Close(websocket.StatusNormalClosure, reason)
}
