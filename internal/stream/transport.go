package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
)

// Transport is one live push connection. The manager owns at most one at
// a time; a fake implementation backs the tests.
type Transport interface {
	// ReadFrame blocks until the next raw frame arrives
	ReadFrame(ctx context.Context) ([]byte, error)
	// Close releases the underlying socket
	Close() error
}

// DialFunc establishes a transport to the given endpoint
type DialFunc func(ctx context.Context, endpoint, credential string) (Transport, error)

// wsTransport is the production transport over a websocket
type wsTransport struct {
	conn *websocket.Conn
}

// DialWebsocket connects to the endpoint with the credential applied as a
// bearer token. http(s) schemes are rewritten to ws(s).
func DialWebsocket(ctx context.Context, endpoint, credential string) (Transport, error) {
	u, err := wsURL(endpoint)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	if credential != "" {
		headers.Set("Authorization", "Bearer "+credential)
	}

	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}

	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return data, nil
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "client closing")
}

// wsURL derives the websocket URL from the configured endpoint: https
// becomes wss, http becomes ws, ws(s) passes through.
func wsURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported endpoint scheme: %s", u.Scheme)
	}

	return u.String(), nil
}
