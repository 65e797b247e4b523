package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/tansive/kernelexec/internal/common/httpclient"
	"github.com/tansive/kernelexec/internal/kernel/matcher"
)

// Conn is a bidirectional, message-oriented channel to one kernel.
type Conn interface {
	WriteMessage(data []byte) error
	ReadMessage() ([]byte, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer opens a Conn.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WebsocketDialer dials kernel channels with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

// Dial opens the websocket. A rejected handshake reports the HTTP status,
// which is how authentication failures surface.
func (d WebsocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, errors.Wrapf(err, "handshake rejected with status %d", resp.StatusCode)
		}
		return nil, err
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) WriteMessage(data []byte) error {
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// ReadMessage returns the next text or binary frame payload.
func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

// Close sends a close frame on a best-effort basis and releases the socket.
func (c *wsConn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

// ChannelURL builds the websocket URL of a kernel's channels endpoint. The
// base path is preserved and the scheme is wss for https servers.
func ChannelURL(target matcher.KernelTarget) (string, error) {
	if target.KernelID == "" {
		return "", fmt.Errorf("empty kernel id")
	}
	u, err := httpclient.ResolveURL(target.Endpoint.BaseURL,
		"api/kernels/"+target.KernelID+"/channels", target.Endpoint.Token, nil)
	if err != nil {
		return "", err
	}
	if strings.EqualFold(u.Scheme, "https") {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	return u.String(), nil
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "token "+token)
	}
	return h
}
