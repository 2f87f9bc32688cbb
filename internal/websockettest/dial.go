// Package websockettest holds small helpers for exercising the relay from
// client-side test code.
package websockettest

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// DialTicket connects to a relay mounted behind an httptest server, converting
// the server's http URL to the ws scheme and presenting the ticket the way the
// relay expects it. Keepalive handlers are disabled so tests control the frame
// exchange completely. An empty ticket dials without credentials.
func DialTicket(serverURL, path, ticket string) (*websocket.Conn, *http.Response, error) {
	target := "ws" + strings.TrimPrefix(serverURL, "http") + path
	if ticket != "" {
		target += "?ticket=" + url.QueryEscape(ticket)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		return nil, resp, err
	}
	conn.SetPingHandler(func(string) error { return nil })
	conn.SetPongHandler(func(string) error { return nil })
	return conn, resp, nil
}
