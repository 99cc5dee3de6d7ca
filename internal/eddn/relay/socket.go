package relay

import (
	"fmt"

	"github.com/gorilla/websocket"
)

// Conn is the subset of the subscription connection the listener uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer opens a new subscription connection to the relay.
type Dialer func(url string) (Conn, error)

// Dial connects to the relay over websocket. The relay pushes frames
// unsolicited; no subscription message is required.
func Dial(url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}
	return conn, nil
}
