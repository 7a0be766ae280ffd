package transport

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// CommandClient is the client-side half of the EntityCommand
// fire-and-forget channel: it holds the client's own websocket
// connection to the server and writes command frames to it.
type CommandClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// DialCommandClient connects to a Hub's websocket endpoint at url.
func DialCommandClient(url string) (*CommandClient, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return &CommandClient{conn: conn}, nil
}

// SendCommand implements transport.CommandSender.
func (c *CommandClient) SendCommand(entityID, command string, args ...any) error {
	data, err := json.Marshal(EntityCommandMessage{EntityID: entityID, Command: command, Args: args})
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close closes the underlying websocket connection.
func (c *CommandClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}
