package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	CloseNormal          = websocket.CloseNormalClosure
	ClosePolicyViolation = websocket.ClosePolicyViolation
	CloseProtocolError   = websocket.CloseProtocolError
	CloseInternalError   = websocket.CloseInternalServerErr

	DefaultWriteWait = 10 * time.Second
	DefaultReadLimit = 4 * 1024 * 1024
)

// Frame is one inbound WebSocket frame: either binary audio or a decoded
// control message.
type Frame struct {
	Binary  []byte
	Message Message
}

func (f Frame) IsBinary() bool {
	return f.Message == nil
}

// Conn demultiplexes a WebSocket by frame type and serialises writes.
type Conn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
	writeWait time.Duration
}

func NewConn(ws *websocket.Conn) *Conn {
	ws.SetReadLimit(DefaultReadLimit)
	return &Conn{ws: ws, writeWait: DefaultWriteWait}
}

func (c *Conn) Underlying() *websocket.Conn {
	return c.ws
}

// Next returns the raw payload of the next data frame.
func (c *Conn) Next() (int, []byte, error) {
	return c.ws.ReadMessage()
}

// Read returns the next frame. A text frame that fails to decode returns
// ErrMalformed and the connection remains readable.
func (c *Conn) Read() (Frame, error) {
	kind, data, err := c.ws.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	if kind == websocket.BinaryMessage {
		return Frame{Binary: data}, nil
	}
	msg, err := Unmarshal(data)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Message: msg}, nil
}

func (c *Conn) WriteMessage(m Message) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

// WriteJSON writes v as a text frame without a type discriminator.
func (c *Conn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.write(websocket.TextMessage, data)
}

func (c *Conn) WriteBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

func (c *Conn) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
}

func (c *Conn) write(kind int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
	if err := c.ws.WriteMessage(kind, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Interrupt unblocks a pending Read.
func (c *Conn) Interrupt() {
	_ = c.ws.SetReadDeadline(time.Now())
}

func (c *Conn) Close() error {
	return c.CloseWith(CloseNormal, "")
}

// CloseWith sends a close frame with code and reason, then closes the socket.
// Only the first call has any effect.
func (c *Conn) CloseWith(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// IsNormalClose reports whether err is a peer close with code 1000.
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, CloseNormal)
}

// IsClosed reports whether err came from a connection that is already gone.
func IsClosed(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce) || errors.Is(err, websocket.ErrCloseSent)
}
