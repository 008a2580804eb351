// Package transport implements the opaque bidirectional pipe between a
// Proxy and a node (§4.7): newline-delimited JSON framing over a
// net.Conn, multiplexed by request id. Grounded on the teacher's
// internal/rpc client/server framing (bufio.Writer + ReadBytes('\n')),
// generalized from beads' one-request-per-call style to a persistent
// connection with a read loop so multiple requests can be in flight at
// once (§8 Scenario 6).
package transport

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/maxdata-sh/max/internal/rpcproto"
)

// ErrTransportClosed is returned to every caller with an outstanding
// request when Close runs, and to any Send called afterward.
var ErrTransportClosed = errors.New("transport: closed")

// Transport is a single pipe to one node (§4.7). It MUST NOT interpret
// Target/Method/Args/Scope — only id is meaningful to it, for matching
// responses to the in-flight Send that is waiting on them.
type Transport interface {
	Send(req rpcproto.Request) (rpcproto.Response, error)
	Close() error
}

// Conn wraps a net.Conn (e.g. a Unix socket or a TCP connection to a
// remote deployer) as a Transport.
type Conn struct {
	conn net.Conn

	writeMu sync.Mutex
	writer  *bufio.Writer

	mu      sync.Mutex
	pending map[string]chan rpcproto.Response
	closed  bool
}

// New wraps conn and starts its read loop.
func New(conn net.Conn) *Conn {
	c := &Conn{
		conn:    conn,
		writer:  bufio.NewWriter(conn),
		pending: make(map[string]chan rpcproto.Response),
	}
	go c.readLoop()
	return c
}

var _ Transport = (*Conn)(nil)

// Send transmits req and blocks until the matching response arrives, the
// transport closes, or the underlying connection errors.
func (c *Conn) Send(req rpcproto.Request) (rpcproto.Response, error) {
	ch := make(chan rpcproto.Response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return rpcproto.Response{}, ErrTransportClosed
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	raw, err := json.Marshal(req)
	if err != nil {
		c.forget(req.ID)
		return rpcproto.Response{}, fmt.Errorf("transport: marshal request: %w", err)
	}

	c.writeMu.Lock()
	_, writeErr := c.writer.Write(raw)
	if writeErr == nil {
		writeErr = c.writer.WriteByte('\n')
	}
	if writeErr == nil {
		writeErr = c.writer.Flush()
	}
	c.writeMu.Unlock()
	if writeErr != nil {
		c.forget(req.ID)
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return rpcproto.Response{}, ErrTransportClosed
		}
		return rpcproto.Response{}, fmt.Errorf("transport: write request: %w", writeErr)
	}

	resp, ok := <-ch
	if !ok {
		return rpcproto.Response{}, ErrTransportClosed
	}
	return resp, nil
}

func (c *Conn) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Conn) readLoop() {
	reader := bufio.NewReader(c.conn)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			var resp rpcproto.Response
			if unmarshalErr := json.Unmarshal(line, &resp); unmarshalErr == nil {
				c.deliver(resp)
			}
		}
		if err != nil {
			c.shutdown()
			return
		}
	}
}

func (c *Conn) deliver(resp rpcproto.Response) {
	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()
	if ok {
		ch <- resp
		close(ch)
	}
}

// Close drains every outstanding request with ErrTransportClosed and
// closes the underlying connection.
func (c *Conn) Close() error {
	c.shutdown()
	return c.conn.Close()
}

func (c *Conn) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]chan rpcproto.Response)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
}

// CallerAdapter turns a Transport into an rpcproto.Caller so a parent
// Dispatcher can forward to a remote/subprocess child the same way it
// forwards to an in-process one.
type CallerAdapter struct {
	Transport Transport
}

var _ rpcproto.Caller = CallerAdapter{}

func (a CallerAdapter) Call(req rpcproto.Request) rpcproto.Response {
	resp, err := a.Transport.Send(req)
	if err != nil {
		return rpcproto.ErrResponse(req.ID, err)
	}
	return resp
}
