package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/srg/mwrpc/internal/groutine"
	"github.com/srg/mwrpc/pkg/api"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 10 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	closeWait = time.Second
)

// Connection is one websocket client. Requests are served concurrently;
// responses go out through a single writer.
type Connection struct {
	id     string
	remote string
	conn   *websocket.Conn
	server *Server
	logger *logrus.Entry

	out    chan api.Response
	ctx    context.Context
	cancel context.CancelFunc
	calls  sync.WaitGroup

	done      chan struct{} // read loop ended
	finished  chan struct{} // cleanup complete
	closeOnce sync.Once
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithField("error", err).Warn("Failed to upgrade")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Connection{
		id:       uuid.New().String(),
		remote:   r.RemoteAddr,
		conn:     c,
		server:   s,
		out:      make(chan api.Response),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	d.logger = s.logger.WithFields(logrus.Fields{
		"client": d.id,
		"remote": d.remote,
	})

	if !s.addConnection(d) {
		cancel()
		c.WriteControl(websocket.CloseMessage, //nolint:errcheck
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
			time.Now().Add(writeWait))
		c.Close() //nolint:errcheck
		return
	}

	c.SetReadLimit(maxMessageSize)
	if err := c.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		d.logger.WithField("error", err).Warn("Failed to set read deadline")
	}
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(pongWait))
	})

	d.logger.Info("Client connected")
	s.events.ForceSend(ClientEvent{Kind: ClientConnected, ID: d.id, Remote: d.remote})

	groutine.Go(ctx, "ws-read", func(context.Context) { d.read() })
	groutine.Go(ctx, "ws-write", func(context.Context) { d.run() })
}

func (d *Connection) String() string {
	return d.id
}

func (d *Connection) read() {
	for {
		_, data, err := d.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				d.logger.Debug("Client closed the connection")
			} else if !errors.Is(err, net.ErrClosed) {
				d.logger.WithField("error", err).Debug("Failed to read")
			}
			break
		}

		var req api.Request
		if err := json.Unmarshal(data, &req); err != nil {
			d.reply(api.Response{ID: req.ID, Error: "malformed request: " + err.Error()})
			continue
		}

		d.calls.Add(1)
		groutine.GoSafe(d.ctx, "ws-call", d.server.logger, func(ctx context.Context) {
			defer d.calls.Done()
			d.serve(ctx, req)
		})
	}

	d.closed()
}

func (d *Connection) serve(ctx context.Context, req api.Request) {
	res, err := d.server.dispatch(ctx, req.Method, req.Params, transportWS)
	if err != nil {
		d.reply(api.Response{ID: req.ID, Error: err.Error()})
		return
	}
	d.reply(api.Response{ID: req.ID, Result: res})
}

// reply hands resp to the writer unless the connection is going away.
func (d *Connection) reply(resp api.Response) {
	select {
	case d.out <- resp:
	case <-d.ctx.Done():
	}
}

func (d *Connection) run() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return

		case resp := <-d.out:
			if err := d.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				d.logger.WithField("error", err).Warn("Failed to set write deadline")
			}
			if err := d.conn.WriteJSON(resp); err != nil {
				d.logger.WithField("error", err).Warn("Failed to send response")
			}

		case <-ticker.C:
			if err := d.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				d.logger.WithField("error", err).Debug("Failed to ping")
			}
		}
	}
}

// Close asks the client to close and drops the connection if it does not
// answer within a second.
func (d *Connection) Close() {
	d.closeOnce.Do(func() {
		err := d.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			d.logger.WithField("error", err).Debug("Failed to send close message")
		}

		select {
		case <-d.done:
		case <-time.After(closeWait):
			d.logger.Warn("Timed-out waiting for connection close")
			d.conn.Close() //nolint:errcheck
		}
	})
}

func (d *Connection) closed() {
	close(d.done)
	d.cancel()
	d.calls.Wait()

	if err := d.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		d.logger.WithField("error", err).Debug("Failed to close connection")
	}

	d.server.removeConnection(d)
	d.server.events.ForceSend(ClientEvent{Kind: ClientDisconnected, ID: d.id, Remote: d.remote})
	d.logger.Info("Client disconnected")

	close(d.finished)
}

func (d *Connection) wait(ctx context.Context) {
	select {
	case <-d.finished:
	case <-ctx.Done():
	}
}
