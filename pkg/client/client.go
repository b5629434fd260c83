// Package client calls a running mwrpc daemon over its websocket endpoint.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/srg/mwrpc/internal/device"
	"github.com/srg/mwrpc/internal/groutine"
	"github.com/srg/mwrpc/pkg/api"
)

var ErrClosed = errors.New("client closed")

// Client multiplexes calls over one websocket connection.
type Client struct {
	conn   *websocket.Conn
	logger *logrus.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan api.Response
	err     error
	done    chan struct{}
}

// Dial connects to the daemon listening on addr ("host:port").
func Dial(ctx context.Context, addr string, logger *logrus.Logger) (*Client, error) {
	if logger == nil {
		logger = logrus.New()
	}

	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", u.String(), err)
	}

	c := &Client{
		conn:    conn,
		logger:  logger,
		pending: make(map[string]chan api.Response),
		done:    make(chan struct{}),
	}
	groutine.Go(context.Background(), "client-read", func(context.Context) { c.read() })
	return c, nil
}

func (c *Client) read() {
	defer close(c.done)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}

		var resp api.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			c.logger.WithField("error", err).Warn("Dropping malformed response")
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()

		if ok {
			ch <- resp
		}
	}
}

func (c *Client) fail(err error) {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		err = ErrClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// Call sends one request and waits for its response.
func (c *Client) Call(ctx context.Context, method api.Method, params api.Params) (api.Response, error) {
	if err := ctx.Err(); err != nil {
		return api.Response{}, err
	}
	id := uuid.New().String()
	ch := make(chan api.Response, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return api.Response{}, err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	c.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline) //nolint:errcheck
	} else {
		c.conn.SetWriteDeadline(time.Time{}) //nolint:errcheck
	}
	err := c.conn.WriteJSON(api.Request{ID: id, Method: method, Params: params})
	c.writeMu.Unlock()
	if err != nil {
		forget()
		return api.Response{}, fmt.Errorf("failed to send %s: %w", method, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			c.mu.Lock()
			err := c.err
			c.mu.Unlock()
			return api.Response{}, err
		}
		if resp.Error != "" {
			return resp, fmt.Errorf("%s: %s", method, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		forget()
		return api.Response{}, ctx.Err()
	}
}

func (c *Client) Model(ctx context.Context, addr device.Address) (string, error) {
	resp, err := c.Call(ctx, api.MethodGetBoardModel, api.Params{Address: api.Address(addr)})
	if err != nil {
		return "", err
	}
	model, _ := resp.Result.(string)
	return model, nil
}

func (c *Client) Battery(ctx context.Context, addr device.Address) (byte, error) {
	resp, err := c.Call(ctx, api.MethodGetBatteryLevel, api.Params{Address: api.Address(addr)})
	if err != nil {
		return 0, err
	}
	level, _ := resp.Result.(float64)
	return byte(level), nil
}

func (c *Client) StartMotor(ctx context.Context, addr device.Address, duration time.Duration, intensity float32) error {
	_, err := c.Call(ctx, api.MethodStartMotor, api.Params{
		Address:    api.Address(addr),
		DurationMs: int(duration.Milliseconds()),
		Intensity:  intensity,
	})
	return err
}

func (c *Client) StartMotorPattern(ctx context.Context, addr device.Address, duration time.Duration, intensity float32, delay time.Duration, iterations int) error {
	_, err := c.Call(ctx, api.MethodStartMotorPattern, api.Params{
		Address:    api.Address(addr),
		DurationMs: int(duration.Milliseconds()),
		Intensity:  intensity,
		SleepMs:    int(delay.Milliseconds()),
		Iterations: iterations,
	})
	return err
}

func (c *Client) StartBuzzer(ctx context.Context, addr device.Address, duration time.Duration) error {
	_, err := c.Call(ctx, api.MethodStartBuzzer, api.Params{
		Address:    api.Address(addr),
		DurationMs: int(duration.Milliseconds()),
	})
	return err
}

func (c *Client) StartLED(ctx context.Context, addr device.Address, color device.LEDColor) error {
	_, err := c.Call(ctx, api.MethodStartLED, api.Params{Address: api.Address(addr), Color: int(color)})
	return err
}

func (c *Client) StopLED(ctx context.Context, addr device.Address) error {
	_, err := c.Call(ctx, api.MethodStopLED, api.Params{Address: api.Address(addr)})
	return err
}

// Close says goodbye to the server and waits briefly for it to acknowledge.
func (c *Client) Close() error {
	c.writeMu.Lock()
	err := c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	if err == nil {
		select {
		case <-c.done:
		case <-time.After(time.Second):
		}
	}
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}
