// Package server exposes the board operations over HTTP and websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/mcuadros/go-defaults"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/srg/mwrpc/internal/device"
	"github.com/srg/mwrpc/internal/metrics"
	"github.com/srg/mwrpc/internal/ringchan"
	"github.com/srg/mwrpc/internal/supervisor"
)

// Contract is the set of board operations the server dispatches to.
type Contract interface {
	GetBoardModel(addr device.Address) string
	GetBatteryLevel(ctx context.Context, addr device.Address) byte
	StartMotor(addr device.Address, duration time.Duration, intensity float32)
	StartMotorPattern(addr device.Address, duration time.Duration, intensity float32, delay time.Duration, iterations int)
	StartBuzzer(addr device.Address, duration time.Duration)
	StopLED(addr device.Address)
	StartLED(addr device.Address, color device.LEDColor)
}

// StatusSource reports the supervisor's view of the roster.
type StatusSource interface {
	Status() supervisor.Status
}

// Options configures the listener.
type Options struct {
	Listen          string        `default:"127.0.0.1:8080"`
	ShutdownTimeout time.Duration `default:"5s"`
}

// ClientEventKind classifies websocket client events.
type ClientEventKind int

const (
	ClientConnected ClientEventKind = iota + 1
	ClientDisconnected
)

// ClientEvent reports a websocket client coming or going.
type ClientEvent struct {
	Kind   ClientEventKind
	ID     string
	Remote string
}

// Server serves the REST API, the websocket endpoint, metrics and health checks.
type Server struct {
	contract Contract
	status   StatusSource
	logger   *logrus.Logger
	opts     Options

	router   *mux.Router
	upgrader websocket.Upgrader
	http     *http.Server
	events   *ringchan.RingChannel[ClientEvent]

	mu      sync.Mutex
	conns   map[string]*Connection
	closing bool
	serving sync.WaitGroup
}

func New(contract Contract, status StatusSource, logger *logrus.Logger, opts Options) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	defaults.SetDefaults(&opts)

	s := &Server{
		contract: contract,
		status:   status,
		logger:   logger,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		events: ringchan.New[ClientEvent](64),
		conns:  make(map[string]*Connection),
	}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:              opts.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	a := r.PathPrefix("/api/v1").Subrouter()
	a.Use(
		func(next http.Handler) http.Handler {
			return promhttp.InstrumentHandlerCounter(metrics.HTTPRequestsTotal, next)
		},
		func(next http.Handler) http.Handler {
			return promhttp.InstrumentHandlerDuration(metrics.HTTPRequestDuration, next)
		},
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				next.ServeHTTP(w, r)
			})
		},
	)

	a.Path("/status").Methods(http.MethodGet).HandlerFunc(s.handleStatus)

	b := a.PathPrefix("/boards/{address}").Subrouter()
	b.Path("/model").Methods(http.MethodGet).HandlerFunc(s.handleModel)
	b.Path("/battery").Methods(http.MethodGet).HandlerFunc(s.handleBattery)
	b.Path("/motor").Methods(http.MethodPost).HandlerFunc(s.handleMotor)
	b.Path("/motor/pattern").Methods(http.MethodPost).HandlerFunc(s.handlePattern)
	b.Path("/buzzer").Methods(http.MethodPost).HandlerFunc(s.handleBuzzer)
	b.Path("/led").Methods(http.MethodPost).HandlerFunc(s.handleStartLED)
	b.Path("/led").Methods(http.MethodDelete).HandlerFunc(s.handleStopLED)

	r.Path("/ws").HandlerFunc(s.handleWebsocket)

	r.Path("/metrics").
		Methods(http.MethodGet).
		Handler(promhttp.Handler())

	r.Path("/healthz").
		Methods(http.MethodGet, http.MethodOptions).
		HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			rw.Write([]byte("OK")) //nolint:errcheck
		})

	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ClientEvents delivers websocket client connect and disconnect events.
func (s *Server) ClientEvents() <-chan ClientEvent {
	return s.events.C()
}

// Listen binds the configured address.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.opts.Listen, err)
	}
	return ln, nil
}

// Serve accepts connections on ln until Close.
func (s *Server) Serve(ln net.Listener) error {
	s.serving.Add(1)
	defer s.serving.Done()

	s.logger.WithField("addr", ln.Addr().String()).Info("Listening")
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Close stops accepting requests, closes every websocket client and waits
// for in-flight requests up to ShutdownTimeout.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	conns := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	err := s.http.Shutdown(ctx)

	for _, c := range conns {
		c.Close()
	}
	for _, c := range conns {
		c.wait(ctx)
	}

	s.serving.Wait()
	s.events.Close()

	if err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

func (s *Server) addConnection(c *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[c.id] = c
	metrics.WebsocketClients.Set(float64(len(s.conns)))
	return true
}

func (s *Server) removeConnection(c *Connection) {
	s.mu.Lock()
	delete(s.conns, c.id)
	metrics.WebsocketClients.Set(float64(len(s.conns)))
	s.mu.Unlock()
}
