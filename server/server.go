package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"csms/auth"
	"csms/charger"
	"csms/ocpp"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Options of the charger-facing listener
type Options struct {
	Addr string
	// CertFile and KeyFile enable TLS when both are set
	CertFile string
	KeyFile  string
	// MaxMessageSize limits inbound frames, 0 means no limit
	MaxMessageSize int64
}

// Server accepts charger WebSockets and drives their sessions
type Server struct {
	factory  *charger.Factory
	opts     Options
	upgrader websocket.Upgrader
	log      *logrus.Entry

	http *http.Server

	// sessions outlive the upgrade request, they are bound to ctx instead
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(factory *charger.Factory, opts Options, l *logrus.Entry) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		factory: factory,
		opts:    opts,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log:    l.WithField("component", "server"),
		ctx:    ctx,
		cancel: cancel,
	}

	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/{chargerID}", s.handleUpgrade)

	return r
}

// Start listens in the background. Listen errors are returned synchronously.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}

	s.log.WithField("addr", ln.Addr().String()).Info("accepting charger connections")

	go func() {
		var err error
		if s.opts.CertFile != "" && s.opts.KeyFile != "" {
			err = s.http.ServeTLS(ln, s.opts.CertFile, s.opts.KeyFile)
		} else {
			err = s.http.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("charger listener stopped")
		}
	}()

	return nil
}

// Shutdown stops accepting connections and closes every live session
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)

	reg := s.factory.Registry()
	for _, id := range reg.IDs() {
		if session, ok := reg.Get(id); ok {
			_ = session.Handle().Disconnect()
		}
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return err
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "chargerID")
	l := s.log.WithField("client", id)

	protocol, err := ocpp.Negotiate(r.Header.Get(ocpp.SubprotocolHeader))
	if err != nil {
		l.WithError(err).Info("rejected connection")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	password, err := auth.ParsePassword(r.Header.Get("Authorization"))
	if err != nil {
		l.WithError(err).Info("rejected connection")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	session, err := s.factory.New(r.Context(), id, protocol)
	if err != nil {
		l.WithError(err).Error("failed to create session")
		http.Error(w, "Failed to load charger", http.StatusInternalServerError)
		return
	}

	if err := s.factory.Authenticate(r.Context(), session, password); err != nil {
		if errors.Is(err, auth.ErrForbidden) {
			l.Warn("charger failed authentication")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		l.WithError(err).Error("failed to authenticate charger")
		http.Error(w, "Failed to authenticate charger", http.StatusInternalServerError)
		return
	}

	if s.factory.Connected(id) {
		l.Warn("charger already connected")
		http.Error(w, fmt.Sprintf("Charger with ID %s already connected", id), http.StatusConflict)
		return
	}

	header := http.Header{}
	header.Set(ocpp.SubprotocolHeader, protocol.String())

	conn, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		// the upgrader already replied
		l.WithError(err).Debug("websocket upgrade failed")
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	s.run(session, conn, r.RemoteAddr, l)
}

// run drives an accepted socket until it closes
func (s *Server) run(session *charger.Session, conn *websocket.Conn, remoteAddr string, l *logrus.Entry) {
	if s.opts.MaxMessageSize > 0 {
		conn.SetReadLimit(s.opts.MaxMessageSize)
	}

	session.Handle().Attach(&socket{conn: conn})

	if !s.factory.OnConnected(s.ctx, session, remoteAddr) {
		closeWithReason(conn, websocket.ClosePolicyViolation, "already connected")
		return
	}
	defer s.factory.OnDisconnected(context.Background(), session)

	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.WithError(err).Info("socket closed unexpectedly")
			}
			_ = session.Handle().Disconnect()
			return
		}

		if kind != websocket.TextMessage {
			continue
		}

		session.HandleMessage(s.ctx, msg)
	}
}

// socket adapts a gorilla connection to the handle sink
type socket struct {
	conn *websocket.Conn
}

func (s *socket) WriteMessage(messageType int, data []byte) error {
	return s.conn.WriteMessage(messageType, data)
}

func (s *socket) Close() error {
	closeWithReason(s.conn, websocket.CloseNormalClosure, "")
	return nil
}

func closeWithReason(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = conn.Close()
}
