package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"csms/actions"
	"csms/common"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// Server exposes the command service over HTTP
type Server struct {
	Service *actions.Service
	APIKey  string

	handlers map[string]actions.Handler
	http     *http.Server
	log      *logrus.Entry
}

func NewServer(service *actions.Service, addr string, apiKey string, l *logrus.Entry) *Server {
	s := &Server{
		Service:  service,
		APIKey:   apiKey,
		handlers: service.Handlers(),
		log:      l.WithField("component", "api"),
	}

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Route("/v1", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return RequireBearer(s.APIKey, next) })

		r.Get("/chargers", s.ListConnected)
		r.Post("/chargers", s.CreateCharger)
		r.Get("/chargers/{chargerId}", s.GetCharger)
		r.Post("/chargers/{chargerId}/commands/{action}", s.RunCommand)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	return r
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}

	s.log.WithField("addr", ln.Addr().String()).Info("command api listening")

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("command api stopped")
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type createChargerReq struct {
	ID string `json:"id"`
}

func (s *Server) ListConnected(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, common.Response{Payload: s.Service.ListConnected()})
}

func (s *Server) CreateCharger(w http.ResponseWriter, r *http.Request) {
	var req createChargerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, common.Errorf(common.InvalidArgument, "invalid json"))
		return
	}

	summary, err := s.Service.CreateCharger(r.Context(), req.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, common.Response{Payload: summary})
}

func (s *Server) GetCharger(w http.ResponseWriter, r *http.Request) {
	summary, err := s.Service.GetCharger(r.Context(), chi.URLParam(r, "chargerId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, common.Response{Payload: summary})
}

// RunCommand runs one entry of the command table, the body is its payload
func (s *Server) RunCommand(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")

	handler, ok := s.handlers[action]
	if !ok {
		writeError(w, common.Errorf(common.NotFound, "Unknown action %q", action))
		return
	}

	body, err := readAll(r, 1<<20)
	if err != nil {
		writeError(w, common.Errorf(common.InvalidArgument, "bad body"))
		return
	}

	payload, err := handler(r.Context(), chi.URLParam(r, "chargerId"), body)
	if err != nil {
		s.log.WithFields(logrus.Fields{"client": chi.URLParam(r, "chargerId"), "action": action}).WithError(err).Info("command failed")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, common.Response{Payload: payload})
}
