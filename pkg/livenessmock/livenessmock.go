// Package livenessmock is an in-memory stand-in for the platform liveness
// service. It answers over HTTP and gRPC from the same state.
package livenessmock

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/prepolicy/prepolicy/core/liveness"
	"github.com/prepolicy/prepolicy/core/policy"
	"github.com/prepolicy/prepolicy/pkg/logging"
)

const (
	isAlivePattern = liveness.IsAlivePath + "{id}"
	deadPattern    = "/api/platform/dead/{id}"
)

// Service holds the set of policies reported dead. Unknown ids get the
// default verdict.
type Service struct {
	liveness.UnimplementedLivenessServer

	mu           sync.RWMutex
	dead         map[policy.ID]struct{}
	defaultAlive bool
	logger       logging.Logger
}

// NewService returns an empty service. defaultAlive is the verdict for ids
// that were never marked dead.
func NewService(defaultAlive bool, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Service{
		dead:         make(map[policy.ID]struct{}),
		defaultAlive: defaultAlive,
		logger:       logger.With("component", "livenessmock"),
	}
}

// MarkDead makes every later query for id report dead.
func (s *Service) MarkDead(id policy.ID) {
	s.mu.Lock()
	s.dead[id] = struct{}{}
	s.mu.Unlock()
	s.logger.Info("policy marked dead", "policy_id", id)
}

// MarkAlive clears a previous MarkDead for id.
func (s *Service) MarkAlive(id policy.ID) {
	s.mu.Lock()
	delete(s.dead, id)
	s.mu.Unlock()
	s.logger.Info("policy marked alive", "policy_id", id)
}

// Alive reports the current verdict for id.
func (s *Service) Alive(id policy.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.dead[id]; ok {
		return false
	}
	return s.defaultAlive
}

// DeadCount is the number of ids explicitly marked dead.
func (s *Service) DeadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.dead)
}

// IsAlive implements liveness.LivenessServer.
func (s *Service) IsAlive(_ context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	alive := s.Alive(policy.ID(req.GetValue()))
	s.logger.Debug("grpc liveness query", "policy_id", req.GetValue(), "alive", alive)
	return wrapperspb.Bool(alive), nil
}

// Router returns the HTTP surface of the service.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.health)
	r.Get(isAlivePattern, s.isAlive)
	r.Put(deadPattern, s.markDead)
	r.Delete(deadPattern, s.markAlive)
	return r
}

func (s *Service) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"service":       "mock-liveness",
		"dead":          s.DeadCount(),
		"default_alive": s.defaultAlive,
	})
}

func (s *Service) isAlive(w http.ResponseWriter, r *http.Request) {
	id := policy.ID(chi.URLParam(r, "id"))
	alive := s.Alive(id)
	s.logger.Debug("http liveness query", "policy_id", id, "alive", alive)
	writeJSON(w, http.StatusOK, map[string]bool{"result": alive})
}

func (s *Service) markDead(w http.ResponseWriter, r *http.Request) {
	s.MarkDead(policy.ID(chi.URLParam(r, "id")))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) markAlive(w http.ResponseWriter, r *http.Request) {
	s.MarkAlive(policy.ID(chi.URLParam(r, "id")))
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
