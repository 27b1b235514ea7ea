// Package livymock is an in-memory fake of the Livy batch REST API.
//
// Each batch walks through a scripted sequence of states, one per status
// request, and then stays in the last one. Failures can be injected to
// exercise retry paths. It backs the package tests and `golivy mock-server`.
package livymock

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/3leaps/golivy/pkg/livy"
)

// DefaultStates is the script of a batch that runs briefly and succeeds.
var DefaultStates = []string{"starting", "running", "running", "success"}

type Option func(*Server)

// WithStates sets the default script for new batches.
func WithStates(states ...string) Option {
	return func(s *Server) { s.defaultStates = append([]string(nil), states...) }
}

// WithFirstID sets the id given to the first submitted batch.
func WithFirstID(id int) Option {
	return func(s *Server) { s.nextID = id }
}

// WithBasicAuth requires HTTP basic auth on every request.
func WithBasicAuth(user, pass string) Option {
	return func(s *Server) { s.user, s.pass = user, pass }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

type batch struct {
	id      int
	req     livy.BatchRequest
	states  []string
	pos     int
	appID   string
	created time.Time
	log     []string
}

func (b *batch) state() string {
	return b.states[b.pos]
}

func (b *batch) view() livy.Batch {
	out := livy.Batch{
		ID:      b.id,
		State:   b.state(),
		AppInfo: map[string]*string{"driverLogUrl": nil, "sparkUiUrl": nil},
		Log:     append([]string(nil), b.log...),
	}
	if b.appID != "" {
		id := b.appID
		out.AppID = &id
	}
	return out
}

// Server is a fake Livy server. The zero value is not usable; call New.
type Server struct {
	mu            sync.Mutex
	nextID        int
	defaultStates []string
	scripts       map[int][]string
	batches       map[int]*batch
	failSubmit    int
	failStatus    int
	submissions   int
	statusReqs    map[int]int
	user, pass    string
	logger        *zap.Logger
	router        chi.Router
}

func New(opts ...Option) *Server {
	s := &Server{
		defaultStates: DefaultStates,
		scripts:       make(map[int][]string),
		batches:       make(map[int]*batch),
		statusReqs:    make(map[int]int),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.defaultStates) == 0 {
		s.defaultStates = DefaultStates
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.auth)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", fmt.Sprintf("%s not allowed on %s", r.Method, r.URL.Path))
	})

	r.Route("/batches", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/", s.handleSubmit)
		r.Get("/{id}", s.handleStatus)
		r.Delete("/{id}", s.handleDelete)
	})
	r.Get("/ui/batch/{id}/log", s.handleLog)
	return r
}

// Handler returns the HTTP handler of the fake.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Script overrides the state sequence of the batch that will get (or has)
// the given id.
func (s *Server) Script(id int, states ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[id] = append([]string(nil), states...)
	if b, ok := s.batches[id]; ok && len(states) > 0 {
		b.states = append([]string(nil), states...)
		b.pos = 0
	}
}

// FailNextSubmissions makes the next n POST /batches answer 503.
func (s *Server) FailNextSubmissions(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSubmit = n
}

// FailNextStatus makes the next n GET /batches/{id} answer 503.
func (s *Server) FailNextStatus(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = n
}

// Submissions counts accepted POST /batches requests.
func (s *Server) Submissions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submissions
}

// StatusRequests counts successful status reads of batch id.
func (s *Server) StatusRequests(id int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusReqs[id]
}

// Request returns the submission body of batch id.
func (s *Server) Request(id int) (livy.BatchRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return livy.BatchRequest{}, false
	}
	return b.req, true
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.user != "" {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.user || pass != s.pass {
				w.Header().Set("WWW-Authenticate", `Basic realm="livy"`)
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(livy.RequestedByHeader) == "" {
		writeError(w, http.StatusBadRequest, "CSRF", "Missing Required Header for CSRF protection.")
		return
	}

	var req livy.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid batch request: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	s.mu.Lock()
	if s.failSubmit > 0 {
		s.failSubmit--
		s.mu.Unlock()
		writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "injected submission failure")
		return
	}

	id := s.nextID
	s.nextID++
	states := s.scripts[id]
	if len(states) == 0 {
		states = s.defaultStates
	}
	b := &batch{
		id:      id,
		req:     req,
		states:  append([]string(nil), states...),
		created: time.Now(),
		log:     []string{"stdout: ", "\nstderr: "},
	}
	s.batches[id] = b
	s.submissions++

	// Submission reports the batch as starting without consuming its script.
	view := b.view()
	view.State = string(livy.StateStarting)
	s.mu.Unlock()

	s.logger.Info("mock batch submitted", zap.Int("batch_id", id), zap.String("file", req.File))
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := batchID(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	if s.failStatus > 0 {
		s.failStatus--
		s.mu.Unlock()
		writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "injected status failure")
		return
	}
	b, found := s.batches[id]
	if !found {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("Session '%d' not found.", id))
		return
	}

	s.statusReqs[id]++
	if b.appID == "" && livy.Classify(b.state()) != livy.PhaseUnknown {
		switch livy.BatchState(b.state()) {
		case livy.StateNotStarted, livy.StateStarting:
		default:
			b.appID = fmt.Sprintf("application_%d_%04d", b.created.Unix(), b.id)
		}
	}
	view := b.view()
	if b.pos < len(b.states)-1 {
		b.pos++
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.batches))
	for id := range s.batches {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	sessions := make([]livy.Batch, 0, len(ids))
	for _, id := range ids {
		sessions = append(sessions, s.batches[id].view())
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"from":     0,
		"total":    len(sessions),
		"sessions": sessions,
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := batchID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	_, found := s.batches[id]
	delete(s.batches, id)
	s.mu.Unlock()

	if !found {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("Session '%d' not found.", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"msg": "deleted"})
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	id, ok := batchID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	b, found := s.batches[id]
	var lines []string
	if found {
		lines = append(lines, b.log...)
	}
	s.mu.Unlock()

	if !found {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("Session '%d' not found.", id))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, line := range lines {
		_, _ = fmt.Fprintln(w, line)
	}
}

func batchID(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Sprintf("invalid batch id %q", raw))
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers with a gofulmen error envelope, which is not a Batch
// and therefore surfaces as a protocol error in the client.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, gferrors.NewErrorEnvelope(code, msg))
}
