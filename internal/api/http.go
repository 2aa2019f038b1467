package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"offerdesk/internal/model"
	"offerdesk/internal/obs"
)

type Server struct {
	desk      *model.Desk
	store     model.SnapshotStore
	tokenHash []byte
	logger    *obs.Logger
	router    *mux.Router
}

type Options struct {
	// Store receives every pruned poll snapshot; nil skips persistence.
	Store model.SnapshotStore

	// TokenHash is a bcrypt hash guarding /v1/events; empty leaves them open.
	TokenHash string

	Logger *obs.Logger
}

type contextKey string

const requestIDKey contextKey = "req_id"

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func NewServer(desk *model.Desk, opt Options) *Server {
	s := &Server{
		desk:   desk,
		store:  opt.Store,
		logger: opt.Logger,
		router: mux.NewRouter(),
	}
	if opt.TokenHash != "" {
		s.tokenHash = []byte(opt.TokenHash)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return withRequestID(s.router)
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	s.router.HandleFunc("/v1/reservations", s.handleReservations).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/queue", s.handleQueue).Methods(http.MethodGet)

	events := s.router.PathPrefix("/v1/events").Subrouter()
	events.Use(s.requireToken)
	events.HandleFunc("/offers", s.handleNewOffer).Methods(http.MethodPost)
	events.HandleFunc("/offers/{id}/changed", s.handleChanged).Methods(http.MethodPost)
	events.HandleFunc("/poll", s.handlePoll).Methods(http.MethodPost)
}

// requireToken checks "Authorization: Bearer <token>" against the bcrypt hash.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokenHash == nil {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" || bcrypt.CompareHashAndPassword(s.tokenHash, []byte(token)) != nil {
			s.logger.Warn(map[string]interface{}{
				"op":     "auth",
				"req_id": requestID(r.Context()),
				"path":   r.URL.Path,
				"error":  "invalid event token",
			})
			writeErr(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Handlers ---

type reservationsResp struct {
	Items []string `json:"items"`
}

func (s *Server) handleReservations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, reservationsResp{Items: s.desk.ReservedItems()})
}

type queueResp struct {
	Queued     []string `json:"queued"`
	Processing bool     `json:"processing"`
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	ids, processing := s.desk.Queue()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, queueResp{Queued: ids, Processing: processing})
}

type submitResp struct {
	Queued bool `json:"queued"`
}

func (s *Server) handleNewOffer(w http.ResponseWriter, r *http.Request) {
	var offer model.Offer
	if err := readJSON(r, &offer); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if offer.ID == "" {
		writeErr(w, http.StatusBadRequest, "id required")
		return
	}
	writeJSON(w, http.StatusAccepted, submitResp{Queued: s.desk.Submit(&offer)})
}

type changedReq struct {
	Offer    *model.Offer     `json:"offer"`
	OldState model.OfferState `json:"old_state"`
}

func (s *Server) handleChanged(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req changedReq
	if err := readJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Offer == nil {
		writeErr(w, http.StatusBadRequest, "offer required")
		return
	}
	if req.Offer.ID == "" {
		req.Offer.ID = id
	}
	if req.Offer.ID != id {
		writeErr(w, http.StatusBadRequest, "offer id does not match path")
		return
	}

	s.desk.OfferChanged(r.Context(), req.Offer, req.OldState)
	writeJSON(w, http.StatusAccepted, map[string]string{"offer_id": id})
}

type pollResp struct {
	Pruned []string `json:"pruned"`
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	var snap model.PollSnapshot
	if err := readJSON(r, &snap); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	pruned, ids := s.desk.OnPoll(r.Context(), snap)
	if s.store != nil {
		if err := s.desk.PollState().Persist(r.Context(), s.store, pruned); err != nil {
			s.logger.Error(map[string]interface{}{
				"op":     "poll_persist",
				"req_id": requestID(r.Context()),
				"error":  err.Error(),
			})
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	s.logger.Info(map[string]interface{}{
		"op":         "poll",
		"req_id":     requestID(r.Context()),
		"pruned":     len(ids),
		"latency_ms": time.Since(start).Milliseconds(),
	})

	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, pollResp{Pruned: ids})
}

// --- helpers ---

// readJSON tolerates unknown fields; payloads come from the sidecar's
// platform objects.
func readJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return errors.New("missing body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
