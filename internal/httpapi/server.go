package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hamed0406/fcpenroll/internal/domain"
	"github.com/hamed0406/fcpenroll/internal/enrollment"
	apimw "github.com/hamed0406/fcpenroll/internal/httpapi/middleware"
	"github.com/hamed0406/fcpenroll/internal/notify"
	"github.com/hamed0406/fcpenroll/internal/probe"
	"github.com/hamed0406/fcpenroll/internal/repo"
)

// Enrollment is the part of the enrollment service the API exposes.
type Enrollment interface {
	Confirm(ctx context.Context, ws domain.WorkspaceID, query url.Values) (enrollment.ConfirmResult, error)
	Status(ctx context.Context, ws domain.WorkspaceID) (domain.EnrollmentStatus, error)
	UserDidEnroll(ctx context.Context, ws domain.WorkspaceID) (bool, error)
	Refresh(ctx context.Context, ws domain.WorkspaceID) (domain.EnrollmentStatus, error)
}

// Notifications is the in-app notification list of each workspace.
type Notifications interface {
	List(workspaceID string) []notify.Notification
	Dismiss(workspaceID, id string) bool
}

type Server struct {
	Logger        *zap.Logger
	Enrollment    Enrollment
	Notifications Notifications
	Errors        repo.ErrorStore
}

func NewServer(l *zap.Logger, e Enrollment, n Notifications, errs repo.ErrorStore) *Server {
	return &Server{Logger: l, Enrollment: e, Notifications: n, Errors: errs}
}

// Router builds the HTTP handler. An empty allowedOrigins allows any origin.
func (s *Server) Router(keys apimw.Keys, allowedOrigins []string, pubRPM, pubBurst, admRPM, admBurst int) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.accessLog)
	if len(allowedOrigins) == 0 {
		r.Use(cors.AllowAll().Handler)
	} else {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-API-Key"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(apimw.RateLimit(pubRPM, pubBurst))
			r.Use(apimw.RequireAny(keys))
			r.Get("/workspaces/{workspaceID}/fcp", s.handleEnrollment)
			r.Get("/workspaces/{workspaceID}/notifications", s.handleListNotifications)
			r.Delete("/workspaces/{workspaceID}/notifications", s.handleDismissNotification)
		})
		r.Group(func(r chi.Router) {
			r.Use(apimw.RateLimit(admRPM, admBurst))
			r.Use(apimw.RequireAdmin(keys))
			r.Post("/workspaces/{workspaceID}/fcp/refresh", s.handleRefresh)
			r.Get("/workspaces/{workspaceID}/errors", s.handleListErrors)
		})
	})

	return r
}

type statusResponse struct {
	domain.EnrollmentStatus
	UserDidEnroll bool `json:"userDidEnroll"`
}

type confirmResponse struct {
	Triggered    bool                     `json:"triggered"`
	Enrolled     bool                     `json:"enrolled"`
	Status       *domain.EnrollmentStatus `json:"status,omitempty"`
	Notification *notify.Notification     `json:"notification,omitempty"`
}

func (s *Server) handleEnrollment(w http.ResponseWriter, r *http.Request) {
	ws := domain.WorkspaceID(chi.URLParam(r, "workspaceID"))
	if ws == "" {
		writeError(w, http.StatusBadRequest, "missing workspace id")
		return
	}
	query := r.URL.Query()
	if enrollment.HasMarker(query) {
		s.confirm(w, r, ws, query)
		return
	}

	st, err := s.Enrollment.Status(r.Context(), ws)
	if err != nil {
		s.backendError(w, ws, "status_error", err)
		return
	}
	did, err := s.Enrollment.UserDidEnroll(r.Context(), ws)
	if err != nil {
		s.Logger.Warn("user_did_enroll_error", zap.String("workspace_id", string(ws)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load confirmation")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{EnrollmentStatus: st, UserDidEnroll: did})
}

func (s *Server) confirm(w http.ResponseWriter, r *http.Request, ws domain.WorkspaceID, query url.Values) {
	res, err := s.Enrollment.Confirm(r.Context(), ws, query)
	if err != nil {
		if r.Context().Err() != nil {
			// client went away; the confirmation keeps running
			s.Logger.Info("confirm_client_gone", zap.String("workspace_id", string(ws)))
			return
		}
		s.backendError(w, ws, "confirm_error", err)
		return
	}

	if res.Enrolled {
		target := r.URL.Path
		if q := res.Query.Encode(); q != "" {
			target += "?" + q
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}

	out := confirmResponse{Triggered: res.Triggered, Enrolled: false, Notification: res.Notification}
	if st, err := s.Enrollment.Status(r.Context(), ws); err == nil {
		out.Status = &st
	} else {
		s.Logger.Warn("status_error", zap.String("workspace_id", string(ws)), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ws := domain.WorkspaceID(chi.URLParam(r, "workspaceID"))
	st, err := s.Enrollment.Refresh(r.Context(), ws)
	if err != nil {
		s.backendError(w, ws, "refresh_error", err)
		return
	}
	s.Logger.Info("status_refreshed", zap.String("workspace_id", string(ws)))
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleListErrors(w http.ResponseWriter, r *http.Request) {
	if s.Errors == nil {
		writeJSON(w, http.StatusOK, []domain.ErrorRecord{})
		return
	}
	ws := domain.WorkspaceID(chi.URLParam(r, "workspaceID"))
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	recs, err := s.Errors.ListByWorkspace(r.Context(), ws, limit)
	if err != nil {
		s.Logger.Warn("list_errors_error", zap.String("workspace_id", string(ws)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list error")
		return
	}
	if recs == nil {
		recs = []domain.ErrorRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	ws := chi.URLParam(r, "workspaceID")
	if ws == "" {
		writeError(w, http.StatusBadRequest, "missing workspace id")
		return
	}
	list := s.Notifications.List(ws)
	if list == nil {
		list = []notify.Notification{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleDismissNotification(w http.ResponseWriter, r *http.Request) {
	ws := chi.URLParam(r, "workspaceID")
	id := r.URL.Query().Get("id")
	if ws == "" || id == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}
	if !s.Notifications.Dismiss(ws, id) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// backendError maps a failed backend call to 502, 504 when it ran out of
// time, or 404 when the backend does not know the workspace.
func (s *Server) backendError(w http.ResponseWriter, ws domain.WorkspaceID, event string, err error) {
	s.Logger.Warn(event, zap.String("workspace_id", string(ws)), zap.Error(err))
	var se *probe.StatusError
	switch {
	case errors.As(err, &se) && se.StatusCode == http.StatusNotFound:
		writeError(w, http.StatusNotFound, "workspace not found")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "cloud backend timed out")
	default:
		writeError(w, http.StatusBadGateway, "cloud backend unavailable")
	}
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.Logger.Debug("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
