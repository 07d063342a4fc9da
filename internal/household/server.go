package household

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zombor/household-expenses/internal/identity"
)

type contextKey string

const userContextKey contextKey = "user"

// Server handles HTTP requests for households and expenses
type Server struct {
	service *Service
	mux     *http.ServeMux
}

// NewServer creates a new Server with default mux
func NewServer(service *Service) *Server {
	return NewServerWithMux(service, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, mux *http.ServeMux) *Server {
	s := &Server{
		service: service,
		mux:     mux,
	}
	s.registerRoutes()
	return s
}

// userFromContext returns the user placed in the context by requireAuth
func userFromContext(ctx context.Context) *identity.UserData {
	user, _ := ctx.Value(userContextKey).(*identity.UserData)
	return user
}

// bearerToken extracts the ID token from the Authorization header
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

// requireAuth verifies the bearer ID token and stores the user in the request context
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="Household Expenses"`)
			writeError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		user, err := s.service.Authenticate(r.Context(), token)
		if err != nil {
			slog.Debug("Rejected bearer token", "error", err)
			w.Header().Set("WWW-Authenticate", `Bearer realm="Household Expenses"`)
			writeError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// corsMiddleware adds CORS headers to responses and answers preflight requests
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs every request once it has been served
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("Request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	// Auth and session
	s.mux.HandleFunc("POST /api/auth/signin", s.handleSignIn)
	s.mux.HandleFunc("POST /api/auth/signout", s.requireAuth(s.handleSignOut))
	s.mux.HandleFunc("GET /api/session", s.requireAuth(s.handleGetSession))
	s.mux.HandleFunc("PUT /api/session/notification-token", s.requireAuth(s.handleSyncNotificationToken))

	// Households
	s.mux.HandleFunc("GET /api/households", s.requireAuth(s.handleListHouseholds))
	s.mux.HandleFunc("POST /api/households", s.requireAuth(s.handleCreateHousehold))
	s.mux.HandleFunc("GET /api/households/{id}", s.requireAuth(s.handleGetHousehold))
	s.mux.HandleFunc("POST /api/households/{id}/switch", s.requireAuth(s.handleSwitchHousehold))
	s.mux.HandleFunc("DELETE /api/households/{id}/membership", s.requireAuth(s.handleLeaveHousehold))

	// Invites
	s.mux.HandleFunc("POST /api/households/{id}/invites", s.requireAuth(s.handleInviteUser))
	s.mux.HandleFunc("GET /api/invites", s.requireAuth(s.handleListInvites))
	s.mux.HandleFunc("POST /api/invites/{id}/accept", s.requireAuth(s.handleAcceptInvite))
	s.mux.HandleFunc("POST /api/invites/{id}/reject", s.requireAuth(s.handleRejectInvite))

	// Receipts and expenses
	s.mux.HandleFunc("POST /api/receipts/scan", s.requireAuth(s.handleScanReceipt))
	s.mux.HandleFunc("POST /api/expenses/review", s.requireAuth(s.handleReviewExpense))
	s.mux.HandleFunc("GET /api/households/{id}/expenses", s.requireAuth(s.handleListExpenses))
	s.mux.HandleFunc("POST /api/households/{id}/expenses", s.requireAuth(s.handleAddExpense))
	s.mux.HandleFunc("DELETE /api/households/{id}/expenses/{expenseID}", s.requireAuth(s.handleDeleteExpense))
	s.mux.HandleFunc("GET /api/households/{id}/breakdown", s.requireAuth(s.handleBreakdown))
}

// Handler returns the mux wrapped in the logging and CORS middleware
func (s *Server) Handler() http.Handler {
	return loggingMiddleware(corsMiddleware(s.mux))
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
