package household

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/zombor/household-expenses/internal/expense"
	"github.com/zombor/household-expenses/internal/extraction"
	"github.com/zombor/household-expenses/internal/identity"
	"github.com/zombor/household-expenses/internal/scanning"
)

// maxCaptureSize covers high-resolution phone photos
const maxCaptureSize = int64(50 << 20)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	var reviewErr *expense.ReviewError
	var notFoundErr *extraction.NotFoundError
	var apiErr *extraction.APIError

	switch {
	case errors.As(err, &reviewErr),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrNoReceiptText),
		errors.Is(err, scanning.ErrEmptyCapture):
		return http.StatusBadRequest
	case errors.Is(err, identity.ErrInvalidCredential),
		errors.Is(err, identity.ErrInvalidCredentialType),
		errors.Is(err, ErrUnauthenticatedUser):
		return http.StatusUnauthorized
	case errors.Is(err, ErrHouseholdNotFound),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrInviteNotFound),
		errors.Is(err, ErrExpenseNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInviteNotPending),
		errors.Is(err, ErrAlreadyMember):
		return http.StatusConflict
	case errors.As(err, &notFoundErr),
		errors.As(err, &apiErr),
		errors.Is(err, extraction.ErrNullResponseBody):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError logs server-side failures and answers with the mapped status
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		if code == http.StatusInternalServerError {
			writeError(w, "Internal server error", code)
			return
		}
	}
	writeError(w, err.Error(), code)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSignIn exchanges an identity credential for a session
func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var cred identity.Credential
	if !decodeBody(w, r, &cred) {
		return
	}
	user, err := s.service.SignIn(r.Context(), cred)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := s.service.SignOut(r.Context(), userFromContext(r.Context()).ID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	user, err := s.service.Session(r.Context(), userFromContext(r.Context()).ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleSyncNotificationToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.service.SyncNotificationToken(r.Context(), userFromContext(r.Context()).ID, req.Token); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListHouseholds(w http.ResponseWriter, r *http.Request) {
	households, err := s.service.ListHouseholds(r.Context(), userFromContext(r.Context()).ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, households)
}

func (s *Server) handleCreateHousehold(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	household, err := s.service.CreateHousehold(r.Context(), userFromContext(r.Context()), req.Name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, household)
}

func (s *Server) handleGetHousehold(w http.ResponseWriter, r *http.Request) {
	household, err := s.service.GetHousehold(r.Context(), userFromContext(r.Context()).ID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, household)
}

func (s *Server) handleSwitchHousehold(w http.ResponseWriter, r *http.Request) {
	if err := s.service.SwitchHousehold(r.Context(), userFromContext(r.Context()).ID, r.PathValue("id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLeaveHousehold(w http.ResponseWriter, r *http.Request) {
	if err := s.service.LeaveHousehold(r.Context(), userFromContext(r.Context()).ID, r.PathValue("id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInviteUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	invite, err := s.service.InviteUser(r.Context(), userFromContext(r.Context()), r.PathValue("id"), req.Email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, invite)
}

func (s *Server) handleListInvites(w http.ResponseWriter, r *http.Request) {
	invites, err := s.service.ListInvites(r.Context(), userFromContext(r.Context()).ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invites)
}

func (s *Server) respondToInvite(w http.ResponseWriter, r *http.Request, accept bool) {
	invite, err := s.service.RespondToInvite(r.Context(), userFromContext(r.Context()).ID, r.PathValue("id"), accept)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invite)
}

func (s *Server) handleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	s.respondToInvite(w, r, true)
}

func (s *Server) handleRejectInvite(w http.ResponseWriter, r *http.Request) {
	s.respondToInvite(w, r, false)
}

// captureContentType falls back to the file extension when the part has no type
func captureContentType(header string, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(header))
	if contentType != "" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleScanReceipt recognises an uploaded receipt and returns the AI suggestion
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCaptureSize)
	if err := r.ParseMultipartForm(maxCaptureSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "File is too large. Maximum size is 50MB. Please compress or resize your image.", http.StatusBadRequest)
			return
		}
		writeError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, "No file was selected. Please choose a file to upload.", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	contentType := captureContentType(header.Header.Get("Content-Type"), header.Filename)
	suggestion, err := s.service.ScanReceipt(r.Context(), header.Filename, data, contentType)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestion)
}

// reviewRows is the edited review form as the client submits it
type reviewRows struct {
	Category string `json:"category"`
	Date     string `json:"date"`
	Total    string `json:"total"`
	Note     string `json:"note"`
}

func (rr reviewRows) sections() map[expense.Section]string {
	return map[expense.Section]string{
		expense.SectionCategory: rr.Category,
		expense.SectionDate:     rr.Date,
		expense.SectionTotal:    rr.Total,
		expense.SectionNote:     rr.Note,
	}
}

func (s *Server) handleReviewExpense(w http.ResponseWriter, r *http.Request) {
	var req reviewRows
	if !decodeBody(w, r, &req) {
		return
	}
	info, err := s.service.ReviewExpense(req.sections())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.service.ListExpenses(r.Context(), userFromContext(r.Context()).ID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, expenses)
}

// handleAddExpense reviews the submitted rows and stores the resulting expense
func (s *Server) handleAddExpense(w http.ResponseWriter, r *http.Request) {
	var req struct {
		reviewRows
		Distributed map[string]float64 `json:"distributed"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	info, err := s.service.ReviewExpense(req.sections())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	e, err := s.service.AddExpense(r.Context(), userFromContext(r.Context()), r.PathValue("id"), info, req.Distributed)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeleteExpense(r.Context(), userFromContext(r.Context()).ID, r.PathValue("id"), r.PathValue("expenseID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleBreakdown summarises one month; the current month when none is given
func (s *Server) handleBreakdown(w http.ResponseWriter, r *http.Request) {
	month := s.service.Now()
	if q := r.URL.Query().Get("month"); q != "" {
		parsed, err := time.Parse("2006-01", q)
		if err != nil {
			writeError(w, "month must be formatted as YYYY-MM", http.StatusBadRequest)
			return
		}
		month = parsed
	}
	breakdown, err := s.service.MonthlyBreakdown(r.Context(), userFromContext(r.Context()).ID, r.PathValue("id"), month.Year(), month.Month())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}
