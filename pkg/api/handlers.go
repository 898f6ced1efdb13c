package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/defectoor/defectoor/pkg/store"
	"github.com/go-chi/chi/v5"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// uintParam parses a numeric chi URL parameter.
func uintParam(r *http.Request, name string) (uint, error) {
	raw := chi.URLParam(r, name)

	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}

	return uint(v), nil
}

// storeError maps store failures onto HTTP responses.
func (s *server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{"not found"})

		return
	}

	s.log.WithError(err).Error("Store operation failed")
	writeJSON(w, http.StatusInternalServerError,
		errorResponse{"internal error"})
}

// --- Public handlers ---

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Auth handlers ---

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	User userResponse `json:"user"`
}

type userResponse struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// handleLogin authenticates a user with username/password and creates a
// session.
func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"username and password are required"})

		return
	}

	user, err := s.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized,
			errorResponse{"invalid credentials"})

		return
	}

	if !checkPassword(user.PasswordHash, req.Password) {
		writeJSON(w, http.StatusUnauthorized,
			errorResponse{"invalid credentials"})

		return
	}

	token, err := generateSessionToken()
	if err != nil {
		s.log.WithError(err).Error("Failed to generate session token")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	ttl, _ := time.ParseDuration(s.cfg.Server.Auth.SessionTTL)

	session := &store.Session{
		Token:     token,
		UserID:    user.ID,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}

	if err := s.store.CreateSession(r.Context(), session); err != nil {
		s.log.WithError(err).Error("Failed to create session")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		MaxAge:   int(ttl.Seconds()),
	})

	writeJSON(w, http.StatusOK, loginResponse{
		User: toUserResponse(user),
	})
}

// handleLogout destroys the current session.
func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil {
		_ = s.store.DeleteSession(r.Context(), cookie.Value)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMe returns the currently authenticated user.
func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized,
			errorResponse{"not authenticated"})

		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func toUserResponse(u *store.User) userResponse {
	return userResponse{
		ID:       u.ID,
		Username: u.Username,
		Role:     u.Role,
	}
}

// --- Run handlers ---

// handleListRuns returns all stored runs with their result counts.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		s.storeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, runs)
}

// handleGetRun returns one run by ID.
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uintParam(r, "runID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		s.storeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, run)
}

// handleRunSkipPaths returns the skip globs recorded for a run.
func (s *server) handleRunSkipPaths(w http.ResponseWriter, r *http.Request) {
	runID, err := uintParam(r, "runID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	paths, err := s.store.GetRunSkipPaths(r.Context(), runID)
	if err != nil {
		s.storeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, paths)
}

type removeRunsRequest struct {
	RunIDs []uint `json:"run_ids"`
}

type removeRunsResponse struct {
	AllRemoved bool `json:"all_removed"`
}

// handleRemoveRuns deletes the given runs with all their results.
func (s *server) handleRemoveRuns(w http.ResponseWriter, r *http.Request) {
	var req removeRunsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if len(req.RunIDs) == 0 {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"run_ids is required"})

		return
	}

	all, err := s.store.RemoveRunResults(r.Context(), req.RunIDs)
	if err != nil {
		s.storeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, removeRunsResponse{AllRemoved: all})
}

// --- Result handlers ---

// resultsQuery carries paging, sorting, and filtering for result listings.
type resultsQuery struct {
	Limit   int                  `json:"limit"`
	Offset  int                  `json:"offset"`
	Sort    []store.SortMode     `json:"sort,omitempty"`
	Filters []store.ReportFilter `json:"filters,omitempty"`
}

// decodeQuery reads a resultsQuery from the request body. An empty body
// yields the zero query.
func decodeQuery(r *http.Request) (*resultsQuery, error) {
	var q resultsQuery

	err := json.NewDecoder(r.Body).Decode(&q)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	return &q, nil
}

// handleRunResults returns one page of a run's reports.
func (s *server) handleRunResults(w http.ResponseWriter, r *http.Request) {
	runID, err := uintParam(r, "runID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	q, err := decodeQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	results, err := s.store.GetRunResults(
		r.Context(), runID, q.Limit, q.Offset, q.Sort, q.Filters,
	)
	if err != nil {
		s.storeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, results)
}

// handleRunResultCount returns the number of reports matching the filters.
func (s *server) handleRunResultCount(
	w http.ResponseWriter, r *http.Request,
) {
	runID, err := uintParam(r, "runID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	q, err := decodeQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	count, err := s.store.GetRunResultCount(r.Context(), runID, q.Filters)
	if err != nil {
		s.storeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

// handleRunResultTypes returns the per-checker result breakdown of a run.
func (s *server) handleRunResultTypes(
	w http.ResponseWriter, r *http.Request,
) {
	runID, err := uintParam(r, "runID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	q, err := decodeQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	types, err := s.store.GetRunResultTypes(r.Context(), runID, q.Filters)
	if err != nil {
		s.storeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, types)
}

// handleGetReport returns one report with its full bug path.
func (s *server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	reportID, err := uintParam(r, "reportID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	report, err := s.store.GetReport(r.Context(), reportID)
	if err != nil {
		s.storeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, report)
}

// handleFileContent returns the stored source body of a file.
func (s *server) handleFileContent(w http.ResponseWriter, r *http.Request) {
	fileID, err := uintParam(r, "fileID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	content, err := s.store.GetFileContent(r.Context(), fileID)
	if err != nil {
		s.storeError(w, err)

		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

// --- Suppression handlers ---

type suppressRequest struct {
	RunIDs  []uint `json:"run_ids"`
	Comment string `json:"comment"`
}

type suppressResponse struct {
	Applied bool `json:"applied"`
}

// handleSuppressBug suppresses a report's bug in the given runs.
func (s *server) handleSuppressBug(w http.ResponseWriter, r *http.Request) {
	reportID, err := uintParam(r, "reportID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	var req suppressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if len(req.RunIDs) == 0 {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"run_ids is required"})

		return
	}

	applied, err := s.suppress.Suppress(
		r.Context(), req.RunIDs, reportID, req.Comment,
	)
	if err != nil {
		s.storeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, suppressResponse{Applied: applied})
}

// handleUnsuppressBug removes a report's suppression from the given runs.
func (s *server) handleUnsuppressBug(
	w http.ResponseWriter, r *http.Request,
) {
	reportID, err := uintParam(r, "reportID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	var req suppressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if len(req.RunIDs) == 0 {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"run_ids is required"})

		return
	}

	applied, err := s.suppress.Unsuppress(r.Context(), req.RunIDs, reportID)
	if err != nil {
		s.storeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, suppressResponse{Applied: applied})
}

// handleSuppressedBugs returns a run's suppression records.
func (s *server) handleSuppressedBugs(
	w http.ResponseWriter, r *http.Request,
) {
	runID, err := uintParam(r, "runID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	records, err := s.store.GetSuppressedBugs(r.Context(), runID)
	if err != nil {
		s.storeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, records)
}

// --- Diff handlers ---

// parseDiffType maps a query value onto a DiffType.
func parseDiffType(raw string) (store.DiffType, error) {
	switch raw {
	case "new":
		return store.DiffNew, nil
	case "resolved":
		return store.DiffResolved, nil
	case "unresolved":
		return store.DiffUnresolved, nil
	default:
		return 0, fmt.Errorf("invalid diff type %q", raw)
	}
}

func (s *server) diffParams(
	w http.ResponseWriter, r *http.Request,
) (baseID, newID uint, diffType store.DiffType, q *resultsQuery, ok bool) {
	baseID, err := uintParam(r, "baseRunID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return 0, 0, 0, nil, false
	}

	newID, err = uintParam(r, "newRunID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return 0, 0, 0, nil, false
	}

	diffType, err = parseDiffType(r.URL.Query().Get("type"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return 0, 0, 0, nil, false
	}

	q, err = decodeQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return 0, 0, 0, nil, false
	}

	return baseID, newID, diffType, q, true
}

// handleDiffResults returns one page of a two-run comparison.
func (s *server) handleDiffResults(w http.ResponseWriter, r *http.Request) {
	baseID, newID, diffType, q, ok := s.diffParams(w, r)
	if !ok {
		return
	}

	results, err := s.store.GetDiffResults(
		r.Context(), baseID, newID, diffType,
		q.Limit, q.Offset, q.Sort, q.Filters,
	)
	if err != nil {
		s.storeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, results)
}

// handleDiffResultCount returns the size of a two-run comparison.
func (s *server) handleDiffResultCount(
	w http.ResponseWriter, r *http.Request,
) {
	baseID, newID, diffType, q, ok := s.diffParams(w, r)
	if !ok {
		return
	}

	count, err := s.store.GetDiffResultCount(
		r.Context(), baseID, newID, diffType, q.Filters,
	)
	if err != nil {
		s.storeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

// handleDiffResultTypes returns the per-checker breakdown of a comparison.
func (s *server) handleDiffResultTypes(
	w http.ResponseWriter, r *http.Request,
) {
	baseID, newID, diffType, q, ok := s.diffParams(w, r)
	if !ok {
		return
	}

	types, err := s.store.GetDiffResultTypes(
		r.Context(), baseID, newID, diffType, q.Filters,
	)
	if err != nil {
		s.storeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, types)
}
