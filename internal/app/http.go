package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lexicon/api/internal/auth"
	"lexicon/api/internal/search"
	"lexicon/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

var suggestionCollections = map[string]store.Collection{
	"word-suggestions":    store.WordSuggestions,
	"example-suggestions": store.ExampleSuggestions,
	"corpus-suggestions":  store.CorpusSuggestions,
}

var canonicalFolders = map[string]string{
	"words":    "words",
	"examples": "examples",
	"corpora":  "corpora",
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{}
		for name, err := range s.service.Readiness(ctx) {
			if err != nil {
				status = "not_ready"
				statusCode = http.StatusServiceUnavailable
				checks[name] = map[string]any{"status": "error", "error": err.Error()}
				continue
			}
			checks[name] = map[string]any{"status": "ok"}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/assets/") {
		s.handleAsset(w, r, strings.TrimPrefix(r.URL.Path, "/assets/"))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		principal, err := auth.PrincipalFromHeader(s.service.JWTSecret(), r.Header.Get("Authorization"))
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        principal.ID,
			"userName":      principal.Name,
			"role":          principal.Role,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if folder, ok := canonicalFolders[parts[1]]; ok && r.Method == http.MethodGet && len(parts) >= 3 {
		s.handleCanonical(w, r, folder, parts[2:])
		return
	}

	principal, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}

	if parts[1] == "merges" && len(parts) == 2 && r.Method == http.MethodGet {
		records, err := s.service.ListMerges(r.Context(), queryInt(r, "limit", 50))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"merges": records})
		return
	}

	if collection, ok := suggestionCollections[parts[1]]; ok {
		s.handleSuggestions(w, r, principal, collection, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSuggestions(w http.ResponseWriter, r *http.Request, principal auth.Principal, collection store.Collection, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			filter, err := suggestionFilter(r)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			items, err := s.service.ListSuggestions(ctx, collection, filter)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"suggestions": items})
		case http.MethodPost:
			payload, err := s.createSuggestion(r, principal, collection)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	id := parts[0]
	if len(parts) == 1 {
		var (
			payload any
			err     error
		)
		switch r.Method {
		case http.MethodGet:
			payload, err = s.service.GetSuggestion(ctx, collection, id)
		case http.MethodPut:
			payload, err = s.updateSuggestion(r, principal, collection, id)
		case http.MethodDelete:
			payload, err = s.service.DeleteSuggestion(ctx, principal, collection, id)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 2 && r.Method == http.MethodPost && parts[1] == "vote" {
		var body struct {
			Decision string `json:"decision"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		ballot, err := s.service.Vote(ctx, principal, collection, id, body.Decision)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ballot)
		return
	}

	if len(parts) == 2 && r.Method == http.MethodPost && parts[1] == "merge" {
		var body struct {
			BypassApprovals bool `json:"bypassApprovals"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.RequestMerge(ctx, principal, collection, id, body.BypassApprovals)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) createSuggestion(r *http.Request, principal auth.Principal, collection store.Collection) (any, error) {
	switch collection {
	case store.WordSuggestions:
		var body WordSuggestionInput
		if err := decodeBody(r, &body); err != nil {
			return nil, invalidBody(err)
		}
		return s.service.CreateWordSuggestion(r.Context(), principal, body)
	case store.ExampleSuggestions:
		var body ExampleSuggestionInput
		if err := decodeBody(r, &body); err != nil {
			return nil, invalidBody(err)
		}
		return s.service.CreateExampleSuggestion(r.Context(), principal, body)
	default:
		var body CorpusSuggestionInput
		if err := decodeBody(r, &body); err != nil {
			return nil, invalidBody(err)
		}
		return s.service.CreateCorpusSuggestion(r.Context(), principal, body)
	}
}

func (s *HTTPServer) updateSuggestion(r *http.Request, principal auth.Principal, collection store.Collection, id string) (any, error) {
	switch collection {
	case store.WordSuggestions:
		var body WordSuggestionInput
		if err := decodeBody(r, &body); err != nil {
			return nil, invalidBody(err)
		}
		return s.service.UpdateWordSuggestion(r.Context(), principal, id, body)
	case store.ExampleSuggestions:
		var body ExampleSuggestionInput
		if err := decodeBody(r, &body); err != nil {
			return nil, invalidBody(err)
		}
		return s.service.UpdateExampleSuggestion(r.Context(), principal, id, body)
	default:
		var body CorpusSuggestionInput
		if err := decodeBody(r, &body); err != nil {
			return nil, invalidBody(err)
		}
		return s.service.UpdateCorpusSuggestion(r.Context(), principal, id, body)
	}
}

func (s *HTTPServer) handleCanonical(w http.ResponseWriter, r *http.Request, folder string, parts []string) {
	ctx := r.Context()
	id := parts[0]
	var (
		payload any
		err     error
	)
	switch {
	case len(parts) == 1 && folder == "words":
		payload, err = s.service.GetWord(ctx, id)
	case len(parts) == 1 && folder == "examples":
		payload, err = s.service.GetExample(ctx, id)
	case len(parts) == 1 && folder == "corpora":
		payload, err = s.service.GetCorpus(ctx, id)
	case len(parts) == 2 && parts[1] == "history":
		var commits any
		commits, err = s.service.History(ctx, folder, id, queryInt(r, "limit", 50))
		payload = map[string]any{"id": id, "history": commits}
	case len(parts) == 3 && parts[1] == "history":
		var snapshot json.RawMessage
		snapshot, err = s.service.Revision(ctx, folder, id, parts[2])
		payload = map[string]any{"id": id, "hash": parts[2], "record": snapshot}
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := search.Query{
		Text:       r.URL.Query().Get("q"),
		FilterType: search.ResultType(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("type")))),
		Limit:      queryInt(r, "limit", 20),
		Offset:     queryInt(r, "offset", 0),
	}
	response, err := s.service.Search(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleAsset(w http.ResponseWriter, r *http.Request, key string) {
	if strings.Contains(key, "..") {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	data, contentType, ok := s.service.Asset(key)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *HTTPServer) requirePrincipal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	principal, err := auth.PrincipalFromHeader(s.service.JWTSecret(), r.Header.Get("Authorization"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return auth.Principal{}, false
	}
	return principal, true
}

// fail renders err and logs server errors.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.service.log.Error("request failed",
			"request_id", requestID(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", reqID)

		next.ServeHTTP(writer, r)

		s.service.log.Info("request",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func invalidBody(err error) error {
	return domainError(http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, key string, fallback int) int {
	value := strings.TrimSpace(r.URL.Query().Get(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func suggestionFilter(r *http.Request) (store.SuggestionFilter, error) {
	filter := store.SuggestionFilter{
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("merged"))) {
	case "":
	case "open", "false":
		filter.Merged = store.MergedNo
	case "merged", "true":
		filter.Merged = store.MergedYes
	default:
		return filter, domainError(http.StatusBadRequest, "INVALID_QUERY", "merged must be open or merged", nil)
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, domainError(http.StatusBadRequest, "INVALID_QUERY", "since must be an RFC 3339 timestamp", nil)
		}
		filter.Since = &since
	}
	return filter, nil
}
