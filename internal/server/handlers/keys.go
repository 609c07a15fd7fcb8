package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/keywheel/keywheel/internal/core"
	"github.com/keywheel/keywheel/internal/core/store"
	apperrors "github.com/keywheel/keywheel/internal/errors"
	"github.com/keywheel/keywheel/internal/metrics"
	"github.com/keywheel/keywheel/internal/observability"
	"github.com/keywheel/keywheel/internal/server/middleware"
)

const (
	actionConfirm = "confirm"
	actionFailure = "failure"
	actionStats   = "stats"

	maxParamBodyBytes = 64 << 10

	// exhaustedJournalName is the credential column value for pool-wide events.
	exhaustedJournalName = "*"
)

// CredentialPool is the engine surface served by the key endpoint.
type CredentialPool interface {
	Select() (core.Selection, error)
	Confirm(key string, tokens int64) (core.UsageStats, error)
	ReportFailure(key string, kind core.FailureKind) (core.FailureResult, error)
	Stats() []core.CredentialStats
	Summary() core.PoolSummary
	NameOf(key string) (string, bool)
}

// Journal receives usage events. Writes are best-effort.
type Journal interface {
	RecordEvent(ctx context.Context, event store.Event) error
}

// KeyHandler serves credential selection, usage confirmation, failure
// reports and stats on a single path, dispatched by method and ?action=.
type KeyHandler struct {
	pool     CredentialPool
	journal  Journal
	basePath string
}

// KeyOption configures a KeyHandler.
type KeyOption func(*KeyHandler)

// WithJournal records usage events to j.
func WithJournal(j Journal) KeyOption {
	return func(h *KeyHandler) {
		h.journal = j
	}
}

// WithBasePath sets the path shown in the usage hint.
func WithBasePath(path string) KeyOption {
	return func(h *KeyHandler) {
		if strings.TrimSpace(path) != "" {
			h.basePath = path
		}
	}
}

// NewKeyHandler builds the key endpoint handler around pool.
func NewKeyHandler(pool CredentialPool, opts ...KeyOption) *KeyHandler {
	h := &KeyHandler{
		pool:     pool,
		basePath: "/api/key",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// BasePath returns the path the handler advertises in its usage hint.
func (h *KeyHandler) BasePath() string {
	return h.basePath
}

// SelectionResponse is returned for a successful credential pick.
type SelectionResponse struct {
	Key       string         `json:"key"`
	Name      string         `json:"name"`
	Limits    core.Remaining `json:"limits"`
	Timestamp string         `json:"timestamp"`
}

// ConfirmResponse is returned after usage is recorded.
type ConfirmResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Stats   core.UsageStats `json:"stats"`
}

// FailureResponse is returned after a failure report.
type FailureResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	WillRotate bool   `json:"willRotate"`
}

// StatsResponse lists every credential in pool order.
type StatsResponse struct {
	Stats []core.CredentialStats `json:"stats"`
}

func (h *KeyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer h.recoverFault(w, r)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	action := r.URL.Query().Get("action")

	switch {
	case r.Method == http.MethodGet && action == "":
		h.handleSelect(w, r)
	case r.Method == http.MethodGet && action == actionStats:
		h.handleStats(w, r)
	case r.Method == http.MethodPost && action == actionConfirm:
		h.handleConfirm(w, r)
	case r.Method == http.MethodPost && action == actionFailure:
		h.handleFailure(w, r)
	default:
		h.respondUsage(w, r)
	}
}

func (h *KeyHandler) handleSelect(w http.ResponseWriter, r *http.Request) {
	selection, err := h.pool.Select()
	if err != nil {
		var exhausted *core.ExhaustedError
		if stderrors.As(err, &exhausted) {
			metrics.RecordSelection(metrics.OutcomeExhausted)
			h.record(r, store.Event{Credential: exhaustedJournalName, Kind: store.EventExhausted})
			h.publishGauges()
			if logger := observability.ServerLogger; logger != nil {
				logger.Warn("Credential pool exhausted",
					zap.Duration("retry_after", exhausted.RetryAfterDuration()),
					zap.String("request_id", middleware.GetRequestID(r.Context())))
			}
		}
		apperrors.RespondFlat(w, r, apperrors.FromPoolError(r.Context(), err))
		return
	}

	metrics.RecordSelection(metrics.OutcomeSelected)
	h.record(r, store.Event{Credential: selection.Name, Kind: store.EventSelected})

	if logger := observability.ServerLogger; logger != nil {
		logger.Info("Credential selected",
			zap.String("credential", selection.Name),
			zap.Int64("requests_remaining", selection.Limits.RequestsRemaining),
			zap.Int64("tokens_remaining_minute", selection.Limits.TokensRemainingThisMinute),
			zap.Int64("tokens_remaining_today", selection.Limits.TokensRemainingToday),
			zap.String("request_id", middleware.GetRequestID(r.Context())))
	}

	writeJSON(w, http.StatusOK, SelectionResponse{
		Key:       selection.Key,
		Name:      selection.Name,
		Limits:    selection.Limits,
		Timestamp: selection.SelectedAt.UTC().Format(core.TimestampFormat),
	})
}

func (h *KeyHandler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	params := readParams(r)
	key := params.get("key")
	tokens := parseTokens(params.get("tokens"))

	stats, err := h.pool.Confirm(key, tokens)
	if err != nil {
		apperrors.RespondFlat(w, r, apperrors.FromPoolError(r.Context(), err))
		return
	}

	name := h.credentialName(key)
	metrics.RecordConfirmedTokens(name, tokens)
	h.record(r, store.Event{Credential: name, Kind: store.EventConfirmed, Tokens: tokens})
	h.publishGauges()

	if logger := observability.ServerLogger; logger != nil {
		logger.Info("Usage confirmed",
			zap.String("credential", name),
			zap.Int64("tokens", tokens),
			zap.Int64("tokens_today", stats.TokensToday),
			zap.Int64("requests_this_minute", stats.RequestsThisMinute),
			zap.String("request_id", middleware.GetRequestID(r.Context())))
	}

	writeJSON(w, http.StatusOK, ConfirmResponse{
		Success: true,
		Message: "Usage confirmed",
		Stats:   stats,
	})
}

func (h *KeyHandler) handleFailure(w http.ResponseWriter, r *http.Request) {
	params := readParams(r)
	key := params.get("key")
	kind := core.ParseFailureKind(params.get("errorType"))

	result, err := h.pool.ReportFailure(key, kind)
	if err != nil {
		apperrors.RespondFlat(w, r, apperrors.FromPoolError(r.Context(), err))
		return
	}

	metrics.RecordFailure(result.Name, string(result.Kind))
	h.record(r, store.Event{Credential: result.Name, Kind: store.EventFailure, FailureKind: string(result.Kind)})
	h.publishGauges()

	if logger := observability.ServerLogger; logger != nil {
		fields := []zap.Field{
			zap.String("credential", result.Name),
			zap.String("kind", string(result.Kind)),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
		}
		if result.Deactivated {
			logger.Warn("Credential deactivated after failure report", fields...)
		} else {
			logger.Info("Failure recorded", fields...)
		}
	}

	writeJSON(w, http.StatusOK, FailureResponse{
		Success:    true,
		Message:    "Failure recorded, key rotated",
		WillRotate: true,
	})
}

func (h *KeyHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatsResponse{Stats: h.pool.Stats()})
}

func (h *KeyHandler) respondUsage(w http.ResponseWriter, r *http.Request) {
	envelope := apperrors.NewInvalidRequestError(apperrors.MessageInvalidCall)
	envelope = envelope.WithDetails(map[string]interface{}{
		"usage": UsageHint(h.basePath),
	})
	apperrors.RespondFlat(w, r, envelope)
}

// UsageHint lists the four valid call shapes for the endpoint at path.
func UsageHint(path string) map[string]string {
	return map[string]string{
		"getKey":        "GET " + path,
		"confirmUsage":  "POST " + path + "?action=confirm&key=KEY&tokens=COUNT",
		"reportFailure": "POST " + path + "?action=failure&key=KEY&errorType=rate_limit|daily_limit|error",
		"getStats":      "GET " + path + "?action=stats",
	}
}

// recoverFault turns a panic inside the endpoint into a flat 500 response.
func (h *KeyHandler) recoverFault(w http.ResponseWriter, r *http.Request) {
	rec := recover()
	if rec == nil {
		return
	}

	metrics.RecordPanic()

	envelope := apperrors.WrapInternal(r.Context(), fmt.Errorf("panic: %v", rec), apperrors.MessageInternal)
	envelope = envelope.WithDetails(map[string]interface{}{
		"message": fmt.Sprint(rec),
	})
	apperrors.RespondFlat(w, r, envelope)
}

// credentialName maps a key to its display name so secrets never reach
// logs, metrics or the journal.
func (h *KeyHandler) credentialName(key string) string {
	if name, ok := h.pool.NameOf(key); ok {
		return name
	}
	return "unknown"
}

func (h *KeyHandler) publishGauges() {
	summary := h.pool.Summary()
	metrics.SetPoolGauges(summary.Active, summary.Eligible)
}

func (h *KeyHandler) record(r *http.Request, event store.Event) {
	if h.journal == nil {
		return
	}

	event.RequestID = middleware.GetRequestID(r.Context())
	event.CreatedAt = time.Now().UTC()

	if err := h.journal.RecordEvent(r.Context(), event); err != nil {
		metrics.RecordJournalWriteError(string(event.Kind))
		if logger := observability.ServerLogger; logger != nil {
			logger.Warn("Failed to record usage event",
				zap.String("kind", string(event.Kind)),
				zap.String("credential", event.Credential),
				zap.Error(err))
		}
	}
}

// requestParams resolves named parameters from the query string first and
// then from a JSON or form-encoded body.
type requestParams struct {
	query url.Values
	body  map[string]string
}

func (p requestParams) get(name string) string {
	if value := p.query.Get(name); value != "" {
		return value
	}
	return p.body[name]
}

func readParams(r *http.Request) requestParams {
	params := requestParams{query: r.URL.Query(), body: map[string]string{}}
	if r.Body == nil || r.Body == http.NoBody {
		return params
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	reader := io.LimitReader(r.Body, maxParamBodyBytes)

	switch mediaType {
	case "application/x-www-form-urlencoded":
		data, err := io.ReadAll(reader)
		if err != nil {
			return params
		}
		values, err := url.ParseQuery(string(data))
		if err != nil {
			return params
		}
		for name := range values {
			params.body[name] = values.Get(name)
		}
	default:
		decoder := json.NewDecoder(reader)
		decoder.UseNumber()
		var raw map[string]interface{}
		if err := decoder.Decode(&raw); err != nil {
			return params
		}
		for name, value := range raw {
			switch v := value.(type) {
			case string:
				params.body[name] = v
			case json.Number:
				params.body[name] = v.String()
			case bool:
				params.body[name] = strconv.FormatBool(v)
			}
		}
	}
	return params
}

// parseTokens reads a token count leniently: a leading integer is used and
// anything unparseable counts as zero, which confirmation rejects.
func parseTokens(value string) int64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n
	}

	end := 0
	if end < len(value) && (value[end] == '-' || value[end] == '+') {
		end++
	}
	for end < len(value) && value[end] >= '0' && value[end] <= '9' {
		end++
	}
	n, err := strconv.ParseInt(value[:end], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
