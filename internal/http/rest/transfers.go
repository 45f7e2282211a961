package rest

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stevedev/verifetch/internal/downloader"
	"github.com/stevedev/verifetch/internal/hashverify"
	"github.com/stevedev/verifetch/internal/logctx"
	"github.com/stevedev/verifetch/internal/storage"
	"github.com/stevedev/verifetch/internal/telemetry"
	"github.com/stevedev/verifetch/internal/transfer"
)

const defaultHistoryLimit = 50

// TransferManager is the part of downloader.Manager the API drives.
type TransferManager interface {
	Submit(rawURL, fileName, expectedHash string) (transfer.Snapshot, error)
	Cancel(id string) bool
	Pause(id string) bool
	CancelAll()
	Lookup(id string) (transfer.Snapshot, bool)
	Snapshots() []transfer.Snapshot
	Stats() downloader.Stats
}

// SubmitRequest is the body of POST /transfers.
type SubmitRequest struct {
	URL          string `json:"url"`
	FileName     string `json:"file_name,omitempty"`
	ExpectedHash string `json:"expected_hash,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type TransferHandler struct {
	username  string
	password  string
	manager   TransferManager
	history   storage.LogReader
	telemetry *telemetry.Telemetry
}

// NewTransferHandler creates the transfer API. Basic auth is enforced when
// username is set.
func NewTransferHandler(username, password string, manager TransferManager, history storage.LogReader, t *telemetry.Telemetry) *TransferHandler {
	return &TransferHandler{
		username:  username,
		password:  password,
		manager:   manager,
		history:   history,
		telemetry: t,
	}
}

func (h *TransferHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(h.telemetry).Middleware)

	if h.username != "" {
		r.Use(h.basicAuthMiddleware)
	}

	r.Route("/transfers", func(r chi.Router) {
		r.Post("/", h.HandleSubmit)
		r.Get("/", h.HandleList)
		r.Delete("/", h.HandleCancelAll)
		r.Get("/{id}", h.HandleGet)
		r.Delete("/{id}", h.HandleCancel)
		r.Post("/{id}/pause", h.HandlePause)
	})

	r.Get("/stats", h.HandleStats)
	r.Get("/history", h.HandleHistory)

	return r
}

// HandleSubmit queues a new download.
func (h *TransferHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")

		return
	}

	if err := validateURL(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	if req.ExpectedHash != "" && !hashverify.IsValidHash(req.ExpectedHash) {
		writeError(w, http.StatusBadRequest, "expected_hash must be a 32, 40, 64 or 128 character hex digest")

		return
	}

	snap, err := h.manager.Submit(req.URL, req.FileName, req.ExpectedHash)
	if err != nil {
		if errors.Is(err, downloader.ErrManagerClosed) {
			writeError(w, http.StatusServiceUnavailable, err.Error())

			return
		}

		logctx.LoggerFromContext(r.Context()).Error("failed to submit transfer", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to submit transfer")

		return
	}

	w.Header().Set("Location", "/transfers/"+snap.ID)
	writeJSON(w, http.StatusAccepted, snap)
}

// HandleList returns every transfer still held in memory.
func (h *TransferHandler) HandleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Snapshots())
}

// HandleGet returns one transfer.
func (h *TransferHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.manager.Lookup(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "transfer not found")

		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// HandleCancel cancels one transfer.
func (h *TransferHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.stop(w, r, h.manager.Cancel)
}

// HandlePause pauses one transfer. Paused transfers cannot be resumed.
func (h *TransferHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.stop(w, r, h.manager.Pause)
}

func (h *TransferHandler) stop(w http.ResponseWriter, r *http.Request, stop func(string) bool) {
	id := chi.URLParam(r, "id")

	if !stop(id) {
		if _, known := h.manager.Lookup(id); known {
			writeError(w, http.StatusConflict, "transfer already finished")

			return
		}

		writeError(w, http.StatusNotFound, "transfer not found")

		return
	}

	snap, _ := h.manager.Lookup(id)
	writeJSON(w, http.StatusOK, snap)
}

// HandleCancelAll cancels every queued and running transfer.
func (h *TransferHandler) HandleCancelAll(w http.ResponseWriter, _ *http.Request) {
	h.manager.CancelAll()
	w.WriteHeader(http.StatusNoContent)
}

// HandleStats returns the manager counters.
func (h *TransferHandler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Stats())
}

// HandleHistory returns persisted finished transfers, newest first.
func (h *TransferHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")

			return
		}

		limit = n
	}

	if h.history == nil {
		writeJSON(w, http.StatusOK, []storage.DownloadLog{})

		return
	}

	logs, err := h.history.List(r.Context(), limit)
	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to list history", "err", err)
		h.telemetry.RecordSystemError(r.Context(), "storage", "list_failed")
		writeError(w, http.StatusInternalServerError, "failed to list history")

		return
	}

	if logs == nil {
		logs = []storage.DownloadLog{}
	}

	writeJSON(w, http.StatusOK, logs)
}

func (h *TransferHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="verifetch"`)
			writeError(w, http.StatusUnauthorized, "invalid authorization format")

			return
		}

		if subtle.ConstantTimeCompare([]byte(username), []byte(h.username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(password), []byte(h.password)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid username or password")

			return
		}

		next.ServeHTTP(w, r)
	})
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("url is required")
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("url must be an absolute http or https URL")
	}

	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
