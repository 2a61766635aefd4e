// internal/control/handlers.go
package control

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/zacharyisnthere/who-owns-you/internal/preference"
)

const maxBodyBytes = 1 << 10

// Handlers serves the control endpoints on top of a Surface.
type Handlers struct {
	log     *zap.Logger
	surface *Surface
}

// NewHandlers creates the control handlers.
func NewHandlers(logger *zap.Logger, surface *Surface) *Handlers {
	return &Handlers{log: logger.Named("control_handlers"), surface: surface}
}

// RegisterRoutes mounts the control routes on r.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealthCheck)
	r.Get("/state", h.HandleGetState)
	r.Put("/state", h.HandleSetState)
	r.Post("/toggle", h.HandleToggle)
}

func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handlers) HandleGetState(w http.ResponseWriter, r *http.Request) {
	st, err := h.surface.State(r.Context())
	if err != nil {
		h.log.Warn("Failed to read preference", zap.Error(err))
		h.respondWithError(w, http.StatusServiceUnavailable, "Preference store unavailable.")
		return
	}
	h.respondWithState(w, st)
}

func (h *Handlers) HandleSetState(w http.ResponseWriter, r *http.Request) {
	var req StateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if req.Enabled == nil {
		h.respondWithError(w, http.StatusBadRequest, `Field "enabled" is required.`)
		return
	}

	st, err := h.surface.Set(r.Context(), *req.Enabled)
	if err != nil {
		h.log.Warn("Failed to set preference", zap.Error(err))
		h.respondWithError(w, http.StatusServiceUnavailable, "Preference store unavailable.")
		return
	}
	h.respondWithState(w, st)
}

func (h *Handlers) HandleToggle(w http.ResponseWriter, r *http.Request) {
	st, err := h.surface.Toggle(r.Context())
	if err != nil {
		h.log.Warn("Failed to toggle preference", zap.Error(err))
		h.respondWithError(w, http.StatusServiceUnavailable, "Preference store unavailable.")
		return
	}
	h.respondWithState(w, st)
}

func (h *Handlers) respondWithState(w http.ResponseWriter, st preference.State) {
	h.respond(w, http.StatusOK, Response{
		Status: "success",
		Data:   &StateResponse{Enabled: st.Enabled, Sequence: st.Sequence},
	})
}

func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.respond(w, statusCode, Response{Status: "error", Error: message})
}

func (h *Handlers) respond(w http.ResponseWriter, statusCode int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
