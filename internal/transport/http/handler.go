package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"quiz-battle-service/internal/app"
	"quiz-battle-service/internal/auth"
	"quiz-battle-service/internal/domain"
)

// Handler exposes the battle service over JSON REST.
type Handler struct {
	service *app.BattleService
	logger  *zap.Logger
}

func NewHandler(service *app.BattleService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}
}

// RouterOptions tune the assembled router.
type RouterOptions struct {
	// WatchInterval is the websocket snapshot polling cadence.
	WatchInterval time.Duration
}

// NewRouter assembles the full HTTP surface: authenticated battle routes,
// the websocket watch feed, and a health probe.
func NewRouter(service *app.BattleService, jwtService *auth.Service, logger *zap.Logger, opts RouterOptions) http.Handler {
	h := NewHandler(service, logger)
	ws := NewWatchHandler(service, jwtService, logger, opts.WatchInterval)

	api := http.NewServeMux()
	api.HandleFunc("POST /api/battles", h.createBattle)
	api.HandleFunc("POST /api/battles/join", h.joinBattle)
	api.HandleFunc("POST /api/battles/{id}/answers", h.submitAnswer)
	api.HandleFunc("GET /api/battles/{id}", h.battleState)
	api.HandleFunc("GET /api/battles/{id}/result", h.battleResult)

	mux := http.NewServeMux()
	mux.Handle("/api/", Auth(jwtService)(api))
	mux.HandleFunc("GET /ws/battles/{id}", ws.ServeWS)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	return RequestLogger(logger)(mux)
}

type createBattleRequest struct {
	Title         string `json:"title"`
	SourceText    string `json:"sourceText"`
	NoteID        string `json:"noteId"`
	QuestionCount int    `json:"questionCount"`
}

func (h *Handler) createBattle(w http.ResponseWriter, r *http.Request) {
	var req createBattleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	summary, err := h.service.Create(r.Context(), UserID(r.Context()), app.CreateBattleRequest{
		Title:         req.Title,
		SourceText:    req.SourceText,
		NoteID:        req.NoteID,
		QuestionCount: req.QuestionCount,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

type joinBattleRequest struct {
	Code string `json:"code"`
}

func (h *Handler) joinBattle(w http.ResponseWriter, r *http.Request) {
	var req joinBattleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	summary, err := h.service.Join(r.Context(), req.Code, UserID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type submitAnswerRequest struct {
	QuestionIndex int    `json:"questionIndex"`
	Answer        string `json:"answer"`
}

func (h *Handler) submitAnswer(w http.ResponseWriter, r *http.Request) {
	var req submitAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := h.service.SubmitAnswer(r.Context(), r.PathValue("id"), UserID(r.Context()), req.QuestionIndex, req.Answer)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) battleState(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.State(r.Context(), r.PathValue("id"), UserID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) battleResult(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Result(r.Context(), r.PathValue("id"), UserID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
		writeErrorMessage(w, status, "internal error")
		return
	}
	writeErrorMessage(w, status, err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrBattleNotFound),
		errors.Is(err, domain.ErrQuestionNotFound),
		errors.Is(err, domain.ErrNoteNotFound),
		errors.Is(err, domain.ErrParticipantNotFound),
		errors.Is(err, domain.ErrResultNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyAnswered),
		errors.Is(err, domain.ErrBattleClosed),
		errors.Is(err, domain.ErrOpponentTaken):
		return http.StatusConflict
	case errors.Is(err, domain.ErrGenerationFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrDependencyUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
