package http

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"crowdplay-room-service/internal/app"
	"crowdplay-room-service/internal/domain"
)

// EventSource is the subscription side of the fan-out consumed by the
// websocket stream.
type EventSource interface {
	Subscribe(roomID string) (<-chan domain.StateEvent, func())
}

// API wires the room service use cases to HTTP.
type API struct {
	service *app.RoomService
	events  EventSource
	logger  *zap.Logger
	limiter *ipLimiter
}

func NewAPI(service *app.RoomService, events EventSource, logger *zap.Logger) *API {
	return &API{
		service: service,
		events:  events,
		logger:  logger,
		limiter: newIPLimiter(20, 40),
	}
}

// Router builds the route tree.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(a.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/hosts", a.registerHost)
		r.With(a.rateLimit).Post("/rooms/join", a.joinRoom)
		r.Get("/rooms/{roomID}", a.roomSnapshot)
		r.Get("/rooms/{roomID}/ws", a.serveWS)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth)
			r.Post("/rooms", a.createRoom)
			r.Post("/rooms/{roomID}/start", a.startGame)
			r.Post("/rooms/{roomID}/next", a.nextQuestion)
			r.Post("/rooms/{roomID}/reveal", a.revealResults)
			r.Post("/rooms/{roomID}/leaderboard", a.showLeaderboard)
			r.Post("/rooms/{roomID}/end", a.endGame)
			r.Post("/rooms/{roomID}/players/{playerID}/kick", a.kickPlayer)
			r.With(a.rateLimit).Post("/rooms/{roomID}/answers", a.submitAnswer)
		})
	})
	return r
}

type registerHostRequest struct {
	DisplayName string `json:"displayName"`
}

func (a *API) registerHost(w http.ResponseWriter, r *http.Request) {
	var req registerHostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.E(domain.CodeInvalidArgument, "malformed request body"))
		return
	}
	hostID, token, err := a.service.RegisterHost(r.Context(), req.DisplayName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"hostId": hostID, "token": token})
}

type createRoomRequest struct {
	Title      string               `json:"title"`
	Mode       string               `json:"mode"`
	MaxPlayers int                  `json:"maxPlayers"`
	Questions  []questionRequest    `json:"questions"`
	Settings   *roomSettingsRequest `json:"settings"`
}

type questionRequest struct {
	Type            domain.QuestionType `json:"type"`
	Text            string              `json:"text"`
	ImageURL        string              `json:"imageUrl"`
	Options         []domain.Option     `json:"options"`
	CorrectOptionID string              `json:"correctOptionId"`
	NumRule         *domain.NumRule     `json:"numRule"`
	TimeLimitSec    int                 `json:"timeLimitSec"`
	BasePoints      int                 `json:"basePoints"`
	SpeedFactor     float64             `json:"speedFactor"`
}

// roomSettingsRequest uses pointers so absent toggles keep their defaults:
// leaderboard and option shuffling default on, the rest off.
type roomSettingsRequest struct {
	LockOnStart     *bool `json:"lockOnStart"`
	ShowLeaderboard *bool `json:"showLeaderboard"`
	CaptureEmail    *bool `json:"captureEmail"`
	ShuffleOptions  *bool `json:"shuffleOptions"`
}

func (r *roomSettingsRequest) resolve() domain.Settings {
	settings := domain.Settings{ShowLeaderboard: true, ShuffleOptions: true}
	if r == nil {
		return settings
	}
	if r.LockOnStart != nil {
		settings.LockOnStart = *r.LockOnStart
	}
	if r.ShowLeaderboard != nil {
		settings.ShowLeaderboard = *r.ShowLeaderboard
	}
	if r.CaptureEmail != nil {
		settings.CaptureEmail = *r.CaptureEmail
	}
	if r.ShuffleOptions != nil {
		settings.ShuffleOptions = *r.ShuffleOptions
	}
	return settings
}

func (a *API) createRoom(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if claims.Role != domain.RoleHost {
		writeError(w, domain.E(domain.CodePermissionDenied, "must be a host to create rooms"))
		return
	}
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.E(domain.CodeInvalidArgument, "malformed request body"))
		return
	}

	questions := make([]app.QuestionInput, len(req.Questions))
	for i, q := range req.Questions {
		questions[i] = app.QuestionInput{
			Type:            q.Type,
			Text:            q.Text,
			ImageURL:        q.ImageURL,
			Options:         q.Options,
			CorrectOptionID: q.CorrectOptionID,
			NumRule:         q.NumRule,
			TimeLimitSec:    q.TimeLimitSec,
			BasePoints:      q.BasePoints,
			SpeedFactor:     q.SpeedFactor,
		}
	}
	result, err := a.service.CreateRoom(r.Context(), claims.Subject, app.CreateRoomInput{
		Title:      req.Title,
		Mode:       req.Mode,
		MaxPlayers: req.MaxPlayers,
		Questions:  questions,
		Settings:   req.Settings.resolve(),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type joinRoomRequest struct {
	Code        string `json:"code"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

func (a *API) joinRoom(w http.ResponseWriter, r *http.Request) {
	var req joinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.E(domain.CodeInvalidArgument, "malformed request body"))
		return
	}
	result, err := a.service.Join(r.Context(), app.JoinInput{
		Code:        req.Code,
		DisplayName: req.DisplayName,
		Email:       req.Email,
		DeviceHash:  deviceHash(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) startGame(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	state, err := a.service.Start(r.Context(), claims.Subject, chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "state": state})
}

func (a *API) nextQuestion(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	result, err := a.service.Next(r.Context(), claims.Subject, chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type revealRequest struct {
	QuestionIndex int `json:"questionIndex"`
}

func (a *API) revealResults(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	var req revealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.E(domain.CodeInvalidArgument, "malformed request body"))
		return
	}
	result, err := a.service.Reveal(r.Context(), claims.Subject, chi.URLParam(r, "roomID"), req.QuestionIndex)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) showLeaderboard(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	state, err := a.service.ShowLeaderboard(r.Context(), claims.Subject, chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "state": state})
}

func (a *API) endGame(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	result, err := a.service.End(r.Context(), claims.Subject, chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) kickPlayer(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	err := a.service.Kick(r.Context(), claims.Subject, chi.URLParam(r, "roomID"), chi.URLParam(r, "playerID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type submitAnswerRequest struct {
	PlayerID      string          `json:"playerId"`
	QuestionIndex int             `json:"questionIndex"`
	Answer        json.RawMessage `json:"answer"`
}

func (a *API) submitAnswer(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	var req submitAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.E(domain.CodeInvalidArgument, "malformed request body"))
		return
	}
	resp, err := domain.DecodeResponse(req.Answer)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := a.service.Submit(r.Context(), claims, chi.URLParam(r, "roomID"), req.PlayerID, req.QuestionIndex, resp)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) roomSnapshot(w http.ResponseWriter, r *http.Request) {
	room, state, err := a.service.RoomSnapshot(chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"room": room, "state": state})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error struct {
		Code    domain.Code `json:"code"`
		Message string      `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	code := domain.CodeOf(err)
	body := errorBody{}
	body.Error.Code = code
	body.Error.Message = err.Error()
	if code == domain.CodeInternal {
		body.Error.Message = "internal error"
	}
	writeJSON(w, statusFor(code), body)
}

func statusFor(code domain.Code) int {
	switch code {
	case domain.CodeInvalidArgument:
		return http.StatusBadRequest
	case domain.CodeUnauthenticated:
		return http.StatusUnauthorized
	case domain.CodePermissionDenied:
		return http.StatusForbidden
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeAlreadyExists:
		return http.StatusConflict
	case domain.CodeFailedPrecondition:
		return http.StatusPreconditionFailed
	case domain.CodeResourceExhausted:
		return http.StatusTooManyRequests
	case domain.CodeDeadlineExceeded:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// deviceHash is the lightweight anti-cheat fingerprint bound into player
// credentials.
func deviceHash(r *http.Request) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%s-%d", r.UserAgent(), r.RemoteAddr, time.Now().UnixNano())))
	return hex.EncodeToString(sum[:])[:16]
}
