package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"zhatRelay/internal/app"
	"zhatRelay/internal/domain"
)

// FeatureController exposes feature health and recovery.
type FeatureController interface {
	Statuses() []app.FeatureState
	Restart(id string) error
}

type apiHandlers struct {
	features      FeatureController
	documents     domain.DocumentRepository
	notifications domain.NotificationLog
	log           logrus.FieldLogger
}

func newAPIHandlers(cfg Config, log logrus.FieldLogger) *apiHandlers {
	return &apiHandlers{
		features:      cfg.Features,
		documents:     cfg.Documents,
		notifications: cfg.Notifications,
		log:           log,
	}
}

func (a *apiHandlers) register(mux *http.ServeMux) {
	if a == nil || mux == nil {
		return
	}

	if a.features != nil {
		mux.HandleFunc("/api/features", a.handleFeatures)
		mux.HandleFunc("/api/features/restart", a.handleFeatureRestart)
	}
	if a.documents != nil {
		mux.HandleFunc("/api/documents", a.handleDocument)
	}
	if a.notifications != nil {
		mux.HandleFunc("/api/notifications", a.handleNotifications)
	}
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
}

type featuresResponse struct {
	Features []app.FeatureState `json:"features"`
}

type restartRequest struct {
	ID string `json:"id"`
}

func (a *apiHandlers) handleFeatures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, featuresResponse{Features: a.features.Statuses()})
}

func (a *apiHandlers) handleFeatureRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req restartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.ID) == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := a.features.Restart(req.ID); err != nil {
		if errors.Is(err, app.ErrFeatureNotFound) {
			writeError(w, http.StatusNotFound, "unknown feature")
			return
		}
		a.log.WithError(err).WithField("feature", req.ID).Error("api: restart failed")
		writeError(w, http.StatusInternalServerError, "could not restart feature")
		return
	}

	a.log.WithField("feature", req.ID).Info("api: feature restarted")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *apiHandlers) handleDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	key := domain.DocumentKey{
		ChannelID: strings.TrimSpace(r.URL.Query().Get("channel")),
		Kind:      domain.Kind(strings.TrimSpace(r.URL.Query().Get("kind"))),
	}
	if key.ChannelID == "" || key.Kind == "" {
		writeError(w, http.StatusBadRequest, "channel and kind are required")
		return
	}

	doc, err := a.documents.FindByKey(r.Context(), key)
	if err != nil {
		if errors.Is(err, domain.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		a.log.WithError(err).WithField("key", key.String()).Error("api: find document failed")
		writeError(w, http.StatusInternalServerError, "could not load document")
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

func (a *apiHandlers) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	channelID := strings.TrimSpace(r.URL.Query().Get("channel"))
	if channelID == "" {
		writeError(w, http.StatusBadRequest, "channel is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := a.notifications.ListNotifications(r.Context(), channelID, limit)
	if err != nil {
		a.log.WithError(err).WithField("channel_id", channelID).Error("api: list notifications failed")
		writeError(w, http.StatusInternalServerError, "could not load notifications")
		return
	}
	if list == nil {
		list = []domain.Notification{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
