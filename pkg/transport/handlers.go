package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"payments/pkg/domain/model"
	"payments/pkg/domain/service"
	"payments/pkg/webhook"
)

const maxWebhookBody = 1 << 20 // providers send small JSON documents

// Signature header names are dictated by the providers.
const (
	stripeSignatureHeader = "Stripe-Signature"
	payuSignatureHeader   = "OpenPayu-Signature"
)

// WebhookProcessor is the orchestrator surface the transport needs.
type WebhookProcessor interface {
	Handle(provider model.PaymentProvider, payload []byte, signature string) webhook.Result
}

type Handler struct {
	processor WebhookProcessor
	passwords service.PasswordService
}

func Router(processor WebhookProcessor, passwords service.PasswordService) http.Handler {
	h := &Handler{processor: processor, passwords: passwords}

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/webhooks/stripe", h.stripeWebhook).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/webhooks/payu", h.payuWebhook).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/auth/reset-password", h.resetPassword).Methods(http.MethodPost)
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)

	return logMiddleware(r)
}

func (h *Handler) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	h.handleWebhook(w, r, model.ProviderStripe, stripeSignatureHeader)
}

func (h *Handler) payuWebhook(w http.ResponseWriter, r *http.Request) {
	h.handleWebhook(w, r, model.ProviderPayU, payuSignatureHeader)
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request, provider model.PaymentProvider, signatureHeader string) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, webhook.Result{
			Status:  webhook.StatusError,
			Message: "unreadable body",
		})
		return
	}

	result := h.processor.Handle(provider, payload, r.Header.Get(signatureHeader))
	writeJSON(w, result.HTTPStatus, result)
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	err := h.passwords.CompleteReset(req.Token, req.Password)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, service.ErrPasswordTooShort),
		errors.Is(err, service.ErrResetTokenInvalid),
		errors.Is(err, service.ErrResetTokenExpired):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		log.WithError(err).Error("Password reset failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func logMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.WithFields(log.Fields{
			"method":     r.Method,
			"url":        r.URL,
			"remoteAddr": r.RemoteAddr,
		}).Info("got a new request")
		h.ServeHTTP(w, r)
	})
}
