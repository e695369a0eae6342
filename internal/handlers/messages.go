package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/quillsend/quillsend/internal/auth"
	"github.com/quillsend/quillsend/internal/models"
	"github.com/quillsend/quillsend/internal/services"
	pkghttp "github.com/quillsend/quillsend/pkg/http"
)

// QuotaConsumer admits or denies one unit of the daily send allowance.
type QuotaConsumer interface {
	Consume(ctx context.Context, userID, tier, timezone string) (*models.QuotaDecision, error)
}

// MessageHandler handles message composition and delivery requests.
type MessageHandler struct {
	users  UserServiceInterface
	quota  QuotaConsumer
	sender services.EmailSender
}

// NewMessageHandler creates a new MessageHandler.
func NewMessageHandler(users UserServiceInterface, quota QuotaConsumer, sender services.EmailSender) *MessageHandler {
	return &MessageHandler{
		users:  users,
		quota:  quota,
		sender: sender,
	}
}

// SendMessageRequest represents the request body for sending a message.
type SendMessageRequest struct {
	To       []string `json:"to" validate:"required,min=1,max=50,dive,email"`
	Subject  string   `json:"subject" validate:"required,min=1,max=500"`
	TextBody string   `json:"text_body" validate:"required,min=1"`
	HTMLBody string   `json:"html_body" validate:"omitempty"`
}

// SendMessageResponse confirms delivery and echoes the remaining
// allowance so the client can show it without a second request.
type SendMessageResponse struct {
	Sent  bool                `json:"sent"`
	Quota *models.QuotaStatus `json:"quota"`
}

// Send handles POST /messages. The quota unit is consumed before the
// delivery attempt; a denial reports today's usage and the reset time.
// @Summary Send a composed email
// @Security BearerAuth
// @Accept json
// @Produce json
// @Success 200 {object} SendMessageResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /messages [post]
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		httpUnauthorized(w)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		httpBadRequest(w, err.Error())
		return
	}

	user, err := h.users.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		writeUserError(w, err)
		return
	}

	decision, err := h.quota.Consume(r.Context(), user.ID, user.SubscriptionTier, user.Timezone)
	if err != nil {
		if errors.Is(err, models.ErrStoreUnavailable) {
			httpServiceUnavailable(w)
			return
		}
		writeUserError(w, err)
		return
	}

	if !decision.Allowed {
		w.Header().Set("X-Quota-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-Quota-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-Quota-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		pkghttp.WriteQuotaExceeded(w, "Daily email quota exceeded")
		return
	}

	if err := h.sender.Send(r.Context(), req.To, req.Subject, req.TextBody, req.HTMLBody); err != nil {
		// The consumed unit is not refunded: delivery was attempted.
		httpInternalError(w)
		return
	}

	writeOK(w, SendMessageResponse{
		Sent: true,
		Quota: &models.QuotaStatus{
			DailyLimit: decision.Limit,
			Used:       decision.Used,
			Remaining:  decision.Remaining,
			ResetTime:  decision.ResetAt,
		},
	})
}
