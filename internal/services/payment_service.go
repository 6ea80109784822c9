package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentService struct {
	db        *sql.DB
	ledger    *LedgerService
	validator *ValidationHelper
}

// CreatePaymentRequest is the payment creation payload. Exactly one of
// receiver_id or the card field pair must be supplied.
type CreatePaymentRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description" validate:"omitempty,max=500"`
	ReceiverID     *int            `json:"receiver_id"`
	CardLastFour   *string         `json:"card_last_four" validate:"omitempty,len=4,numeric"`
	CardHolderName *string         `json:"card_holder_name" validate:"omitempty,max=100"`
}

func NewPaymentService(db *sql.DB) *PaymentService {
	return &PaymentService{
		db:        db,
		ledger:    NewLedgerService(db),
		validator: NewValidationHelper(),
	}
}

// CreatePayment handles payment creation
// @Summary Create a new payment
// @Description Create an internal transfer to another user or an external card payment
// @Tags payments
// @Accept json
// @Produce json
// @Param payment body CreatePaymentRequest true "Payment data"
// @Success 200 {object} models.Payment
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /api/v1/payments [post]
func (ps *PaymentService) CreatePayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req CreatePaymentRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := ps.validator.ValidateStruct(&req); err != nil {
		log.Printf("[PAYMENT] Create validation failed for user %d: %v", userID, err)
		SendErrorResponse(w, "Validation failed", http.StatusUnprocessableEntity, err)
		return
	}

	// Amount must be strictly positive with at most two fractional digits.
	if !req.Amount.IsPositive() || req.Amount.Exponent() < -2 {
		SendErrorResponse(w, ErrInvalidAmount.Error(), http.StatusUnprocessableEntity, nil)
		return
	}

	payment, err := ps.ledger.CreatePayment(CreatePaymentInput{
		SenderID:       userID,
		Amount:         req.Amount,
		Description:    req.Description,
		ReceiverID:     req.ReceiverID,
		CardLastFour:   req.CardLastFour,
		CardHolderName: req.CardHolderName,
	})
	if err != nil {
		log.Printf("[PAYMENT] Create failed for user %d: %v", userID, err)
		ps.sendDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payment)
}

// ListPayments returns the caller's payments, newest first
// @Summary List payments
// @Description List payments where the caller is sender or receiver
// @Tags payments
// @Produce json
// @Param limit query int false "Page size (default: 50, max: 100)"
// @Param offset query int false "Page offset (default: 0)"
// @Success 200 {array} models.Payment
// @Failure 422 {object} ErrorResponse
// @Router /api/v1/payments [get]
func (ps *PaymentService) ListPayments(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Limit  int `validate:"min=1,max=100"`
		Offset int `validate:"min=0"`
	}
	req.Limit = 50

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			req.Limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil {
			req.Offset = o
		}
	}

	if err := ps.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusUnprocessableEntity, err)
		return
	}

	payments, err := ps.ledger.ListUserPayments(userID, req.Limit, req.Offset)
	if err != nil {
		log.Printf("[PAYMENT] List failed for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch payments", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payments)
}

// GetPayment retrieves a single payment
// @Summary Get payment by ID
// @Description Retrieve a payment; only the sender or receiver may view it
// @Tags payments
// @Produce json
// @Param paymentId path string true "Payment ID"
// @Success 200 {object} models.Payment
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/payments/{paymentId} [get]
func (ps *PaymentService) GetPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentId"))
	if err != nil {
		SendErrorResponse(w, ErrPaymentNotFound.Error(), http.StatusNotFound, nil)
		return
	}

	payment, err := ps.ledger.GetPayment(paymentID)
	if err != nil {
		ps.sendDomainError(w, err)
		return
	}

	// 403 for a non-participant, distinct from 404 for an unknown id: the
	// caller learns the payment exists but nothing else about it.
	if !payment.IsParticipant(userID) {
		SendErrorResponse(w, ErrNotParticipant.Error(), http.StatusForbidden, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payment)
}

// ConfirmPayment confirms a created payment
// @Summary Confirm payment
// @Description Debit the sender (and credit the receiver for internal transfers) and mark the payment paid
// @Tags payments
// @Produce json
// @Param paymentId path string true "Payment ID"
// @Success 200 {object} models.Payment
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/payments/{paymentId}/confirm [put]
func (ps *PaymentService) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentId"))
	if err != nil {
		SendErrorResponse(w, ErrPaymentNotFound.Error(), http.StatusNotFound, nil)
		return
	}

	payment, err := ps.ledger.ConfirmPayment(paymentID, userID)
	if err != nil {
		log.Printf("[PAYMENT] Confirm failed for payment %s, user %d: %v", paymentID, userID, err)
		ps.sendDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payment)
}

// CancelPayment cancels a created payment
// @Summary Cancel payment
// @Description Mark a created payment cancelled; no funds move
// @Tags payments
// @Produce json
// @Param paymentId path string true "Payment ID"
// @Success 200 {object} models.Payment
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/payments/{paymentId}/cancel [put]
func (ps *PaymentService) CancelPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentId"))
	if err != nil {
		SendErrorResponse(w, ErrPaymentNotFound.Error(), http.StatusNotFound, nil)
		return
	}

	payment, err := ps.ledger.CancelPayment(paymentID, userID)
	if err != nil {
		log.Printf("[PAYMENT] Cancel failed for payment %s, user %d: %v", paymentID, userID, err)
		ps.sendDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payment)
}

// sendDomainError maps ledger errors 1:1 to response status codes.
func (ps *PaymentService) sendDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case errors.Is(err, ErrNotParticipant):
		SendErrorResponse(w, err.Error(), http.StatusForbidden, nil)
	case errors.Is(err, ErrInvalidAmount):
		SendErrorResponse(w, err.Error(), http.StatusUnprocessableEntity, nil)
	case errors.Is(err, ErrConcurrentUpdate):
		SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
	case errors.Is(err, ErrSelfTransfer),
		errors.Is(err, ErrReceiverNotFound),
		errors.Is(err, ErrSenderNotFound),
		errors.Is(err, ErrPaymentShape),
		errors.Is(err, ErrNotPaymentOwner),
		errors.Is(err, ErrAlreadyProcessed),
		errors.Is(err, ErrInsufficientFunds):
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	default:
		SendErrorResponse(w, "Failed to process payment", http.StatusInternalServerError, nil)
	}
}

func currentUserID(r *http.Request) (int, bool) {
	userID, ok := r.Context().Value("userID").(int)
	return userID, ok && userID > 0
}
