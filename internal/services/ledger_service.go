package services

import (
	"database/sql"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/paylane/backend/internal/models"
	"github.com/shopspring/decimal"
)

// LedgerService owns the payment state machine and the balance-transfer
// protocol. Every mutating operation runs as a single database transaction:
// the payment row is locked first, then the affected user rows in ascending
// id order, so concurrent confirms on the same payment serialize on the
// payment row and cross-user transfers cannot deadlock.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

type CreatePaymentInput struct {
	SenderID       int
	Amount         decimal.Decimal
	Description    string
	ReceiverID     *int
	CardLastFour   *string
	CardHolderName *string
}

type userAccount struct {
	ID      int
	Balance decimal.Decimal
	Version int
}

// CreatePayment records a new transfer intent with status created.
// Balance is deliberately not checked here; funds are verified at confirm
// time inside the same transaction that moves them.
func (s *LedgerService) CreatePayment(in CreatePaymentInput) (*models.Payment, error) {
	if !in.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	internal := in.ReceiverID != nil
	external := in.CardLastFour != nil && in.CardHolderName != nil
	if internal == external {
		return nil, ErrPaymentShape
	}
	if internal && (in.CardLastFour != nil || in.CardHolderName != nil) {
		return nil, ErrPaymentShape
	}

	if internal {
		if *in.ReceiverID == in.SenderID {
			return nil, ErrSelfTransfer
		}
		exists, err := s.userExists(*in.ReceiverID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, ErrReceiverNotFound
		}
	}

	exists, err := s.userExists(in.SenderID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrSenderNotFound
	}

	payment := &models.Payment{
		ID:             uuid.New(),
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		CardLastFour:   in.CardLastFour,
		CardHolderName: in.CardHolderName,
		Amount:         in.Amount,
		Description:    in.Description,
		Status:         models.PaymentStatusCreated,
		CreatedAt:      time.Now().UTC(),
	}

	_, err = s.db.Exec(`
		INSERT INTO payments
		(id, sender_id, receiver_id, card_last_four, card_holder_name, amount, description, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		payment.ID, payment.SenderID, nullableInt(payment.ReceiverID),
		nullableString(payment.CardLastFour), nullableString(payment.CardHolderName),
		payment.Amount, payment.Description, payment.Status, payment.CreatedAt)
	if err != nil {
		return nil, err
	}

	log.Printf("[LEDGER] Payment created: %s, sender: %d, amount: %s", payment.ID, payment.SenderID, payment.Amount.StringFixed(2))
	return payment, nil
}

// ConfirmPayment moves the payment from created to paid and transfers the
// funds, all within one transaction. The sufficient-funds check happens here,
// against the locked sender row, never against a stale read.
func (s *LedgerService) ConfirmPayment(paymentID uuid.UUID, actingUserID int) (*models.Payment, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	payment, err := s.lockPayment(tx, paymentID)
	if err != nil {
		return nil, err
	}

	if payment.SenderID != actingUserID {
		return nil, ErrNotPaymentOwner
	}
	if payment.Status != models.PaymentStatusCreated {
		return nil, ErrAlreadyProcessed
	}

	sender, receiver, err := s.lockParticipants(tx, payment)
	if err != nil {
		return nil, err
	}

	if sender.Balance.LessThan(payment.Amount) {
		return nil, ErrInsufficientFunds
	}

	if err := s.updateUserBalance(tx, sender.ID, sender.Balance.Sub(payment.Amount), sender.Version); err != nil {
		return nil, err
	}
	if receiver != nil {
		if err := s.updateUserBalance(tx, receiver.ID, receiver.Balance.Add(payment.Amount), receiver.Version); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	if err := s.transitionPayment(tx, payment.ID, models.PaymentStatusPaid, &now, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	payment.Status = models.PaymentStatusPaid
	payment.PaidAt = &now
	payment.UpdatedAt = &now
	log.Printf("[LEDGER] Payment confirmed: %s, amount: %s", payment.ID, payment.Amount.StringFixed(2))
	return payment, nil
}

// CancelPayment moves the payment from created to cancelled. A created
// payment never moved funds, so no balance is touched.
func (s *LedgerService) CancelPayment(paymentID uuid.UUID, actingUserID int) (*models.Payment, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	payment, err := s.lockPayment(tx, paymentID)
	if err != nil {
		return nil, err
	}

	if payment.SenderID != actingUserID {
		return nil, ErrNotPaymentOwner
	}
	if payment.Status != models.PaymentStatusCreated {
		return nil, ErrAlreadyProcessed
	}

	now := time.Now().UTC()
	if err := s.transitionPayment(tx, payment.ID, models.PaymentStatusCancelled, nil, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	payment.Status = models.PaymentStatusCancelled
	payment.UpdatedAt = &now
	log.Printf("[LEDGER] Payment cancelled: %s", payment.ID)
	return payment, nil
}

// GetPayment fetches a single payment with participant usernames.
func (s *LedgerService) GetPayment(paymentID uuid.UUID) (*models.Payment, error) {
	row := s.db.QueryRow(`
		SELECT p.id, p.sender_id, p.receiver_id, p.card_last_four, p.card_holder_name,
		       p.amount, p.description, p.status, p.created_at, p.updated_at, p.paid_at,
		       s.username, r.username
		FROM payments p
		JOIN users s ON s.id = p.sender_id
		LEFT JOIN users r ON r.id = p.receiver_id
		WHERE p.id = $1`, paymentID)

	payment, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// ListUserPayments returns payments where the user is sender or receiver,
// newest first (created_at descending, id as deterministic tiebreak).
func (s *LedgerService) ListUserPayments(userID, limit, offset int) ([]models.Payment, error) {
	rows, err := s.db.Query(`
		SELECT p.id, p.sender_id, p.receiver_id, p.card_last_four, p.card_holder_name,
		       p.amount, p.description, p.status, p.created_at, p.updated_at, p.paid_at,
		       s.username, r.username
		FROM payments p
		JOIN users s ON s.id = p.sender_id
		LEFT JOIN users r ON r.id = p.receiver_id
		WHERE p.sender_id = $1 OR p.receiver_id = $1
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := []models.Payment{}
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *payment)
	}
	return payments, rows.Err()
}

// lockPayment acquires the row lock that serializes concurrent confirm and
// cancel calls on the same payment.
func (s *LedgerService) lockPayment(tx *sql.Tx, paymentID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	var receiverID sql.NullInt64
	var cardLastFour, cardHolderName sql.NullString
	var updatedAt, paidAt sql.NullTime

	err := tx.QueryRow(`
		SELECT id, sender_id, receiver_id, card_last_four, card_holder_name,
		       amount, description, status, created_at, updated_at, paid_at
		FROM payments
		WHERE id = $1
		FOR UPDATE`, paymentID).Scan(
		&payment.ID, &payment.SenderID, &receiverID, &cardLastFour, &cardHolderName,
		&payment.Amount, &payment.Description, &payment.Status,
		&payment.CreatedAt, &updatedAt, &paidAt)
	if err == sql.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}

	if receiverID.Valid {
		id := int(receiverID.Int64)
		payment.ReceiverID = &id
	}
	if cardLastFour.Valid {
		payment.CardLastFour = &cardLastFour.String
	}
	if cardHolderName.Valid {
		payment.CardHolderName = &cardHolderName.String
	}
	if updatedAt.Valid {
		payment.UpdatedAt = &updatedAt.Time
	}
	if paidAt.Valid {
		payment.PaidAt = &paidAt.Time
	}
	return &payment, nil
}

// lockParticipants locks the sender row, and for internal payments the
// receiver row too, always in ascending user-id order.
func (s *LedgerService) lockParticipants(tx *sql.Tx, payment *models.Payment) (sender, receiver *userAccount, err error) {
	if !payment.Internal() {
		sender, err = s.lockUser(tx, payment.SenderID)
		return sender, nil, err
	}

	first, second := payment.SenderID, *payment.ReceiverID
	if first > second {
		first, second = second, first
	}

	firstAcct, err := s.lockUser(tx, first)
	if err != nil {
		return nil, nil, err
	}
	secondAcct, err := s.lockUser(tx, second)
	if err != nil {
		return nil, nil, err
	}

	if firstAcct.ID == payment.SenderID {
		return firstAcct, secondAcct, nil
	}
	return secondAcct, firstAcct, nil
}

func (s *LedgerService) lockUser(tx *sql.Tx, userID int) (*userAccount, error) {
	var account userAccount
	err := tx.QueryRow(`
		SELECT id, balance, version
		FROM users
		WHERE id = $1
		FOR UPDATE`, userID).Scan(&account.ID, &account.Balance, &account.Version)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *LedgerService) updateUserBalance(tx *sql.Tx, userID int, newBalance decimal.Decimal, version int) error {
	result, err := tx.Exec(`
		UPDATE users
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newBalance, time.Now().UTC(), userID, version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}

// transitionPayment applies the status change as a compare-and-swap guarded
// by the created state, so a conflicting concurrent commit can never
// silently overwrite a terminal status.
func (s *LedgerService) transitionPayment(tx *sql.Tx, paymentID uuid.UUID, next models.PaymentStatus, paidAt *time.Time, updatedAt time.Time) error {
	if !models.PaymentStatusCreated.CanTransitionTo(next) {
		return ErrAlreadyProcessed
	}

	result, err := tx.Exec(`
		UPDATE payments
		SET status = $1, paid_at = $2, updated_at = $3
		WHERE id = $4 AND status = $5`,
		next, nullableTime(paidAt), updatedAt, paymentID, models.PaymentStatusCreated)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrAlreadyProcessed
	}
	return nil
}

func (s *LedgerService) userExists(userID int) (bool, error) {
	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	return exists, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	var payment models.Payment
	var receiverID sql.NullInt64
	var cardLastFour, cardHolderName, receiverUsername sql.NullString
	var updatedAt, paidAt sql.NullTime

	err := row.Scan(
		&payment.ID, &payment.SenderID, &receiverID, &cardLastFour, &cardHolderName,
		&payment.Amount, &payment.Description, &payment.Status,
		&payment.CreatedAt, &updatedAt, &paidAt,
		&payment.SenderUsername, &receiverUsername)
	if err != nil {
		return nil, err
	}

	if receiverID.Valid {
		id := int(receiverID.Int64)
		payment.ReceiverID = &id
	}
	if cardLastFour.Valid {
		payment.CardLastFour = &cardLastFour.String
	}
	if cardHolderName.Valid {
		payment.CardHolderName = &cardHolderName.String
	}
	if updatedAt.Valid {
		payment.UpdatedAt = &updatedAt.Time
	}
	if paidAt.Valid {
		payment.PaidAt = &paidAt.Time
	}
	if receiverUsername.Valid {
		payment.ReceiverUsername = receiverUsername.String
	}
	return &payment, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return *v
}
