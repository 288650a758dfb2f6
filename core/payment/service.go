package payment

import (
	"context"
	"fmt"
	"math"
	"net/mail"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/enrollment"
	"github.com/trezcool/campus/core/user"
)

var (
	// errors
	ErrNotFound         = errors.New("payment not found")
	ErrNotPayable       = errors.New("enrollment does not accept payments")
	ErrExceedsBalance   = errors.New("amount exceeds the enrollment balance")
	ErrNotSettled       = errors.New("only settled payments can be voided")
	ErrInvalidSignature = errors.New("invalid notification signature")
	ErrGatewayDisabled  = errors.New("online payments are not available")
	// ErrStatusChanged is returned by Repository.TransitionPayment when the payment left the expected status.
	ErrStatusChanged = errors.New("payment status changed")
)

// Gateway statuses mapped to payment statuses.
var gatewayStatuses = map[string]string{
	"capture":    StatusSettled,
	"settlement": StatusSettled,
	"pending":    StatusPending,
	"deny":       StatusFailed,
	"cancel":     StatusFailed,
	"expire":     StatusFailed,
	"failure":    StatusFailed,
}

type (
	Repository interface {
		CreatePayment(ctx context.Context, p Payment, exec ...core.DBExecutor) (Payment, error)
		// TransitionPayment saves p only if the stored payment still has status `from`.
		TransitionPayment(ctx context.Context, p Payment, from string, exec ...core.DBExecutor) (Payment, error)
		GetPayment(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (Payment, error)
		QueryPayments(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page core.Page, exec ...core.DBExecutor) ([]Payment, error)
		// SumSettled returns the total of the settled payments of an enrollment.
		SumSettled(ctx context.Context, enrollmentID string, exec ...core.DBExecutor) (int64, error)
	}

	EnrollmentStore interface {
		Get(ctx context.Context, id string) (enrollment.Enrollment, error)
		ApplyPayment(ctx context.Context, id string, amountPaid int64, exec ...core.DBExecutor) (enrollment.Enrollment, error)
	}

	UserGetter interface {
		GetByIDs(ctx context.Context, ids ...string) ([]user.User, error)
	}

	// Gateway is an online payment provider.
	Gateway interface {
		CreateCheckout(ctx context.Context, co Checkout) (CheckoutResult, error)
		// VerifyNotification checks that the notification was signed by the provider.
		VerifyNotification(n Notification) error
	}

	Checkout struct {
		OrderID       string
		Amount        int64
		Description   string
		CustomerName  string
		CustomerEmail string
		CustomerPhone string
	}

	CheckoutResult struct {
		Token       string
		RedirectURL string
	}

	// GetFilter finds a single Payment by ID or ExternalID (first non-empty field wins).
	GetFilter struct {
		ID         string
		ExternalID string
	}

	Service struct {
		db          core.DB
		repo        Repository
		enrollments EnrollmentStore
		users       UserGetter
		gateway     Gateway
		mailSvc     core.EmailService
		logger      core.Logger
	}
)

// NewService returns a payment service. gateway may be nil when online payments are disabled.
func NewService(
	db core.DB,
	repo Repository,
	enrollments EnrollmentStore,
	users UserGetter,
	gateway Gateway,
	mailSvc core.EmailService,
	logger core.Logger,
) *Service {
	return &Service{
		db:          db,
		repo:        repo,
		enrollments: enrollments,
		users:       users,
		gateway:     gateway,
		mailSvc:     mailSvc,
		logger:      logger,
	}
}

func (svc *Service) payableEnrollment(ctx context.Context, id string, amount int64) (enrollment.Enrollment, error) {
	e, err := svc.enrollments.Get(ctx, id)
	if err != nil {
		if errors.Cause(err) == enrollment.ErrNotFound {
			return enrollment.Enrollment{}, core.NewValidationError(err, core.FieldError{Field: "enrollment_id", Error: err.Error()})
		}
		return enrollment.Enrollment{}, errors.Wrap(err, "finding enrollment")
	}
	if !e.AcceptsPayments() || e.Balance() == 0 {
		return enrollment.Enrollment{}, core.NewConflictError(ErrNotPayable)
	}
	if amount > e.Balance() {
		return enrollment.Enrollment{}, core.NewValidationError(ErrExceedsBalance, core.FieldError{Field: "amount", Error: ErrExceedsBalance.Error()})
	}
	return e, nil
}

// Record saves a settled payment received at the counter.
func (svc *Service) Record(ctx context.Context, actor user.User, np NewPayment) (Payment, error) {
	e, err := svc.payableEnrollment(ctx, np.EnrollmentID, np.Amount)
	if err != nil {
		return Payment{}, err
	}

	now := time.Now().UTC()
	p := Payment{
		EnrollmentID: e.ID,
		Amount:       np.Amount,
		Method:       np.Method,
		Reference:    np.Reference,
		Status:       StatusSettled,
		ReceivedBy:   actor.ID,
		PaidAt:       now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = core.RunInTx(ctx, svc.db, func(exec core.DBExecutor) error {
		if p, err = svc.repo.CreatePayment(ctx, p, exec); err != nil {
			return errors.Wrap(err, "creating payment")
		}
		e, err = svc.settle(ctx, e.ID, exec)
		return err
	})
	if err != nil {
		return Payment{}, err
	}
	svc.sendReceipt(ctx, p, e)
	return p, nil
}

// Checkout creates a pending online payment and returns it with the gateway's checkout URL.
func (svc *Service) Checkout(ctx context.Context, actor user.User, nc NewCheckout) (Payment, CheckoutResult, error) {
	if svc.gateway == nil {
		return Payment{}, CheckoutResult{}, core.NewConflictError(ErrGatewayDisabled)
	}

	e, err := svc.payableEnrollment(ctx, nc.EnrollmentID, nc.Amount)
	if err != nil {
		return Payment{}, CheckoutResult{}, err
	}
	amount := nc.Amount
	if amount == 0 {
		amount = e.Balance()
	}

	orderID := uuid.New().String()
	res, err := svc.gateway.CreateCheckout(ctx, Checkout{
		OrderID:       orderID,
		Amount:        amount,
		Description:   fmt.Sprintf("Tuition %s (%s)", e.RefCode, e.SchoolYear),
		CustomerName:  actor.DisplayName(),
		CustomerEmail: actor.Email,
		CustomerPhone: actor.Phone,
	})
	if err != nil {
		return Payment{}, CheckoutResult{}, errors.Wrap(err, "creating checkout")
	}

	now := time.Now().UTC()
	p, err := svc.repo.CreatePayment(ctx, Payment{
		EnrollmentID: e.ID,
		Amount:       amount,
		Method:       MethodOnline,
		Status:       StatusPending,
		ReceivedBy:   actor.ID,
		ExternalID:   orderID,
		CheckoutURL:  res.RedirectURL,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return Payment{}, CheckoutResult{}, errors.Wrap(err, "creating payment")
	}
	return p, res, nil
}

// HandleNotification applies a gateway notification to its payment.
// Replayed or concurrent notifications leave the payment unchanged: only one of them settles it.
func (svc *Service) HandleNotification(ctx context.Context, n Notification) (Payment, error) {
	if svc.gateway == nil {
		return Payment{}, core.NewConflictError(ErrGatewayDisabled)
	}
	if err := svc.gateway.VerifyNotification(n); err != nil {
		return Payment{}, core.NewPermissionError(ErrInvalidSignature.Error())
	}

	p, err := svc.repo.GetPayment(ctx, GetFilter{ExternalID: n.OrderID})
	if err != nil {
		return Payment{}, err
	}

	status, ok := gatewayStatuses[n.TransactionStatus]
	if n.TransactionStatus == "capture" && n.FraudStatus == "challenge" {
		status = StatusPending
	}
	if !ok || p.Status != StatusPending || status == StatusPending {
		return p, nil
	}

	if amount, err := strconv.ParseFloat(n.GrossAmount, 64); err == nil && status == StatusSettled && int64(math.Round(amount*100)) != p.Amount {
		if svc.logger != nil {
			svc.logger.Warn(fmt.Sprintf("payment %s: notified amount %s differs from %d", p.ID, n.GrossAmount, p.Amount))
		}
	}

	now := time.Now().UTC()
	p.Status = status
	p.Reference = n.TransactionID
	p.UpdatedAt = now

	var e enrollment.Enrollment
	err = core.RunInTx(ctx, svc.db, func(exec core.DBExecutor) error {
		if status == StatusSettled {
			p.PaidAt = now
		}
		if p, err = svc.repo.TransitionPayment(ctx, p, StatusPending, exec); err != nil {
			return errors.Wrap(err, "updating payment")
		}
		if status == StatusSettled {
			e, err = svc.settle(ctx, p.EnrollmentID, exec)
		}
		return err
	})
	if errors.Cause(err) == ErrStatusChanged {
		return svc.repo.GetPayment(ctx, GetFilter{ExternalID: n.OrderID})
	}
	if err != nil {
		return Payment{}, err
	}
	if status == StatusSettled {
		svc.sendReceipt(ctx, p, e)
	}
	return p, nil
}

// Void cancels a settled payment and recomputes the enrollment's balance.
func (svc *Service) Void(ctx context.Context, actor user.User, p Payment) (Payment, error) {
	if p.Status != StatusSettled {
		return Payment{}, core.NewConflictError(ErrNotSettled)
	}
	p.Status = StatusVoided
	p.UpdatedAt = time.Now().UTC()

	err := core.RunInTx(ctx, svc.db, func(exec core.DBExecutor) error {
		var err error
		if p, err = svc.repo.TransitionPayment(ctx, p, StatusSettled, exec); err != nil {
			return errors.Wrap(err, "updating payment")
		}
		_, err = svc.settle(ctx, p.EnrollmentID, exec)
		return err
	})
	if errors.Cause(err) == ErrStatusChanged {
		return Payment{}, core.NewConflictError(ErrNotSettled)
	}
	if err != nil {
		return Payment{}, err
	}
	if svc.logger != nil {
		svc.logger.Info(fmt.Sprintf("payment %s voided", p.ID), actor)
	}
	return p, nil
}

func (svc *Service) settle(ctx context.Context, enrollmentID string, exec core.DBExecutor) (enrollment.Enrollment, error) {
	total, err := svc.repo.SumSettled(ctx, enrollmentID, exec)
	if err != nil {
		return enrollment.Enrollment{}, errors.Wrap(err, "summing payments")
	}
	e, err := svc.enrollments.ApplyPayment(ctx, enrollmentID, total, exec)
	return e, errors.Wrap(err, "applying payment")
}

func (svc *Service) Get(ctx context.Context, id string) (Payment, error) {
	return svc.repo.GetPayment(ctx, GetFilter{ID: id})
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page core.Page) ([]Payment, error) {
	ordering = core.AllowedOrderings(ordering, "amount", "method", "status", "paid_at", "created_at")
	page.Clean()
	return svc.repo.QueryPayments(ctx, filter, ordering, page)
}

// ReceiptMailData is rendered by the payment_receipt email template.
type ReceiptMailData struct {
	Name      string
	Amount    string
	RefCode   string
	Method    string
	Reference string
	Balance   string
}

// FormatAmount formats minor units as a decimal amount.
func FormatAmount(amount int64) string {
	sign := ""
	if amount < 0 {
		sign, amount = "-", -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}

func (svc *Service) sendReceipt(ctx context.Context, p Payment, e enrollment.Enrollment) {
	if svc.mailSvc == nil || e.SubmittedBy == "" {
		return
	}
	users, err := svc.users.GetByIDs(ctx, e.SubmittedBy)
	if err != nil || len(users) == 0 || users[0].Email == "" {
		return
	}
	usr := users[0]

	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.DisplayName(), Address: usr.Email}},
		Subject:      fmt.Sprintf("Payment received for enrollment %s", e.RefCode),
		TemplateName: "payment_receipt",
		TemplateData: ReceiptMailData{
			Name:      usr.DisplayName(),
			Amount:    FormatAmount(p.Amount),
			RefCode:   e.RefCode,
			Method:    p.Method,
			Reference: p.Reference,
			Balance:   FormatAmount(e.Balance()),
		},
	})
}
