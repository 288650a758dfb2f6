package payment

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/campus/core"
)

// Methods
const (
	MethodCash   = "cash"
	MethodBank   = "bank"
	MethodCheck  = "check"
	MethodOnline = "online" // payment gateway checkout
)

// Statuses
const (
	StatusPending = "pending"
	StatusSettled = "settled"
	StatusFailed  = "failed"
	StatusVoided  = "voided"
)

var (
	Methods        = []string{MethodCash, MethodBank, MethodCheck, MethodOnline}
	CounterMethods = []string{MethodCash, MethodBank, MethodCheck}
	Statuses       = []string{StatusPending, StatusSettled, StatusFailed, StatusVoided}
)

type Payment struct {
	ID           string    `json:"id"`
	EnrollmentID string    `json:"enrollment_id"`
	Amount       int64     `json:"amount"` // minor units
	Method       string    `json:"method"`
	Reference    string    `json:"reference"`
	Status       string    `json:"status"`
	ReceivedBy   string    `json:"received_by"`
	ExternalID   string    `json:"external_id"`
	CheckoutURL  string    `json:"checkout_url,omitempty"`
	PaidAt       time.Time `json:"paid_at"`    // UTC
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
}

func (p Payment) IsSettled() bool { return p.Status == StatusSettled }

// NewPayment records a payment received at the school's counter.
type NewPayment struct {
	EnrollmentID string `json:"enrollment_id" validate:"required,uuid"`
	Amount       int64  `json:"amount" validate:"required,min=1"`
	Method       string `json:"method" validate:"required,oneof=cash bank check"`
	Reference    string `json:"reference" validate:"max=100"`
}

func (np *NewPayment) Validate(validate *validator.Validate) error {
	np.EnrollmentID = core.CleanString(np.EnrollmentID)
	np.Method = core.CleanString(np.Method, true /* lower */)
	np.Reference = core.CleanString(np.Reference)
	return validate.Struct(np)
}

// NewCheckout starts an online payment through the payment gateway.
type NewCheckout struct {
	EnrollmentID string `json:"enrollment_id" validate:"required,uuid"`
	// Amount defaults to the enrollment balance.
	Amount int64 `json:"amount" validate:"min=0"`
}

func (nc *NewCheckout) Validate(validate *validator.Validate) error {
	nc.EnrollmentID = core.CleanString(nc.EnrollmentID)
	return validate.Struct(nc)
}

// Notification is a payment gateway status notification.
type Notification struct {
	OrderID           string `json:"order_id"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	PaymentType       string `json:"payment_type"`
	SignatureKey      string `json:"signature_key"`
}

type QueryFilter struct {
	EnrollmentID string    `query:"enrollment_id"`
	Method       string    `query:"method"`
	Statuses     []string  `query:"status"`
	PaidFrom     time.Time `query:"-"` // parsed by the API from YYYY-MM-DD
	PaidTo       time.Time `query:"-"`
	// EnrollmentIDs restricts the results to these enrollments; set by the API.
	EnrollmentIDs []string `query:"-"`
	Restricted    bool     `query:"-"`
}

func (qf *QueryFilter) Clean() {
	qf.EnrollmentID = core.CleanString(qf.EnrollmentID)
	qf.Method = core.CleanString(qf.Method, true /* lower */)
}
