package payment_test

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/enrollment"
	"github.com/trezcool/campus/core/payment"
	"github.com/trezcool/campus/core/student"
	"github.com/trezcool/campus/core/user"
	inmemdb "github.com/trezcool/campus/storage/database/inmem"
)

type gatewayStub struct {
	checkouts []payment.Checkout
	err       error
}

func (g *gatewayStub) CreateCheckout(_ context.Context, co payment.Checkout) (payment.CheckoutResult, error) {
	if g.err != nil {
		return payment.CheckoutResult{}, g.err
	}
	g.checkouts = append(g.checkouts, co)
	return payment.CheckoutResult{Token: "tok", RedirectURL: "https://pay.test/" + co.OrderID}, nil
}

func (g *gatewayStub) VerifyNotification(n payment.Notification) error {
	if n.SignatureKey != "signed" {
		return errors.New("bad signature")
	}
	return nil
}

type mailCounter struct {
	mu   sync.Mutex
	sent int
}

func (m *mailCounter) SendMessages(messages ...*core.EmailMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent += len(messages)
}

func (m *mailCounter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}

type env struct {
	svc         *payment.Service
	enrollments *enrollment.Service
	gateway     *gatewayStub
	mail        *mailCounter
	cashier     user.User
	parent      user.User
	enrollment  enrollment.Enrollment
}

func setup(t *testing.T, withGateway bool) *env {
	ctx := context.Background()
	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	usrSvc := user.NewServiceMock(usrRepo, nil, core.NewTestConfig())
	refCoder, err := enrollment.NewRefCoder("test-secret")
	require.NoError(t, err)

	students := student.NewService(nil, inmemdb.NewStudentRepository(db), usrSvc)
	e := &env{gateway: new(gatewayStub), mail: new(mailCounter)}
	e.enrollments = enrollment.NewService(
		nil, inmemdb.NewEnrollmentRepository(db), students, inmemdb.NewSectionRepository(db), usrSvc, refCoder, nil, nil,
	)
	var gateway payment.Gateway
	if withGateway {
		gateway = e.gateway
	}
	e.svc = payment.NewService(nil, inmemdb.NewPaymentRepository(db), e.enrollments, usrSvc, gateway, e.mail, nil)

	e.cashier, err = usrRepo.CreateUser(ctx, user.User{
		Name: "Cashier", Username: "cashier", Email: "cashier@test.ph", Roles: []string{user.RoleStaffAccounting}, IsActive: true,
	})
	require.NoError(t, err)
	e.parent, err = usrRepo.CreateUser(ctx, user.User{
		Name: "Parent", Username: "parent", Email: "parent@test.ph", Roles: []string{user.RoleParent}, IsActive: true,
	})
	require.NoError(t, err)

	grade := 7
	st, err := students.Create(ctx, student.NewStudent{
		LRN: "100000000001", FirstName: "Ana", LastName: "Santos", Sex: "female", GradeLevel: &grade,
		GuardianIDs: []string{e.parent.ID},
	})
	require.NoError(t, err)
	en, err := e.enrollments.Submit(ctx, e.parent, enrollment.NewEnrollment{StudentID: st.ID, SchoolYear: "2025-2026", GradeLevel: &grade})
	require.NoError(t, err)
	fee := int64(1000000)
	e.enrollment, err = e.enrollments.Approve(ctx, e.cashier, en, enrollment.Approval{TuitionFee: &fee})
	require.NoError(t, err)
	return e
}

func (e *env) reload(t *testing.T) enrollment.Enrollment {
	en, err := e.enrollments.Get(context.Background(), e.enrollment.ID)
	require.NoError(t, err)
	return en
}

func conflictCause(err error) error {
	if cErr, ok := errors.Cause(err).(*core.ConflictError); ok {
		return cErr.Err
	}
	return nil
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "0.00", payment.FormatAmount(0))
	assert.Equal(t, "0.05", payment.FormatAmount(5))
	assert.Equal(t, "12345.67", payment.FormatAmount(1234567))
	assert.Equal(t, "-1.50", payment.FormatAmount(-150))
}

func TestService_Record(t *testing.T) {
	ctx := context.Background()
	e := setup(t, false)

	_, err := e.svc.Record(ctx, e.cashier, payment.NewPayment{EnrollmentID: e.enrollment.ID, Amount: 1000001, Method: payment.MethodCash})
	var vErr *core.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "amount", vErr.Fields[0].Field)

	_, err = e.svc.Record(ctx, e.cashier, payment.NewPayment{
		EnrollmentID: "00000000-0000-0000-0000-000000000000", Amount: 100, Method: payment.MethodCash,
	})
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "enrollment_id", vErr.Fields[0].Field)

	first, err := e.svc.Record(ctx, e.cashier, payment.NewPayment{EnrollmentID: e.enrollment.ID, Amount: 600000, Method: payment.MethodBank})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSettled, first.Status)
	assert.False(t, first.PaidAt.IsZero())
	assert.Equal(t, enrollment.PaymentPartial, e.reload(t).PaymentStatus)

	_, err = e.svc.Record(ctx, e.cashier, payment.NewPayment{EnrollmentID: e.enrollment.ID, Amount: 400000, Method: payment.MethodCheck})
	require.NoError(t, err)
	en := e.reload(t)
	assert.Equal(t, enrollment.PaymentPaid, en.PaymentStatus)
	assert.Zero(t, en.Balance())
	assert.Equal(t, 2, e.mail.count(), "a receipt per payment")

	_, err = e.svc.Record(ctx, e.cashier, payment.NewPayment{EnrollmentID: e.enrollment.ID, Amount: 1, Method: payment.MethodCash})
	assert.Equal(t, payment.ErrNotPayable, conflictCause(err), "nothing left to pay")

	t.Run("void", func(t *testing.T) {
		voided, err := e.svc.Void(ctx, e.cashier, first)
		require.NoError(t, err)
		assert.Equal(t, payment.StatusVoided, voided.Status)

		en := e.reload(t)
		assert.Equal(t, int64(400000), en.AmountPaid)
		assert.Equal(t, enrollment.PaymentPartial, en.PaymentStatus)

		_, err = e.svc.Void(ctx, e.cashier, voided)
		assert.Equal(t, payment.ErrNotSettled, conflictCause(err))
	})
}

func TestService_Record_rejectedEnrollment(t *testing.T) {
	ctx := context.Background()
	e := setup(t, false)
	_, err := e.enrollments.Reject(ctx, e.cashier, e.enrollment, enrollment.Decision{Remarks: "duplicate"})
	require.NoError(t, err)

	_, err = e.svc.Record(ctx, e.cashier, payment.NewPayment{EnrollmentID: e.enrollment.ID, Amount: 100, Method: payment.MethodCash})
	assert.Equal(t, payment.ErrNotPayable, conflictCause(err))
}

func TestService_Checkout(t *testing.T) {
	ctx := context.Background()

	t.Run("gateway disabled", func(t *testing.T) {
		e := setup(t, false)
		_, _, err := e.svc.Checkout(ctx, e.parent, payment.NewCheckout{EnrollmentID: e.enrollment.ID})
		assert.Equal(t, payment.ErrGatewayDisabled, conflictCause(err))
		_, err = e.svc.HandleNotification(ctx, payment.Notification{})
		assert.Equal(t, payment.ErrGatewayDisabled, conflictCause(err))
	})

	t.Run("gateway error", func(t *testing.T) {
		e := setup(t, true)
		e.gateway.err = errors.New("boom")
		_, _, err := e.svc.Checkout(ctx, e.parent, payment.NewCheckout{EnrollmentID: e.enrollment.ID})
		assert.Error(t, err)

		payments, err := e.svc.Query(ctx, &payment.QueryFilter{}, nil, core.Page{})
		require.NoError(t, err)
		assert.Empty(t, payments)
	})

	e := setup(t, true)
	p, res, err := e.svc.Checkout(ctx, e.parent, payment.NewCheckout{EnrollmentID: e.enrollment.ID, Amount: 250000})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, p.Status)
	assert.Equal(t, int64(250000), p.Amount)
	assert.Equal(t, "https://pay.test/"+p.ExternalID, res.RedirectURL)
	assert.Equal(t, res.RedirectURL, p.CheckoutURL)
	require.Len(t, e.gateway.checkouts, 1)
	assert.Equal(t, "parent@test.ph", e.gateway.checkouts[0].CustomerEmail)
	assert.Equal(t, enrollment.PaymentUnpaid, e.reload(t).PaymentStatus, "pending payments do not count")

	notification := payment.Notification{
		OrderID: p.ExternalID, TransactionID: "trx-9", TransactionStatus: "settlement", GrossAmount: "2500.00",
	}
	_, err = e.svc.HandleNotification(ctx, notification)
	assert.True(t, core.IsPermissionError(err))

	notification.SignatureKey = "signed"
	notification.TransactionStatus = "pending"
	p, err = e.svc.HandleNotification(ctx, notification)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, p.Status)

	notification.TransactionStatus = "capture"
	notification.FraudStatus = "challenge"
	p, err = e.svc.HandleNotification(ctx, notification)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, p.Status, "challenged captures stay pending")

	notification.TransactionStatus = "settlement"
	notification.FraudStatus = ""
	p, err = e.svc.HandleNotification(ctx, notification)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSettled, p.Status)
	assert.Equal(t, "trx-9", p.Reference)
	assert.Equal(t, int64(250000), e.reload(t).AmountPaid)

	// late failures do not undo a settled payment
	notification.TransactionStatus = "expire"
	p, err = e.svc.HandleNotification(ctx, notification)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSettled, p.Status)

	t.Run("failed", func(t *testing.T) {
		p, _, err := e.svc.Checkout(ctx, e.parent, payment.NewCheckout{EnrollmentID: e.enrollment.ID})
		require.NoError(t, err)
		assert.Equal(t, int64(750000), p.Amount, "defaults to the balance")

		p, err = e.svc.HandleNotification(ctx, payment.Notification{
			OrderID: p.ExternalID, TransactionStatus: "deny", SignatureKey: "signed",
		})
		require.NoError(t, err)
		assert.Equal(t, payment.StatusFailed, p.Status)
		assert.Equal(t, int64(250000), e.reload(t).AmountPaid)
	})
}

func TestService_HandleNotification_concurrent(t *testing.T) {
	ctx := context.Background()
	e := setup(t, true)
	p, _, err := e.svc.Checkout(ctx, e.parent, payment.NewCheckout{EnrollmentID: e.enrollment.ID, Amount: 250000})
	require.NoError(t, err)
	sentBefore := e.mail.count()

	notification := payment.Notification{
		OrderID: p.ExternalID, TransactionID: "trx-1", TransactionStatus: "settlement", GrossAmount: "2500.00",
		SignatureKey: "signed",
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := e.svc.HandleNotification(ctx, notification)
			assert.NoError(t, err)
			assert.Equal(t, payment.StatusSettled, got.Status)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, e.mail.count()-sentBefore, "one receipt")
	assert.Equal(t, int64(250000), e.reload(t).AmountPaid)

	t.Run("void once", func(t *testing.T) {
		p, err := e.svc.Get(ctx, p.ID)
		require.NoError(t, err)
		_, err = e.svc.Void(ctx, e.cashier, p)
		require.NoError(t, err)

		// stale copy still marked settled
		_, err = e.svc.Void(ctx, e.cashier, p)
		assert.Equal(t, payment.ErrNotSettled, conflictCause(err))
		assert.Zero(t, e.reload(t).AmountPaid)
	})
}
