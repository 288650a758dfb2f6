package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/chat"
	"github.com/trezcool/campus/core/dashboard"
	"github.com/trezcool/campus/core/document"
	"github.com/trezcool/campus/core/enrollment"
	"github.com/trezcool/campus/core/guidance"
	"github.com/trezcool/campus/core/payment"
	"github.com/trezcool/campus/core/section"
	"github.com/trezcool/campus/core/student"
	"github.com/trezcool/campus/core/user"
	emailsvc "github.com/trezcool/campus/services/email"
	"github.com/trezcool/campus/services/pubsub"
	"github.com/trezcool/campus/storage/blob"
	inmemdb "github.com/trezcool/campus/storage/database/inmem"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type fixture struct {
	app     *Server
	conf    *core.Config
	usrRepo user.Repository
	gateway *gatewayMock

	students    *student.Service
	sections    *section.Service
	enrollments *enrollment.Service
	payments    *payment.Service
	guidance    *guidance.Service
	documents   *document.Service
	chat        *chat.Service
}

type fixtureOption func(conf *core.Config)

func setup(t *testing.T, opts ...fixtureOption) *fixture {
	conf := core.NewTestConfig()
	conf.AppName = "Campus"
	conf.Server.LoginBurst = 100
	conf.Storage.LocalDir = t.TempDir()
	conf.Storage.MaxUploadSize = 1 << 20
	for _, opt := range opts {
		opt(conf)
	}

	validate, translator := core.NewValidator()
	user.InitValidators(validate, translator)

	// set up DB & repos
	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	sectionRepo := inmemdb.NewSectionRepository(db)

	blobs, err := blob.NewLocalStore(conf.Storage.LocalDir)
	require.NoError(t, err)
	refCoder, err := enrollment.NewRefCoder(conf.SecretKey)
	require.NoError(t, err)

	// set up services
	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	usrSvc := user.NewServiceMock(usrRepo, mailSvc, conf)
	gateway := new(gatewayMock)
	fx := &fixture{conf: conf, usrRepo: usrRepo, gateway: gateway}
	fx.students = student.NewService(nil, inmemdb.NewStudentRepository(db), usrSvc)
	fx.sections = section.NewService(sectionRepo, usrSvc)
	fx.enrollments = enrollment.NewService(
		nil, inmemdb.NewEnrollmentRepository(db), fx.students, sectionRepo, usrSvc, refCoder, mailSvc, nil,
	)
	fx.payments = payment.NewService(nil, inmemdb.NewPaymentRepository(db), fx.enrollments, usrSvc, gateway, mailSvc, nil)
	fx.guidance = guidance.NewService(inmemdb.NewGuidanceRepository(db), fx.students, usrSvc)
	fx.documents = document.NewService(
		inmemdb.NewDocumentRepository(db), blobs, blob.NewImageResizer(), fx.students, fx.enrollments, conf.Storage, nil,
	)
	fx.chat = chat.NewService(inmemdb.NewChatRepository(db), usrSvc, pubsub.NewLocalBroker(), nil)
	dashSvc := dashboard.NewService(
		inmemdb.NewStatsRepository(db), fx.enrollments, fx.payments, fx.guidance, fx.sections, fx.students, fx.documents,
	)

	// set up server
	fx.app, err = NewServer(Deps{
		Conf:           conf,
		Validate:       validate,
		Translator:     translator,
		DisableReqLogs: true,
		UserSvc:        usrSvc,
		StudentSvc:     fx.students,
		SectionSvc:     fx.sections,
		EnrollmentSvc:  fx.enrollments,
		PaymentSvc:     fx.payments,
		GuidanceSvc:    fx.guidance,
		DocumentSvc:    fx.documents,
		ChatSvc:        fx.chat,
		DashboardSvc:   dashSvc,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = fx.app.Shutdown(context.Background()) })
	return fx
}

func (fx *fixture) createUser(t *testing.T, name, uname, pwd string, roles []string, isActive bool, createdAt ...time.Time) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     uname + "@test.ph",
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		require.NoError(t, usr.SetPassword(pwd))
	}
	usr, err := fx.usrRepo.CreateUser(context.Background(), usr)
	require.NoError(t, err)
	return usr
}

func (fx *fixture) createStudent(t *testing.T, lrn, firstName string, gradeLevel int, userID string, guardianIDs ...string) student.Student {
	st, err := fx.students.Create(context.Background(), student.NewStudent{
		UserID:      userID,
		LRN:         lrn,
		FirstName:   firstName,
		LastName:    "Santos",
		Sex:         "female",
		GradeLevel:  &gradeLevel,
		GuardianIDs: guardianIDs,
	})
	require.NoError(t, err)
	return st
}

func (fx *fixture) createSection(t *testing.T, name string, gradeLevel, capacity int, adviserID string) section.Section {
	sec, err := fx.sections.Create(context.Background(), section.NewSection{
		Name:       name,
		GradeLevel: &gradeLevel,
		SchoolYear: fx.conf.CurrentSchoolYear,
		AdviserID:  adviserID,
		Capacity:   capacity,
	})
	require.NoError(t, err)
	return sec
}

// approvedEnrollment submits an enrollment of st for the current school year and approves it.
func (fx *fixture) approvedEnrollment(t *testing.T, actor user.User, st student.Student, fee int64) enrollment.Enrollment {
	ctx := context.Background()
	e, err := fx.enrollments.Submit(ctx, actor, enrollment.NewEnrollment{
		StudentID:  st.ID,
		SchoolYear: fx.conf.CurrentSchoolYear,
		GradeLevel: &st.GradeLevel,
	})
	require.NoError(t, err)
	e, err = fx.enrollments.Approve(ctx, actor, e, enrollment.Approval{TuitionFee: &fee})
	require.NoError(t, err)
	return e
}

// seat assigns the enrollment e to the section sec.
func (fx *fixture) seat(t *testing.T, actor user.User, e enrollment.Enrollment, sec section.Section) enrollment.Enrollment {
	e, err := fx.enrollments.AssignSection(context.Background(), actor, e, sec.ID)
	require.NoError(t, err)
	return e
}

func (fx *fixture) token(t *testing.T, usr user.User) string {
	token, err := GenerateToken(fx.conf, GetUserClaims(fx.conf, usr))
	require.NoError(t, err)
	return token
}

// do serves a JSON request and returns the response.
func (fx *fixture) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var data []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		data = b
	default:
		data, _ = json.Marshal(b)
	}
	req, rec := newAuthRequest(method, path, token, data)
	fx.app.ServeHTTP(rec, req)
	return rec
}

// gatewayMock is a payment gateway accepting notifications signed "valid".
type gatewayMock struct {
	checkouts []payment.Checkout
}

func (g *gatewayMock) CreateCheckout(_ context.Context, co payment.Checkout) (payment.CheckoutResult, error) {
	g.checkouts = append(g.checkouts, co)
	return payment.CheckoutResult{Token: "tok-" + co.OrderID, RedirectURL: "https://pay.test/" + co.OrderID}, nil
}

func (g *gatewayMock) VerifyNotification(n payment.Notification) error {
	if n.SignatureKey != "valid" {
		return payment.ErrInvalidSignature
	}
	return nil
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	require.NoError(t, err)
	return data
}

func marshalList(t *testing.T, objs ...interface{}) []byte {
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	require.NoError(t, err)
	return data
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	l1, ok1 := j1.([]interface{})
	l2, ok2 := j2.([]interface{})
	if !ok1 || !ok2 {
		return false, nil
	}
	return assert.ElementsMatch(t, l1, l2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, app *Server, tests []httpTest) {
	for _, tt := range tests {
		if tt.method == "" {
			tt.method = http.MethodGet
		}
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}
