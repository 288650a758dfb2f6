package echoapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/core/enrollment"
	"github.com/trezcool/campus/core/section"
	"github.com/trezcool/campus/core/user"
)

func Test_sectionApi(t *testing.T) {
	fx := setup(t)
	principal := fx.createUser(t, "Principal", "principal", "", []string{user.RoleStaffPrincipal}, true)
	adviser := fx.createUser(t, "Adviser", "adviser", "", []string{user.RoleTeacher}, true)
	teacher := fx.createUser(t, "Teacher", "teacher", "", []string{user.RoleTeacher}, true)
	parent := fx.createUser(t, "Parent", "parent", "", []string{user.RoleParent}, true)

	rizal := fx.createSection(t, "Rizal", 7, 30, adviser.ID)
	mabini := fx.createSection(t, "Mabini", 8, 30, "")
	token := fx.token(t, principal)

	tests := []httpTest{
		{name: "list", path: "/v1/sections", token: fx.token(t, parent), wantData: marshalList(t, rizal, mabini)},
		{name: "by adviser", path: "/v1/sections?adviser_id=" + adviser.ID, token: token, wantData: marshalList(t, rizal)},
		{name: "detail", path: "/v1/sections/" + mabini.ID, token: token, wantData: marshalObj(t, mabini)},
		{
			name: "create: parent forbidden", method: http.MethodPost, path: "/v1/sections", token: fx.token(t, parent),
			body: []byte(`{}`), wantCode: http.StatusForbidden,
		},
		{
			name: "create: invalid school year", method: http.MethodPost, path: "/v1/sections", token: token,
			body:     []byte(`{"name":"Bonifacio","grade_level":7,"school_year":"2025","capacity":30}`),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"school_year":"school_year must be a school year such as 2025-2026"}`),
		},
		{
			name: "create: adviser must be a teacher", method: http.MethodPost, path: "/v1/sections", token: token,
			body:     []byte(`{"name":"Bonifacio","grade_level":7,"school_year":"2025-2026","capacity":30,"adviser_id":"` + parent.ID + `"}`),
			wantCode: http.StatusBadRequest,
		},
		{name: "roster: parent forbidden", path: "/v1/sections/" + rizal.ID + "/roster", token: fx.token(t, parent), wantCode: http.StatusForbidden},
		{name: "roster: other teacher forbidden", path: "/v1/sections/" + rizal.ID + "/roster", token: fx.token(t, teacher), wantCode: http.StatusForbidden},
		{name: "roster: adviser", path: "/v1/sections/" + rizal.ID + "/roster", token: fx.token(t, adviser), wantData: marshalList(t)},
		{name: "roster: principal", path: "/v1/sections/" + rizal.ID + "/roster", token: token, wantData: marshalList(t)},
	}
	runHTTPTests(t, fx.app, tests)

	t.Run("create, update & delete", func(t *testing.T) {
		rec := fx.do(http.MethodPost, "/v1/sections", token, map[string]interface{}{
			"name": "Bonifacio", "grade_level": 7, "school_year": "2025-2026", "capacity": 25,
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var sec section.Section
		decode(t, rec, &sec)

		rec = fx.do(http.MethodPost, "/v1/sections", token, map[string]interface{}{
			"name": "Bonifacio", "grade_level": 7, "school_year": "2025-2026", "capacity": 25,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "names are unique per school year")

		rec = fx.do(http.MethodPut, "/v1/sections/"+sec.ID, token, map[string]interface{}{"room": "B-201", "adviser_id": teacher.ID})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		decode(t, rec, &sec)
		assert.Equal(t, "B-201", sec.Room)
		assert.Equal(t, teacher.ID, sec.AdviserID)

		rec = fx.do(http.MethodDelete, "/v1/sections/"+sec.ID, token, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func Test_enrollmentApi(t *testing.T) {
	fx := setup(t)
	registrar := fx.createUser(t, "Registrar", "registrar", "", []string{user.RoleStaffRegistrar}, true)
	teacher := fx.createUser(t, "Teacher", "teacher", "", []string{user.RoleTeacher}, true)
	parent := fx.createUser(t, "Parent", "parent", "", []string{user.RoleParent}, true)
	otherParent := fx.createUser(t, "Other Parent", "oparent", "", []string{user.RoleParent}, true)

	ana := fx.createStudent(t, "100000000001", "Ana", 7, "", parent.ID)
	ben := fx.createStudent(t, "100000000002", "Ben", 7, "", otherParent.ID)
	rizal := fx.createSection(t, "Rizal", 7, 1, teacher.ID)
	mabini := fx.createSection(t, "Mabini", 8, 30, "")

	regToken := fx.token(t, registrar)
	parentToken := fx.token(t, parent)

	var e enrollment.Enrollment
	t.Run("submit", func(t *testing.T) {
		rec := fx.do(http.MethodPost, "/v1/enrollments", parentToken, map[string]interface{}{
			"student_id": ben.ID, "school_year": "2025-2026", "grade_level": 7,
		})
		assert.Equal(t, http.StatusForbidden, rec.Code, "not their child")

		rec = fx.do(http.MethodPost, "/v1/enrollments", parentToken, map[string]interface{}{
			"student_id": ana.ID, "school_year": "2025-2026", "grade_level": 7,
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		decode(t, rec, &e)
		assert.Equal(t, enrollment.StatusPending, e.Status)
		assert.Equal(t, enrollment.PaymentUnpaid, e.PaymentStatus)
		assert.NotEmpty(t, e.RefCode)

		rec = fx.do(http.MethodPost, "/v1/enrollments", parentToken, map[string]interface{}{
			"student_id": ana.ID, "school_year": "2025-2026", "grade_level": 7,
		})
		assert.Equal(t, http.StatusConflict, rec.Code, "one active enrollment per school year")
	})

	t.Run("visibility", func(t *testing.T) {
		tests := []httpTest{
			{name: "parent lists own", path: "/v1/enrollments", token: parentToken, wantData: marshalList(t, e)},
			{name: "other parent lists nothing", path: "/v1/enrollments", token: fx.token(t, otherParent), wantData: marshalList(t)},
			{name: "staff lists all", path: "/v1/enrollments?status=pending", token: regToken, wantData: marshalList(t, e)},
			{name: "teacher lists unseated nothing", path: "/v1/enrollments?status=pending", token: fx.token(t, teacher), wantData: marshalList(t)},
			{name: "status filter", path: "/v1/enrollments?status=approved", token: regToken, wantData: marshalList(t)},
			{name: "detail", path: "/v1/enrollments/" + e.ID, token: parentToken, wantData: marshalObj(t, e)},
			{name: "detail (not visible)", path: "/v1/enrollments/" + e.ID, token: fx.token(t, otherParent), wantCode: http.StatusNotFound},
			{name: "by reference code", path: "/v1/enrollments/ref/" + e.RefCode, token: parentToken, wantData: marshalObj(t, e)},
			{name: "by reference code (not visible)", path: "/v1/enrollments/ref/" + e.RefCode, token: fx.token(t, otherParent), wantCode: http.StatusNotFound},
			{name: "by unknown reference code", path: "/v1/enrollments/ref/ZZZZZZ", token: regToken, wantCode: http.StatusNotFound},
		}
		runHTTPTests(t, fx.app, tests)
	})

	t.Run("review", func(t *testing.T) {
		path := "/v1/enrollments/" + e.ID

		rec := fx.do(http.MethodPost, path+"/approve", parentToken, map[string]interface{}{"tuition_fee": 2500000})
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = fx.do(http.MethodPost, path+"/section", regToken, enrollment.SectionAssignment{SectionID: rizal.ID})
		assert.Equal(t, http.StatusConflict, rec.Code, "pending enrollments get no section")

		rec = fx.do(http.MethodPost, path+"/approve", regToken, map[string]interface{}{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = fx.do(http.MethodPost, path+"/approve", regToken, map[string]interface{}{"tuition_fee": 2500000, "remarks": "Welcome!"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		decode(t, rec, &e)
		assert.Equal(t, enrollment.StatusApproved, e.Status)
		assert.Equal(t, int64(2500000), e.TuitionFee)
		assert.Equal(t, registrar.ID, e.ReviewedBy)

		rec = fx.do(http.MethodPost, path+"/reject", regToken, enrollment.Decision{})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "remarks are required")

		rec = fx.do(http.MethodPost, path+"/section", regToken, enrollment.SectionAssignment{SectionID: mabini.ID})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "grade level mismatch")

		rec = fx.do(http.MethodPost, path+"/section", regToken, enrollment.SectionAssignment{SectionID: rizal.ID})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		decode(t, rec, &e)
		assert.Equal(t, rizal.ID, e.SectionID)

		rec = fx.do(http.MethodPost, path+"/finalize", regToken, nil)
		assert.Equal(t, http.StatusConflict, rec.Code, "payment required")
	})

	t.Run("section capacity", func(t *testing.T) {
		other := fx.approvedEnrollment(t, registrar, ben, 2500000)
		rec := fx.do(http.MethodPost, "/v1/enrollments/"+other.ID+"/section", regToken, enrollment.SectionAssignment{SectionID: rizal.ID})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("roster", func(t *testing.T) {
		rec := fx.do(http.MethodGet, "/v1/sections/"+rizal.ID+"/roster", fx.token(t, teacher), nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var roster []section.RosterEntry
		decode(t, rec, &roster)
		require.Len(t, roster, 1)
		assert.Equal(t, ana.ID, roster[0].StudentID)
	})

	t.Run("withdraw", func(t *testing.T) {
		rec := fx.do(http.MethodPost, "/v1/enrollments/"+e.ID+"/withdraw", parentToken, enrollment.Decision{Remarks: "moving abroad"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		decode(t, rec, &e)
		assert.Equal(t, enrollment.StatusWithdrawn, e.Status)
		assert.Empty(t, e.SectionID)

		rec = fx.do(http.MethodPost, "/v1/enrollments/"+e.ID+"/withdraw", parentToken, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}
