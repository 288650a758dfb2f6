package echoapi

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/core/dashboard"
	"github.com/trezcool/campus/core/enrollment"
	"github.com/trezcool/campus/core/user"
)

type dashboardResp struct {
	Kind       string          `json:"kind"`
	SchoolYear string          `json:"school_year"`
	Data       json.RawMessage `json:"data"`
}

func Test_dashboardApi(t *testing.T) {
	fx := setup(t)
	registrar := fx.createUser(t, "Registrar", "registrar", "", []string{user.RoleStaffRegistrar}, true)
	principal := fx.createUser(t, "Principal", "principal", "", []string{user.RoleStaffPrincipal}, true)
	teacher := fx.createUser(t, "Teacher", "teacher", "", []string{user.RoleTeacher}, true)
	parent := fx.createUser(t, "Parent", "parent", "", []string{user.RoleParent}, true)
	studUsr := fx.createUser(t, "Ana", "ana_santos", "", []string{user.RoleStudent}, true)
	loner := fx.createUser(t, "Loner", "loner", "", []string{user.RoleStudent}, true)

	ana := fx.createStudent(t, "100000000001", "Ana", 7, studUsr.ID, parent.ID)
	ben := fx.createStudent(t, "100000000002", "Ben", 7, "", parent.ID)
	rizal := fx.createSection(t, "Rizal", 7, 30, teacher.ID)
	e := fx.approvedEnrollment(t, registrar, ana, 1000000)
	_, err := fx.enrollments.Submit(
		context.Background(), parent, enrollment.NewEnrollment{StudentID: ben.ID, SchoolYear: fx.conf.CurrentSchoolYear, GradeLevel: &ben.GradeLevel},
	)
	require.NoError(t, err)

	get := func(t *testing.T, path, token string) dashboardResp {
		rec := fx.do(http.MethodGet, path, token, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp dashboardResp
		decode(t, rec, &resp)
		return resp
	}

	t.Run("registrar", func(t *testing.T) {
		resp := get(t, "/v1/dashboard", fx.token(t, registrar))
		assert.Equal(t, dashboard.KindRegistrar, resp.Kind)
		assert.Equal(t, fx.conf.CurrentSchoolYear, resp.SchoolYear)

		var data dashboard.RegistrarData
		require.NoError(t, json.Unmarshal(resp.Data, &data))
		assert.Equal(t, 1, data.Pending)
		assert.Equal(t, 1, data.ApprovedWithoutSection)
		require.Len(t, data.LatestPending, 1)
		assert.Equal(t, ben.ID, data.LatestPending[0].StudentID)
	})

	t.Run("principal", func(t *testing.T) {
		resp := get(t, "/v1/dashboard/principal", fx.token(t, principal))
		var data dashboard.AcademicData
		require.NoError(t, json.Unmarshal(resp.Data, &data))
		assert.Equal(t, 1, data.Enrollments.ByStatus[enrollment.StatusApproved])
		assert.Equal(t, 1, data.Enrollments.ByStatus[enrollment.StatusPending])
		assert.Equal(t, int64(1000000), data.Enrollments.Outstanding)
		assert.Equal(t, 1, data.Enrollments.Sections)
	})

	t.Run("teacher", func(t *testing.T) {
		resp := get(t, "/v1/dashboard", fx.token(t, teacher))
		assert.Equal(t, dashboard.KindTeacher, resp.Kind)
		var data dashboard.TeacherData
		require.NoError(t, json.Unmarshal(resp.Data, &data))
		require.Len(t, data.Sections, 1)
		assert.Equal(t, rizal.ID, data.Sections[0].ID)
	})

	t.Run("parent", func(t *testing.T) {
		resp := get(t, "/v1/dashboard", fx.token(t, parent))
		assert.Equal(t, dashboard.KindParent, resp.Kind)
		var data dashboard.ParentData
		require.NoError(t, json.Unmarshal(resp.Data, &data))
		require.Len(t, data.Children, 2)
		for _, child := range data.Children {
			require.NotNil(t, child.Enrollment)
			if child.Student.ID == ana.ID {
				assert.Equal(t, e.ID, child.Enrollment.ID)
				assert.Equal(t, int64(1000000), child.Balance)
			}
		}
	})

	t.Run("student", func(t *testing.T) {
		resp := get(t, "/v1/dashboard", fx.token(t, studUsr))
		assert.Equal(t, dashboard.KindStudent, resp.Kind)
		var data dashboard.StudentData
		require.NoError(t, json.Unmarshal(resp.Data, &data))
		assert.Equal(t, ana.ID, data.Student.ID)
		require.NotNil(t, data.Enrollment)
		assert.Nil(t, data.Section)

		resp = get(t, "/v1/dashboard?school_year=2030-2031", fx.token(t, studUsr))
		assert.Equal(t, "2030-2031", resp.SchoolYear)
		require.NoError(t, json.Unmarshal(resp.Data, &data))
		assert.Nil(t, data.Enrollment)
	})

	tests := []httpTest{
		{name: "auth required", path: "/v1/dashboard", wantCode: http.StatusUnauthorized},
		{name: "forbidden kind", path: "/v1/dashboard/accounting", token: fx.token(t, registrar), wantCode: http.StatusForbidden},
		{
			name: "unknown kind", path: "/v1/dashboard/janitor", token: fx.token(t, registrar), wantCode: http.StatusNotFound,
			wantData: marshalObj(t, httpErr{Error: dashboard.ErrUnknownKind.Error()}),
		},
		{
			name: "invalid school year", path: "/v1/dashboard?school_year=2025-2027", token: fx.token(t, registrar),
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"school_year": errInvalidSchoolYear}),
		},
		{
			name: "student without profile", path: "/v1/dashboard", token: fx.token(t, loner), wantCode: http.StatusConflict,
			wantData: marshalObj(t, httpErr{Error: dashboard.ErrNoStudent.Error()}),
		},
	}
	runHTTPTests(t, fx.app, tests)
}
