package echoapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/core/guidance"
	"github.com/trezcool/campus/core/user"
)

func Test_guidanceApi(t *testing.T) {
	fx := setup(t)
	counselor := fx.createUser(t, "Counselor", "counselor", "", []string{user.RoleStaffGuidance}, true)
	registrar := fx.createUser(t, "Registrar", "registrar", "", []string{user.RoleStaffRegistrar}, true)
	teacher := fx.createUser(t, "Teacher", "teacher", "", []string{user.RoleTeacher}, true)
	idle := fx.createUser(t, "Idle Teacher", "idle", "", []string{user.RoleTeacher}, true)
	parent := fx.createUser(t, "Parent", "parent", "", []string{user.RoleParent}, true)
	otherParent := fx.createUser(t, "Other Parent", "oparent", "", []string{user.RoleParent}, true)

	ana := fx.createStudent(t, "100000000001", "Ana", 7, "", parent.ID)

	counselorToken := fx.token(t, counselor)
	teacherToken := fx.token(t, teacher)
	parentToken := fx.token(t, parent)

	var behavior, counseling guidance.Record
	t.Run("report", func(t *testing.T) {
		tests := []httpTest{
			{
				name: "parent forbidden", method: http.MethodPost, path: "/v1/guidance", token: parentToken,
				body: []byte(`{}`), wantCode: http.StatusForbidden,
			},
			{
				name: "required fields", method: http.MethodPost, path: "/v1/guidance", token: teacherToken, body: []byte(`{}`),
				wantCode: http.StatusBadRequest,
				wantData: []byte(`{
					"student_id": "this field is required",
					"kind": "this field is required",
					"category": "this field is required",
					"description": "this field is required"
				}`),
			},
		}
		runHTTPTests(t, fx.app, tests)

		rec := fx.do(http.MethodPost, "/v1/guidance", teacherToken, guidance.NewRecord{
			StudentID: ana.ID, Kind: "Behavior", Category: "Tardiness", Description: "Late thrice this week.",
			IncidentDate: "2025-09-01",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		decode(t, rec, &behavior)
		assert.Equal(t, guidance.KindBehavior, behavior.Kind)
		assert.Equal(t, guidance.SeverityLow, behavior.Severity)
		assert.Equal(t, guidance.StatusOpen, behavior.Status)
		assert.Equal(t, teacher.ID, behavior.ReportedBy)
		assert.Empty(t, behavior.AssignedTo)

		rec = fx.do(http.MethodPost, "/v1/guidance", counselorToken, guidance.NewRecord{
			StudentID: ana.ID, Kind: guidance.KindCounseling, Category: "Family", Description: "Initial interview.",
			Severity: guidance.SeverityMedium,
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		decode(t, rec, &counseling)
		assert.Equal(t, counselor.ID, counseling.AssignedTo, "counselors own the counseling records they open")
		assert.NotEmpty(t, counseling.IncidentDate)
	})

	t.Run("visibility", func(t *testing.T) {
		tests := []httpTest{
			{name: "counselor sees all", path: "/v1/guidance", token: counselorToken, wantData: marshalList(t, behavior, counseling)},
			{name: "teacher sees behavior", path: "/v1/guidance", token: teacherToken, wantData: marshalList(t, behavior)},
			{name: "other teacher sees nothing", path: "/v1/guidance", token: fx.token(t, idle), wantData: marshalList(t)},
			{name: "detail (other teacher)", path: "/v1/guidance/" + behavior.ID, token: fx.token(t, idle), wantCode: http.StatusNotFound},
			{name: "registrar sees nothing", path: "/v1/guidance", token: fx.token(t, registrar), wantData: marshalList(t)},
			{name: "guardian sees behavior", path: "/v1/guidance", token: parentToken, wantData: marshalList(t, behavior)},
			{name: "other guardian sees nothing", path: "/v1/guidance", token: fx.token(t, otherParent), wantData: marshalList(t)},
			{name: "kind filter", path: "/v1/guidance?kind=counseling", token: counselorToken, wantData: marshalList(t, counseling)},
			{name: "detail", path: "/v1/guidance/" + behavior.ID, token: parentToken, wantData: marshalObj(t, behavior)},
			{name: "counseling is confidential", path: "/v1/guidance/" + counseling.ID, token: parentToken, wantCode: http.StatusNotFound},
			{name: "counseling hidden from teachers", path: "/v1/guidance/" + counseling.ID, token: teacherToken, wantCode: http.StatusNotFound},
		}
		runHTTPTests(t, fx.app, tests)
	})

	t.Run("manage", func(t *testing.T) {
		path := "/v1/guidance/" + behavior.ID

		rec := fx.do(http.MethodPost, path+"/notes", teacherToken, guidance.NewNote{Body: "Talked to the student."})
		assert.Equal(t, http.StatusForbidden, rec.Code, "reporters do not manage the record")

		rec = fx.do(http.MethodPost, path+"/assign", teacherToken, guidance.Assignment{CounselorID: counselor.ID})
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = fx.do(http.MethodPost, path+"/assign", counselorToken, guidance.Assignment{CounselorID: teacher.ID})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "only counselors are assigned")

		rec = fx.do(http.MethodPost, path+"/assign", counselorToken, guidance.Assignment{CounselorID: counselor.ID})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		decode(t, rec, &behavior)
		assert.Equal(t, counselor.ID, behavior.AssignedTo)

		rec = fx.do(http.MethodPut, path, counselorToken, map[string]string{"severity": "high"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		decode(t, rec, &behavior)
		assert.Equal(t, guidance.SeverityHigh, behavior.Severity)

		rec = fx.do(http.MethodPost, path+"/notes", counselorToken, guidance.NewNote{Body: " Called the parents. "})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var note guidance.Note
		decode(t, rec, &note)
		assert.Equal(t, "Called the parents.", note.Body)
		assert.Equal(t, counselor.ID, note.AuthorID)

		rec = fx.do(http.MethodGet, path+"/notes", counselorToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, string(marshalList(t, note)), rec.Body.String())
	})

	t.Run("status", func(t *testing.T) {
		path := "/v1/guidance/" + behavior.ID + "/status"

		rec := fx.do(http.MethodPost, path, counselorToken, guidance.StatusChange{Status: guidance.StatusResolved})
		assert.Equal(t, http.StatusConflict, rec.Code, "open records are not resolved directly")

		for _, status := range []string{guidance.StatusInProgress, guidance.StatusResolved, guidance.StatusClosed} {
			rec = fx.do(http.MethodPost, path, counselorToken, guidance.StatusChange{Status: status, ActionTaken: "Parent conference"})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		}
		decode(t, rec, &behavior)
		assert.Equal(t, guidance.StatusClosed, behavior.Status)
		assert.Equal(t, "Parent conference", behavior.ActionTaken)

		rec = fx.do(http.MethodPost, "/v1/guidance/"+behavior.ID+"/notes", counselorToken, guidance.NewNote{Body: "Too late."})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}
