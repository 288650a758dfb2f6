package document_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/document"
	"github.com/trezcool/campus/core/enrollment"
	"github.com/trezcool/campus/core/student"
	"github.com/trezcool/campus/core/user"
	"github.com/trezcool/campus/storage/blob"
	inmemdb "github.com/trezcool/campus/storage/database/inmem"
)

const pdfContent = "%PDF-1.4\n1 0 obj << /Type /Catalog >> endobj\n"

type env struct {
	svc       *document.Service
	blobs     *blob.LocalStore
	dir       string
	st        student.Student
	other     student.Student
	parent    user.User
	registrar user.User
}

func setup(t *testing.T, maxSize int64) *env {
	ctx := context.Background()
	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	usrSvc := user.NewServiceMock(usrRepo, nil, core.NewTestConfig())
	students := student.NewService(nil, inmemdb.NewStudentRepository(db), usrSvc)
	refCoder, err := enrollment.NewRefCoder("test-secret")
	require.NoError(t, err)
	enrollments := enrollment.NewService(
		nil, inmemdb.NewEnrollmentRepository(db), students, inmemdb.NewSectionRepository(db), usrSvc, refCoder, nil, nil,
	)

	e := new(env)
	e.dir = t.TempDir()
	e.blobs, err = blob.NewLocalStore(e.dir)
	require.NoError(t, err)
	e.svc = document.NewService(
		inmemdb.NewDocumentRepository(db), e.blobs, nil, students, enrollments,
		core.StorageConfig{Prefix: "campus", MaxUploadSize: maxSize}, nil,
	)

	e.parent, err = usrRepo.CreateUser(ctx, user.User{
		Name: "Parent", Username: "parent", Email: "parent@test.ph", Roles: []string{user.RoleParent}, IsActive: true,
	})
	require.NoError(t, err)
	e.registrar, err = usrRepo.CreateUser(ctx, user.User{
		Name: "Registrar", Username: "registrar", Email: "registrar@test.ph", Roles: []string{user.RoleStaffRegistrar}, IsActive: true,
	})
	require.NoError(t, err)

	grade := 7
	e.st, err = students.Create(ctx, student.NewStudent{
		LRN: "100000000001", FirstName: "Ana", LastName: "Santos", Sex: "female", GradeLevel: &grade,
		GuardianIDs: []string{e.parent.ID},
	})
	require.NoError(t, err)
	e.other, err = students.Create(ctx, student.NewStudent{
		LRN: "100000000002", FirstName: "Ben", LastName: "Cruz", Sex: "male", GradeLevel: &grade,
	})
	require.NoError(t, err)
	return e
}

func (e *env) upload(ctx context.Context, actor user.User, studentID, filename, content string) (document.Document, error) {
	return e.svc.Upload(ctx, actor, document.NewDocument{
		StudentID: studentID, Kind: document.KindBirthCertificate, Filename: filename, Size: int64(len(content)),
	}, strings.NewReader(content))
}

func fileError(t *testing.T, err error) core.FieldError {
	var vErr *core.ValidationError
	require.True(t, errors.As(err, &vErr), "want a validation error, got %v", err)
	require.Len(t, vErr.Fields, 1)
	return vErr.Fields[0]
}

func TestStorageKey(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)
	key := document.StorageKey("campus", "st-1", document.KindReportCard, "../My Report Card.PDF", ".pdf", now)
	assert.True(t, strings.HasPrefix(key, "campus/students/st-1/report_card/my-report-card_20250601083000_"), key)
	assert.True(t, strings.HasSuffix(key, ".pdf"), key)
	assert.NotEqual(t, key, document.StorageKey("campus", "st-1", document.KindReportCard, "../My Report Card.PDF", ".pdf", now))
}

func TestService_Upload(t *testing.T) {
	ctx := context.Background()
	e := setup(t, 1024)

	doc, err := e.upload(ctx, e.parent, e.st.ID, "birth.pdf", pdfContent)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", doc.ContentType)
	assert.Equal(t, document.StatusSubmitted, doc.Status)
	assert.Equal(t, int64(len(pdfContent)), doc.Size)
	assert.Equal(t, e.parent.ID, doc.UploadedBy)

	rc, info, err := e.svc.Download(ctx, doc)
	require.NoError(t, err)
	content, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, pdfContent, string(content))
	assert.Equal(t, "application/pdf", info.ContentType)

	t.Run("unsupported type", func(t *testing.T) {
		_, err := e.upload(ctx, e.parent, e.st.ID, "notes.txt", "just some text")
		fe := fileError(t, err)
		assert.Equal(t, "file", fe.Field)
		assert.Equal(t, document.ErrUnsupportedType.Error(), fe.Error)
	})

	t.Run("too large", func(t *testing.T) {
		_, err := e.upload(ctx, e.parent, e.st.ID, "big.pdf", pdfContent+strings.Repeat("x", 1024))
		assert.Equal(t, document.ErrTooLarge.Error(), fileError(t, err).Error)

		// declared size lies
		_, err = e.svc.Upload(ctx, e.parent, document.NewDocument{
			StudentID: e.st.ID, Kind: document.KindOther, Filename: "big.pdf", Size: 10,
		}, strings.NewReader(pdfContent+strings.Repeat("x", 1024)))
		assert.Equal(t, document.ErrTooLarge.Error(), fileError(t, err).Error)
	})

	t.Run("not their child", func(t *testing.T) {
		_, err := e.upload(ctx, e.parent, e.other.ID, "birth.pdf", pdfContent)
		assert.True(t, core.IsPermissionError(err))
	})

	t.Run("enrollment of another student", func(t *testing.T) {
		_, err := e.svc.Upload(ctx, e.registrar, document.NewDocument{
			StudentID: e.st.ID, EnrollmentID: "00000000-0000-0000-0000-000000000000", Kind: document.KindOther,
			Filename: "birth.pdf", Size: int64(len(pdfContent)),
		}, strings.NewReader(pdfContent))
		assert.Equal(t, "enrollment_id", fileError(t, err).Field)
	})
}

func TestService_review(t *testing.T) {
	ctx := context.Background()
	e := setup(t, 0)

	doc, err := e.upload(ctx, e.parent, e.st.ID, "birth.pdf", pdfContent)
	require.NoError(t, err)

	_, err = e.svc.Reject(ctx, e.registrar, doc, document.Review{})
	assert.Equal(t, "remarks", fileError(t, err).Field)

	doc, err = e.svc.Verify(ctx, e.registrar, doc, document.Review{Remarks: "ok"})
	require.NoError(t, err)
	assert.Equal(t, document.StatusVerified, doc.Status)
	assert.Equal(t, e.registrar.ID, doc.VerifiedBy)

	_, err = e.svc.Reject(ctx, e.registrar, doc, document.Review{Remarks: "blurry"})
	cErr, ok := errors.Cause(err).(*core.ConflictError)
	require.True(t, ok)
	assert.Equal(t, document.ErrAlreadyReviewed, cErr.Err)

	assert.True(t, document.CanDelete(e.registrar, doc))
	assert.False(t, document.CanDelete(e.parent, doc), "uploader cannot delete a reviewed document")
}

func TestService_Delete_PurgeTrash(t *testing.T) {
	ctx := context.Background()
	e := setup(t, 0)

	kept, err := e.upload(ctx, e.parent, e.st.ID, "kept.pdf", pdfContent)
	require.NoError(t, err)
	doc, err := e.upload(ctx, e.parent, e.st.ID, "birth.pdf", pdfContent)
	require.NoError(t, err)
	assert.True(t, document.CanDelete(e.parent, doc))

	require.NoError(t, e.svc.Delete(ctx, doc))
	_, err = e.svc.Get(ctx, doc.ID)
	assert.Equal(t, document.ErrNotFound, errors.Cause(err))

	trash, err := e.blobs.List(ctx, "campus/trash/", time.Time{})
	require.NoError(t, err)
	require.Len(t, trash, 1)
	_, _, err = e.blobs.Get(ctx, doc.StorageKey)
	assert.Equal(t, core.ErrBlobNotFound, err, "moved out of place")

	require.NoError(t, e.blobs.Put(ctx, "campus/trash/orphan.pdf", strings.NewReader(pdfContent), 0, "application/pdf"))

	n, err := e.svc.PurgeTrash(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n, "still within retention")

	// a negative retention purges everything in the trash
	n, err = e.svc.PurgeTrash(ctx, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	trash, err = e.blobs.List(ctx, "campus/trash/", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, trash)

	docs, err := e.svc.Query(ctx, &document.QueryFilter{StudentID: e.st.ID}, nil, core.Page{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, kept.ID, docs[0].ID)
}

func TestService_PurgeTrash_retainsRecentDeletes(t *testing.T) {
	ctx := context.Background()
	e := setup(t, 0)

	doc, err := e.upload(ctx, e.parent, e.st.ID, "birth.pdf", pdfContent)
	require.NoError(t, err)
	uploaded := time.Now().Add(-60 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(e.dir, filepath.FromSlash(doc.StorageKey)), uploaded, uploaded))

	require.NoError(t, e.svc.Delete(ctx, doc))

	n, err := e.svc.PurgeTrash(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	trash, err := e.blobs.List(ctx, "campus/trash/", time.Time{})
	require.NoError(t, err)
	assert.Len(t, trash, 1, "the file of a recent delete stays in the trash")
}

func TestCanView(t *testing.T) {
	e := setup(t, 0)
	doc := document.Document{StudentID: e.st.ID}
	assert.True(t, document.CanView(e.parent, doc, e.st))
	assert.True(t, document.CanView(e.registrar, doc, e.st))
	assert.False(t, document.CanView(e.parent, doc, e.other))

	adviser := user.User{ID: "adviser", Roles: []string{user.RoleTeacher}}
	assert.True(t, document.CanView(adviser, doc, e.st, e.st.ID))
	assert.False(t, document.CanView(adviser, doc, e.st, e.other.ID))
	assert.False(t, document.CanView(adviser, doc, e.st))

	now := time.Now()
	doc.DeletedAt = &now
	assert.False(t, document.CanView(e.registrar, doc, e.st))
}

func TestNewDocument_Validate(t *testing.T) {
	validate, _ := core.NewValidator()
	nd := document.NewDocument{StudentID: "00000000-0000-0000-0000-000000000001", Filename: " birth.pdf ", Size: 0}

	err := nd.Validate(validate)
	var vErrs validator.ValidationErrors
	require.True(t, errors.As(err, &vErrs), "want validation errors, got %v", err)

	var fields []string
	for _, fe := range vErrs {
		fields = append(fields, fe.Field())
	}
	assert.Equal(t, []string{"kind", "size"}, fields)
	assert.Equal(t, "birth.pdf", nd.Filename)
}
