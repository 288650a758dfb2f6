package document

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/student"
	"github.com/trezcool/campus/core/user"
)

const trashDir = "trash"

var (
	// errors
	ErrNotFound           = errors.New("document not found")
	ErrTooLarge           = errors.New("file is too large")
	ErrUnsupportedType    = errors.New("unsupported file type")
	ErrAlreadyReviewed    = errors.New("document was already reviewed")
	ErrEnrollmentMismatch = errors.New("enrollment does not belong to the student")
)

type (
	Repository interface {
		CreateDocument(ctx context.Context, doc Document, exec ...core.DBExecutor) (Document, error)
		UpdateDocument(ctx context.Context, doc Document, exec ...core.DBExecutor) (Document, error)
		// GetDocument does not return soft deleted documents.
		GetDocument(ctx context.Context, id string, exec ...core.DBExecutor) (Document, error)
		// QueryDocuments excludes soft deleted documents unless filter.DeletedBefore is set,
		// in which case only documents deleted before it are returned.
		QueryDocuments(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page core.Page, exec ...core.DBExecutor) ([]Document, error)
		DeleteDocumentsByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error)
	}

	StudentGetter interface {
		Get(ctx context.Context, id string) (student.Student, error)
	}

	// EnrollmentOwner reports the student of an enrollment.
	EnrollmentOwner interface {
		StudentOf(ctx context.Context, enrollmentID string) (string, error)
	}

	Service struct {
		repo        Repository
		blobs       core.BlobStore
		resizer     core.ImageResizer
		students    StudentGetter
		enrollments EnrollmentOwner
		conf        core.StorageConfig
		logger      core.Logger
	}
)

func NewService(
	repo Repository,
	blobs core.BlobStore,
	resizer core.ImageResizer,
	students StudentGetter,
	enrollments EnrollmentOwner,
	conf core.StorageConfig,
	logger core.Logger,
) *Service {
	return &Service{
		repo:        repo,
		blobs:       blobs,
		resizer:     resizer,
		students:    students,
		enrollments: enrollments,
		conf:        conf,
		logger:      logger,
	}
}

// StorageKey builds the blob key of a student's document:
// <prefix>/students/<studentID>/<kind>/<slug>_<timestamp>_<rand><ext>
func StorageKey(prefix, studentID, kind, filename, ext string, now time.Time) string {
	base := strings.TrimSuffix(path.Base(filename), path.Ext(filename))
	rnd := make([]byte, 4)
	_, _ = rand.Read(rnd)
	name := fmt.Sprintf("%s_%s_%s%s", core.Slugify(base), now.UTC().Format("20060102150405"), hex.EncodeToString(rnd), ext)
	return path.Join(prefix, "students", studentID, kind, name)
}

func (svc *Service) trashKey(key string) string {
	return path.Join(svc.conf.Prefix, trashDir, strings.TrimPrefix(strings.TrimPrefix(key, svc.conf.Prefix), "/"))
}

// Upload stores the content of nd and records it as a submitted document.
func (svc *Service) Upload(ctx context.Context, actor user.User, nd NewDocument, content io.Reader) (Document, error) {
	if svc.conf.MaxUploadSize > 0 && nd.Size > svc.conf.MaxUploadSize {
		return Document{}, core.NewValidationError(ErrTooLarge, core.FieldError{Field: "file", Error: ErrTooLarge.Error()})
	}

	st, err := svc.students.Get(ctx, nd.StudentID)
	if err != nil {
		if errors.Cause(err) == student.ErrNotFound {
			return Document{}, core.NewValidationError(err, core.FieldError{Field: "student_id", Error: err.Error()})
		}
		return Document{}, errors.Wrap(err, "finding student")
	}
	if !student.CanView(actor, st) {
		return Document{}, core.NewPermissionError("")
	}
	if nd.EnrollmentID != "" {
		owner, err := svc.enrollments.StudentOf(ctx, nd.EnrollmentID)
		if err != nil || owner != st.ID {
			return Document{}, core.NewValidationError(ErrEnrollmentMismatch, core.FieldError{Field: "enrollment_id", Error: ErrEnrollmentMismatch.Error()})
		}
	}

	limit := svc.conf.MaxUploadSize
	if limit <= 0 {
		limit = nd.Size
	}
	buf := new(bytes.Buffer)
	n, err := io.Copy(buf, io.LimitReader(content, limit+1))
	if err != nil {
		return Document{}, errors.Wrap(err, "reading upload")
	}
	if n > limit {
		return Document{}, core.NewValidationError(ErrTooLarge, core.FieldError{Field: "file", Error: ErrTooLarge.Error()})
	}

	contentType := http.DetectContentType(buf.Bytes())
	if idx := strings.IndexByte(contentType, ';'); idx >= 0 {
		contentType = contentType[:idx]
	}
	ext, ok := AllowedContentTypes[contentType]
	if !ok {
		return Document{}, core.NewValidationError(ErrUnsupportedType, core.FieldError{Field: "file", Error: ErrUnsupportedType.Error()})
	}

	var body io.Reader = buf
	size := n
	if svc.resizer != nil && strings.HasPrefix(contentType, "image/") && svc.conf.MaxImageDimension > 0 {
		resized, rsize, ok, err := svc.resizer.Fit(bytes.NewReader(buf.Bytes()), contentType, svc.conf.MaxImageDimension)
		if err != nil {
			return Document{}, core.NewValidationError(err, core.FieldError{Field: "file", Error: "invalid image"})
		}
		if ok {
			body, size = resized, rsize
		}
	}

	now := time.Now().UTC()
	key := StorageKey(svc.conf.Prefix, st.ID, nd.Kind, nd.Filename, ext, now)
	if err := svc.blobs.Put(ctx, key, body, size, contentType); err != nil {
		return Document{}, errors.Wrap(err, "storing file")
	}

	doc, err := svc.repo.CreateDocument(ctx, Document{
		StudentID:    st.ID,
		EnrollmentID: nd.EnrollmentID,
		Kind:         nd.Kind,
		Filename:     path.Base(nd.Filename),
		ContentType:  contentType,
		Size:         size,
		StorageKey:   key,
		Status:       StatusSubmitted,
		UploadedBy:   actor.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		if delErr := svc.blobs.Delete(ctx, key); delErr != nil && svc.logger != nil {
			svc.logger.Error(fmt.Sprintf("deleting orphan blob %s: %v", key, delErr), delErr)
		}
		return Document{}, errors.Wrap(err, "creating document")
	}
	return doc, nil
}

// Download returns the content of the document. The caller must close it.
func (svc *Service) Download(ctx context.Context, doc Document) (io.ReadCloser, core.ObjectInfo, error) {
	rc, info, err := svc.blobs.Get(ctx, doc.StorageKey)
	if err != nil {
		if errors.Cause(err) == core.ErrBlobNotFound {
			return nil, core.ObjectInfo{}, ErrNotFound
		}
		return nil, core.ObjectInfo{}, errors.Wrap(err, "reading file")
	}
	if info.ContentType == "" {
		info.ContentType = doc.ContentType
	}
	return rc, info, nil
}

func (svc *Service) review(ctx context.Context, actor user.User, doc Document, status string, rev Review) (Document, error) {
	if doc.Status != StatusSubmitted {
		return Document{}, core.NewConflictError(ErrAlreadyReviewed)
	}
	doc.Status = status
	doc.Remarks = rev.Remarks
	doc.VerifiedBy = actor.ID
	doc.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateDocument(ctx, doc)
}

func (svc *Service) Verify(ctx context.Context, actor user.User, doc Document, rev Review) (Document, error) {
	return svc.review(ctx, actor, doc, StatusVerified, rev)
}

func (svc *Service) Reject(ctx context.Context, actor user.User, doc Document, rev Review) (Document, error) {
	if rev.Remarks == "" {
		return Document{}, core.NewValidationError(nil, core.FieldError{Field: "remarks", Error: "this field is required"})
	}
	return svc.review(ctx, actor, doc, StatusRejected, rev)
}

// Delete moves the document's file to the trash and marks it deleted.
func (svc *Service) Delete(ctx context.Context, doc Document) error {
	trashKey := svc.trashKey(doc.StorageKey)
	if err := svc.blobs.Move(ctx, doc.StorageKey, trashKey); err != nil && errors.Cause(err) != core.ErrBlobNotFound {
		return errors.Wrap(err, "moving file to trash")
	}
	now := time.Now().UTC()
	doc.StorageKey = trashKey
	doc.DeletedAt = &now
	doc.UpdatedAt = now
	_, err := svc.repo.UpdateDocument(ctx, doc)
	return errors.Wrap(err, "updating document")
}

func (svc *Service) Get(ctx context.Context, id string) (Document, error) {
	return svc.repo.GetDocument(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page core.Page) ([]Document, error) {
	ordering = core.AllowedOrderings(ordering, "kind", "status", "filename", "created_at", "updated_at")
	page.Clean()
	return svc.repo.QueryDocuments(ctx, filter, ordering, page)
}

// PurgeTrash permanently deletes the documents deleted more than retention ago, and their files.
// It returns the number of purged documents.
func (svc *Service) PurgeTrash(ctx context.Context, retention time.Duration) (int, error) {
	now := time.Now().UTC()
	before := now.Add(-retention)
	until := now.Add(time.Second)
	if before.After(until) {
		until = before
	}

	docs, err := svc.repo.QueryDocuments(ctx, &QueryFilter{DeletedBefore: until}, nil, core.Page{Limit: core.MaxPageLimit})
	if err != nil {
		return 0, errors.Wrap(err, "querying deleted documents")
	}

	var keys, ids, retained []string
	for _, doc := range docs {
		if !doc.DeletedAt.Before(before) {
			retained = append(retained, doc.StorageKey)
			continue
		}
		keys = append(keys, doc.StorageKey)
		ids = append(ids, doc.ID)
	}

	// orphan blobs left in the trash
	infos, err := svc.blobs.List(ctx, path.Join(svc.conf.Prefix, trashDir)+"/", before)
	if err != nil {
		return 0, errors.Wrap(err, "listing trash")
	}
	for _, info := range infos {
		if !core.StringInSlice(info.Key, keys) && !core.StringInSlice(info.Key, retained) {
			keys = append(keys, info.Key)
		}
	}

	if len(keys) > 0 {
		if err := svc.blobs.Delete(ctx, keys...); err != nil {
			return 0, errors.Wrap(err, "deleting files")
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return svc.repo.DeleteDocumentsByID(ctx, ids)
}

// CanView reports whether usr may see or download doc of student st.
func CanView(usr user.User, doc Document, st student.Student, advisees ...string) bool {
	return !doc.IsDeleted() && student.CanView(usr, st, advisees...)
}

// CanReview reports whether usr may verify or reject documents.
func CanReview(usr user.User) bool {
	return usr.IsAdmin() || usr.HasRole(user.RoleStaffRegistrar, user.RoleStaffPrincipal)
}

// CanDelete reports whether usr may delete doc: reviewers, or its uploader while it awaits review.
func CanDelete(usr user.User, doc Document) bool {
	return CanReview(usr) || (doc.UploadedBy == usr.ID && doc.Status == StatusSubmitted)
}
