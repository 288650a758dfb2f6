package echoapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/document"
	"github.com/trezcool/campus/core/student"
	"github.com/trezcool/campus/core/user"
)

const uploadField = "file"

func (s *Server) registerDocumentAPI(g *echo.Group) {
	read := s.authorize(resDocuments, "read")
	review := s.authorize(resDocuments, "review")

	g.GET("", s.queryDocuments, read)
	g.POST("", s.uploadDocument, s.authorize(resDocuments, "upload"))

	dg := g.Group("/:id", read, s.objectMiddleware(s.loadDocument))
	dg.GET("", s.retrieveDocument)
	dg.GET("/download", s.downloadDocument)
	dg.POST("/verify", s.verifyDocument, review)
	dg.POST("/reject", s.rejectDocument, review)
	dg.DELETE("", s.destroyDocument, s.authorize(resDocuments, "delete"))
}

func (s *Server) loadDocument(ctx context.Context, usr user.User, id string) (interface{}, bool, error) {
	doc, err := s.deps.DocumentSvc.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	st, err := s.deps.StudentSvc.Get(ctx, doc.StudentID)
	if err != nil {
		return nil, false, errors.Wrap(err, "finding student")
	}
	advisees, err := s.advisees(ctx, usr)
	if err != nil {
		return nil, false, err
	}
	return doc, document.CanView(usr, doc, st, advisees...), nil
}

func (s *Server) queryDocuments(ctx echo.Context) error {
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	reqCtx := ctx.Request().Context()

	filter := new(document.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []document.Document{})
	}
	filter.Clean()
	if !student.SeesAll(usr) {
		students, err := s.ownStudents(reqCtx, usr)
		if err != nil {
			return err
		}
		filter.StudentIDs = studentIDs(students)
		filter.Restricted = true
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	docs, err := s.deps.DocumentSvc.Query(reqCtx, filter, ordering.Orderings, bindPage(ctx))
	if err != nil {
		return errors.Wrap(err, "querying documents")
	}
	if docs == nil {
		docs = []document.Document{}
	}
	return ctx.JSON(http.StatusOK, docs)
}

func (s *Server) uploadDocument(ctx echo.Context) error {
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data document.NewDocument
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewDocument")
	}
	fh, err := ctx.FormFile(uploadField)
	if err != nil {
		return core.NewValidationError(err, core.FieldError{Field: uploadField, Error: "this field is required"})
	}
	data.Filename = fh.Filename
	data.Size = fh.Size
	if err := data.Validate(s.deps.Validate); err != nil {
		return err
	}

	file, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening upload")
	}
	defer file.Close()

	doc, err := s.deps.DocumentSvc.Upload(ctx.Request().Context(), usr, data, file)
	if err != nil {
		if core.IsPermissionError(err) {
			// students and guardians cannot tell other students apart from unknown ones
			return core.NewValidationError(err, core.FieldError{Field: "student_id", Error: student.ErrNotFound.Error()})
		}
		return errors.Wrap(err, "uploading document")
	}
	return ctx.JSON(http.StatusCreated, doc)
}

func (s *Server) retrieveDocument(ctx echo.Context) error {
	doc, err := ctxObject[document.Document](ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, doc)
}

func (s *Server) downloadDocument(ctx echo.Context) error {
	doc, err := ctxObject[document.Document](ctx)
	if err != nil {
		return err
	}

	rc, info, err := s.deps.DocumentSvc.Download(ctx.Request().Context(), doc)
	if err != nil {
		return errors.Wrap(err, "downloading document")
	}
	defer rc.Close()

	header := ctx.Response().Header()
	header.Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", doc.Filename))
	if info.Size > 0 {
		header.Set(echo.HeaderContentLength, strconv.FormatInt(info.Size, 10))
	}
	return ctx.Stream(http.StatusOK, info.ContentType, rc)
}

func (s *Server) reviewDocument(
	ctx echo.Context,
	review func(ctx context.Context, actor user.User, doc document.Document, rev document.Review) (document.Document, error),
) error {
	doc, err := ctxObject[document.Document](ctx)
	if err != nil {
		return err
	}
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data document.Review
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Review")
	}
	if err := data.Validate(s.deps.Validate); err != nil {
		return err
	}

	doc, err = review(ctx.Request().Context(), usr, doc, data)
	if err != nil {
		return errors.Wrap(err, "reviewing document")
	}
	return ctx.JSON(http.StatusOK, doc)
}

func (s *Server) verifyDocument(ctx echo.Context) error {
	return s.reviewDocument(ctx, s.deps.DocumentSvc.Verify)
}

func (s *Server) rejectDocument(ctx echo.Context) error {
	return s.reviewDocument(ctx, s.deps.DocumentSvc.Reject)
}

func (s *Server) destroyDocument(ctx echo.Context) error {
	doc, err := ctxObject[document.Document](ctx)
	if err != nil {
		return err
	}
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !document.CanDelete(usr, doc) {
		return errHttpForbidden
	}

	if err := s.deps.DocumentSvc.Delete(ctx.Request().Context(), doc); err != nil {
		return errors.Wrap(err, "deleting document")
	}
	return ctx.NoContent(http.StatusNoContent)
}
