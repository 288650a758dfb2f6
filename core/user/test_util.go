package user

import (
	"context"

	"github.com/trezcool/campus/core"
)

type serviceMock struct {
	service
}

// NewServiceMock returns a Service that sends emails synchronously.
func NewServiceMock(repo Repository, mailSvc core.EmailService, conf *core.Config) Service {
	return &serviceMock{
		service: service{
			repo:    repo,
			mailSvc: mailSvc,
			conf:    conf,
		},
	}
}

func (svc *serviceMock) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !usr.IsActive {
		return ErrNotFound
	}
	// run synchronously
	svc.sendPasswordResetMail(usr)
	return nil
}
