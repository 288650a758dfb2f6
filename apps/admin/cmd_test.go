package main

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/core/user"
	inmemdb "github.com/trezcool/campus/storage/database/inmem"
)

type reaperStub struct {
	runs int
	err  error
}

func (r *reaperStub) RunOnce(context.Context) (int, error) {
	r.runs++
	return 3, r.err
}

func setup(t *testing.T) (*commandLine, user.Repository) {
	usrRepo := inmemdb.NewUserRepository(inmemdb.Open())
	return &commandLine{usrRepo: usrRepo, reaper: new(reaperStub)}, usrRepo
}

func withPassword(t *testing.T, pwd string) {
	prev := readPasswordFunc
	readPasswordFunc = func(int) ([]byte, error) { return []byte(pwd), nil }
	t.Cleanup(func() { readPasswordFunc = prev })
}

type cliTest struct {
	name       string
	args       []string // without program name
	pwd        string
	wantErr    error
	wantErrStr string
}

func (tt cliTest) check(t *testing.T, cli *commandLine) {
	withPassword(t, tt.pwd)
	err := cli.run(append([]string{"admin"}, tt.args...))
	switch {
	case tt.wantErr != nil:
		assert.Equal(t, tt.wantErr, err)
	case tt.wantErrStr != "":
		require.Error(t, err)
		assert.Equal(t, tt.wantErrStr, err.Error())
	default:
		assert.NoError(t, err)
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _ := setup(t)

	var ran []string
	prev := migrateFuncs
	migrateFuncs = map[string]func(*sql.DB) error{
		"up":       func(*sql.DB) error { ran = append(ran, "up"); return nil },
		"status":   func(*sql.DB) error { ran = append(ran, "status"); return nil },
		"rollback": func(*sql.DB) error { return errors.New("no migrations to roll back") },
	}
	t.Cleanup(func() { migrateFuncs = prev })

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "rollback", args: []string{"migrate", "rollback"}, wantErrStr: "no migrations to roll back"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) { tt.check(t, cli) })
	}
	assert.Equal(t, []string{"up", "status"}, ran)
}

func Test_commandLine_addUser(t *testing.T) {
	cli, usrRepo := setup(t)

	tests := []cliTest{
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "no email", args: []string{"adduser", "-username", "owner"}, pwd: "pwd", wantErr: errHelp},
		{name: "no password", args: []string{"adduser", "-username", "owner", "-email", "owner@test.ph"}, wantErr: errHelp},
		{name: "create admin", args: []string{"adduser", "-username", "Owner", "-email", "Owner@Test.ph", "-admin"}, pwd: "pwd"},
		{name: "update", args: []string{"adduser", "-username", "owner", "-email", "owner@test.ph"}, pwd: "new-pwd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) { tt.check(t, cli) })
	}

	usr, err := usrRepo.GetUser(context.Background(), user.GetFilter{Username: "owner"})
	require.NoError(t, err)
	assert.Equal(t, "owner@test.ph", usr.Email)
	assert.True(t, usr.IsActive)
	assert.Equal(t, []string{user.RoleAdminOwner}, usr.Roles, "roles are kept on update")
	assert.NoError(t, usr.CheckPassword("new-pwd"))
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli, usrRepo := setup(t)
	ctx := context.Background()

	usr := user.User{Name: "User", Username: "awe", Email: "awe@test.ph", Roles: []string{user.RoleTeacher}, IsActive: true}
	require.NoError(t, usr.SetPassword("mdr"))
	usr, err := usrRepo.CreateUser(ctx, usr)
	require.NoError(t, err)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, pwd: "lol", wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-username", usr.Username}, pwd: "lol"},
		{name: "reset with email", args: []string{"resetpassword", "-username", usr.Email}, pwd: "lmao"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) { tt.check(t, cli) })
	}

	refreshed, err := usrRepo.GetUser(ctx, user.GetFilter{ID: usr.ID})
	require.NoError(t, err)
	assert.NoError(t, refreshed.CheckPassword("lmao"))
}

func Test_commandLine_reapDocuments(t *testing.T) {
	cli, _ := setup(t)
	stub := cli.reaper.(*reaperStub)

	cliTest{name: "reap", args: []string{"reapdocs"}}.check(t, cli)
	assert.Equal(t, 1, stub.runs)

	stub.err = errors.New("storage down")
	cliTest{name: "failure", args: []string{"reapdocs"}, wantErrStr: "storage down"}.check(t, cli)
}
