package echoapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core/chat"
)

func (s *Server) registerChatAPI(g *echo.Group, authed []echo.MiddlewareFunc) {
	use := s.authorize(resChat, "use")

	if s.deps.Hub != nil {
		// browsers cannot set headers on WebSocket requests
		wsJWT := middleware.JWTWithConfig(jwtConfig(s.deps.Conf, "query:token"))
		g.GET("/ws", s.serveWS, wsJWT, s.activeUserMiddleware, use)
	}

	ag := g.Group("", append(authed, use)...)
	ag.GET("/conversations", s.queryConversations)
	ag.POST("/conversations", s.startDirectConversation)
	ag.POST("/groups", s.createGroupConversation)
	ag.GET("/conversations/:id", s.retrieveConversation)
	ag.GET("/conversations/:id/messages", s.queryMessages)
	ag.POST("/conversations/:id/messages", s.sendMessage)
	ag.POST("/conversations/:id/read", s.markConversationRead)
	ag.GET("/online", s.onlineUsers)
	ag.GET("/presence", s.queryPresence)
}

func (s *Server) serveWS(ctx echo.Context) error {
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	return s.deps.Hub.ServeWS(ctx.Response(), ctx.Request(), usr)
}

func (s *Server) queryConversations(ctx echo.Context) error {
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	convs, err := s.deps.ChatSvc.Conversations(ctx.Request().Context(), usr)
	if err != nil {
		return errors.Wrap(err, "querying conversations")
	}
	if convs == nil {
		convs = []chat.Conversation{}
	}
	return ctx.JSON(http.StatusOK, convs)
}

func (s *Server) startDirectConversation(ctx echo.Context) error {
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data chat.DirectRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to DirectRequest")
	}
	if err := data.Validate(s.deps.Validate); err != nil {
		return err
	}

	conv, err := s.deps.ChatSvc.StartDirect(ctx.Request().Context(), usr, data.UserID)
	if err != nil {
		return errors.Wrap(err, "starting conversation")
	}
	return ctx.JSON(http.StatusOK, conv)
}

func (s *Server) createGroupConversation(ctx echo.Context) error {
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data chat.NewGroup
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewGroup")
	}
	if err := data.Validate(s.deps.Validate); err != nil {
		return err
	}

	conv, err := s.deps.ChatSvc.CreateGroup(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "creating group conversation")
	}
	return ctx.JSON(http.StatusCreated, conv)
}

func (s *Server) retrieveConversation(ctx echo.Context) error {
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	conv, err := s.deps.ChatSvc.Conversation(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding conversation")
	}
	return ctx.JSON(http.StatusOK, conv)
}

func (s *Server) queryMessages(ctx echo.Context) error {
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var page chat.MessagePage
	if before, err := time.Parse(time.RFC3339Nano, ctx.QueryParam("before")); err == nil {
		page.Before = before.UTC()
	}
	if limit, err := strconv.Atoi(ctx.QueryParam(limitParam)); err == nil {
		page.Limit = limit
	}
	page.Clean()

	msgs, err := s.deps.ChatSvc.Messages(ctx.Request().Context(), usr, ctx.Param("id"), page)
	if err != nil {
		return errors.Wrap(err, "querying messages")
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	return ctx.JSON(http.StatusOK, msgs)
}

func (s *Server) sendMessage(ctx echo.Context) error {
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data chat.NewMessage
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewMessage")
	}
	if err := data.Validate(s.deps.Validate); err != nil {
		return err
	}

	msg, err := s.deps.ChatSvc.Send(ctx.Request().Context(), usr, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "sending message")
	}
	return ctx.JSON(http.StatusCreated, msg)
}

func (s *Server) markConversationRead(ctx echo.Context) error {
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if err := s.deps.ChatSvc.MarkRead(ctx.Request().Context(), usr, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "marking conversation read")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (s *Server) onlineUsers(ctx echo.Context) error {
	usr, err := s.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	ids, err := s.deps.ChatSvc.OnlineUsers(ctx.Request().Context(), usr)
	if err != nil {
		return errors.Wrap(err, "querying online users")
	}
	return ctx.JSON(http.StatusOK, ids)
}

func (s *Server) queryPresence(ctx echo.Context) error {
	var query PresenceRequest
	if err := ctx.Bind(&query); err != nil {
		return errors.Wrap(err, "binding to PresenceRequest")
	}

	presence, err := s.deps.ChatSvc.Presence(ctx.Request().Context(), query.UserIDs)
	if err != nil {
		return errors.Wrap(err, "querying presence")
	}
	return ctx.JSON(http.StatusOK, presence)
}

type PresenceRequest struct {
	UserIDs []string `query:"id"`
}
