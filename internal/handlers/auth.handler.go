package handlers

import (
	"context"

	"github.com/nimasrn/sms-forwarder/internal/model"
	xhttp "github.com/nimasrn/sms-forwarder/pkg/http"
)

type AdminService interface {
	Authenticator
	Login(ctx context.Context, req model.LoginRequest) (*model.LoginResult, error)
	UpdateSettings(ctx context.Context, admin *model.Admin, p model.AdminSettingsPatch) (*model.AdminSettings, error)
	ChangePasscode(ctx context.Context, admin *model.Admin, req model.ChangePasscodeRequest) error
	ChangePhone(ctx context.Context, admin *model.Admin, req model.ChangePhoneRequest) (*model.Admin, error)
}

type AuthHandler struct {
	svc  AdminService
	resp *Responder
}

func NewAuthHandler(adminService AdminService, resp *Responder) *AuthHandler {
	return &AuthHandler{
		svc:  adminService,
		resp: resp,
	}
}

func RegisterAuthRoutes(g *xhttp.Group, h *AuthHandler, auth *AuthMiddleware) {
	g.POST("/auth/login", h.Login)
	g.GET("/auth/me", auth.RequireAuth(h.Me))
	g.PATCH("/auth/settings", auth.RequireAuth(h.UpdateSettings))
	g.PUT("/auth/phone", auth.RequireAuth(h.ChangePhone))
	g.PUT("/auth/passcode", auth.RequireAuth(h.ChangePasscode))
}

func (h *AuthHandler) Login(ctx *xhttp.RequestCtx) {
	var req model.LoginRequest
	if err := readJSON(ctx, &req); err != nil {
		h.resp.Error(ctx, err)
		return
	}
	res, err := h.svc.Login(ctx, req)
	if err != nil {
		h.resp.Error(ctx, err)
		return
	}
	h.resp.JSON(ctx, xhttp.StatusOK, res)
}

func (h *AuthHandler) Me(ctx *xhttp.RequestCtx) {
	h.resp.JSON(ctx, xhttp.StatusOK, CurrentAdmin(ctx))
}

func (h *AuthHandler) UpdateSettings(ctx *xhttp.RequestCtx) {
	var p model.AdminSettingsPatch
	if err := readJSON(ctx, &p); err != nil {
		h.resp.Error(ctx, err)
		return
	}
	s, err := h.svc.UpdateSettings(ctx, CurrentAdmin(ctx), p)
	if err != nil {
		h.resp.Error(ctx, err)
		return
	}
	h.resp.JSON(ctx, xhttp.StatusOK, map[string]any{"settings": s})
}

func (h *AuthHandler) ChangePhone(ctx *xhttp.RequestCtx) {
	var req model.ChangePhoneRequest
	if err := readJSON(ctx, &req); err != nil {
		h.resp.Error(ctx, err)
		return
	}
	admin, err := h.svc.ChangePhone(ctx, CurrentAdmin(ctx), req)
	if err != nil {
		h.resp.Error(ctx, err)
		return
	}
	h.resp.JSON(ctx, xhttp.StatusOK, admin)
}

func (h *AuthHandler) ChangePasscode(ctx *xhttp.RequestCtx) {
	var req model.ChangePasscodeRequest
	if err := readJSON(ctx, &req); err != nil {
		h.resp.Error(ctx, err)
		return
	}
	if err := h.svc.ChangePasscode(ctx, CurrentAdmin(ctx), req); err != nil {
		h.resp.Error(ctx, err)
		return
	}
	h.resp.JSON(ctx, xhttp.StatusOK, map[string]string{"message": "Passcode updated"})
}
