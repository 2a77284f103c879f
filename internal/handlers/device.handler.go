package handlers

import (
	"context"

	"github.com/nimasrn/sms-forwarder/internal/model"
	xhttp "github.com/nimasrn/sms-forwarder/pkg/http"
)

type DeviceService interface {
	List(ctx context.Context) ([]*model.DeviceView, error)
	Get(ctx context.Context, deviceID string) (*model.DeviceView, error)
	Update(ctx context.Context, deviceID string, u model.DeviceUpdate) (*model.DeviceView, error)
	UpsertMetadata(ctx context.Context, deviceID string, req model.DeviceMetadataRequest) (*model.DeviceView, bool, error)
	Delete(ctx context.Context, deviceID string) error
	GetStats(ctx context.Context, deviceID string) (*model.DeviceStatsView, error)
}

type DeviceHandler struct {
	svc  DeviceService
	resp *Responder
}

func NewDeviceHandler(deviceService DeviceService, resp *Responder) *DeviceHandler {
	return &DeviceHandler{
		svc:  deviceService,
		resp: resp,
	}
}

func RegisterDeviceRoutes(g *xhttp.Group, h *DeviceHandler, auth *AuthMiddleware) {
	g.GET("/devices", auth.RequireAuth(h.ListDevices))
	g.GET("/devices/{id}", auth.RequireAuth(h.GetDevice))
	g.PATCH("/devices/{id}", auth.RequireAuth(auth.CheckPermission("devices:write")(h.UpdateDevice)))
	g.DELETE("/devices/{id}", auth.RequireAuth(auth.CheckPermission("devices:write")(h.DeleteDevice)))
	g.GET("/devices/{id}/stats", auth.RequireAuth(h.GetDeviceStats))
	g.POST("/devices/{id}/metadata", h.PostMetadata)
}

func (h *DeviceHandler) ListDevices(ctx *xhttp.RequestCtx) {
	devices, err := h.svc.List(ctx)
	if err != nil {
		h.resp.Error(ctx, err)
		return
	}
	h.resp.JSON(ctx, xhttp.StatusOK, devices)
}

func (h *DeviceHandler) GetDevice(ctx *xhttp.RequestCtx) {
	d, err := h.svc.Get(ctx, pathParam(ctx, "id"))
	if err != nil {
		h.resp.Error(ctx, err)
		return
	}
	h.resp.JSON(ctx, xhttp.StatusOK, d)
}

func (h *DeviceHandler) UpdateDevice(ctx *xhttp.RequestCtx) {
	var u model.DeviceUpdate
	if err := readJSON(ctx, &u); err != nil {
		h.resp.Error(ctx, err)
		return
	}
	d, err := h.svc.Update(ctx, pathParam(ctx, "id"), u)
	if err != nil {
		h.resp.Error(ctx, err)
		return
	}
	h.resp.JSON(ctx, xhttp.StatusOK, d)
}

// PostMetadata is device facing; 201 means the call registered the device.
func (h *DeviceHandler) PostMetadata(ctx *xhttp.RequestCtx) {
	var req model.DeviceMetadataRequest
	if err := readJSON(ctx, &req); err != nil {
		h.resp.Error(ctx, err)
		return
	}
	d, created, err := h.svc.UpsertMetadata(ctx, pathParam(ctx, "id"), req)
	if err != nil {
		h.resp.Error(ctx, err)
		return
	}
	status := xhttp.StatusOK
	if created {
		status = xhttp.StatusCreated
	}
	h.resp.JSON(ctx, status, d)
}

func (h *DeviceHandler) DeleteDevice(ctx *xhttp.RequestCtx) {
	id := pathParam(ctx, "id")
	if err := h.svc.Delete(ctx, id); err != nil {
		h.resp.Error(ctx, err)
		return
	}
	h.resp.JSON(ctx, xhttp.StatusOK, map[string]string{"deviceId": id, "message": "Device deleted"})
}

func (h *DeviceHandler) GetDeviceStats(ctx *xhttp.RequestCtx) {
	st, err := h.svc.GetStats(ctx, pathParam(ctx, "id"))
	if err != nil {
		h.resp.Error(ctx, err)
		return
	}
	h.resp.JSON(ctx, xhttp.StatusOK, st)
}
