package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	database "github.com/Armour007/portal-backend/internal"
	"github.com/Armour007/portal-backend/internal/utils"
	"github.com/gin-gonic/gin"
)

// applyProxy writes and activates the fragment for svc. A missing synthesizer
// counts as not updated.
func applyProxy(ctx context.Context, svc *database.Service) (bool, string) {
	if synth == nil {
		return false, "proxy synthesis disabled"
	}
	start := time.Now()
	err := synth.Apply(ctx, svc)
	RecordExternalOp("nginx_apply", time.Since(start), err == nil)
	if err != nil {
		return false, err.Error()
	}
	return true, ""
}

func removeProxy(ctx context.Context, id string) (bool, string) {
	if synth == nil {
		return false, "proxy synthesis disabled"
	}
	start := time.Now()
	err := synth.Remove(ctx, id)
	RecordExternalOp("nginx_remove", time.Since(start), err == nil)
	if err != nil {
		return false, err.Error()
	}
	return true, ""
}

// POST /services
func CreateService(c *gin.Context) {
	var req CreateServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	u, err := utils.ParseServiceURL(req.URL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	svc := &database.Service{
		Name:        req.Name,
		Protocol:    u.Protocol,
		Host:        u.Host,
		Port:        u.Port,
		BasePath:    u.Path,
		Description: req.Description,
		ShowInfo:    true,
		IsPublic:    req.IsPublic,
		IsIP:        u.IsIP,
	}
	if req.ShowInfo != nil {
		svc.ShowInfo = *req.ShowInfo
	}
	ctx := c.Request.Context()
	if err := store().CreateService(ctx, svc); err != nil {
		abortStoreError(c, err)
		return
	}

	// the row stays even when the proxy rejects the fragment
	ok, msg := applyProxy(ctx, svc)
	if !ok {
		reqLog(c).WithField("service_id", svc.ID).WithField("detail", msg).Warn("service created without proxy config")
	}
	serviceChanged(ctx, svc.ID, false)

	out := toServiceResponse(svc, true)
	out.NginxUpdated = &ok
	out.NginxError = msg
	c.JSON(http.StatusCreated, out)
}

// GET /services lists everything for admins; other users see the services
// they hold a grant on plus public ones.
func ListServices(c *gin.Context) {
	ctx := c.Request.Context()
	user := currentUser(c)
	all, err := store().ListServices(ctx)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	out := []ServiceResponse{}
	if user.IsAdmin {
		for i := range all {
			out = append(out, toServiceResponse(&all[i], true))
		}
		c.JSON(http.StatusOK, out)
		return
	}
	granted, err := store().ServicesForUser(ctx, user.ID)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	seen := map[string]bool{}
	for i := range granted {
		seen[granted[i].ID] = true
		out = append(out, toServiceResponse(&granted[i], granted[i].ShowInfo))
	}
	for i := range all {
		if all[i].IsPublic && !seen[all[i].ID] {
			out = append(out, toServiceResponse(&all[i], all[i].ShowInfo))
		}
	}
	c.JSON(http.StatusOK, out)
}

// GET /services/available lists services the caller has neither access to nor
// an open request for.
func ListAvailableServices(c *gin.Context) {
	ctx := c.Request.Context()
	user := currentUser(c)
	all, err := store().ListServices(ctx)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	reqs, err := store().UserRequests(ctx, user.ID)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	taken := map[string]bool{}
	for _, r := range reqs {
		if r.Status.Open() {
			taken[r.ServiceID] = true
		}
	}
	out := []ServiceResponse{}
	for i := range all {
		if taken[all[i].ID] || all[i].IsPublic {
			continue
		}
		out = append(out, toServiceResponse(&all[i], false))
	}
	c.JSON(http.StatusOK, out)
}

// loadVisibleService fetches a service and checks the caller may see it. It
// writes the error response itself.
func loadVisibleService(c *gin.Context, id string) (*database.Service, bool) {
	ctx := c.Request.Context()
	svc, err := store().ServiceByID(ctx, id)
	if err != nil {
		abortStoreError(c, err)
		return nil, false
	}
	user := currentUser(c)
	if user.IsAdmin || svc.IsPublic {
		return svc, true
	}
	ok, err := grants().HasGrant(ctx, user.ID, svc.ID)
	if err != nil {
		abortStoreError(c, err)
		return nil, false
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "No access to this service"})
		return nil, false
	}
	return svc, true
}

// GET /services/:id
func GetService(c *gin.Context) {
	svc, ok := loadVisibleService(c, c.Param("id"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toServiceResponse(svc, currentUser(c).IsAdmin || svc.ShowInfo))
}

// PUT /services/:id
func UpdateService(c *gin.Context) {
	var req UpdateServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	ctx := c.Request.Context()
	svc, err := store().ServiceByID(ctx, c.Param("id"))
	if err != nil {
		abortStoreError(c, err)
		return
	}
	if req.Name != nil {
		svc.Name = *req.Name
	}
	if req.Description != nil {
		svc.Description = req.Description
	}
	if req.ShowInfo != nil {
		svc.ShowInfo = *req.ShowInfo
	}
	if req.IsPublic != nil {
		svc.IsPublic = *req.IsPublic
	}
	if req.URL != nil {
		u, err := utils.ParseServiceURL(*req.URL)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		svc.Protocol, svc.Host, svc.Port, svc.BasePath, svc.IsIP = u.Protocol, u.Host, u.Port, u.Path, u.IsIP
	}
	if err := store().UpdateService(ctx, svc); err != nil {
		abortStoreError(c, err)
		return
	}
	ok, msg := applyProxy(ctx, svc)
	serviceChanged(ctx, svc.ID, false)

	out := toServiceResponse(svc, true)
	out.NginxUpdated = &ok
	out.NginxError = msg
	c.JSON(http.StatusOK, out)
}

// DELETE /services/:id
func DeleteService(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := store().DeleteService(ctx, id); err != nil {
		abortStoreError(c, err)
		return
	}
	ok, msg := removeProxy(ctx, id)
	if !ok {
		reqLog(c).WithField("service_id", id).WithField("detail", msg).Warn("service deleted but proxy config not removed")
	}
	serviceChanged(ctx, id, true)
	c.JSON(http.StatusOK, gin.H{"message": "Service deleted", "id": id, "nginx_updated": ok, "nginx_error": msg})
}

// GET /services/:id/config returns the fragment currently on disk.
func GetServiceConfig(c *gin.Context) {
	if synth == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "proxy synthesis disabled"})
		return
	}
	body, err := synth.Fragment(c.Param("id"))
	if errors.Is(err, os.ErrNotExist) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no proxy config for this service"})
		return
	}
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", body)
}

// POST /admin/proxy/sync rewrites every fragment from the registry.
func SyncProxy(c *gin.Context) {
	if synth == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "proxy synthesis disabled"})
		return
	}
	ctx := c.Request.Context()
	services, err := store().ListServices(ctx)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	start := time.Now()
	err = synth.SyncAll(ctx, services)
	RecordExternalOp("nginx_sync", time.Since(start), err == nil)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"synced": len(services)})
}

