package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/justsurfingit/jobsync/internal/dtos"
	"github.com/justsurfingit/jobsync/internal/models"
	"github.com/justsurfingit/jobsync/internal/services"
)

// JobHandler serves the dashboard's application records.
type JobHandler struct {
	Store    *services.ApplicationStore
	Users    *services.UserService
	Exporter *services.Exporter
}

// NewJobHandler creates the handler with dependencies
func NewJobHandler(store *services.ApplicationStore, users *services.UserService, exporter *services.Exporter) *JobHandler {
	return &JobHandler{
		Store:    store,
		Users:    users,
		Exporter: exporter,
	}
}

// GetEmails is the GET /get-emails endpoint
func (h *JobHandler) GetEmails(c *gin.Context) {
	user := currentUser(c)
	if err := h.Users.RequireOnboarded(user); err != nil {
		respondError(c, err)
		return
	}
	owner, err := h.Users.ResolveOwner(c.Request.Context(), user, viewAs(c))
	if err != nil {
		respondError(c, err)
		return
	}

	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page must be a positive integer"})
		return
	}
	q := services.ListQuery{Page: page}
	if raw := c.Query("status"); raw != "" {
		st, err := models.ParseApplicationStatus(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		q.Status = st
	}

	res, err := h.Store.List(c.Request.Context(), owner, q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dtos.ApplicationListResponse{
		Data:       res.Records,
		Page:       res.Page,
		TotalPages: res.TotalPages,
		Total:      res.Total,
	})
}

// CreateApplication is the POST /job-applications endpoint
func (h *JobHandler) CreateApplication(c *gin.Context) {
	var req dtos.ApplicationCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rec, err := h.Store.CreateManual(c.Request.Context(), currentUser(c).ID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// UpdateApplication is the PUT /job-applications/:id endpoint
func (h *JobHandler) UpdateApplication(c *gin.Context) {
	var req dtos.ApplicationUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rec, err := h.Store.Update(c.Request.Context(), currentUser(c).ID, c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// DeleteEmail is the DELETE /delete-email/:id endpoint
func (h *JobHandler) DeleteEmail(c *gin.Context) {
	if err := h.Store.Delete(c.Request.Context(), currentUser(c).ID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Item deleted successfully"})
}

func (h *JobHandler) DeleteAll(c *gin.Context) {
	n, err := h.Store.DeleteAll(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dtos.DeleteResponse{Message: "All records deleted", Deleted: n})
}

// DeleteBeforeStartDate drops records received before the caller's start date.
func (h *JobHandler) DeleteBeforeStartDate(c *gin.Context) {
	user := currentUser(c)
	if user.StartDate == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No start date configured"})
		return
	}
	n, err := h.Store.DeleteBefore(c.Request.Context(), user.ID, *user.StartDate)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dtos.DeleteResponse{
		Message: fmt.Sprintf("Deleted records received before %s", user.StartDate.UTC().Format("2006-01-02")),
		Deleted: n,
	})
}

// ExportCSV is the GET /process-csv endpoint
func (h *JobHandler) ExportCSV(c *gin.Context) {
	user := currentUser(c)
	if err := h.Exporter.Allow(user.ID); err != nil {
		respondError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := h.Exporter.WriteCSV(c.Request.Context(), user.ID, &buf); err != nil {
		respondError(c, err)
		return
	}
	filename := fmt.Sprintf("job_applications_%s.csv", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}
