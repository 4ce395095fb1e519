package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"vault-service/internal/model/changeRequest"
	"vault-service/internal/service/crService"
)

type CRHandler struct {
	svc *crService.Service
}

func NewCRHandler(svc *crService.Service) *CRHandler {
	return &CRHandler{svc: svc}
}

type createCRRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (h *CRHandler) Create(c *gin.Context) {
	act, ok := mustActor(c)
	if !ok {
		return
	}
	var req createCRRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cr, err := h.svc.Create(c.Request.Context(), act, req.Title, req.Description)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, cr)
}

func (h *CRHandler) List(c *gin.Context) {
	if _, ok := mustActor(c); !ok {
		return
	}
	filter := changeRequest.ListFilter{
		Status: changeRequest.Status(c.Query("status")),
	}
	if v := c.Query("author_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "author_id must be a number"})
			return
		}
		filter.AuthorID = uint32(id)
	}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PerPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))

	crs, total, err := h.svc.List(c.Request.Context(), filter)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items": crs,
		"total": total,
		"page":  filter.Page,
	})
}

func (h *CRHandler) Get(c *gin.Context) {
	if _, ok := mustActor(c); !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	cr, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cr)
}

type updateCRRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

func (h *CRHandler) Update(c *gin.Context) {
	act, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req updateCRRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cr, err := h.svc.Update(c.Request.Context(), act, id, req.Title, req.Description)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cr)
}

type stageRequest struct {
	Path    string `json:"path"`
	Action  string `json:"action"`
	Content string `json:"content"`
}

func (h *CRHandler) StageFile(c *gin.Context) {
	act, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req stageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	action := changeRequest.Action(req.Action)
	var content []byte
	if action.NeedsContent() {
		content = []byte(req.Content)
	}
	entry, err := h.svc.Stage(c.Request.Context(), act, id, req.Path, action, content)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *CRHandler) RemoveFile(c *gin.Context) {
	act, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	fileID, ok := paramID(c, "fileID")
	if !ok {
		return
	}
	if err := h.svc.RemoveFile(c.Request.Context(), act, id, fileID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "file removed from change request"})
}

func (h *CRHandler) FileDiff(c *gin.Context) {
	if _, ok := mustActor(c); !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	fileID, ok := paramID(c, "fileID")
	if !ok {
		return
	}
	d, err := h.svc.FileDiff(c.Request.Context(), id, fileID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *CRHandler) Submit(c *gin.Context) {
	act, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	cr, err := h.svc.Submit(c.Request.Context(), act, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cr)
}

type reviewRequest struct {
	Approve bool   `json:"approve"`
	Comment string `json:"comment"`
}

func (h *CRHandler) Review(c *gin.Context) {
	act, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cr, err := h.svc.Review(c.Request.Context(), act, id, req.Approve, req.Comment)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cr)
}

// Merge commits an approved CR. Conflicts are not an error condition for
// the transport: they come back as 409 with the per-path reasons so the
// author can restage.
func (h *CRHandler) Merge(c *gin.Context) {
	act, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	result, err := h.svc.Merge(c.Request.Context(), act, id)
	if err != nil {
		fail(c, err)
		return
	}
	if !result.Merged() {
		c.JSON(http.StatusConflict, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *CRHandler) Close(c *gin.Context) {
	act, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	cr, err := h.svc.Close(c.Request.Context(), act, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cr)
}

func paramID(c *gin.Context, name string) (uint32, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a number"})
		return 0, false
	}
	return uint32(id), true
}
