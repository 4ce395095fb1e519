package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"vault-service/internal/service/fileService"
)

type FileHandler struct {
	svc *fileService.Service
}

func NewFileHandler(svc *fileService.Service) *FileHandler {
	return &FileHandler{svc: svc}
}

func (h *FileHandler) Browse(c *gin.Context) {
	if _, ok := mustActor(c); !ok {
		return
	}
	files, err := h.svc.Browse(c.Request.Context(), c.Query("prefix"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func (h *FileHandler) Search(c *gin.Context) {
	if _, ok := mustActor(c); !ok {
		return
	}
	results, err := h.svc.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *FileHandler) Content(c *gin.Context) {
	if _, ok := mustActor(c); !ok {
		return
	}
	path := c.Query("path")
	version, ok := queryVersion(c)
	if !ok {
		return
	}
	v, data, err := h.svc.Content(c.Request.Context(), path, version)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"version": v,
		"content": string(data),
	})
}

func (h *FileHandler) History(c *gin.Context) {
	if _, ok := mustActor(c); !ok {
		return
	}
	versions, err := h.svc.History(c.Request.Context(), c.Query("path"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

func (h *FileHandler) Diff(c *gin.Context) {
	if _, ok := mustActor(c); !ok {
		return
	}
	from, err := strconv.ParseUint(c.Query("from"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be a version number"})
		return
	}
	to, err := strconv.ParseUint(c.Query("to"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to must be a version number"})
		return
	}
	ops, err := h.svc.Diff(c.Request.Context(), c.Query("path"), uint32(from), uint32(to))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ops": ops})
}

type saveRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Message string `json:"message"`
}

func (h *FileHandler) Save(c *gin.Context) {
	act, ok := mustActor(c)
	if !ok {
		return
	}
	var req saveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cr, entry, err := h.svc.Save(c.Request.Context(), act, req.Path, []byte(req.Content), req.Message)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"change_request": cr, "file": entry})
}

// Upload is the multipart variant of Save for binary-ish payloads.
func (h *FileHandler) Upload(c *gin.Context) {
	act, ok := mustActor(c)
	if !ok {
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	path := c.PostForm("path")
	if path == "" {
		path = fileHeader.Filename
	}

	src, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read uploaded file"})
		return
	}
	defer src.Close()
	content, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read uploaded file"})
		return
	}

	cr, entry, err := h.svc.Save(c.Request.Context(), act, path, content, c.PostForm("message"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"change_request": cr, "file": entry})
}

type pathRequest struct {
	Path string `json:"path"`
}

func (h *FileHandler) Delete(c *gin.Context) {
	act, ok := mustActor(c)
	if !ok {
		return
	}
	var req pathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cr, entry, err := h.svc.Delete(c.Request.Context(), act, req.Path)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"change_request": cr, "file": entry})
}

type restoreRequest struct {
	Path    string `json:"path"`
	Version uint32 `json:"version"`
}

func (h *FileHandler) Restore(c *gin.Context) {
	act, ok := mustActor(c)
	if !ok {
		return
	}
	var req restoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cr, entry, err := h.svc.Restore(c.Request.Context(), act, req.Path, req.Version)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"change_request": cr, "file": entry})
}

func (h *FileHandler) CreateFolder(c *gin.Context) {
	act, ok := mustActor(c)
	if !ok {
		return
	}
	path := c.Query("path")
	if err := h.svc.CreateFolder(c.Request.Context(), act, path); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true, "path": path})
}

func (h *FileHandler) DeleteFolder(c *gin.Context) {
	act, ok := mustActor(c)
	if !ok {
		return
	}
	cr, staged, err := h.svc.DeleteFolder(c.Request.Context(), act, c.Query("path"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cr_id": cr.ID, "staged_deletes": staged})
}

// PublicContent sits outside the authenticated group: the share token is
// the whole credential.
func (h *FileHandler) PublicContent(c *gin.Context) {
	v, data, err := h.svc.PublicContent(c.Request.Context(), c.Param("token"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"version": v,
		"content": string(data),
	})
}

func (h *FileHandler) ShareInfo(c *gin.Context) {
	if _, ok := mustActor(c); !ok {
		return
	}
	share, err := h.svc.ShareInfo(c.Request.Context(), c.Query("path"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"share": share})
}

func (h *FileHandler) TogglePublic(c *gin.Context) {
	act, ok := mustActor(c)
	if !ok {
		return
	}
	var req pathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	share, err := h.svc.TogglePublic(c.Request.Context(), act, req.Path)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, share)
}

func (h *FileHandler) ToggleArchive(c *gin.Context) {
	act, ok := mustActor(c)
	if !ok {
		return
	}
	var req pathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	share, err := h.svc.ToggleArchive(c.Request.Context(), act, req.Path)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, share)
}

func queryVersion(c *gin.Context) (uint32, bool) {
	raw := c.Query("version")
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "version must be a number"})
		return 0, false
	}
	return uint32(v), true
}
