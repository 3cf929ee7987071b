package admin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yezidelongshao/fastGPTProject/internal/api/render"
	"github.com/yezidelongshao/fastGPTProject/internal/domain"
	"github.com/yezidelongshao/fastGPTProject/internal/service"
)

// Handler handles admin API requests
type Handler struct {
	adminService  *service.AdminService
	ingestService *service.IngestService
}

// NewHandler creates a new admin handler
func NewHandler(adminService *service.AdminService, ingestService *service.IngestService) *Handler {
	return &Handler{
		adminService:  adminService,
		ingestService: ingestService,
	}
}

// RegisterRoutes registers admin routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	datasets := r.Group("/datasets")
	{
		datasets.POST("", h.CreateDataset)
		datasets.GET("", h.ListDatasets)
		datasets.GET("/:id", h.GetDataset)
		datasets.PUT("/:id", h.UpdateDataset)
		datasets.DELETE("/:id", h.DeleteDataset)
		datasets.POST("/:id/documents", h.ImportDocuments)
		datasets.GET("/:id/documents", h.ListDocuments)
		datasets.POST("/:id/preview", h.PreviewChunks)
	}

	documents := r.Group("/documents")
	{
		documents.GET("/:id", h.GetDocument)
		documents.DELETE("/:id", h.DeleteDocument)
	}

	apps := r.Group("/apps")
	{
		apps.POST("", h.CreateApp)
		apps.GET("", h.ListApps)
		apps.GET("/:id", h.GetApp)
		apps.PUT("/:id", h.UpdateApp)
		apps.DELETE("/:id", h.DeleteApp)
	}

	r.GET("/stats", h.GetStats)
}

// Dataset handlers

func (h *Handler) CreateDataset(c *gin.Context) {
	var req domain.CreateDatasetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		render.BadRequest(c, err)
		return
	}

	ds, err := h.adminService.CreateDataset(c.Request.Context(), &req)
	if err != nil {
		render.Error(c, err)
		return
	}

	c.JSON(http.StatusCreated, ds)
}

func (h *Handler) ListDatasets(c *gin.Context) {
	datasets, err := h.adminService.ListDatasets(c.Request.Context())
	if err != nil {
		render.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"datasets": datasets})
}

func (h *Handler) GetDataset(c *gin.Context) {
	ds, err := h.adminService.GetDataset(c.Request.Context(), c.Param("id"))
	if err != nil {
		render.Error(c, err)
		return
	}
	if ds == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "dataset not found"})
		return
	}

	c.JSON(http.StatusOK, ds)
}

func (h *Handler) UpdateDataset(c *gin.Context) {
	var req domain.UpdateDatasetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		render.BadRequest(c, err)
		return
	}

	ds, err := h.adminService.UpdateDataset(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		render.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, ds)
}

func (h *Handler) DeleteDataset(c *gin.Context) {
	if err := h.adminService.DeleteDataset(c.Request.Context(), c.Param("id")); err != nil {
		render.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "dataset deleted"})
}

// Document handlers

// ImportDocuments takes one or more "files" (or a single "file") plus the
// training mode form fields mode, chunk_size and qa_prompt.
func (h *Handler) ImportDocuments(c *gin.Context) {
	var params domain.ImportParams
	if err := c.ShouldBind(&params); err != nil {
		render.BadRequest(c, err)
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form is required"})
		return
	}
	files := append(form.File["files"], form.File["file"]...)
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}

	docs, err := h.ingestService.ImportFiles(c.Request.Context(), c.Param("id"), files, params)
	if err != nil {
		render.Error(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"documents": docs})
}

func (h *Handler) PreviewChunks(c *gin.Context) {
	var req domain.PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		render.BadRequest(c, err)
		return
	}

	resp, err := h.ingestService.PreviewChunks(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		render.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ListDocuments(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	result, err := h.ingestService.ListDocuments(c.Request.Context(), c.Param("id"), page, pageSize)
	if err != nil {
		render.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) GetDocument(c *gin.Context) {
	document, err := h.ingestService.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		render.Error(c, err)
		return
	}
	if document == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}

	c.JSON(http.StatusOK, document)
}

func (h *Handler) DeleteDocument(c *gin.Context) {
	if err := h.ingestService.DeleteDocument(c.Request.Context(), c.Param("id")); err != nil {
		render.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "document deleted"})
}

// App handlers

func (h *Handler) CreateApp(c *gin.Context) {
	var req domain.CreateAppRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		render.BadRequest(c, err)
		return
	}

	app, err := h.adminService.CreateApp(c.Request.Context(), &req)
	if err != nil {
		render.Error(c, err)
		return
	}

	c.JSON(http.StatusCreated, app)
}

func (h *Handler) ListApps(c *gin.Context) {
	apps, err := h.adminService.ListApps(c.Request.Context())
	if err != nil {
		render.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"apps": apps})
}

func (h *Handler) GetApp(c *gin.Context) {
	app, err := h.adminService.GetApp(c.Request.Context(), c.Param("id"))
	if err != nil {
		render.Error(c, err)
		return
	}
	if app == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "app not found"})
		return
	}

	c.JSON(http.StatusOK, app)
}

func (h *Handler) UpdateApp(c *gin.Context) {
	var req domain.UpdateAppRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		render.BadRequest(c, err)
		return
	}

	app, err := h.adminService.UpdateApp(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		render.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, app)
}

func (h *Handler) DeleteApp(c *gin.Context) {
	if err := h.adminService.DeleteApp(c.Request.Context(), c.Param("id")); err != nil {
		render.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "app deleted"})
}

// Stats handler

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.adminService.GetStats(c.Request.Context())
	if err != nil {
		render.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
