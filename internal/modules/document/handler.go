package document

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/chaptr/internal/modules/processing/markdown"
	"github.com/mx-space/chaptr/internal/pkg/pagination"
	"github.com/mx-space/chaptr/internal/pkg/response"
)

type Handler struct{ store Store }

func NewHandler(store Store) *Handler { return &Handler{store: store} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/documents")
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.GET("/:id/export", h.export)
	g.DELETE("/:id", h.delete)
}

// GET /documents?page=&size=
func (h *Handler) list(c *gin.Context) {
	items, pag, err := h.store.List(c.Request.Context(), pagination.FromContext(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Paged(c, items, pag)
}

// GET /documents/:id
func (h *Handler) get(c *gin.Context) {
	doc, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, doc)
}

// GET /documents/:id/export?format=md|html|zip
func (h *Handler) export(c *gin.Context) {
	format, ok := markdown.ParseFormat(c.Query("format"))
	if !ok {
		response.BadRequest(c, "format must be md, html or zip")
		return
	}
	doc, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	body, filename, err := markdown.Export(doc, format)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(filename)))
	c.Data(200, format.ContentType(), body)
}

// DELETE /documents/:id
func (h *Handler) delete(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	response.NoContent(c)
}

func (h *Handler) fail(c *gin.Context, err error) {
	if errors.Is(err, ErrNotFound) {
		response.NotFoundMsg(c, err.Error())
		return
	}
	response.InternalError(c, err)
}
