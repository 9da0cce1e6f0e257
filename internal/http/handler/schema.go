package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/http/dto"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/schema"
)

type SchemaHandler struct{}

func NewSchemaHandler() *SchemaHandler {
	return &SchemaHandler{}
}

func (h *SchemaHandler) Get(c *gin.Context) {
	s, err := schema.For(c.Param("name"))
	if err != nil {
		if errors.Is(err, schema.ErrUnknownSchema) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "unknown schema, want one of event, record, status"})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *SchemaHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"schemas": schema.Names()})
}
