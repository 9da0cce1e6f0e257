package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/formatter"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/http/dto"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/service"
)

const maxCSVBody = 64 << 20

type IngestionHandler struct {
	service service.IngestService
}

func NewIngestionHandler(service service.IngestService) *IngestionHandler {
	return &IngestionHandler{service: service}
}

// IngestRecords accepts a JSON batch of records.
func (h *IngestionHandler) IngestRecords(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.IngestRecordsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid ingestion request", "error", err)
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	receipt, err := h.service.IngestRecords(ctx, slices.Values(req.Records), "http")
	if err != nil {
		slog.ErrorContext(ctx, "failed to ingest records", "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to ingest records"})
		return
	}

	c.JSON(http.StatusAccepted, dto.IngestionResponse{
		IngestionID: receipt.IngestionID,
		Count:       receipt.Count,
	})
}

// IngestCSV accepts a delimited body, one trip per line. ?skip=N drops leading
// lines such as a header.
func (h *IngestionHandler) IngestCSV(c *gin.Context) {
	ctx := c.Request.Context()

	skip := 0
	if raw := c.Query("skip"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "skip must be a non-negative integer"})
			return
		}
		skip = n
	}

	body := http.MaxBytesReader(c.Writer, c.Request.Body, maxCSVBody)
	receipt, err := h.service.IngestCSV(ctx, body, skip, "http")
	if err != nil {
		var perr *formatter.ParseError
		if errors.As(err, &perr) {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: perr.Error(), Line: perr.Line})
			return
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: "body too large"})
			return
		}
		slog.ErrorContext(ctx, "failed to ingest csv", "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to ingest csv"})
		return
	}

	c.JSON(http.StatusAccepted, dto.IngestionResponse{
		IngestionID: receipt.IngestionID,
		Count:       receipt.Count,
	})
}
