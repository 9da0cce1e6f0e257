package dto

import "github.com/vitormendes140597/data-engineer-challenge-2024/internal/model"

type IngestRecordsRequest struct {
	Records []model.Record `json:"records" binding:"required,dive"`
}

type IngestionResponse struct {
	IngestionID string `json:"ingestion_id"`
	Count       int    `json:"count"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Line  int    `json:"line,omitempty"`
}
