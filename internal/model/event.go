package model

// Record is one trip as supplied by a caller, before it joins a batch.
type Record struct {
	Region           string `json:"region" binding:"required"`
	OriginCoord      string `json:"origin_coord" binding:"required"`
	DestinationCoord string `json:"destination_coord" binding:"required"`
	Datetime         string `json:"datetime" binding:"required"`
	Datasource       string `json:"datasource" binding:"required"`
}

// Event is a formatted trip record carrying its batch identity. Every field
// travels as text on the bus.
type Event struct {
	Region           string `json:"region"`
	OriginCoord      string `json:"origin_coord"`
	DestinationCoord string `json:"destination_coord"`
	Datetime         string `json:"datetime"`
	Datasource       string `json:"datasource"`
	IngestionID      string `json:"ingestion_id"`
}

// Trip is an event after it has been durably written by the store writer.
type Trip struct {
	Event
	ID              int64  `json:"id"`
	StreamMessageID string `json:"stream_message_id"`
}
