package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// RawEvent represents an unprocessed message from the trigger topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// ParseSyncRequest decodes and validates a trigger message body.
func ParseSyncRequest(raw RawEvent) (SyncRequest, error) {
	var req SyncRequest
	if err := json.Unmarshal(raw.Value, &req); err != nil {
		return SyncRequest{}, fmt.Errorf("parse sync request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return SyncRequest{}, err
	}
	return req, nil
}

// SyncSummary describes one SyncAll run.
type SyncSummary struct {
	RunID      string          `json:"run_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Parcels    int             `json:"parcels"`
	Succeeded  int             `json:"succeeded"`
	Failed     int             `json:"failed"`
	Skipped    int             `json:"skipped"`
	Results    []PolygonResult `json:"results"`
}
