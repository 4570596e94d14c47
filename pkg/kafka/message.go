package kafka

import (
	"encoding/json"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// IncomingMessage wraps a raw Kafka message with parsed headers.
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	// Parsed content
	Batch *RecordBatchMessage
}

// RecordBatchMessage is one ingestion payload: a tenant-scoped batch of
// normalized records produced by an upstream connector.
type RecordBatchMessage struct {
	TenantID string           `json:"tenant_id"`
	BatchID  string           `json:"batch_id,omitempty"`
	Records  []*models.Record `json:"records"`
}

// ParseBatch parses the message value as a record batch.
func (m *IncomingMessage) ParseBatch() error {
	var batch RecordBatchMessage
	if err := json.Unmarshal(m.Value, &batch); err != nil {
		return err
	}
	m.Batch = &batch
	return nil
}

// GetTenantID returns the tenant id from the payload, falling back to the
// message header.
func (m *IncomingMessage) GetTenantID() string {
	if m.Batch != nil && m.Batch.TenantID != "" {
		return m.Batch.TenantID
	}
	return m.Headers["tenant_id"]
}
