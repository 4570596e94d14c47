package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBatch(t *testing.T) {
	t.Run("valid batch", func(t *testing.T) {
		msg := &IncomingMessage{
			Value: []byte(`{
				"tenant_id": "tenant-1",
				"batch_id": "batch-9",
				"records": [
					{"id": "r1", "tenant_id": "tenant-1", "source": "crm", "name": "Maria Garcia"},
					{"id": "r2", "tenant_id": "tenant-1", "source": "web", "email": "maria@example.com"}
				]
			}`),
		}

		require.NoError(t, msg.ParseBatch())
		require.NotNil(t, msg.Batch)
		assert.Equal(t, "tenant-1", msg.Batch.TenantID)
		assert.Equal(t, "batch-9", msg.Batch.BatchID)
		require.Len(t, msg.Batch.Records, 2)
		assert.Equal(t, "r1", msg.Batch.Records[0].ID)
		assert.Equal(t, "maria@example.com", msg.Batch.Records[1].Email)
	})

	t.Run("invalid json", func(t *testing.T) {
		msg := &IncomingMessage{Value: []byte(`{broken`)}
		assert.Error(t, msg.ParseBatch())
		assert.Nil(t, msg.Batch)
	})
}

func TestGetTenantID(t *testing.T) {
	t.Run("payload wins", func(t *testing.T) {
		msg := &IncomingMessage{
			Headers: map[string]string{"tenant_id": "header-tenant"},
			Batch:   &RecordBatchMessage{TenantID: "payload-tenant"},
		}
		assert.Equal(t, "payload-tenant", msg.GetTenantID())
	})

	t.Run("header fallback", func(t *testing.T) {
		msg := &IncomingMessage{
			Headers: map[string]string{"tenant_id": "header-tenant"},
			Batch:   &RecordBatchMessage{},
		}
		assert.Equal(t, "header-tenant", msg.GetTenantID())
	})

	t.Run("unparsed message uses header", func(t *testing.T) {
		msg := &IncomingMessage{Headers: map[string]string{"tenant_id": "t1"}}
		assert.Equal(t, "t1", msg.GetTenantID())
	})
}
