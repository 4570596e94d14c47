package record

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestUpsertBatch_SkipsInvalidRecords(t *testing.T) {
	// No database is wired: the call must return before building a query
	// when every entry is null or id-less, instead of dereferencing them.
	repo := NewRepository(nil, testLogger())

	t.Run("null record entry", func(t *testing.T) {
		err := repo.UpsertBatch(context.Background(), []*models.Record{nil})
		assert.NoError(t, err)
	})

	t.Run("empty id", func(t *testing.T) {
		err := repo.UpsertBatch(context.Background(), []*models.Record{{TenantID: "t1"}})
		assert.NoError(t, err)
	})

	t.Run("empty batch", func(t *testing.T) {
		err := repo.UpsertBatch(context.Background(), nil)
		assert.NoError(t, err)
	})

	t.Run("ingested payload with null entry", func(t *testing.T) {
		msg := &kafka.IncomingMessage{Value: []byte(`{"tenant_id":"t1","records":[null]}`)}
		require.NoError(t, msg.ParseBatch())
		require.Len(t, msg.Batch.Records, 1)
		require.Nil(t, msg.Batch.Records[0])

		err := repo.UpsertBatch(context.Background(), msg.Batch.Records)
		assert.NoError(t, err)
	})
}
