package etl

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopflow/etl/config"
	"github.com/shopflow/etl/extract"
	"github.com/shopflow/etl/warehouse"
)

func gatePipeline(t *testing.T) *pipeline {
	t.Helper()
	return &pipeline{
		cfg: config.Config{
			Quality: config.QualityConfig{ReportPath: filepath.Join(t.TempDir(), "quality_report.md")},
		},
		clock:       clockwork.NewRealClock(),
		sourceFacts: warehouse.SourceTransactions("public"),
	}
}

func gateRecord(payment string, occurred time.Time) extract.ChangeRecord {
	return extract.ChangeRecord{
		ID:               1,
		VersionTimestamp: occurred,
		EventTime:        occurred,
		Values: map[string]any{
			"id":             int64(1),
			"customer_id":    int64(10),
			"occurred_at":    occurred,
			"payment_method": payment,
		},
	}
}

func TestGateBatch(t *testing.T) {
	occurred := time.Now().Add(-time.Hour)

	t.Run("should pass a clean batch and publish the report", func(t *testing.T) {
		p := gatePipeline(t)

		err := p.gateBatch(extract.ChangeBatch{gateRecord("card", occurred)})

		require.NoError(t, err)
		content, readErr := os.ReadFile(p.cfg.Quality.ReportPath)
		require.NoError(t, readErr)
		assert.Contains(t, string(content), "transactions: PASS")
	})

	t.Run("should block checkpoint advancement on a failed expectation", func(t *testing.T) {
		p := gatePipeline(t)

		err := p.gateBatch(extract.ChangeBatch{gateRecord("", occurred)})

		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrQualityGate))
	})
}
