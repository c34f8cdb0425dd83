package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"platecore/internal/blob"
	"platecore/pkg/domain"
)

func sampleRun() domain.Run {
	return domain.Run{
		ID:        "run-1",
		CreatedAt: time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
		Policy:    domain.PolicySkip,
		Requests: []domain.TransferRequest{
			{SourceLabel: "buffer", Components: map[string]float64{"NaCl": 2, "Tris": 1}, DestinationPlate: "P1", DestinationWell: "A1", Volume: 5e-6},
			{SourcePlate: "P1", SourceWell: "A1", DestinationPlate: "P2", DestinationWell: "B2", Volume: 1e-3},
		},
		Applied: 1,
		Volume:  5e-6,
		Failures: []domain.RunFailure{
			{Index: 1, Request: domain.TransferRequest{SourcePlate: "P1", SourceWell: "A1", DestinationPlate: "P2", DestinationWell: "B2", Volume: 1e-3}, Error: "insufficient volume"},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleRun()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, transferHeader, rows[0])
	assert.Equal(t, []string{"0", "applied", "buffer", "P1", "A1", "5e-06", "NaCl=2;Tris=1", ""}, rows[1])
	assert.Equal(t, []string{"1", "failed", "P1/A1", "P2", "B2", "0.001", "", "insufficient volume"}, rows[2])
}

func TestSummary(t *testing.T) {
	out := Summary(sampleRun())
	assert.Contains(t, out, "Run run-1 (skip policy)")
	assert.Contains(t, out, "Created: 2024-05-01 09:30:00 UTC")
	assert.Contains(t, out, "Transfers: 1 applied, 1 failed of 2 requested")
	assert.Contains(t, out, "Volume moved: 5 ")
	assert.Contains(t, out, "Volume moved: "+humanize.SIWithDigits(5e-6, 3, "L"))
	assert.Contains(t, out, "#1 P1/A1 -> P2/B2: insufficient volume")
}

func TestArchive(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()

	infos, err := Archive(ctx, store, sampleRun())
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, "runs/run-1/transfers.csv", infos[0].Key)
	assert.Equal(t, "text/csv", infos[0].ContentType)
	assert.Equal(t, "run-1", infos[1].Metadata["run"])

	_, rc, err := store.Get(ctx, "runs/run-1/run.json")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Contains(t, string(body), `"id": "run-1"`)

	_, err = Archive(ctx, store, sampleRun())
	require.Error(t, err)
	assert.True(t, errors.Is(err, blob.ErrExists))

	_, err = Archive(ctx, store, domain.Run{})
	require.Error(t, err)
}
