// Package report renders picklist runs and archives them in the blob store.
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"platecore/internal/blob"
	"platecore/pkg/domain"
)

// Object names written under runs/<id>/.
const (
	TransfersFile = "transfers.csv"
	RunFile       = "run.json"
	SummaryFile   = "summary.txt"
)

var transferHeader = []string{"Index", "Status", "Source", "Destination Plate Name", "Destination Well", "Transfer Volume", "Components", "Error"}

// Prefix returns the blob key prefix of a run.
func Prefix(runID string) string { return "runs/" + runID + "/" }

// WriteCSV writes one row per request with its outcome.
func WriteCSV(w io.Writer, run domain.Run) error {
	failures := make(map[int]string, len(run.Failures))
	for _, f := range run.Failures {
		failures[f.Index] = f.Error
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(transferHeader); err != nil {
		return err
	}
	for i, req := range run.Requests {
		status := "applied"
		msg, failed := failures[i]
		if failed {
			status = "failed"
		}
		row := []string{
			strconv.Itoa(i),
			status,
			sourceName(req),
			req.DestinationPlate,
			req.DestinationWell,
			strconv.FormatFloat(req.Volume, 'g', -1, 64),
			components(req.Components),
			msg,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Summary renders a short human-readable account of the run.
func Summary(run domain.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s (%s policy)\n", run.ID, run.Policy)
	if !run.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "Created: %s\n", run.CreatedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Fprintf(&b, "Transfers: %s applied, %s failed of %s requested\n",
		humanize.Comma(int64(run.Applied)), humanize.Comma(int64(len(run.Failures))), humanize.Comma(int64(len(run.Requests))))
	fmt.Fprintf(&b, "Volume moved: %s\n", humanize.SIWithDigits(run.Volume, 3, "L"))
	for _, f := range run.Failures {
		fmt.Fprintf(&b, "  #%d %s -> %s/%s: %s\n", f.Index, sourceName(f.Request), f.Request.DestinationPlate, f.Request.DestinationWell, f.Error)
	}
	return b.String()
}

// Archive writes the CSV, JSON and summary forms of run under Prefix(run.ID)
// and returns the stored objects in write order.
func Archive(ctx context.Context, store blob.Store, run domain.Run) ([]blob.Info, error) {
	if run.ID == "" {
		return nil, fmt.Errorf("run id required")
	}
	var csvBuf bytes.Buffer
	if err := WriteCSV(&csvBuf, run); err != nil {
		return nil, fmt.Errorf("render csv: %w", err)
	}
	payload, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render json: %w", err)
	}
	objects := []struct {
		name        string
		contentType string
		body        []byte
	}{
		{TransfersFile, "text/csv", csvBuf.Bytes()},
		{RunFile, "application/json", payload},
		{SummaryFile, "text/plain; charset=utf-8", []byte(Summary(run))},
	}
	meta := map[string]string{"run": run.ID, "policy": string(run.Policy)}
	infos := make([]blob.Info, 0, len(objects))
	for _, obj := range objects {
		info, err := store.Put(ctx, Prefix(run.ID)+obj.name, bytes.NewReader(obj.body), blob.PutOptions{
			ContentType: obj.contentType,
			Metadata:    maps.Clone(meta),
		})
		if err != nil {
			return infos, fmt.Errorf("archive %s: %w", obj.name, err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func sourceName(req domain.TransferRequest) string {
	if req.IsDispense() {
		return req.SourceLabel
	}
	return req.SourcePlate + "/" + req.SourceWell
}

func components(c map[string]float64) string {
	parts := make([]string, 0, len(c))
	for _, k := range slices.Sorted(maps.Keys(c)) {
		parts = append(parts, k+"="+strconv.FormatFloat(c[k], 'g', -1, 64))
	}
	return strings.Join(parts, ";")
}
