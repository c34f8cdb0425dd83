package domain

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Policy selects how a picklist reacts to a failing transfer.
type Policy string

const (
	// PolicyAbort stops at the first failing transfer.
	PolicyAbort Policy = "abort"
	// PolicySkip records the failure and continues with the next transfer.
	PolicySkip Policy = "skip"
)

// ParsePolicy validates a policy name; empty selects PolicyAbort.
func ParsePolicy(raw string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PolicyAbort:
		return PolicyAbort, nil
	case PolicySkip:
		return PolicySkip, nil
	default:
		return "", invalidf("unknown picklist policy %q", raw)
	}
}

// Picklist is an ordered sequence of transfers.
type Picklist struct {
	transfers []Transfer
}

// NewPicklist builds a picklist from transfers.
func NewPicklist(transfers ...Transfer) *Picklist {
	return &Picklist{transfers: slices.Clone(transfers)}
}

// Add appends a transfer.
func (p *Picklist) Add(t Transfer) { p.transfers = append(p.transfers, t) }

// Len is the number of transfers.
func (p *Picklist) Len() int { return len(p.transfers) }

// Transfers returns a copy of the transfers.
func (p *Picklist) Transfers() []Transfer { return slices.Clone(p.transfers) }

// TotalVolume sums the volume of every transfer.
func (p *Picklist) TotalVolume() float64 {
	total := 0.0
	for _, t := range p.transfers {
		total += t.Volume
	}
	return total
}

// FailedTransfer records a transfer that returned an error.
type FailedTransfer struct {
	Index    int
	Transfer Transfer
	Err      error
}

// RunReport summarizes a picklist execution.
type RunReport struct {
	Applied []Transfer
	Failed  []FailedTransfer
}

// Execute applies transfers in order. Under PolicyAbort the first failure is
// returned together with the partial report; under PolicySkip failures are
// collected and the returned error is nil.
func (p *Picklist) Execute(policy Policy) (RunReport, error) {
	var report RunReport
	for i, t := range p.transfers {
		if err := t.Apply(); err != nil {
			report.Failed = append(report.Failed, FailedTransfer{Index: i, Transfer: t, Err: err})
			if policy != PolicySkip {
				return report, fmt.Errorf("transfer %d: %w", i, err)
			}
			continue
		}
		report.Applied = append(report.Applied, t)
	}
	return report, nil
}

// TransferRequest names a transfer by plate and well names. A request with an
// empty SourcePlate is an external dispense of Components from SourceLabel.
type TransferRequest struct {
	SourcePlate      string             `json:"source_plate,omitempty"`
	SourceWell       string             `json:"source_well,omitempty"`
	SourceLabel      string             `json:"source_label,omitempty"`
	Components       map[string]float64 `json:"components,omitempty"`
	DestinationPlate string             `json:"destination_plate"`
	DestinationWell  string             `json:"destination_well"`
	Volume           float64            `json:"volume"`
}

// IsDispense reports whether the request draws from an external reagent.
func (r TransferRequest) IsDispense() bool { return r.SourcePlate == "" }

// WellResolver finds a well by plate and well name.
type WellResolver func(plate, well string) (*Well, error)

// Resolve turns a request into a Transfer bound to concrete wells.
func (r TransferRequest) Resolve(resolve WellResolver) (Transfer, error) {
	dst, err := resolve(r.DestinationPlate, r.DestinationWell)
	if err != nil {
		return Transfer{}, err
	}
	if r.IsDispense() {
		if strings.TrimSpace(r.SourceLabel) == "" {
			return Transfer{}, invalidf("dispense requires a source label")
		}
		return NewDispense(r.SourceLabel, dst, r.Volume, r.Components), nil
	}
	src, err := resolve(r.SourcePlate, r.SourceWell)
	if err != nil {
		return Transfer{}, err
	}
	return NewWellTransfer(src, dst, r.Volume), nil
}

// Request converts a transfer back to its name-based form.
func (t Transfer) Request() TransferRequest {
	req := TransferRequest{Volume: t.Volume}
	if t.Destination != nil {
		req.DestinationWell = t.Destination.Name()
		if t.Destination.plate != nil {
			req.DestinationPlate = t.Destination.plate.Name()
		}
	}
	ref := t.Source.Ref()
	if ref.Kind == SourceKindWell {
		req.SourcePlate, req.SourceWell = ref.Plate, ref.Well
	} else {
		req.SourceLabel = ref.Label
		req.Components = maps.Clone(t.Components)
	}
	return req
}

var picklistHeader = []string{"Source Plate Name", "Source Well", "Destination Plate Name", "Destination Well", "Transfer Volume"}

// WriteTransferRequestsCSV writes well-to-well requests in the Echo picklist
// column layout. Volumes are written in liters. Dispenses are rejected.
func WriteTransferRequestsCSV(w io.Writer, requests []TransferRequest) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(picklistHeader); err != nil {
		return err
	}
	for i, r := range requests {
		if r.IsDispense() {
			return invalidf("row %d: dispenses have no csv form", i)
		}
		row := []string{r.SourcePlate, r.SourceWell, r.DestinationPlate, r.DestinationWell, strconv.FormatFloat(r.Volume, 'g', -1, 64)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ParseTransferRequestsCSV reads requests written by WriteTransferRequestsCSV.
func ParseTransferRequestsCSV(r io.Reader) ([]TransferRequest, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, invalidf("read picklist header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.TrimSpace(col)] = i
	}
	for _, col := range picklistHeader {
		if _, ok := index[col]; !ok {
			return nil, invalidf("picklist missing column %q", col)
		}
	}
	var out []TransferRequest
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, invalidf("line %d: %w", line, err)
		}
		volume, err := strconv.ParseFloat(strings.TrimSpace(rec[index["Transfer Volume"]]), 64)
		if err != nil {
			return nil, invalidf("line %d: invalid volume: %w", line, err)
		}
		out = append(out, TransferRequest{
			SourcePlate:      rec[index["Source Plate Name"]],
			SourceWell:       rec[index["Source Well"]],
			DestinationPlate: rec[index["Destination Plate Name"]],
			DestinationWell:  rec[index["Destination Well"]],
			Volume:           volume,
		})
	}
	return out, nil
}
