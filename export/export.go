// Package export provides failure evidence export in various formats
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/lteinsight/emmkpi/fields"
	"github.com/lteinsight/emmkpi/pkg/model"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatText   OutputFormat = "text"
	FormatJSON   OutputFormat = "json"
	FormatJSONL  OutputFormat = "jsonl"
	FormatFields OutputFormat = "fields"
)

// Exporter handles failure evidence export
type Exporter struct {
	format      OutputFormat
	writer      io.Writer
	registry    *fields.Registry
	fields      []string // for -e field extraction
	showWindow  bool     // include surrounding messages
	count       int      // failures exported
	maxCount    int      // -c limit (0 = unlimited)
	firstRecord bool     // track first record for JSON array
}

// NewExporter creates a new exporter
func NewExporter(w io.Writer, format OutputFormat) *Exporter {
	return &Exporter{
		format:      format,
		writer:      w,
		registry:    fields.NewRegistry(),
		firstRecord: true,
	}
}

// SetFields sets the fields to extract (for -T fields -e)
func (e *Exporter) SetFields(fieldNames []string) {
	e.fields = fieldNames
}

// SetMaxCount sets the maximum failure count
func (e *Exporter) SetMaxCount(n int) {
	e.maxCount = n
}

// SetShowWindow enables the surrounding message window in the output
func (e *Exporter) SetShowWindow(v bool) {
	e.showWindow = v
}

// Count returns the number of failures exported
func (e *Exporter) Count() int {
	return e.count
}

// ShouldStop returns true if we've reached the failure limit
func (e *Exporter) ShouldStop() bool {
	return e.maxCount > 0 && e.count >= e.maxCount
}

// ExportFailure exports a single failure with its evidence window
func (e *Exporter) ExportFailure(f *model.FailureRecord, window []*model.MessageSummary) error {
	if e.ShouldStop() {
		return nil
	}

	var err error
	switch e.format {
	case FormatText:
		err = e.exportText(f, window)
	case FormatJSON:
		err = e.exportJSON(f, window)
	case FormatJSONL:
		err = e.exportJSONL(f, window)
	case FormatFields:
		err = e.exportFields(f)
	default:
		err = e.exportText(f, window)
	}

	if err == nil {
		e.count++
	}
	return err
}

// Start writes any header needed for the format
func (e *Exporter) Start() error {
	if e.format == FormatJSON {
		_, err := fmt.Fprintln(e.writer, "[")
		return err
	}
	return nil
}

// Finish writes any footer needed for the format
func (e *Exporter) Finish() error {
	if e.format == FormatJSON {
		if !e.firstRecord {
			if _, err := fmt.Fprintln(e.writer); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintln(e.writer, "]")
		return err
	}
	return nil
}

// exportText exports a failure in text format (one line summary)
func (e *Exporter) exportText(f *model.FailureRecord, window []*model.MessageSummary) error {
	// Format: No. Time Instance Procedure Category KPI Detail
	timeStr := f.Timestamp().UTC().Format("15:04:05.000000")

	detail := f.Detail
	if detail == "" && f.CauseText != "" {
		detail = f.CauseText
	}

	line := fmt.Sprintf("%d\t%s\t%s\t%s\t%s\t%s\t%s",
		f.MsgIndex,
		timeStr,
		f.InstanceID,
		f.Procedure,
		f.Category,
		f.KPI,
		detail,
	)

	_, err := fmt.Fprintln(e.writer, line)
	if err != nil {
		return err
	}

	// Show window if requested
	if e.showWindow && len(window) > 0 {
		if err := e.exportWindowText(window); err != nil {
			return err
		}
	}

	return nil
}

// FailureJSON represents a failure in JSON format
type FailureJSON struct {
	ID         string        `json:"id"`
	InstanceID string        `json:"instance_id"`
	RunID      string        `json:"run_id,omitempty"`
	Procedure  string        `json:"procedure"`
	Category   string        `json:"category"`
	KPI        string        `json:"kpi"`
	Time       string        `json:"time"`
	TimeEpoch  float64       `json:"time_epoch"`
	Start      string        `json:"start,omitempty"`
	MsgIndex   int           `json:"frame.number,omitempty"`
	Message    string        `json:"message,omitempty"`
	CauseCode  int           `json:"emm.cause,omitempty"`
	CauseText  string        `json:"emm.cause_name,omitempty"`
	Detail     string        `json:"detail,omitempty"`
	Window     []MessageJSON `json:"window,omitempty"`
}

// MessageJSON represents one message of the evidence window in JSON
type MessageJSON struct {
	Index     int               `json:"frame.number"`
	TimeEpoch float64           `json:"frame.time_epoch"`
	Layer     string            `json:"layer"`
	TypeCode  int               `json:"emm.type,omitempty"`
	TypeName  string            `json:"emm.type_name,omitempty"`
	Direction string            `json:"direction,omitempty"`
	CauseCode int               `json:"emm.cause,omitempty"`
	IEs       map[string]string `json:"ie,omitempty"`
}

func buildFailureJSON(f *model.FailureRecord, window []*model.MessageSummary) FailureJSON {
	fj := FailureJSON{
		ID:         f.ID,
		InstanceID: f.InstanceID,
		RunID:      f.RunID,
		Procedure:  f.Procedure,
		Category:   f.Category,
		KPI:        f.KPI,
		Time:       f.Timestamp().UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
		TimeEpoch:  float64(f.TimestampNS) / 1e9,
		MsgIndex:   f.MsgIndex,
		Message:    f.Message,
		CauseCode:  f.CauseCode,
		CauseText:  f.CauseText,
		Detail:     f.Detail,
	}
	if f.StartNS != 0 {
		fj.Start = f.Start().UTC().Format("2006-01-02T15:04:05.000000Z07:00")
	}

	for _, msg := range window {
		fj.Window = append(fj.Window, MessageJSON{
			Index:     msg.Index,
			TimeEpoch: float64(msg.TimestampNS) / 1e9,
			Layer:     msg.Layer,
			TypeCode:  msg.TypeCode,
			TypeName:  msg.TypeName,
			Direction: msg.Direction,
			CauseCode: msg.CauseCode,
			IEs:       msg.IEs,
		})
	}
	return fj
}

// exportJSON exports a failure as an element of a JSON array
func (e *Exporter) exportJSON(f *model.FailureRecord, window []*model.MessageSummary) error {
	if !e.showWindow {
		window = nil
	}

	data, err := json.Marshal(buildFailureJSON(f, window))
	if err != nil {
		return err
	}

	// Handle JSON array formatting
	if e.firstRecord {
		e.firstRecord = false
		_, err = fmt.Fprintf(e.writer, "  %s", data)
	} else {
		_, err = fmt.Fprintf(e.writer, ",\n  %s", data)
	}

	return err
}

// exportJSONL exports a failure as one JSON object per line
func (e *Exporter) exportJSONL(f *model.FailureRecord, window []*model.MessageSummary) error {
	if !e.showWindow {
		window = nil
	}

	data, err := json.Marshal(buildFailureJSON(f, window))
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(e.writer, "%s\n", data)
	return err
}

// exportFields exports specific fields (for -T fields -e)
func (e *Exporter) exportFields(f *model.FailureRecord) error {
	values := make([]string, len(e.fields))

	for i, fieldName := range e.fields {
		values[i] = e.registry.ExtractString(fieldName, f)
	}

	_, err := fmt.Fprintln(e.writer, strings.Join(values, "\t"))
	return err
}

// exportWindowText exports the evidence window as indented lines
func (e *Exporter) exportWindowText(window []*model.MessageSummary) error {
	for _, msg := range window {
		timeStr := msg.Timestamp().UTC().Format("15:04:05.000000")

		desc := msg.TypeName
		if desc == "" {
			desc = msg.Layer
		}
		if msg.Direction != "" {
			desc = fmt.Sprintf("%s (%s)", desc, msg.Direction)
		}

		if _, err := fmt.Fprintf(e.writer, "    %d\t%s\t%s\n", msg.Index, timeStr, desc); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(e.writer)
	return err
}
