// Package publish forwards scan results to consumers outside the process.
package publish

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strconv"

	"github.com/itohio/godiode/pkg/experiment"
)

// Publisher receives recorded steps while a scan runs.
type Publisher interface {
	Publish(index int, r experiment.StepResult) error
	Close() error
}

// StepPayload is the JSON document published for one step.
type StepPayload struct {
	Index           int     `json:"index"`
	Code            int     `json:"code"`
	ResistorLoad    float64 `json:"resistor_load"`
	TotalVolt       float64 `json:"total_volt"`
	TotalVoltErr    float64 `json:"total_volt_err"`
	ResistorVolt    float64 `json:"resistor_volt"`
	ResistorVoltErr float64 `json:"resistor_volt_err"`
	LEDVolt         float64 `json:"led_volt"`
	LEDVoltErr      float64 `json:"led_volt_err"`
	Current         float64 `json:"current"`
	CurrentErr      float64 `json:"current_err"`
}

// Payload encodes a step as JSON.
func Payload(index int, r experiment.StepResult) ([]byte, error) {
	return json.Marshal(StepPayload{
		Index:           index,
		Code:            r.Code,
		ResistorLoad:    r.ResistorLoad,
		TotalVolt:       r.TotalVolt,
		TotalVoltErr:    r.TotalVoltErr,
		ResistorVolt:    r.ResistorVolt,
		ResistorVoltErr: r.ResistorVoltErr,
		LEDVolt:         r.LEDVolt,
		LEDVoltErr:      r.LEDVoltErr,
		Current:         r.Current,
		CurrentErr:      r.CurrentErr,
	})
}

// WriteCSV writes headers followed by every row.
func WriteCSV(w io.Writer, headers []string, rows iter.Seq[experiment.Row]) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	record := make([]string, len(headers))
	for row := range rows {
		for i, v := range row {
			if i >= len(record) {
				break
			}
			record[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
