package generator

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

var supervisedHeader = append(append(append([]string{}, CategoricalFields...), BaseNumericFields...),
	"sampled_price", "acquisition_cost", "realized_profit")

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteSupervisedCSV writes the supervised dataset with a header row.
func WriteSupervisedCSV(w io.Writer, rows []SupervisedRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(supervisedHeader); err != nil {
		return err
	}
	record := make([]string, len(supervisedHeader))
	for _, row := range rows {
		i := 0
		for _, field := range CategoricalFields {
			record[i], _ = row.State.Categorical(field)
			i++
		}
		for _, field := range BaseNumericFields {
			v, _ := row.State.Numeric(field)
			record[i] = formatFloat(v)
			i++
		}
		record[i] = formatFloat(row.SampledPrice)
		record[i+1] = formatFloat(row.AcquisitionCost)
		record[i+2] = formatFloat(row.RealizedProfit)
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveSupervisedCSV writes the dataset to path, creating parent directories.
func SaveSupervisedCSV(path string, rows []SupervisedRow) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dataset dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create dataset file: %w", err)
	}
	if err := WriteSupervisedCSV(f, rows); err != nil {
		_ = f.Close()
		return fmt.Errorf("write dataset: %w", err)
	}
	return f.Close()
}
