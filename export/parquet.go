// Package export writes the joined site/count extract as a Parquet file.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"ecocounter_ingest/models"
)

const parallelism = 4

var epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// Row is the on-disk layout. Date is days since the Unix epoch.
type Row struct {
	Site  string  `parquet:"name=site, type=BYTE_ARRAY, convertedtype=UTF8"`
	Date  int32   `parquet:"name=date, type=INT32, convertedtype=DATE"`
	Value int64   `parquet:"name=value, type=INT64"`
	Name  string  `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	X     float64 `parquet:"name=x, type=DOUBLE"`
	Y     float64 `parquet:"name=y, type=DOUBLE"`
}

func toRow(r models.ExportRow) Row {
	return Row{
		Site:  r.Site,
		Date:  daysSinceEpoch(r.Date),
		Value: int64(r.Value),
		Name:  r.Name,
		X:     r.X,
		Y:     r.Y,
	}
}

func (r Row) toExportRow() models.ExportRow {
	return models.ExportRow{
		Site:  r.Site,
		Date:  epoch.AddDate(0, 0, int(r.Date)),
		Value: int(r.Value),
		Name:  r.Name,
		X:     r.X,
		Y:     r.Y,
	}
}

func daysSinceEpoch(t time.Time) int32 {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int32(d.Sub(epoch).Hours() / 24)
}

// WriteParquet writes rows to path, replacing any existing file. The data is
// written to a temporary file in the same directory and renamed into place.
func WriteParquet(path string, rows []models.ExportRow) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := writeFile(tmpPath, rows); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func writeFile(path string, rows []models.ExportRow) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	pw, err := writer.NewParquetWriter(fw, new(Row), parallelism)
	if err != nil {
		fw.Close()
		return fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, r := range rows {
		if err := pw.Write(toRow(r)); err != nil {
			pw.WriteStop()
			fw.Close()
			return fmt.Errorf("write row %s %s: %w", r.Site, r.Date.Format(models.DateLayout), err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return fmt.Errorf("finish parquet file: %w", err)
	}
	return fw.Close()
}

// ReadParquet loads every row of an export file.
func ReadParquet(path string) ([]models.ExportRow, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(Row), parallelism)
	if err != nil {
		return nil, fmt.Errorf("create parquet reader: %w", err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	rows := make([]Row, n)
	if n > 0 {
		if err := pr.Read(&rows); err != nil {
			return nil, fmt.Errorf("read rows: %w", err)
		}
	}

	out := make([]models.ExportRow, 0, n)
	for _, r := range rows {
		out = append(out, r.toExportRow())
	}
	return out, nil
}
