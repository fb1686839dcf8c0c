package aggregate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/gcagle911/ADA-logger/internal/series"
)

// writeParquet writes one daily series to a parquet file. The file is built
// under a temporary name and renamed into place when complete.
func writeParquet(filename, symbol string, points []series.Point) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("failed to create parquet directory: %w", err)
	}
	tmp := filename + ".tmp"
	defer os.Remove(tmp)

	fw, err := local.NewLocalFileWriter(tmp)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, new(parquetPoint), 4)
	if err != nil {
		fw.Close()
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_GZIP
	pw.PageSize = 8 * 1024

	for _, p := range points {
		row := parquetPoint{
			Symbol:    symbol,
			Timestamp: p.Time.Unix(),
			Date:      p.Time.UTC().Format(dateLayout),
			Price:     p.Price,
			Bid:       p.Bid,
			Ask:       p.Ask,
			Spread:    p.Spread,
			SpreadPct: p.SpreadPct,
			Volume:    p.Volume,
		}
		if err := pw.Write(row); err != nil {
			fw.Close()
			return fmt.Errorf("failed to write parquet data: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("failed to close parquet file: %w", err)
	}
	return os.Rename(tmp, filename)
}
