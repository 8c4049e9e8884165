package writer

import (
	"context"
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"

	"ban-cadastre-engine/internal/models"
)

// matchRow is the contractual output schema.
type matchRow struct {
	IDBan      string  `parquet:"id_ban"`
	IDParcelle string  `parquet:"id_parcelle"`
	MatchType  string  `parquet:"match_type"`
	DistanceM  float64 `parquet:"distance_m"`
	Confidence int32   `parquet:"confidence"`
}

// ParquetSink writes match rows to a parquet file. Rows accumulate in memory
// and are flushed every batchSize rows and on Close. The file is written to
// a temporary sibling and renamed into place only when Close succeeds, so an
// aborted run leaves no partial output.
type ParquetSink struct {
	path    string
	tmpPath string
	file    *os.File
	pw      *parquet.GenericWriter[matchRow]

	buf       []matchRow
	batchSize int
	rows      int64
}

// NewParquetSink creates the output file. batchSize below 1 disables
// intermediate flushes.
func NewParquetSink(path string, batchSize int) (*ParquetSink, error) {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file %s: %w", tmpPath, err)
	}

	return &ParquetSink{
		path:      path,
		tmpPath:   tmpPath,
		file:      file,
		pw:        parquet.NewGenericWriter[matchRow](file),
		batchSize: batchSize,
	}, nil
}

// WriteBatch appends rows, flushing whenever the buffer reaches batchSize.
func (s *ParquetSink) WriteBatch(ctx context.Context, rows []models.Match) error {
	for i := range rows {
		m := &rows[i]
		s.buf = append(s.buf, matchRow{
			IDBan:      m.IDBan,
			IDParcelle: m.IDParcelle,
			MatchType:  string(m.MatchType),
			DistanceM:  m.DistanceM,
			Confidence: m.Confidence,
		})
		if s.batchSize > 0 && len(s.buf) >= s.batchSize {
			if err := s.flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *ParquetSink) flush() error {
	if len(s.buf) == 0 {
		return nil
	}
	if _, err := s.pw.Write(s.buf); err != nil {
		return fmt.Errorf("failed to write parquet batch: %w", err)
	}
	s.rows += int64(len(s.buf))
	s.buf = s.buf[:0]
	return nil
}

// Rows returns the number of rows flushed so far.
func (s *ParquetSink) Rows() int64 {
	return s.rows
}

// Close flushes remaining rows, finalizes the parquet footer and moves the
// file into place.
func (s *ParquetSink) Close(ctx context.Context) error {
	if err := s.flush(); err != nil {
		return err
	}
	if err := s.pw.Close(); err != nil {
		return fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}
	if err := os.Rename(s.tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}

// Abort drops the temporary file.
func (s *ParquetSink) Abort() {
	_ = s.file.Close()
	_ = os.Remove(s.tmpPath)
}
