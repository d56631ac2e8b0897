package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/csv"
	"github.com/apache/arrow/go/v15/arrow/memory"
	"github.com/apache/arrow/go/v15/parquet/file"
	"github.com/apache/arrow/go/v15/parquet/pqarrow"
)

// EngineArrow runs the task on Apache Arrow columnar batches. Both
// readers project only the taxonomy and gene-type columns; the parquet
// path decodes columns in parallel when more than one core is given.
type EngineArrow struct{}

func (e *EngineArrow) Name() string      { return "arrow" }
func (e *EngineArrow) Formats() []Format { return []Format{FormatCsv, FormatParquet} }
func (e *EngineArrow) Open(cores int) (Session, error) {
	if cores <= 0 {
		return nil, fmt.Errorf("arrow engine needs a resolved core count, got %v", cores)
	}
	return &SessionArrow{cores: cores, allocator: memory.NewGoAllocator()}, nil
}

type SessionArrow struct {
	cores     int
	allocator memory.Allocator
}

func (s *SessionArrow) Close() error { return nil }

func (s *SessionArrow) Query(ctx context.Context, job Job) (*Table, error) {
	switch job.Format {
	case FormatCsv:
		return s.queryCsv(ctx, job)
	case FormatParquet:
		return s.queryParquet(ctx, job)
	}
	return nil, fmt.Errorf("unsupported format %q for engine arrow", job.Format)
}

func (s *SessionArrow) queryCsv(ctx context.Context, job Job) (*Table, error) {
	input, err := os.Open(job.Path)
	if err != nil {
		return nil, err
	}
	defer input.Close()

	reader := csv.NewInferringReader(input,
		csv.WithComma('\t'),
		csv.WithHeader(true),
		csv.WithChunk(1<<16),
		csv.WithIncludeColumns([]string{"#tax_id", "type_of_gene"}),
		csv.WithColumnTypes(map[string]arrow.DataType{
			"#tax_id":      arrow.PrimitiveTypes.Int64,
			"type_of_gene": arrow.BinaryTypes.String,
		}),
		csv.WithAllocator(s.allocator),
	)
	defer reader.Release()

	counts := make(map[int64]int64)
	for reader.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := accumulateRecord(reader.Record(), "#tax_id", "type_of_gene", job.Category, counts); err != nil {
			return nil, err
		}
	}
	if err := reader.Err(); err != nil {
		return nil, err
	}
	return sortedTable(counts), nil
}

func (s *SessionArrow) queryParquet(ctx context.Context, job Job) (*Table, error) {
	reader, err := file.OpenParquetFile(job.Path, false)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	arrowReader, err := pqarrow.NewFileReader(reader, pqarrow.ArrowReadProperties{
		Parallel:  s.cores > 1,
		BatchSize: 1 << 16,
	}, s.allocator)
	if err != nil {
		return nil, err
	}
	schema, err := arrowReader.Schema()
	if err != nil {
		return nil, err
	}
	columns := make([]int, 0, 2)
	for _, name := range []string{"tax_id", "type_of_gene"} {
		indices := schema.FieldIndices(name)
		if len(indices) == 0 {
			return nil, fmt.Errorf("parquet input %v misses column %v", job.Path, name)
		}
		columns = append(columns, indices[0])
	}
	records, err := arrowReader.GetRecordReader(ctx, columns, nil)
	if err != nil {
		return nil, err
	}
	defer records.Release()

	counts := make(map[int64]int64)
	for records.Next() {
		if err := accumulateRecord(records.Record(), "tax_id", "type_of_gene", job.Category, counts); err != nil {
			return nil, err
		}
	}
	if err := records.Err(); err != nil && err != io.EOF {
		return nil, err
	}
	return sortedTable(counts), nil
}

func accumulateRecord(record arrow.Record, taxName, typeName, category string, counts map[int64]int64) error {
	schema := record.Schema()
	taxIndices := schema.FieldIndices(taxName)
	typeIndices := schema.FieldIndices(typeName)
	if len(taxIndices) == 0 || len(typeIndices) == 0 {
		return fmt.Errorf("record misses required columns %v and %v: %v", taxName, typeName, schema)
	}
	taxs, ok := record.Column(taxIndices[0]).(*array.Int64)
	if !ok {
		return fmt.Errorf("column %v is not int64: %v", taxName, record.Column(taxIndices[0]).DataType())
	}
	types, ok := record.Column(typeIndices[0]).(*array.String)
	if !ok {
		return fmt.Errorf("column %v is not string: %v", typeName, record.Column(typeIndices[0]).DataType())
	}
	for i := 0; i < int(record.NumRows()); i++ {
		if taxs.IsNull(i) || types.IsNull(i) {
			continue
		}
		if types.Value(i) != category {
			continue
		}
		counts[taxs.Value(i)]++
	}
	return nil
}
