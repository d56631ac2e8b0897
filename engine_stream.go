package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/parquet-go/parquet-go"
)

// EngineStream is the single-node baseline: a chunked scan fanned out
// to a fixed pool of workers, each folding rows into a partial count
// map merged at the end. The parquet variant hands whole row groups to
// the workers and projects only the two needed columns.
type EngineStream struct{}

func (e *EngineStream) Name() string      { return "stream" }
func (e *EngineStream) Formats() []Format { return []Format{FormatCsv, FormatParquet} }
func (e *EngineStream) Open(cores int) (Session, error) {
	if cores <= 0 {
		return nil, fmt.Errorf("stream engine needs a resolved core count, got %v", cores)
	}
	return &SessionStream{cores: cores}, nil
}

type SessionStream struct {
	cores int
}

func (s *SessionStream) Close() error { return nil }

func (s *SessionStream) Query(ctx context.Context, job Job) (*Table, error) {
	switch job.Format {
	case FormatCsv:
		return s.queryCsv(ctx, job)
	case FormatParquet:
		return s.queryParquet(ctx, job)
	}
	return nil, fmt.Errorf("unsupported format %q for engine stream", job.Format)
}

const streamChunkRows = 4096

func (s *SessionStream) queryCsv(ctx context.Context, job Job) (*Table, error) {
	file, err := os.Open(job.Path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := bufio.NewReaderSize(file, 1<<20)
	header, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %v: %w", job.Path, err)
	}
	columns := strings.Split(strings.TrimRight(header, "\r\n"), "\t")
	taxCol := headerIndex(columns, "#tax_id")
	typeCol := headerIndex(columns, "type_of_gene")
	if taxCol < 0 || typeCol < 0 {
		return nil, fmt.Errorf("input %v misses required columns, header: %v", job.Path, columns)
	}

	chunks := make(chan []string, s.cores)
	partials := make(chan map[int64]int64, s.cores)
	var wg sync.WaitGroup
	for i := 0; i < s.cores; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			counts := make(map[int64]int64)
			for lines := range chunks {
				for _, line := range lines {
					fields := strings.Split(line, "\t")
					if taxCol >= len(fields) || typeCol >= len(fields) {
						continue
					}
					if fields[typeCol] != job.Category {
						continue
					}
					taxID, err := strconv.ParseInt(fields[taxCol], 10, 64)
					if err != nil {
						continue
					}
					counts[taxID]++
				}
			}
			partials <- counts
		}()
	}

	chunk := make([]string, 0, streamChunkRows)
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 1<<20), 1<<24)
	var scanErr error
	for scanner.Scan() {
		chunk = append(chunk, scanner.Text())
		if len(chunk) == streamChunkRows {
			if err := ctx.Err(); err != nil {
				scanErr = err
				break
			}
			chunks <- chunk
			chunk = make([]string, 0, streamChunkRows)
		}
	}
	if scanErr == nil {
		scanErr = scanner.Err()
	}
	if scanErr == nil && len(chunk) > 0 {
		chunks <- chunk
	}
	close(chunks)
	wg.Wait()
	close(partials)

	if scanErr != nil {
		return nil, scanErr
	}
	total := make(map[int64]int64)
	for counts := range partials {
		for taxID, count := range counts {
			total[taxID] += count
		}
	}
	return sortedTable(total), nil
}

// taxTypeRow projects the two columns the task reads; parquet-go skips
// the rest of the row group pages entirely.
type taxTypeRow struct {
	TaxID      int64  `parquet:"tax_id"`
	TypeOfGene string `parquet:"type_of_gene"`
}

func (s *SessionStream) queryParquet(ctx context.Context, job Job) (*Table, error) {
	file, err := os.Open(job.Path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}
	parquetFile, err := parquet.OpenFile(file, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet input %v: %w", job.Path, err)
	}

	groups := parquetFile.RowGroups()
	work := make(chan parquet.RowGroup, len(groups))
	for _, group := range groups {
		work <- group
	}
	close(work)

	partials := make(chan map[int64]int64, s.cores)
	errs := make(chan error, s.cores)
	var wg sync.WaitGroup
	for i := 0; i < s.cores; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			counts := make(map[int64]int64)
			buffer := make([]taxTypeRow, 1<<13)
			for group := range work {
				if err := s.scanRowGroup(ctx, group, job.Category, buffer, counts); err != nil {
					errs <- err
					return
				}
			}
			partials <- counts
		}()
	}
	wg.Wait()
	close(partials)
	close(errs)

	if err := <-errs; err != nil {
		return nil, err
	}
	total := make(map[int64]int64)
	for counts := range partials {
		for taxID, count := range counts {
			total[taxID] += count
		}
	}
	return sortedTable(total), nil
}

func (s *SessionStream) scanRowGroup(ctx context.Context, group parquet.RowGroup, category string, buffer []taxTypeRow, counts map[int64]int64) error {
	reader := parquet.NewGenericRowGroupReader[taxTypeRow](group)
	defer reader.Close()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := reader.Read(buffer)
		for _, row := range buffer[:n] {
			if row.TypeOfGene == category {
				counts[row.TaxID]++
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
