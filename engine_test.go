package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildDataset(t *testing.T) (*Dataset, map[int64]int64) {
	t.Helper()
	dataset := &Dataset{Path: t.TempDir()}
	expected, err := dataset.Generate(20000, 1)
	require.NoError(t, err)
	require.NoError(t, dataset.Convert())
	return dataset, expected
}

func runEngine(t *testing.T, engine Engine, job Job) *Table {
	t.Helper()
	session, err := engine.Open(job.Cores)
	require.NoError(t, err)
	table, err := session.Query(context.Background(), job)
	require.NoError(t, session.Close())
	require.NoError(t, err)
	return table
}

func requireMatches(t *testing.T, expected map[int64]int64, table *Table) {
	t.Helper()
	total := int64(0)
	for taxID, count := range expected {
		require.Equal(t, count, table.CountFor(taxID), "tax id %v", taxID)
		total += count
	}
	require.Equal(t, total, table.Total())
	for i := 1; i < len(table.Groups); i++ {
		require.LessOrEqual(t, table.Groups[i].Count, table.Groups[i-1].Count)
	}
}

func TestStreamEngineCsv(t *testing.T) {
	dataset, expected := buildDataset(t)
	table := runEngine(t, &EngineStream{}, Job{
		Path:     dataset.CsvPath(),
		Format:   FormatCsv,
		Category: DefaultCategory,
		Cores:    4,
	})
	requireMatches(t, expected, table)
}

func TestStreamEngineParquet(t *testing.T) {
	dataset, expected := buildDataset(t)
	table := runEngine(t, &EngineStream{}, Job{
		Path:     dataset.ParquetPath(),
		Format:   FormatParquet,
		Category: DefaultCategory,
		Cores:    4,
	})
	requireMatches(t, expected, table)
}

func TestArrowEngineCsv(t *testing.T) {
	dataset, expected := buildDataset(t)
	table := runEngine(t, &EngineArrow{}, Job{
		Path:     dataset.CsvPath(),
		Format:   FormatCsv,
		Category: DefaultCategory,
		Cores:    2,
	})
	requireMatches(t, expected, table)
}

func TestArrowEngineParquet(t *testing.T) {
	dataset, expected := buildDataset(t)
	table := runEngine(t, &EngineArrow{}, Job{
		Path:     dataset.ParquetPath(),
		Format:   FormatParquet,
		Category: DefaultCategory,
		Cores:    2,
	})
	requireMatches(t, expected, table)
}

func TestSqliteEngine(t *testing.T) {
	if _, err := exec.LookPath("sqlite3"); err != nil {
		t.Skip("sqlite3 binary not found in PATH")
	}
	dataset, expected := buildDataset(t)
	table := runEngine(t, &EngineSqlite{Path: dataset.Path}, Job{
		Path:     dataset.CsvPath(),
		Format:   FormatCsv,
		Category: DefaultCategory,
		Cores:    1,
	})
	requireMatches(t, expected, table)
}

func TestEnginesAgree(t *testing.T) {
	dataset, _ := buildDataset(t)
	reference := runEngine(t, &EngineStream{}, Job{
		Path:     dataset.CsvPath(),
		Format:   FormatCsv,
		Category: DefaultCategory,
		Cores:    4,
	})
	parquet := runEngine(t, &EngineStream{}, Job{
		Path:     dataset.ParquetPath(),
		Format:   FormatParquet,
		Category: DefaultCategory,
		Cores:    4,
	})
	require.True(t, reference.Equal(parquet))
	arrow := runEngine(t, &EngineArrow{}, Job{
		Path:     dataset.ParquetPath(),
		Format:   FormatParquet,
		Category: DefaultCategory,
		Cores:    2,
	})
	require.True(t, reference.Equal(arrow))
	if _, err := exec.LookPath("sqlite3"); err == nil {
		sqlite := runEngine(t, &EngineSqlite{Path: dataset.Path}, Job{
			Path:     dataset.CsvPath(),
			Format:   FormatCsv,
			Category: DefaultCategory,
			Cores:    1,
		})
		require.True(t, reference.Equal(sqlite))
	}
}

func writeAnnotationSnapshot(t *testing.T, filename string, taxa []int64) {
	t.Helper()
	file, err := os.Create(filename)
	require.NoError(t, err)
	defer file.Close()
	_, err = fmt.Fprintln(file, strings.Join(geneColumns, "\t"))
	require.NoError(t, err)
	for i, taxID := range taxa {
		_, err = fmt.Fprintf(file, "%v\t%v\tGENE%v\tG%v\t1\trecord %v\t%v\n",
			taxID, 1000000+i, i, i, i, DefaultCategory)
		require.NoError(t, err)
	}
}

func TestEnginesAgreeOnTiedCounts(t *testing.T) {
	if _, err := exec.LookPath("sqlite3"); err != nil {
		t.Skip("sqlite3 binary not found in PATH")
	}
	dir := t.TempDir()
	filename := path.Join(dir, "gene_info.tsv")
	// tied counts across taxonomy ids of different digit lengths order
	// differently as text than as numbers
	writeAnnotationSnapshot(t, filename, []int64{9606, 9606, 10090, 562})
	job := Job{Path: filename, Format: FormatCsv, Category: DefaultCategory, Cores: 2}
	reference := runEngine(t, &EngineStream{}, job)
	require.Equal(t, []GroupCount{
		{TaxID: 9606, Count: 2},
		{TaxID: 562, Count: 1},
		{TaxID: 10090, Count: 1},
	}, reference.Groups)
	table := runEngine(t, &EngineSqlite{Path: dir}, job)
	require.True(t, reference.Equal(table))
}

func TestSqliteEnginePathWithSpaces(t *testing.T) {
	if _, err := exec.LookPath("sqlite3"); err != nil {
		t.Skip("sqlite3 binary not found in PATH")
	}
	dir := path.Join(t.TempDir(), "gene data")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	filename := path.Join(dir, "gene_info.tsv")
	writeAnnotationSnapshot(t, filename, []int64{9606, 9606, 562})
	table := runEngine(t, &EngineSqlite{Path: dir}, Job{
		Path:     filename,
		Format:   FormatCsv,
		Category: DefaultCategory,
		Cores:    1,
	})
	require.Equal(t, int64(3), table.Total())
	require.Equal(t, int64(2), table.CountFor(9606))
}

func TestEngineMissingInput(t *testing.T) {
	missing := path.Join(t.TempDir(), "gene_info.tsv")
	for _, engine := range []Engine{&EngineStream{}, &EngineArrow{}} {
		session, err := engine.Open(1)
		require.NoError(t, err)
		_, err = session.Query(context.Background(), Job{
			Path:     missing,
			Format:   FormatCsv,
			Category: DefaultCategory,
			Cores:    1,
		})
		require.ErrorIs(t, err, os.ErrNotExist)
		require.NoError(t, session.Close())
	}
}

func TestStreamEngineRejectsZeroCores(t *testing.T) {
	_, err := (&EngineStream{}).Open(0)
	require.Error(t, err)
}
