package main

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"
)

const DefaultSource = "https://ftp.ncbi.nih.gov/gene/DATA/gene_info.gz"

const DefaultCategory = "protein-coding"

// geneColumns is the subset of the annotation schema the benchmark
// needs; the snapshot may carry more columns, lookup is by header name.
var geneColumns = []string{"#tax_id", "GeneID", "Symbol", "Synonyms", "chromosome", "description", "type_of_gene"}

// GeneRow is the parquet layout of one annotation record. The leading
// `#tax_id` column of the tab-separated snapshot is renamed to `tax_id`
// during conversion.
type GeneRow struct {
	TaxID       int64  `parquet:"tax_id"`
	GeneID      int64  `parquet:"GeneID"`
	Symbol      string `parquet:"Symbol"`
	Synonyms    string `parquet:"Synonyms"`
	Chromosome  string `parquet:"chromosome"`
	Description string `parquet:"description"`
	TypeOfGene  string `parquet:"type_of_gene"`
}

type Dataset struct {
	Source string
	Path   string
}

func (d *Dataset) CsvPath() string     { return path.Join(d.Path, "gene_info.tsv") }
func (d *Dataset) ParquetPath() string { return path.Join(d.Path, "gene_info.parquet") }

func (d *Dataset) PathFor(format Format) (string, error) {
	switch format {
	case FormatCsv:
		return d.CsvPath(), nil
	case FormatParquet:
		return d.ParquetPath(), nil
	}
	return "", fmt.Errorf("unsupported format %q", format)
}

func (d *Dataset) SizeGb(format Format) (float64, error) {
	input, err := d.PathFor(format)
	if err != nil {
		return 0, err
	}
	stat, err := os.Stat(input)
	if err != nil {
		return 0, err
	}
	return float64(stat.Size()) / (1 << 30), nil
}

// Fetch downloads the annotation snapshot, gunzip-decompressing `.gz`
// payloads on the fly. A snapshot already on disk is kept as is.
func (d *Dataset) Fetch() error {
	filename := d.CsvPath()
	Logger.Infof("fetch annotation snapshot %v to %v", d.Source, filename)
	if _, err := os.Stat(filename); err == nil {
		Logger.Infof("file %v already exists", filename)
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	response, err := http.Get(d.Source)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %v for %v", response.StatusCode, d.Source)
	}
	var reader io.Reader = response.Body
	if strings.HasSuffix(d.Source, ".gz") {
		gz, err := gzip.NewReader(response.Body)
		if err != nil {
			return err
		}
		defer gz.Close()
		reader = gz
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(file, reader)
	return err
}

var (
	syntheticTaxa        = []int64{9606, 10090, 10116, 7227, 6239, 7955, 4932, 562}
	syntheticGeneTypes   = []string{DefaultCategory, "pseudo", "ncRNA", "tRNA", "rRNA", "snoRNA", "other", "unknown"}
	syntheticChromosomes = []string{"1", "2", "3", "4", "5", "X", "Y", "MT", "-"}
)

// Generate writes a deterministic synthetic snapshot and returns the
// per-taxonomy counts of protein-coding rows for verification.
func (d *Dataset) Generate(rows int, seed int64) (map[int64]int64, error) {
	filename := d.CsvPath()
	Logger.Infof("generate synthetic annotation snapshot with %v rows at %v", rows, filename)
	file, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	writer := bufio.NewWriterSize(file, 1<<20)
	if _, err := fmt.Fprintln(writer, strings.Join(geneColumns, "\t")); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed))
	counts := make(map[int64]int64)
	for i := 0; i < rows; i++ {
		taxID := syntheticTaxa[rng.Intn(len(syntheticTaxa))]
		geneType := syntheticGeneTypes[rng.Intn(len(syntheticGeneTypes))]
		chromosome := syntheticChromosomes[rng.Intn(len(syntheticChromosomes))]
		_, err := fmt.Fprintf(writer, "%v\t%v\tGENE%v\tG%v|SYN%v\t%v\tsynthetic annotation record %v\t%v\n",
			taxID, 1000000+i, i, i, rng.Intn(1000), chromosome, i, geneType)
		if err != nil {
			return nil, err
		}
		if geneType == DefaultCategory {
			counts[taxID]++
		}
	}
	if err := writer.Flush(); err != nil {
		return nil, err
	}
	return counts, nil
}

// Convert rewrites the tab-separated snapshot as snappy-compressed
// parquet so both formats benchmark the same data.
func (d *Dataset) Convert() error {
	source := d.CsvPath()
	target := d.ParquetPath()
	Logger.Infof("convert %v to %v", source, target)
	input, err := os.Open(source)
	if err != nil {
		return err
	}
	defer input.Close()

	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 1<<20), 1<<24)
	if !scanner.Scan() {
		return fmt.Errorf("input %v misses header: %w", source, scanner.Err())
	}
	columns := strings.Split(scanner.Text(), "\t")
	indices := make([]int, len(geneColumns))
	for i, name := range geneColumns {
		indices[i] = headerIndex(columns, name)
		if indices[i] < 0 {
			return fmt.Errorf("input %v misses required column %v", source, name)
		}
	}

	output, err := os.Create(target)
	if err != nil {
		return err
	}
	defer output.Close()
	writer := parquet.NewGenericWriter[GeneRow](output, parquet.Compression(&parquet.Snappy))

	batch := make([]GeneRow, 0, 1<<14)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := writer.Write(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}
	for scanner.Scan() {
		row, err := parseGeneRow(strings.Split(scanner.Text(), "\t"), indices)
		if err != nil {
			return fmt.Errorf("failed to parse %v: %w", source, err)
		}
		batch = append(batch, row)
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}
	return writer.Close()
}

func parseGeneRow(fields []string, indices []int) (GeneRow, error) {
	pick := func(i int) string {
		if indices[i] < len(fields) {
			return fields[indices[i]]
		}
		return ""
	}
	taxID, err := strconv.ParseInt(pick(0), 10, 64)
	if err != nil {
		return GeneRow{}, fmt.Errorf("bad tax id %q: %w", pick(0), err)
	}
	geneID, err := strconv.ParseInt(pick(1), 10, 64)
	if err != nil {
		return GeneRow{}, fmt.Errorf("bad gene id %q: %w", pick(1), err)
	}
	return GeneRow{
		TaxID:       taxID,
		GeneID:      geneID,
		Symbol:      pick(2),
		Synonyms:    pick(3),
		Chromosome:  pick(4),
		Description: pick(5),
		TypeOfGene:  pick(6),
	}, nil
}

func headerIndex(columns []string, name string) int {
	for i, column := range columns {
		if column == name {
			return i
		}
	}
	return -1
}
