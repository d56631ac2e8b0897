package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path"
	"strconv"
	"strings"
	"time"
)

// EngineSqlite shells out to the sqlite3 CLI: the snapshot is imported
// into a scratch database and the group query runs inside it. Parquet
// is not importable this way, so the engine is CSV only.
type EngineSqlite struct {
	Path string
}

func (e *EngineSqlite) Name() string      { return "sqlite3" }
func (e *EngineSqlite) Formats() []Format { return []Format{FormatCsv} }
func (e *EngineSqlite) Open(cores int) (Session, error) {
	dir := e.Path
	if dir == "" {
		dir = os.TempDir()
	}
	db := path.Join(dir, fmt.Sprintf("gene-benchmark-%v.db", time.Now().UnixNano()))
	return &SessionSqlite{db: db}, nil
}

type SessionSqlite struct {
	db string
}

func (s *SessionSqlite) Close() error {
	err := os.Remove(s.db)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *SessionSqlite) Query(ctx context.Context, job Job) (*Table, error) {
	if job.Format != FormatCsv {
		return nil, fmt.Errorf("unsupported format %q for engine sqlite3", job.Format)
	}
	if _, err := os.Stat(job.Path); err != nil {
		return nil, err
	}
	// .import gives every column TEXT affinity, so tie-breaking must
	// cast tax_id back to a number to order the same way sortedTable does.
	query := fmt.Sprintf(
		`SELECT "#tax_id" AS tax_id, COUNT(*) AS count FROM gene WHERE type_of_gene = '%v' GROUP BY tax_id ORDER BY count DESC, CAST(tax_id AS INTEGER) ASC;`,
		strings.ReplaceAll(job.Category, "'", "''"),
	)
	cmd := exec.CommandContext(ctx, "sqlite3", "-tabs", s.db,
		fmt.Sprintf(".import %q gene", job.Path),
		query,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("sqlite3 failed: err=%w, out=%v", err, stderr.String())
	}
	return parseGroupCounts(stdout.String())
}

func parseGroupCounts(output string) (*Table, error) {
	groups := make([]GroupCount, 0)
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 2 {
			return nil, fmt.Errorf("unexpected sqlite3 output line %q", line)
		}
		taxID, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad tax id in sqlite3 output line %q: %w", line, err)
		}
		count, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad count in sqlite3 output line %q: %w", line, err)
		}
		groups = append(groups, GroupCount{TaxID: taxID, Count: count})
	}
	return &Table{Groups: groups}, nil
}
