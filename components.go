package main

import (
	"cmp"
	"context"
	"fmt"
	"slices"
)

type Format string

const (
	FormatCsv     Format = "csv"
	FormatParquet Format = "parquet"
)

func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case FormatCsv, FormatParquet:
		return Format(value), nil
	}
	return "", fmt.Errorf("unsupported format %q (expected csv or parquet)", value)
}

// Job is the fixed task every engine runs: project the taxonomy and
// gene-type columns, keep rows of one gene-type category, group by
// taxonomy id and count members per group.
type Job struct {
	Path     string
	Format   Format
	Category string
	Cores    int
}

type GroupCount struct {
	TaxID int64
	Count int64
}

// Table is the materialized result: groups sorted by count descending,
// ties broken by taxonomy id ascending.
type Table struct {
	Groups []GroupCount
}

func (t *Table) Total() int64 {
	total := int64(0)
	for _, group := range t.Groups {
		total += group.Count
	}
	return total
}

func (t *Table) CountFor(taxID int64) int64 {
	for _, group := range t.Groups {
		if group.TaxID == taxID {
			return group.Count
		}
	}
	return 0
}

func (t *Table) Equal(other *Table) bool {
	return slices.Equal(t.Groups, other.Groups)
}

func sortedTable(counts map[int64]int64) *Table {
	groups := make([]GroupCount, 0, len(counts))
	for taxID, count := range counts {
		groups = append(groups, GroupCount{TaxID: taxID, Count: count})
	}
	slices.SortFunc(groups, func(a, b GroupCount) int {
		if a.Count != b.Count {
			return cmp.Compare(b.Count, a.Count)
		}
		return cmp.Compare(a.TaxID, b.TaxID)
	})
	return &Table{Groups: groups}
}

type Engine interface {
	Name() string
	Formats() []Format
	Open(cores int) (Session, error)
}

type Session interface {
	Query(ctx context.Context, job Job) (*Table, error)
	Close() error
}
