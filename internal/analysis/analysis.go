// Package analysis defines the file-analysis snapshot consumed read-only
// by the tuner and orchestrator. The sampling estimator that fills the
// line-count fields is an external collaborator; this package only owns
// the data contract and the cheap stat-based constructor.
package analysis

import (
	"os"
	"strings"
)

// SizeCategory is a coarse bucket derived from the dump file size.
type SizeCategory int

const (
	CategoryTiny SizeCategory = iota // < 1 MiB
	CategorySmall
	CategoryMedium
	CategoryLarge
	CategoryMassive // >= 4 GiB
)

func (c SizeCategory) String() string {
	switch c {
	case CategoryTiny:
		return "tiny"
	case CategorySmall:
		return "small"
	case CategoryMedium:
		return "medium"
	case CategoryLarge:
		return "large"
	case CategoryMassive:
		return "massive"
	default:
		return "unknown"
	}
}

// Result is an immutable file-analysis snapshot. Once computed for a
// filename it is cached in the session and reused for the session's life.
type Result struct {
	FileSize         int64        `json:"file_size"`
	Category         SizeCategory `json:"category"`
	CategoryLabel    string       `json:"category_label"`
	EstimatedLines   int64        `json:"estimated_lines"`
	AvgBytesPerLine  float64      `json:"avg_bytes_per_line"`
	LikelyBulkInsert bool         `json:"likely_bulk_insert"`
	TargetRAMFrac    float64      `json:"target_ram_frac"`
	Gzip             bool         `json:"gzip"`
	Approximate      bool         `json:"approximate"`
}

// Categorize buckets a file size.
func Categorize(size int64) SizeCategory {
	const mib = 1 << 20
	switch {
	case size < 1*mib:
		return CategoryTiny
	case size < 64*mib:
		return CategorySmall
	case size < 512*mib:
		return CategoryMedium
	case size < 4096*mib:
		return CategoryLarge
	default:
		return CategoryMassive
	}
}

// targetRAMFrac maps a category to the fraction of available memory the
// import should aim to use. Bigger files tolerate a larger working set
// because per-invocation overhead amortizes better.
func targetRAMFrac(c SizeCategory) float64 {
	switch c {
	case CategoryTiny:
		return 0.05
	case CategorySmall:
		return 0.10
	case CategoryMedium:
		return 0.20
	case CategoryLarge:
		return 0.30
	default:
		return 0.40
	}
}

// FromFile builds a Result from a plain stat, without the sampling pass.
// EstimatedLines uses a rough 80-bytes-per-line guess and is flagged
// approximate; the external estimator replaces this when present.
func FromFile(path string) (*Result, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	const roughBytesPerLine = 80.0
	cat := Categorize(st.Size())
	return &Result{
		FileSize:        st.Size(),
		Category:        cat,
		CategoryLabel:   cat.String(),
		EstimatedLines:  int64(float64(st.Size()) / roughBytesPerLine),
		AvgBytesPerLine: roughBytesPerLine,
		TargetRAMFrac:   targetRAMFrac(cat),
		Gzip:            strings.HasSuffix(strings.ToLower(path), ".gz"),
		Approximate:     true,
	}, nil
}
