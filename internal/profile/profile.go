// Package profile loads HCL scan profiles: a named root plus the scan
// and map tuning the CLI would otherwise take as flags.
package profile

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/agentic-research/metromap/api"
)

// Profile is one decoded profile file.
type Profile struct {
	Scan *ScanBlock `hcl:"scan,block"`
	Map  *MapBlock  `hcl:"map,block"`
}

// ScanBlock mirrors api.ScanOptions in profile form.
type ScanBlock struct {
	Root            string `hcl:"root"`
	BatchSize       *int   `hcl:"batch_size,optional"`
	TimeSliceMs     *int   `hcl:"time_slice_ms,optional"`
	MaxDepth        *int   `hcl:"max_depth,optional"`
	MaxEntries      *int   `hcl:"max_entries,optional"`
	IncludeMetadata *bool  `hcl:"include_metadata,optional"`
	FollowSymlinks  *bool  `hcl:"follow_symlinks,optional"`
}

// MapBlock tunes the adapter and router.
type MapBlock struct {
	AggregationThreshold *int     `hcl:"aggregation_threshold,optional"`
	CornerRadius         *float64 `hcl:"corner_radius,optional"`
}

// Load parses and decodes one profile file.
func Load(path string) (*Profile, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse profile %s: %w", path, diags)
	}
	var p Profile
	if diags := gohcl.DecodeBody(file.Body, nil, &p); diags.HasErrors() {
		return nil, fmt.Errorf("decode profile %s: %w", path, diags)
	}
	if p.Scan == nil || p.Scan.Root == "" {
		return nil, fmt.Errorf("profile %s: scan block with a root is required", path)
	}
	return &p, nil
}

// Options converts the scan block to normalized scan options.
func (p *Profile) Options() api.ScanOptions {
	var opts api.ScanOptions
	s := p.Scan
	if s.BatchSize != nil {
		opts.BatchSize = *s.BatchSize
	}
	if s.TimeSliceMs != nil {
		opts.TimeSlice = time.Duration(*s.TimeSliceMs) * time.Millisecond
	}
	if s.MaxDepth != nil {
		opts.MaxDepth = *s.MaxDepth
	}
	if s.MaxEntries != nil {
		opts.MaxEntries = *s.MaxEntries
	}
	if s.IncludeMetadata != nil {
		opts.IncludeMetadata = *s.IncludeMetadata
	}
	if s.FollowSymlinks != nil {
		opts.FollowSymlinks = *s.FollowSymlinks
	}
	return opts.Normalize()
}
