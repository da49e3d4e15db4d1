package transfer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cocofetch/cocofetch/internal/utils"
	"gopkg.in/yaml.v3"
)

// Segment is one contiguous byte range of a resource, fetched independently.
// Start and End are inclusive.
type Segment struct {
	Index int   `yaml:"index"`
	Start int64 `yaml:"start"`
	End   int64 `yaml:"end"`
}

func (s Segment) Length() int64 {
	return s.End - s.Start + 1
}

// Plan is the byte-range partition for one resource. It is persisted in the
// workspace beside the partial files so a later run can tell whether the
// partials on disk belong to the same partition before resuming from them.
type Plan struct {
	TotalSize int64     `yaml:"size"`
	Workers   int       `yaml:"workers"`
	Segments  []Segment `yaml:"ranges"`
}

// BuildPlan partitions [0, totalSize-1] into workers contiguous ranges by
// integer division; the division remainder goes entirely to the last range.
// When totalSize < workers, the worker count is clamped so no range is empty.
func BuildPlan(totalSize int64, workers int) (*Plan, error) {
	if workers < 1 {
		return nil, fmt.Errorf("invalid worker count: %d", workers)
	}
	if totalSize <= 0 {
		return nil, fmt.Errorf("invalid total size: %d", totalSize)
	}
	if totalSize < int64(workers) {
		workers = int(totalSize)
	}
	segmentSize := totalSize / int64(workers)
	plan := &Plan{TotalSize: totalSize, Workers: workers}
	for i := range workers {
		start := int64(i) * segmentSize
		end := start + segmentSize - 1
		if i == workers-1 {
			end = totalSize - 1
		}
		plan.Segments = append(plan.Segments, Segment{Index: i, Start: start, End: end})
	}
	return plan, nil
}

// Matches reports whether two plans describe the identical partition.
func (p *Plan) Matches(other *Plan) bool {
	if other == nil || p.TotalSize != other.TotalSize || p.Workers != other.Workers {
		return false
	}
	if len(p.Segments) != len(other.Segments) {
		return false
	}
	for i, seg := range p.Segments {
		if seg != other.Segments[i] {
			return false
		}
	}
	return true
}

// PartPath is the partial-file path for one segment of outputPath.
func PartPath(outputPath string, index int) string {
	return filepath.Join(utils.WorkspaceDir(outputPath), fmt.Sprintf("%s.part%d", filepath.Base(outputPath), index))
}

// PlanPath is the persisted plan-file path for outputPath.
func PlanPath(outputPath string) string {
	return filepath.Join(utils.WorkspaceDir(outputPath), filepath.Base(outputPath)+".plan.yaml")
}

func SavePlan(outputPath string, plan *Plan) error {
	data, err := yaml.Marshal(plan)
	if err != nil {
		return fmt.Errorf("error encoding plan: %v", err)
	}
	return os.WriteFile(PlanPath(outputPath), data, 0644)
}

// LoadPlan reads a previously persisted plan. A missing plan file returns
// (nil, nil).
func LoadPlan(outputPath string) (*Plan, error) {
	data, err := os.ReadFile(PlanPath(outputPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("error decoding plan: %v", err)
	}
	return &plan, nil
}
