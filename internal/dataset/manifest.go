// Package dataset sequences the acquisition of a catalog of named archive
// resources: segmented download, verification, extraction, cleanup.
package dataset

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ResourceSpec is one named archive in a manifest. Paths (archive, marker,
// extract-to) are relative to the flow's base directory. Size and MD5 are
// optional reference values for post-merge verification; the MD5 is a
// 4-chunk tree hash, not a plain file hash.
type ResourceSpec struct {
	Name      string `yaml:"name"`
	URL       string `yaml:"url"`
	Archive   string `yaml:"archive"`
	Marker    string `yaml:"marker"`
	Size      int64  `yaml:"size,omitempty"`
	MD5       string `yaml:"md5,omitempty"`
	ExtractTo string `yaml:"extract-to,omitempty"`
}

type Manifest struct {
	Resources []ResourceSpec `yaml:"resources"`
}

func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading manifest: %v", err)
	}
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("error parsing manifest: %v", err)
	}
	if err := manifest.validate(); err != nil {
		return nil, err
	}
	return &manifest, nil
}

func (m *Manifest) validate() error {
	seen := make(map[string]bool)
	for _, res := range m.Resources {
		if res.Name == "" || res.URL == "" || res.Archive == "" {
			return fmt.Errorf("manifest resource needs name, url and archive: %+v", res)
		}
		if seen[res.Name] {
			return fmt.Errorf("duplicate resource name: %s", res.Name)
		}
		seen[res.Name] = true
	}
	return nil
}

// DefaultManifest is the COCO 2017 catalog: annotations first (small, other
// resources are useless without them), then the image archives.
func DefaultManifest() *Manifest {
	return &Manifest{
		Resources: []ResourceSpec{
			{
				Name:    "annotations",
				URL:     "http://images.cocodataset.org/annotations/annotations_trainval2017.zip",
				Archive: "annotations_trainval2017.zip",
				Marker:  "annotations/instances_val2017.json",
				Size:    241000000,
				MD5:     "113a836d90195ee1f884e704da6304df",
			},
			{
				Name:    "train2017",
				URL:     "http://images.cocodataset.org/zips/train2017.zip",
				Archive: "train2017.zip",
				Marker:  "train2017",
				Size:    18000000000,
				MD5:     "cced6f7f71b7629d05e9705b32467183",
			},
			{
				Name:    "val2017",
				URL:     "http://images.cocodataset.org/zips/val2017.zip",
				Archive: "val2017.zip",
				Marker:  "val2017",
				Size:    815000000,
				MD5:     "442b8da7639aecaf257c1dceb8ba8c80",
			},
		},
	}
}

// Filter keeps only the named resources, in manifest order.
func (m *Manifest) Filter(names []string) (*Manifest, error) {
	if len(names) == 0 {
		return m, nil
	}
	wanted := make(map[string]bool)
	for _, name := range names {
		wanted[name] = true
	}
	filtered := &Manifest{}
	for _, res := range m.Resources {
		if wanted[res.Name] {
			filtered.Resources = append(filtered.Resources, res)
			delete(wanted, res.Name)
		}
	}
	for name := range wanted {
		return nil, fmt.Errorf("unknown resource name: %s", name)
	}
	return filtered, nil
}
