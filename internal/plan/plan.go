// Package plan reads YAML manifests describing a multi-image flash
// job: which files go to which offsets, with optional MD5 digests for
// post-write verification.
package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Plan is a set of images flashed in one session.
//
//	images:
//	  - file: bootloader.bin
//	    offset: 0x1000
//	    md5: 4035b2317251ecb51894a02802c1912d
//	  - file: app.bin
//	    offset: 0x10000
type Plan struct {
	Images []Image `yaml:"images"`
}

// Image is one file to write.
type Image struct {
	File   string `yaml:"file"`
	Offset Offset `yaml:"offset"`
	MD5    string `yaml:"md5"`
}

// Offset is a flash address, accepted as a decimal or 0x-prefixed
// YAML scalar.
type Offset uint32

func (o *Offset) UnmarshalYAML(node *yaml.Node) error {
	v, err := strconv.ParseUint(strings.TrimSpace(node.Value), 0, 32)
	if err != nil {
		return fmt.Errorf("invalid flash offset %q: %w", node.Value, err)
	}
	*o = Offset(v)
	return nil
}

// Load reads and validates a plan file. Relative image paths are
// resolved against the plan's own directory.
func Load(path string) (*Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}

	var p Plan
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if len(p.Images) == 0 {
		return nil, fmt.Errorf("plan %s lists no images", path)
	}

	dir := filepath.Dir(path)
	for i := range p.Images {
		img := &p.Images[i]
		if img.File == "" {
			return nil, fmt.Errorf("plan image %d has no file", i)
		}
		if !filepath.IsAbs(img.File) {
			img.File = filepath.Join(dir, img.File)
		}
		if img.MD5 != "" && len(img.MD5) != 32 {
			return nil, fmt.Errorf("plan image %s: md5 must be 32 hex chars", img.File)
		}
	}

	return &p, nil
}
