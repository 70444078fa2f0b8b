package document

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// Dir is a document backed by a directory: every regular top-level file is
// a node named after the file. Files that decode as images get an image
// fill; anything else gets a solid fill. Replacing a node's fill writes the
// new image into the output directory.
type Dir struct {
	*Memory
	root   string
	outDir string
	paths  map[string]string // node id -> current file path
}

var _ Document = (*Dir)(nil)

// OpenDir scans root. Results are written to outDir, which defaults to root
// (overwriting the source when the format is unchanged).
func OpenDir(root, outDir string, f Fetcher) (*Dir, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("directory not found: %s", root)
		}
		return nil, fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", root)
	}
	if outDir == "" {
		outDir = root
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	d := &Dir{Memory: NewMemory(f), root: root, outDir: outDir, paths: make(map[string]string)}
	images := 0
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(root, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to read file, skipping")
			continue
		}

		node := Node{ID: e.Name(), Name: e.Name()}
		if _, _, err := Sniff(data); err == nil {
			node.Fills = []Paint{{Type: PaintImage, ImageHash: d.AddImage(data), ScaleMode: ScaleFill}}
			images++
		} else {
			node.Fills = []Paint{{Type: PaintSolid}}
		}
		d.AddNode(node)
		d.paths[node.ID] = path
	}

	log.Info().
		Str("path", root).
		Int("nodes", len(d.paths)).
		Int("images", images).
		Msg("Document opened")
	return d, nil
}

// IDs returns all node ids, sorted.
func (d *Dir) IDs() []string {
	ids := make([]string, 0, len(d.paths))
	for id := range d.paths {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Path returns the file currently backing node id.
func (d *Dir) Path(id string) (string, bool) {
	p, ok := d.paths[id]
	return p, ok
}

// SetFills replaces the node's fills. When the new top fill is an image it
// is written first, as <outDir>/<base><ext> unless another node owns that
// name, in which case the node's own file name is reused. The fills change
// only after the write succeeds.
func (d *Dir) SetFills(ctx context.Context, id string, fills []Paint) error {
	if _, ok := d.paths[id]; !ok || len(fills) == 0 || fills[0].Type != PaintImage {
		return d.Memory.SetFills(ctx, id, fills)
	}

	data, err := d.ImageBytes(ctx, fills[0].ImageHash)
	if err != nil {
		return fmt.Errorf("set fills %s: %w", id, err)
	}
	format, _, err := Sniff(data)
	if err != nil {
		return fmt.Errorf("set fills %s: %w", id, err)
	}

	out := d.outputPath(id, Extension(format))
	if err := os.MkdirAll(d.outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	if err := d.Memory.SetFills(ctx, id, fills); err != nil {
		return err
	}
	d.paths[id] = out

	log.Info().Str("node", id).Str("path", out).Int("bytes", len(data)).Msg("Image fill written")
	return nil
}

// outputPath picks where node id's result goes. A name that belongs to a
// different node, by id or by a file written earlier, is never reused.
func (d *Dir) outputPath(id, ext string) string {
	name := strings.TrimSuffix(id, filepath.Ext(id)) + ext
	path := filepath.Join(d.outDir, name)
	if name == id {
		return path
	}
	for other, p := range d.paths {
		if other == id {
			continue
		}
		if other == name || p == path || filepath.Join(d.outDir, other) == path {
			return filepath.Join(d.outDir, id)
		}
	}
	return path
}
