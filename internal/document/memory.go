package document

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
)

// Memory is an in-process document.
type Memory struct {
	mu        sync.Mutex
	nodes     map[string]*Node
	order     []string
	images    map[string][]byte
	selection []string
	fetcher   Fetcher
}

var _ Document = (*Memory)(nil)

// NewMemory creates an empty document that fetches URL images with f.
func NewMemory(f Fetcher) *Memory {
	return &Memory{
		nodes:   make(map[string]*Node),
		images:  make(map[string][]byte),
		fetcher: f,
	}
}

// AddImage registers raw image bytes and returns their hash. The bytes are
// not validated.
func (m *Memory) AddImage(data []byte) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := Hash(data)
	m.images[h] = bytes.Clone(data)
	return h
}

// AddNode inserts or replaces a node.
func (m *Memory) AddNode(n Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[n.ID]; !ok {
		m.order = append(m.order, n.ID)
	}
	n.Fills = slices.Clone(n.Fills)
	m.nodes[n.ID] = &n
}

// Select sets the current selection.
func (m *Memory) Select(ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if _, ok := m.nodes[id]; !ok {
			return fmt.Errorf("select %s: %w", id, ErrNodeNotFound)
		}
	}
	m.selection = slices.Clone(ids)
	return nil
}

// Node returns a copy of node id.
func (m *Memory) Node(id string) (Node, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return Node{}, false
	}
	cp := *n
	cp.Fills = slices.Clone(n.Fills)
	return cp, true
}

func (m *Memory) Selection(context.Context) ([]Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Node, 0, len(m.selection))
	for _, id := range m.selection {
		n := *m.nodes[id]
		n.Fills = slices.Clone(n.Fills)
		out = append(out, n)
	}
	return out, nil
}

func (m *Memory) ImageBytes(_ context.Context, hash string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.images[hash]
	if !ok {
		return nil, ErrImageNotFound
	}
	return bytes.Clone(data), nil
}

func (m *Memory) CreateImageFromURL(ctx context.Context, url string) (Image, error) {
	data, err := m.fetcher.Fetch(ctx, url)
	if err != nil {
		return Image{}, err
	}
	format, _, err := Sniff(data)
	if err != nil {
		return Image{}, err
	}
	return Image{Hash: m.AddImage(data), Format: format}, nil
}

func (m *Memory) SetFills(_ context.Context, id string, fills []Paint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return fmt.Errorf("set fills %s: %w", id, ErrNodeNotFound)
	}
	n.Fills = slices.Clone(fills)
	return nil
}
