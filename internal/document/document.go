// Package document models the host application's document as far as the
// relay needs it: the current selection, node fills, reading the bytes of an
// image fill, and replacing a fill with an image fetched from a URL.
//
// Two implementations exist. Memory is a plain in-process document; Dir maps
// image files on disk to nodes so the CLI can act on real files.
package document

import (
	"context"
	"errors"
)

// PaintType is the kind of a fill.
type PaintType string

const (
	PaintImage    PaintType = "IMAGE"
	PaintSolid    PaintType = "SOLID"
	PaintGradient PaintType = "GRADIENT_LINEAR"
)

// ScaleMode controls how an image fill is fitted to its node.
type ScaleMode string

const (
	ScaleFill ScaleMode = "FILL"
	ScaleFit  ScaleMode = "FIT"
)

// Paint is one fill layer of a node.
type Paint struct {
	Type      PaintType
	ImageHash string
	ScaleMode ScaleMode
}

// Node is a selectable document node.
type Node struct {
	ID    string
	Name  string
	Fills []Paint
}

// FirstFillIsImage reports whether the top fill of n is an image.
func (n Node) FirstFillIsImage() bool {
	return len(n.Fills) > 0 && n.Fills[0].Type == PaintImage && n.Fills[0].ImageHash != ""
}

// Image is an image registered with the document.
type Image struct {
	Hash   string
	Format string
}

var (
	ErrNodeNotFound  = errors.New("document: node not found")
	ErrImageNotFound = errors.New("document: image not found")
	ErrNotAnImage    = errors.New("document: data is not a decodable image")
)

// Document is the host-side document API. Implementations must be safe for
// use from a single event loop; they need not be safe for concurrent use.
type Document interface {
	// Selection returns the currently selected nodes in selection order.
	Selection(ctx context.Context) ([]Node, error)
	// ImageBytes returns the encoded bytes of a registered image.
	ImageBytes(ctx context.Context, hash string) ([]byte, error)
	// CreateImageFromURL fetches url and registers the result as an image.
	CreateImageFromURL(ctx context.Context, url string) (Image, error)
	// SetFills replaces the fills of node id.
	SetFills(ctx context.Context, id string, fills []Paint) error
}
