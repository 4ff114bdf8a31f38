// Package pdftest provides an in-memory domain.Document for tests.
package pdftest

import (
	"fmt"
	"sync"

	"github.com/spherical/roster-ingest/internal/domain"
)

// Page is the content of one in-memory page.
type Page struct {
	Images []domain.ImageRef
	Tables [][][]string

	ImagesErr error
	TablesErr error
}

// Document is an in-memory document. Objects failing in Broken return an
// ImageDecode error from ImageObject.
type Document struct {
	Pages   []Page
	Objects map[int]*domain.ImageObject
	Broken  map[int]bool

	mu      sync.Mutex
	fetches map[int]int
	closed  bool
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int {
	return len(d.Pages)
}

// PageImages returns the images of a page.
func (d *Document) PageImages(page int) ([]domain.ImageRef, error) {
	if page < 0 || page >= len(d.Pages) {
		return nil, fmt.Errorf("page %d out of range", page)
	}
	p := d.Pages[page]
	return p.Images, p.ImagesErr
}

// ImageObject returns the object registered for ref.
func (d *Document) ImageObject(ref int) (*domain.ImageObject, error) {
	d.mu.Lock()
	if d.fetches == nil {
		d.fetches = make(map[int]int)
	}
	d.fetches[ref]++
	d.mu.Unlock()

	if d.Broken[ref] {
		return nil, domain.ImageDecodeError(fmt.Sprintf("object %d is corrupt", ref), nil)
	}
	obj, ok := d.Objects[ref]
	if !ok {
		return nil, domain.ImageDecodeError(fmt.Sprintf("object %d not found", ref), nil)
	}
	return obj, nil
}

// PageTables returns the grids of a page.
func (d *Document) PageTables(page int) ([][][]string, error) {
	if page < 0 || page >= len(d.Pages) {
		return nil, fmt.Errorf("page %d out of range", page)
	}
	p := d.Pages[page]
	return p.Tables, p.TablesErr
}

// Close marks the document closed.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Closed reports whether Close was called.
func (d *Document) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Fetches returns how many times ImageObject was called for ref.
func (d *Document) Fetches(ref int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fetches[ref]
}

// Opener serves in-memory documents by path. Each Open call builds a fresh
// handle from the registered factory.
type Opener struct {
	Docs map[string]func() *Document

	mu     sync.Mutex
	opened []*Document
}

// Open returns a new handle for path.
func (o *Opener) Open(path string) (domain.Document, error) {
	build, ok := o.Docs[path]
	if !ok {
		return nil, domain.DocumentUnreadableError(fmt.Sprintf("cannot open %s", path), nil)
	}
	doc := build()
	o.mu.Lock()
	o.opened = append(o.opened, doc)
	o.mu.Unlock()
	return doc, nil
}

// Opened returns every handle handed out so far.
func (o *Opener) Opened() []*Document {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Document(nil), o.opened...)
}

// GrayImage builds a flat 8-bit gray image object filled with value v.
func GrayImage(ref, w, h int, v byte) *domain.ImageObject {
	data := make([]byte, w*h)
	for i := range data {
		data[i] = v
	}
	return &domain.ImageObject{
		Ref: ref, Width: w, Height: h,
		BitsPerComponent: 8, Components: 1,
		ColorSpace: "DeviceGray",
		Data:       data,
	}
}

// RGBImage builds a flat 8-bit RGB image object that declares /DeviceRGB.
func RGBImage(ref, w, h int, r, g, b byte) *domain.ImageObject {
	data := make([]byte, 0, w*h*3)
	for i := 0; i < w*h; i++ {
		data = append(data, r, g, b)
	}
	return &domain.ImageObject{
		Ref: ref, Width: w, Height: h,
		BitsPerComponent: 8, Components: 3,
		ColorSpace: "DeviceRGB", HasColorSpace: true,
		Data: data,
	}
}
