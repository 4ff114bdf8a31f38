// Package pdf opens distribution list documents and exposes their image graph
// and grid tables through the domain.Document interface.
package pdf

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tsawler/tabula/core"
	"github.com/tsawler/tabula/graphicsstate"
	"github.com/tsawler/tabula/model"
	"github.com/tsawler/tabula/reader"
	"github.com/tsawler/tabula/tables"

	"github.com/spherical/roster-ingest/internal/domain"
)

// errLab is returned for CIE L*a*b* images, whose samples are not RGB.
var errLab = errors.New("unsupported color space Lab")

// TableOptions tunes the geometric table detector.
type TableOptions struct {
	MinRows       int
	MinCols       int
	MinConfidence float64
	UseLines      bool
}

// Opener opens documents with the tabula reader.
type Opener struct {
	tables TableOptions
}

// NewOpener creates an opener whose documents detect tables with opts.
func NewOpener(opts TableOptions) *Opener {
	return &Opener{tables: opts}
}

// Open opens the document at path. Every call returns an independent handle.
func (o *Opener) Open(path string) (domain.Document, error) {
	r, err := reader.Open(path)
	if err != nil {
		return nil, domain.DocumentUnreadableError(fmt.Sprintf("cannot open %s", path), err)
	}

	count, err := r.PageCount()
	if err != nil {
		r.Close()
		return nil, domain.DocumentUnreadableError(fmt.Sprintf("cannot read page tree of %s", path), err)
	}

	cfg := tables.DefaultConfig()
	if o.tables.MinRows > 0 {
		cfg.MinRows = o.tables.MinRows
	}
	if o.tables.MinCols > 0 {
		cfg.MinCols = o.tables.MinCols
	}
	if o.tables.MinConfidence > 0 {
		cfg.MinConfidence = o.tables.MinConfidence
	}
	cfg.UseLines = o.tables.UseLines

	detector := tables.NewGeometricDetector()
	if err := detector.Configure(cfg); err != nil {
		r.Close()
		return nil, domain.ConfigError("configure table detector", err)
	}

	return &Document{r: r, pages: count, detector: detector}, nil
}

// Document is an open tabula-backed document.
type Document struct {
	r        *reader.Reader
	pages    int
	detector *tables.GeometricDetector
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int {
	return d.pages
}

// Close releases the underlying file.
func (d *Document) Close() error {
	return d.r.Close()
}

// PageImages lists the image XObjects referenced from a page's resources,
// descending into form XObjects. Names are visited in sorted order so the
// listing is stable across runs; images inside a form take the form's place.
func (d *Document) PageImages(page int) ([]domain.ImageRef, error) {
	p, err := d.r.GetPage(page)
	if err != nil {
		return nil, fmt.Errorf("get page %d: %w", page, err)
	}

	resources, err := p.Resources()
	if err != nil || resources == nil {
		return nil, nil
	}

	xobjects, err := d.xobjectDict(resources)
	if err != nil {
		return nil, fmt.Errorf("resolve XObject dictionary on page %d: %w", page, err)
	}

	var refs []domain.ImageRef
	d.collectImages(xobjects, map[int]bool{}, &refs)
	return refs, nil
}

// xobjectDict resolves the /XObject entry of a resources dictionary.
func (d *Document) xobjectDict(resources core.Dict) (core.Dict, error) {
	obj := resources.Get("XObject")
	if obj == nil {
		return nil, nil
	}
	resolved, err := d.r.Resolve(obj)
	if err != nil {
		return nil, err
	}
	xobjects, _ := resolved.(core.Dict)
	return xobjects, nil
}

// collectImages appends the images named in xobjects to refs. Forms already
// entered are skipped, so self-referencing forms terminate.
func (d *Document) collectImages(xobjects core.Dict, forms map[int]bool, refs *[]domain.ImageRef) {
	names := xobjects.Keys()
	sort.Strings(names)

	for _, name := range names {
		// inline dictionaries carry no reference id and cannot be named on disk
		ind, ok := xobjects.Get(name).(core.IndirectRef)
		if !ok {
			continue
		}
		obj, err := d.r.ResolveReference(ind)
		if err != nil {
			continue
		}
		stream, ok := obj.(*core.Stream)
		if !ok {
			continue
		}

		if isForm(stream.Dict) {
			if forms[ind.Number] {
				continue
			}
			forms[ind.Number] = true
			resObj := stream.Dict.Get("Resources")
			if resObj == nil {
				continue
			}
			res, err := d.r.Resolve(resObj)
			if err != nil {
				continue
			}
			resources, ok := res.(core.Dict)
			if !ok {
				continue
			}
			if nested, err := d.xobjectDict(resources); err == nil && nested != nil {
				d.collectImages(nested, forms, refs)
			}
			continue
		}

		if !isImage(stream.Dict) {
			continue
		}
		ref := domain.ImageRef{Ref: ind.Number, Name: name}
		if smask, ok := stream.Dict.GetIndirectRef("SMask"); ok {
			ref.SMask = smask.Number
		}
		*refs = append(*refs, ref)
	}
}

// ImageObject fetches and decodes the image object with the given reference id.
func (d *Document) ImageObject(ref int) (*domain.ImageObject, error) {
	obj, err := d.r.GetObject(ref)
	if err != nil {
		return nil, domain.ImageDecodeError(fmt.Sprintf("load object %d", ref), err)
	}
	stream, ok := obj.(*core.Stream)
	if !ok || !isImage(stream.Dict) {
		return nil, domain.ImageDecodeError(fmt.Sprintf("object %d is not an image", ref), nil)
	}

	dict := stream.Dict
	width, wok := dict.GetInt("Width")
	height, hok := dict.GetInt("Height")
	if !wok || !hok || width <= 0 || height <= 0 {
		return nil, domain.ImageDecodeError(fmt.Sprintf("object %d has no usable dimensions", ref), nil)
	}

	img := &domain.ImageObject{
		Ref:              ref,
		Width:            int(width),
		Height:           int(height),
		BitsPerComponent: 8,
		Filter:           lastFilter(dict),
	}
	if bpc, ok := dict.GetInt("BitsPerComponent"); ok {
		img.BitsPerComponent = int(bpc)
	}
	if mask, ok := dict.GetBool("ImageMask"); ok && bool(mask) {
		img.ImageMask = true
		img.BitsPerComponent = 1
		img.Components = 1
	}

	if csObj := dict.Get("ColorSpace"); csObj != nil {
		img.HasColorSpace = true
		if err := d.describeColorSpace(img, csObj); err != nil {
			return nil, domain.ImageDecodeError(fmt.Sprintf("object %d color space", ref), err)
		}
	} else if img.Components == 0 && img.Filter != "JPXDecode" {
		img.ColorSpace = "DeviceGray"
		img.Components = 1
	}

	data, err := stream.Decode()
	if err != nil {
		return nil, domain.ImageDecodeError(fmt.Sprintf("decode object %d", ref), err)
	}
	img.Data = data

	return img, nil
}

// describeColorSpace fills the color space family, component count and
// palette of img from a /ColorSpace value.
func (d *Document) describeColorSpace(img *domain.ImageObject, obj core.Object) error {
	resolved, err := d.r.Resolve(obj)
	if err != nil {
		return err
	}

	switch v := resolved.(type) {
	case core.Name:
		if v == "Lab" {
			return errLab
		}
		img.ColorSpace = string(v)
		img.Components = familyComponents(string(v))
		return nil

	case core.Array:
		if len(v) == 0 {
			return fmt.Errorf("empty color space array")
		}
		family, ok := v[0].(core.Name)
		if !ok {
			return fmt.Errorf("color space family is %T", v[0])
		}
		if family == "Lab" {
			return errLab
		}
		img.ColorSpace = string(family)

		switch family {
		case "ICCBased":
			img.Components = 3
			if len(v) > 1 {
				if profile, err := d.r.Resolve(v[1]); err == nil {
					if s, ok := profile.(*core.Stream); ok {
						if n, ok := s.Dict.GetInt("N"); ok {
							img.Components = int(n)
						}
					}
				}
			}
		case "Indexed", "I":
			if len(v) < 4 {
				return fmt.Errorf("indexed color space needs 4 entries, got %d", len(v))
			}
			base := &domain.ImageObject{}
			if err := d.describeColorSpace(base, v[1]); err != nil {
				return fmt.Errorf("indexed base: %w", err)
			}
			palette, err := d.lookupTable(v[3])
			if err != nil {
				return fmt.Errorf("indexed lookup: %w", err)
			}
			img.Components = 1
			img.Palette = palette
			img.PaletteComponents = base.Components
		case "DeviceN":
			img.Components = 1
			if len(v) > 1 {
				if names, err := d.r.Resolve(v[1]); err == nil {
					if arr, ok := names.(core.Array); ok {
						img.Components = len(arr)
					}
				}
			}
		default:
			img.Components = familyComponents(string(family))
		}
		return nil
	}

	return fmt.Errorf("unsupported color space object %T", resolved)
}

func (d *Document) lookupTable(obj core.Object) ([]byte, error) {
	resolved, err := d.r.Resolve(obj)
	if err != nil {
		return nil, err
	}
	switch v := resolved.(type) {
	case core.String:
		return []byte(v), nil
	case *core.Stream:
		return v.Decode()
	}
	return nil, fmt.Errorf("unsupported lookup object %T", resolved)
}

// PageTables runs the geometric detector over the page's text fragments and
// ruling lines. Grids are returned top to bottom, then left to right.
func (d *Document) PageTables(page int) ([][][]string, error) {
	p, err := d.r.GetPage(page)
	if err != nil {
		return nil, fmt.Errorf("get page %d: %w", page, err)
	}

	width, _ := p.Width()
	height, _ := p.Height()

	fragments, err := d.r.ExtractTextFragments(p)
	if err != nil {
		return nil, fmt.Errorf("extract text on page %d: %w", page, err)
	}

	modelPage := model.NewPage(width, height)
	modelPage.Number = page + 1
	for _, f := range fragments {
		modelPage.RawText = append(modelPage.RawText, model.TextFragment{
			Text:     f.Text,
			BBox:     model.BBox{X: f.X, Y: f.Y, Width: f.Width, Height: f.Height},
			FontSize: f.FontSize,
			FontName: f.FontName,
		})
	}
	modelPage.RawLines = d.rulingLines(p.Contents)

	detected, err := d.detector.Detect(modelPage)
	if err != nil {
		return nil, fmt.Errorf("detect tables on page %d: %w", page, err)
	}

	// PDF space grows upwards, so a higher top edge comes first.
	sort.SliceStable(detected, func(i, j int) bool {
		ti := detected[i].BBox.Y + detected[i].BBox.Height
		tj := detected[j].BBox.Y + detected[j].BBox.Height
		if ti != tj {
			return ti > tj
		}
		return detected[i].BBox.X < detected[j].BBox.X
	})

	grids := make([][][]string, 0, len(detected))
	for _, t := range detected {
		grid := make([][]string, len(t.Rows))
		for i, row := range t.Rows {
			cells := make([]string, len(row))
			for j, c := range row {
				cells[j] = c.Text
			}
			grid[i] = cells
		}
		grids = append(grids, grid)
	}

	return grids, nil
}

// rulingLines collects stroked lines and rectangles from the page content.
// Pages whose graphics cannot be parsed yield no lines.
func (d *Document) rulingLines(contents func() ([]core.Object, error)) []model.Line {
	objs, err := contents()
	if err != nil {
		return nil
	}

	var data []byte
	for _, obj := range objs {
		stream, ok := obj.(*core.Stream)
		if !ok {
			continue
		}
		decoded, err := stream.Decode()
		if err != nil {
			continue
		}
		data = append(data, decoded...)
		data = append(data, '\n')
	}
	if len(data) == 0 {
		return nil
	}

	ge := graphicsstate.NewGraphicsExtractor()
	if err := ge.ExtractFromBytes(data); err != nil {
		return nil
	}
	return append(ge.ToModelLines(), ge.ToModelRectangles()...)
}

func isImage(dict core.Dict) bool {
	subtype, ok := dict.GetName("Subtype")
	return ok && subtype == "Image"
}

func isForm(dict core.Dict) bool {
	subtype, ok := dict.GetName("Subtype")
	return ok && subtype == "Form"
}

func lastFilter(dict core.Dict) string {
	switch f := dict.Get("Filter").(type) {
	case core.Name:
		return string(f)
	case core.Array:
		if len(f) > 0 {
			if name, ok := f[len(f)-1].(core.Name); ok {
				return string(name)
			}
		}
	}
	return ""
}

func familyComponents(family string) int {
	switch family {
	case "DeviceRGB", "RGB", "CalRGB":
		return 3
	case "DeviceCMYK", "CMYK":
		return 4
	default:
		return 1
	}
}
