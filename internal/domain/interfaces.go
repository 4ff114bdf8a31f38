package domain

// ImageRef is one image XObject use on a page
type ImageRef struct {
	Ref   int    // reference id of the image object
	SMask int    // reference id of its soft mask, 0 when absent
	Name  string // resource name on the page, e.g. "Im1"
}

// ImageObject is the raw description of an image object as delivered by the
// document collaborator
type ImageObject struct {
	Ref              int
	Width            int
	Height           int
	BitsPerComponent int
	Components       int    // color components per pixel (1, 3 or 4)
	ColorSpace       string // family name: DeviceGray, DeviceRGB, DeviceCMYK, ICCBased, Indexed, ...
	HasColorSpace    bool   // the object declares /ColorSpace
	ImageMask        bool   // stencil mask (/ImageMask true)
	Filter           string // last-applied encoding filter, e.g. DCTDecode
	Data             []byte // decoded samples, or the native stream for DCT/JPX

	// Indexed color spaces only
	Palette           []byte
	PaletteComponents int
}

// ImageSource exposes the embedded image graph of a document
type ImageSource interface {
	PageCount() int
	// PageImages lists the image references used by a page, in resource order
	PageImages(page int) ([]ImageRef, error)
	// ImageObject fetches an image object by reference id
	ImageObject(ref int) (*ImageObject, error)
}

// TableSource exposes grid tables recovered from document pages
type TableSource interface {
	PageCount() int
	// PageTables returns the grids of a page in reading order, each grid as rows of raw cell text
	PageTables(page int) ([][][]string, error)
}

// Document is an opened source document
type Document interface {
	ImageSource
	TableSource
	Close() error
}

// Opener opens source documents by path
type Opener interface {
	Open(path string) (Document, error)
}
