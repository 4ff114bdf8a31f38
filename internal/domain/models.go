package domain

import "fmt"

// ImageExtension is the encoding an extracted image asset was written with
type ImageExtension string

const (
	ExtPNG  ImageExtension = "png"  // standard lossless raster
	ExtPAM  ImageExtension = "pam"  // packed multi-channel pixmap
	ExtJPEG ImageExtension = "jpeg" // native DCT stream, written as delivered
	ExtJPX  ImageExtension = "jpx"  // native JPEG 2000 stream, written as delivered
)

// RecoveryPath records how the pixel data of an image was obtained
type RecoveryPath string

const (
	// RecoveryComposite means the base pixels were recombined with their soft mask.
	RecoveryComposite RecoveryPath = "composite"
	// RecoveryFallback means recombination failed and the raw base pixels were used.
	RecoveryFallback RecoveryPath = "fallback"
	// RecoveryColorSpace means the image was converted to RGB from its declared color space.
	RecoveryColorSpace RecoveryPath = "colorspace"
	// RecoveryPassthrough means the encoded representation was used as delivered.
	RecoveryPassthrough RecoveryPath = "passthrough"
)

// ImageAsset is one distinct embedded image written to the scratch area
type ImageAsset struct {
	Ref      int            // document-internal reference id
	Page     int            // 0-based page of first occurrence
	Ext      ImageExtension
	Path     string // scratch file path
	Recovery RecoveryPath
	Width    int
	Height   int
}

// FileName returns the deterministic scratch name for the asset.
func (a ImageAsset) FileName() string {
	return ImageFileName(a.Ref, a.Ext)
}

// ImageFileName builds the scratch name for a reference id and extension.
func ImageFileName(ref int, ext ImageExtension) string {
	return fmt.Sprintf("img_%d.%s", ref, ext)
}

// RosterRow is one positional row of the distribution list table
type RosterRow struct {
	Seq       string // Sl
	PersonID  string // PS ID
	RollNo    string
	Batch     string
	Name      string // Name of Student
	Photo     string // photo placeholder cell
	CourseID  string
	HomeClass string // HO Class

	Page int // 0-based page the row was recovered from
}

// StudentRecord is the unit persisted to storage
type StudentRecord struct {
	PersonID  string `json:"ps_id"`
	RollNo    string `json:"roll_no"`
	Batch     string `json:"batch"`
	Name      string `json:"name"`
	PhotoPath string `json:"photo"`
	CourseID  string `json:"course_id"`
	HomeClass string `json:"ho_class"`
}

// StoredRecord is a StudentRecord read back with its surrogate id
type StoredRecord struct {
	ID int64 `json:"id"`
	StudentRecord
}

// Issue is a recoverable problem absorbed while processing a document
type Issue struct {
	Kind     ErrorType
	Ref      int    // image reference id, 0 when not image related
	PersonID string // roster person id, empty when not record related
	Err      error
}

func (i Issue) String() string {
	switch {
	case i.Ref != 0 && i.PersonID != "":
		return fmt.Sprintf("%s (ref %d, %s): %v", i.Kind, i.Ref, i.PersonID, i.Err)
	case i.Ref != 0:
		return fmt.Sprintf("%s (ref %d): %v", i.Kind, i.Ref, i.Err)
	case i.PersonID != "":
		return fmt.Sprintf("%s (%s): %v", i.Kind, i.PersonID, i.Err)
	default:
		return fmt.Sprintf("%s: %v", i.Kind, i.Err)
	}
}

// NewIssue builds an Issue from a domain error, falling back to kind when err
// is not a DomainError.
func NewIssue(kind ErrorType, ref int, personID string, err error) Issue {
	if t := TypeOf(err); t != "" {
		kind = t
	}
	return Issue{Kind: kind, Ref: ref, PersonID: personID, Err: err}
}
