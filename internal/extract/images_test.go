package extract

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/roster-ingest/internal/domain"
	"github.com/spherical/roster-ingest/internal/pdf/pdftest"
	"github.com/spherical/roster-ingest/internal/scratch"
)

func newNamespace(t *testing.T) *scratch.Namespace {
	t.Helper()
	arena, err := scratch.NewArena(t.TempDir(), "test-run")
	require.NoError(t, err)
	ns, err := arena.Namespace(0, "list.pdf")
	require.NoError(t, err)
	return ns
}

func decodePNGFile(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	return img
}

func TestImageExtractor_FirstOccurrenceWins(t *testing.T) {
	doc := &pdftest.Document{
		Pages: []pdftest.Page{
			{Images: []domain.ImageRef{{Ref: 3}, {Ref: 6}}},
			{Images: []domain.ImageRef{{Ref: 3}, {Ref: 9}}},
			{Images: []domain.ImageRef{{Ref: 6}}},
		},
		Objects: map[int]*domain.ImageObject{
			3: pdftest.GrayImage(3, 4, 4, 0x10),
			6: pdftest.GrayImage(6, 4, 4, 0x20),
			9: pdftest.GrayImage(9, 4, 4, 0x30),
		},
	}

	assets, issues := NewImageExtractor(nil).Extract(doc, newNamespace(t))
	require.Empty(t, issues)
	require.Len(t, assets, 3)

	var refs []int
	for _, a := range assets {
		refs = append(refs, a.Ref)
	}
	assert.Equal(t, []int{3, 6, 9}, refs)
	assert.Equal(t, 0, assets[0].Page)
	assert.Equal(t, 1, assets[2].Page)

	for _, ref := range []int{3, 6, 9} {
		assert.Equal(t, 1, doc.Fetches(ref), "ref %d fetched more than once", ref)
	}
	assert.FileExists(t, assets[1].Path)
	assert.True(t, strings.HasSuffix(assets[1].Path, "img_6.png"))
}

func TestImageExtractor_ColorSpaceConvertsToRGB(t *testing.T) {
	doc := &pdftest.Document{
		Pages:   []pdftest.Page{{Images: []domain.ImageRef{{Ref: 12}}}},
		Objects: map[int]*domain.ImageObject{12: pdftest.RGBImage(12, 3, 2, 200, 100, 50)},
	}

	assets, issues := NewImageExtractor(nil).Extract(doc, newNamespace(t))
	require.Empty(t, issues)
	require.Len(t, assets, 1)

	a := assets[0]
	assert.Equal(t, domain.ExtPNG, a.Ext)
	assert.Equal(t, domain.RecoveryColorSpace, a.Recovery)

	img := decodePNGFile(t, a.Path)
	assert.Equal(t, image.Rect(0, 0, 3, 2), img.Bounds())
	r, g, b, _ := img.At(1, 1).RGBA()
	assert.Equal(t, []uint32{200, 100, 50}, []uint32{r >> 8, g >> 8, b >> 8})
}

func TestImageExtractor_CMYKColorSpace(t *testing.T) {
	obj := &domain.ImageObject{
		Ref: 4, Width: 1, Height: 1, BitsPerComponent: 8, Components: 4,
		ColorSpace: "DeviceCMYK", HasColorSpace: true,
		Data: []byte{0, 0, 0, 0},
	}
	doc := &pdftest.Document{
		Pages:   []pdftest.Page{{Images: []domain.ImageRef{{Ref: 4}}}},
		Objects: map[int]*domain.ImageObject{4: obj},
	}

	assets, issues := NewImageExtractor(nil).Extract(doc, newNamespace(t))
	require.Empty(t, issues)
	require.Len(t, assets, 1)
	assert.Equal(t, domain.ExtPNG, assets[0].Ext)

	r, g, b, _ := decodePNGFile(t, assets[0].Path).At(0, 0).RGBA()
	assert.Equal(t, []uint32{255, 255, 255}, []uint32{r >> 8, g >> 8, b >> 8})
}

func TestImageExtractor_PassthroughJPEG(t *testing.T) {
	var buf bytes.Buffer
	src := image.NewGray(image.Rect(0, 0, 8, 8))
	require.NoError(t, jpeg.Encode(&buf, src, nil))

	obj := &domain.ImageObject{
		Ref: 7, Width: 8, Height: 8, BitsPerComponent: 8, Components: 1,
		Filter: "DCTDecode", Data: buf.Bytes(),
	}
	doc := &pdftest.Document{
		Pages:   []pdftest.Page{{Images: []domain.ImageRef{{Ref: 7}}}},
		Objects: map[int]*domain.ImageObject{7: obj},
	}

	assets, issues := NewImageExtractor(nil).Extract(doc, newNamespace(t))
	require.Empty(t, issues)
	require.Len(t, assets, 1)
	assert.Equal(t, domain.ExtJPEG, assets[0].Ext)
	assert.Equal(t, domain.RecoveryPassthrough, assets[0].Recovery)

	written, err := os.ReadFile(assets[0].Path)
	require.NoError(t, err)
	assert.Equal(t, buf.Bytes(), written, "native stream must be written as delivered")
}

func TestImageExtractor_SoftMaskComposite(t *testing.T) {
	base := pdftest.RGBImage(20, 2, 2, 10, 20, 30)
	mask := pdftest.GrayImage(21, 2, 2, 128)
	doc := &pdftest.Document{
		Pages:   []pdftest.Page{{Images: []domain.ImageRef{{Ref: 20, SMask: 21}}}},
		Objects: map[int]*domain.ImageObject{20: base, 21: mask},
	}

	assets, issues := NewImageExtractor(nil).Extract(doc, newNamespace(t))
	require.Empty(t, issues)
	require.Len(t, assets, 1)
	assert.Equal(t, domain.RecoveryComposite, assets[0].Recovery)
	assert.Equal(t, domain.ExtPNG, assets[0].Ext)

	px := color.NRGBAModel.Convert(decodePNGFile(t, assets[0].Path).At(0, 0)).(color.NRGBA)
	assert.Equal(t, color.NRGBA{R: 10, G: 20, B: 30, A: 128}, px)
}

func TestImageExtractor_SoftMaskFallback(t *testing.T) {
	base := pdftest.RGBImage(20, 2, 2, 10, 20, 30)
	mask := pdftest.GrayImage(21, 5, 5, 128) // wrong size
	doc := &pdftest.Document{
		Pages:   []pdftest.Page{{Images: []domain.ImageRef{{Ref: 20, SMask: 21}}}},
		Objects: map[int]*domain.ImageObject{20: base, 21: mask},
	}

	assets, issues := NewImageExtractor(nil).Extract(doc, newNamespace(t))
	require.Empty(t, issues, "fallback is not an issue")
	require.Len(t, assets, 1)
	assert.Equal(t, domain.RecoveryFallback, assets[0].Recovery)

	_, _, _, a := decodePNGFile(t, assets[0].Path).At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), a)
}

func TestImageExtractor_MissingMaskFallsBack(t *testing.T) {
	doc := &pdftest.Document{
		Pages:   []pdftest.Page{{Images: []domain.ImageRef{{Ref: 20, SMask: 99}}}},
		Objects: map[int]*domain.ImageObject{20: pdftest.GrayImage(20, 2, 2, 1)},
	}

	assets, issues := NewImageExtractor(nil).Extract(doc, newNamespace(t))
	require.Empty(t, issues)
	require.Len(t, assets, 1)
	assert.Equal(t, domain.RecoveryFallback, assets[0].Recovery)
}

func TestImageExtractor_UndecodableMaskedBaseKeepsStream(t *testing.T) {
	jpx := []byte{0x00, 0x00, 0x00, 0x0c, 'j', 'P', ' ', ' '}
	base := &domain.ImageObject{
		Ref: 40, Width: 2, Height: 2, BitsPerComponent: 8, Components: 3,
		ColorSpace: "DeviceRGB", HasColorSpace: true, Filter: "JPXDecode", Data: jpx,
	}
	doc := &pdftest.Document{
		Pages: []pdftest.Page{{Images: []domain.ImageRef{{Ref: 40, SMask: 41}, {Ref: 42}}}},
		Objects: map[int]*domain.ImageObject{
			40: base,
			41: pdftest.GrayImage(41, 2, 2, 0xff),
			42: pdftest.GrayImage(42, 1, 1, 0),
		},
	}

	assets, issues := NewImageExtractor(nil).Extract(doc, newNamespace(t))
	require.Empty(t, issues)
	require.Len(t, assets, 2)

	assert.Equal(t, 40, assets[0].Ref)
	assert.Equal(t, domain.ExtJPX, assets[0].Ext)
	assert.Equal(t, domain.RecoveryFallback, assets[0].Recovery)
	written, err := os.ReadFile(assets[0].Path)
	require.NoError(t, err)
	assert.Equal(t, jpx, written)

	assert.Equal(t, 42, assets[1].Ref, "later images on the page still come through")
}

func TestImageExtractor_LabIsReported(t *testing.T) {
	lab := func(ref int) *domain.ImageObject {
		return &domain.ImageObject{
			Ref: ref, Width: 1, Height: 1, BitsPerComponent: 8, Components: 3,
			ColorSpace: "Lab", HasColorSpace: true, Data: []byte{50, 0, 0},
		}
	}
	doc := &pdftest.Document{
		Pages: []pdftest.Page{{Images: []domain.ImageRef{{Ref: 50}, {Ref: 51, SMask: 52}}}},
		Objects: map[int]*domain.ImageObject{
			50: lab(50),
			51: lab(51),
			52: pdftest.GrayImage(52, 1, 1, 0xff),
		},
	}

	assets, issues := NewImageExtractor(nil).Extract(doc, newNamespace(t))
	assert.Empty(t, assets, "Lab samples must not be written as RGB")
	require.Len(t, issues, 2)
	for i, ref := range []int{50, 51} {
		assert.Equal(t, domain.ErrorTypeImageDecode, issues[i].Kind)
		assert.Equal(t, ref, issues[i].Ref)
		assert.ErrorContains(t, issues[i].Err, "Lab")
	}
}

func TestImageExtractor_MultiChannelMaskedIsPAM(t *testing.T) {
	base := &domain.ImageObject{
		Ref: 30, Width: 2, Height: 1, BitsPerComponent: 8, Components: 4,
		ColorSpace: "DeviceCMYK", HasColorSpace: true,
		Data: []byte{1, 2, 3, 4, 5, 6, 7, 8},
	}
	mask := pdftest.GrayImage(31, 2, 1, 0xff)
	doc := &pdftest.Document{
		Pages:   []pdftest.Page{{Images: []domain.ImageRef{{Ref: 30, SMask: 31}}}},
		Objects: map[int]*domain.ImageObject{30: base, 31: mask},
	}

	assets, issues := NewImageExtractor(nil).Extract(doc, newNamespace(t))
	require.Empty(t, issues)
	require.Len(t, assets, 1)
	assert.Equal(t, domain.ExtPAM, assets[0].Ext)
	assert.True(t, strings.HasSuffix(assets[0].Path, "img_30.pam"))

	data, err := os.ReadFile(assets[0].Path)
	require.NoError(t, err)
	header := "P7\nWIDTH 2\nHEIGHT 1\nDEPTH 5\nMAXVAL 255\nTUPLTYPE CMYK_ALPHA\nENDHDR\n"
	require.True(t, bytes.HasPrefix(data, []byte(header)), "got header %q", data[:min(len(data), len(header))])
	assert.Equal(t, []byte{1, 2, 3, 4, 0xff, 5, 6, 7, 8, 0xff}, data[len(header):])
}

func TestImageExtractor_FailuresAreSkipped(t *testing.T) {
	doc := &pdftest.Document{
		Pages: []pdftest.Page{
			{Images: []domain.ImageRef{{Ref: 5}, {Ref: 6}}},
			{ImagesErr: errors.New("bad resources")},
			{Images: []domain.ImageRef{{Ref: 5}, {Ref: 8}}},
		},
		Objects: map[int]*domain.ImageObject{
			6: pdftest.GrayImage(6, 1, 1, 0),
			8: pdftest.GrayImage(8, 1, 1, 0),
		},
		Broken: map[int]bool{5: true},
	}

	assets, issues := NewImageExtractor(nil).Extract(doc, newNamespace(t))
	require.Len(t, assets, 2)
	assert.Equal(t, 6, assets[0].Ref)
	assert.Equal(t, 8, assets[1].Ref)

	require.Len(t, issues, 2)
	assert.Equal(t, domain.ErrorTypeImageDecode, issues[0].Kind)
	assert.Equal(t, 5, issues[0].Ref)
	assert.Equal(t, domain.ErrorTypeImageDecode, issues[1].Kind)
	assert.Equal(t, 0, issues[1].Ref)

	assert.Equal(t, 1, doc.Fetches(5), "failed reference must not be retried")
}

func TestImageExtractor_OverwritesPriorRun(t *testing.T) {
	ns := newNamespace(t)
	require.NoError(t, os.WriteFile(ns.Path("img_6.png"), []byte("stale"), 0o644))

	doc := &pdftest.Document{
		Pages:   []pdftest.Page{{Images: []domain.ImageRef{{Ref: 6}}}},
		Objects: map[int]*domain.ImageObject{6: pdftest.GrayImage(6, 2, 2, 9)},
	}
	assets, issues := NewImageExtractor(nil).Extract(doc, ns)
	require.Empty(t, issues)
	require.Len(t, assets, 1)

	img := decodePNGFile(t, assets[0].Path)
	assert.Equal(t, image.Rect(0, 0, 2, 2), img.Bounds())
}
