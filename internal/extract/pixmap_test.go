package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/roster-ingest/internal/domain"
)

func TestUnpackSamples(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		w, h  int
		comps int
		bpc   int
		want  []byte
	}{
		{"1 bit", []byte{0b10100000}, 3, 1, 1, 1, []byte{255, 0, 255}},
		{"1 bit rows are byte aligned", []byte{0b10000000, 0b01000000}, 2, 2, 1, 1, []byte{255, 0, 0, 255}},
		{"2 bit", []byte{0b00011011}, 4, 1, 1, 2, []byte{0, 85, 170, 255}},
		{"4 bit", []byte{0xF0}, 2, 1, 1, 4, []byte{255, 0}},
		{"8 bit rgb", []byte{1, 2, 3, 4, 5, 6}, 2, 1, 3, 8, []byte{1, 2, 3, 4, 5, 6}},
		{"16 bit keeps high byte", []byte{0xAB, 0xCD}, 1, 1, 1, 16, []byte{0xAB}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := unpackSamples(tt.data, tt.w, tt.h, tt.comps, tt.bpc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnpackSamples_Errors(t *testing.T) {
	_, err := unpackSamples([]byte{1, 2}, 2, 2, 1, 8)
	assert.Error(t, err, "short data")

	_, err = unpackSamples([]byte{1}, 1, 1, 1, 3)
	assert.Error(t, err, "odd bit depth")
}

func TestDecodePixmap_Indexed(t *testing.T) {
	obj := &domain.ImageObject{
		Width: 3, Height: 1, BitsPerComponent: 8, Components: 1,
		ColorSpace: "Indexed", HasColorSpace: true,
		Data:              []byte{0, 1, 0},
		Palette:           []byte{255, 0, 0, 0, 0, 255},
		PaletteComponents: 3,
	}

	pm, err := decodePixmap(obj)
	require.NoError(t, err)
	assert.Equal(t, 3, pm.n)
	assert.Equal(t, []byte{255, 0, 0, 0, 0, 255, 255, 0, 0}, pm.pix)

	obj.Data = []byte{0, 7, 0}
	_, err = decodePixmap(obj)
	assert.Error(t, err, "index past the palette")
}

func TestDecodePixmap_JPXUnsupported(t *testing.T) {
	_, err := decodePixmap(&domain.ImageObject{Width: 1, Height: 1, Filter: "JPXDecode"})
	assert.Error(t, err)
}

func TestDecodePixmap_LabUnsupported(t *testing.T) {
	_, err := decodePixmap(&domain.ImageObject{
		Width: 1, Height: 1, BitsPerComponent: 8, Components: 3, ColorSpace: "Lab", Data: []byte{1, 2, 3},
	})
	assert.ErrorContains(t, err, "Lab")
}

func TestPixmap_WithMask(t *testing.T) {
	base := &pixmap{width: 1, height: 2, n: 1, pix: []byte{10, 20}}

	out, err := base.withMask(&pixmap{width: 1, height: 2, n: 1, pix: []byte{1, 2}})
	require.NoError(t, err)
	assert.True(t, out.alpha)
	assert.Equal(t, []byte{10, 1, 20, 2}, out.pix)

	_, err = base.withMask(&pixmap{width: 2, height: 2, n: 1, pix: make([]byte, 4)})
	assert.Error(t, err)

	_, err = base.withMask(&pixmap{width: 1, height: 2, n: 3, pix: make([]byte, 6)})
	assert.Error(t, err)
}

func TestPixmap_DropAlpha(t *testing.T) {
	pm := &pixmap{width: 2, height: 1, n: 2, alpha: true, pix: []byte{1, 9, 2, 9}}
	out := pm.dropAlpha()
	assert.False(t, out.alpha)
	assert.Equal(t, 1, out.n)
	assert.Equal(t, []byte{1, 2}, out.pix)
}

func TestPixmap_TupleType(t *testing.T) {
	tests := []struct {
		n     int
		alpha bool
		want  string
	}{
		{1, false, "GRAYSCALE"},
		{2, true, "GRAYSCALE_ALPHA"},
		{3, false, "RGB"},
		{4, true, "RGB_ALPHA"},
		{4, false, "CMYK"},
		{5, true, "CMYK_ALPHA"},
	}
	for _, tt := range tests {
		got, err := (&pixmap{n: tt.n, alpha: tt.alpha}).tupleType()
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := (&pixmap{n: 2}).tupleType()
	assert.Error(t, err)
}
