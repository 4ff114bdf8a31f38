package extract

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"

	"github.com/spherical/roster-ingest/internal/domain"
)

// pixmap holds 8-bit interleaved samples. n counts every channel, alpha included.
type pixmap struct {
	width  int
	height int
	n      int
	alpha  bool
	pix    []byte
}

func (p *pixmap) colorants() int {
	if p.alpha {
		return p.n - 1
	}
	return p.n
}

// decodePixmap turns an image object into samples. DCT streams are decoded,
// JPX streams are not supported.
func decodePixmap(obj *domain.ImageObject) (*pixmap, error) {
	if obj.ColorSpace == "Lab" {
		return nil, fmt.Errorf("unsupported color space Lab")
	}

	switch obj.Filter {
	case "DCTDecode", "DCT":
		return decodeJPEG(obj.Data)
	case "JPXDecode":
		return nil, fmt.Errorf("jpeg 2000 samples are not supported")
	}

	if len(obj.Palette) > 0 {
		return expandIndexed(obj)
	}

	comps := obj.Components
	if comps <= 0 {
		comps = 1
	}
	samples, err := unpackSamples(obj.Data, obj.Width, obj.Height, comps, obj.BitsPerComponent)
	if err != nil {
		return nil, err
	}
	return &pixmap{width: obj.Width, height: obj.Height, n: comps, pix: samples}, nil
}

// unpackSamples scales packed samples to 8 bits. Rows are byte aligned.
func unpackSamples(data []byte, w, h, comps, bpc int) ([]byte, error) {
	switch bpc {
	case 1, 2, 4, 8, 16:
	default:
		return nil, fmt.Errorf("unsupported bits per component: %d", bpc)
	}

	rowBytes := (w*comps*bpc + 7) / 8
	if len(data) < rowBytes*h {
		return nil, fmt.Errorf("sample data too short: have %d bytes, need %d", len(data), rowBytes*h)
	}

	out := make([]byte, w*h*comps)
	if bpc == 8 {
		for y := 0; y < h; y++ {
			copy(out[y*w*comps:(y+1)*w*comps], data[y*rowBytes:])
		}
		return out, nil
	}

	maxVal := (1 << bpc) - 1
	for y := 0; y < h; y++ {
		row := data[y*rowBytes : (y+1)*rowBytes]
		for i := 0; i < w*comps; i++ {
			var v int
			if bpc == 16 {
				v = int(row[i*2])
			} else {
				bit := i * bpc
				v = int(row[bit/8]>>(8-bpc-bit%8)) & maxVal
				v = v * 255 / maxVal
			}
			out[y*w*comps+i] = byte(v)
		}
	}
	return out, nil
}

func expandIndexed(obj *domain.ImageObject) (*pixmap, error) {
	pc := obj.PaletteComponents
	if pc <= 0 {
		return nil, fmt.Errorf("indexed image without base components")
	}

	bpc := obj.BitsPerComponent
	rowBytes := (obj.Width*bpc + 7) / 8
	if len(obj.Data) < rowBytes*obj.Height {
		return nil, fmt.Errorf("index data too short: have %d bytes, need %d", len(obj.Data), rowBytes*obj.Height)
	}

	maxIdx := (1 << bpc) - 1
	out := make([]byte, 0, obj.Width*obj.Height*pc)
	for y := 0; y < obj.Height; y++ {
		row := obj.Data[y*rowBytes : (y+1)*rowBytes]
		for x := 0; x < obj.Width; x++ {
			var idx int
			if bpc == 8 {
				idx = int(row[x])
			} else {
				bit := x * bpc
				idx = int(row[bit/8]>>(8-bpc-bit%8)) & maxIdx
			}
			off := idx * pc
			if off+pc > len(obj.Palette) {
				return nil, fmt.Errorf("palette index %d out of range", idx)
			}
			out = append(out, obj.Palette[off:off+pc]...)
		}
	}
	return &pixmap{width: obj.Width, height: obj.Height, n: pc, pix: out}, nil
}

func decodeJPEG(data []byte) (*pixmap, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode jpeg: %w", err)
	}
	b := img.Bounds()

	switch src := img.(type) {
	case *image.Gray:
		pm := &pixmap{width: b.Dx(), height: b.Dy(), n: 1, pix: make([]byte, 0, b.Dx()*b.Dy())}
		for y := b.Min.Y; y < b.Max.Y; y++ {
			pm.pix = append(pm.pix, src.Pix[src.PixOffset(b.Min.X, y):src.PixOffset(b.Max.X, y)]...)
		}
		return pm, nil
	case *image.CMYK:
		pm := &pixmap{width: b.Dx(), height: b.Dy(), n: 4, pix: make([]byte, 0, b.Dx()*b.Dy()*4)}
		for y := b.Min.Y; y < b.Max.Y; y++ {
			pm.pix = append(pm.pix, src.Pix[src.PixOffset(b.Min.X, y):src.PixOffset(b.Max.X, y)]...)
		}
		return pm, nil
	}

	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return fromRGBA(rgba), nil
}

func fromRGBA(img *image.RGBA) *pixmap {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	pm := &pixmap{width: w, height: h, n: 3, pix: make([]byte, 0, w*h*3)}
	for i := 0; i < len(img.Pix); i += 4 {
		pm.pix = append(pm.pix, img.Pix[i], img.Pix[i+1], img.Pix[i+2])
	}
	return pm
}

// dropAlpha returns a copy without the trailing alpha channel.
func (p *pixmap) dropAlpha() *pixmap {
	if !p.alpha {
		return p
	}
	c := p.n - 1
	out := make([]byte, 0, p.width*p.height*c)
	for i := 0; i < len(p.pix); i += p.n {
		out = append(out, p.pix[i:i+c]...)
	}
	return &pixmap{width: p.width, height: p.height, n: c, pix: out}
}

// withMask appends mask as the alpha channel. The mask must be single
// channel and match the base dimensions.
func (p *pixmap) withMask(mask *pixmap) (*pixmap, error) {
	if mask.colorants() != 1 || mask.alpha {
		return nil, fmt.Errorf("mask has %d channels, want 1", mask.n)
	}
	if mask.width != p.width || mask.height != p.height {
		return nil, fmt.Errorf("mask is %dx%d, base is %dx%d", mask.width, mask.height, p.width, p.height)
	}
	base := p.dropAlpha()
	n := base.n + 1
	out := make([]byte, 0, p.width*p.height*n)
	for i := 0; i < p.width*p.height; i++ {
		out = append(out, base.pix[i*base.n:(i+1)*base.n]...)
		out = append(out, mask.pix[i])
	}
	return &pixmap{width: p.width, height: p.height, n: n, alpha: true, pix: out}, nil
}

// image returns the pixmap as a Go image. CMYK colorants stay CMYK.
func (p *pixmap) image() (image.Image, error) {
	r := image.Rect(0, 0, p.width, p.height)
	switch {
	case p.n == 1:
		img := image.NewGray(r)
		copy(img.Pix, p.pix)
		return img, nil
	case p.n == 2 && p.alpha:
		img := image.NewNRGBA(r)
		for i := 0; i < p.width*p.height; i++ {
			g, a := p.pix[i*2], p.pix[i*2+1]
			img.Pix[i*4], img.Pix[i*4+1], img.Pix[i*4+2], img.Pix[i*4+3] = g, g, g, a
		}
		return img, nil
	case p.n == 3 && !p.alpha:
		img := image.NewRGBA(r)
		for i := 0; i < p.width*p.height; i++ {
			copy(img.Pix[i*4:i*4+3], p.pix[i*3:i*3+3])
			img.Pix[i*4+3] = 0xff
		}
		return img, nil
	case p.n == 4 && p.alpha:
		img := image.NewNRGBA(r)
		copy(img.Pix, p.pix)
		return img, nil
	case p.n == 4 && !p.alpha:
		img := image.NewCMYK(r)
		copy(img.Pix, p.pix)
		return img, nil
	case p.n == 5 && p.alpha:
		img := image.NewNRGBA(r)
		for i := 0; i < p.width*p.height; i++ {
			px := p.pix[i*5 : i*5+5]
			cr, cg, cb := color.CMYKToRGB(px[0], px[1], px[2], px[3])
			img.Pix[i*4], img.Pix[i*4+1], img.Pix[i*4+2], img.Pix[i*4+3] = cr, cg, cb, px[4]
		}
		return img, nil
	}
	return nil, fmt.Errorf("no image model for %d channels (alpha=%v)", p.n, p.alpha)
}

// toRGB converts the colorants to RGB, keeping any alpha channel.
func (p *pixmap) toRGB() (*pixmap, error) {
	if p.colorants() == 3 {
		return p, nil
	}
	src, err := p.image()
	if err != nil {
		return nil, err
	}
	if p.alpha {
		dst := image.NewNRGBA(src.Bounds())
		draw.Draw(dst, dst.Bounds(), src, image.Point{}, draw.Src)
		return &pixmap{width: p.width, height: p.height, n: 4, alpha: true, pix: dst.Pix}, nil
	}
	dst := image.NewRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, image.Point{}, draw.Src)
	return fromRGBA(dst), nil
}

// encodePNG writes the pixmap as PNG, converting CMYK colorants to RGB.
func (p *pixmap) encodePNG() ([]byte, error) {
	src := p
	if p.colorants() == 4 {
		var err error
		if src, err = p.toRGB(); err != nil {
			return nil, err
		}
	}
	img, err := src.image()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
