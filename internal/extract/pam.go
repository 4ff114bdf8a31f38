package extract

import (
	"bytes"
	"fmt"
)

// encodePAM writes the pixmap as a Netpbm P7 file with 8-bit samples.
func (p *pixmap) encodePAM() ([]byte, error) {
	tuple, err := p.tupleType()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(64 + len(p.pix))
	fmt.Fprintf(&buf, "P7\nWIDTH %d\nHEIGHT %d\nDEPTH %d\nMAXVAL 255\nTUPLTYPE %s\nENDHDR\n",
		p.width, p.height, p.n, tuple)
	buf.Write(p.pix)
	return buf.Bytes(), nil
}

func (p *pixmap) tupleType() (string, error) {
	var tuple string
	switch p.colorants() {
	case 1:
		tuple = "GRAYSCALE"
	case 3:
		tuple = "RGB"
	case 4:
		tuple = "CMYK"
	default:
		return "", fmt.Errorf("no tuple type for %d colorants", p.colorants())
	}
	if p.alpha {
		tuple += "_ALPHA"
	}
	return tuple, nil
}
