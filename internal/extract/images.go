// Package extract recovers image assets and roster rows from an opened document.
package extract

import (
	"fmt"

	"github.com/spherical/roster-ingest/internal/domain"
	"github.com/spherical/roster-ingest/internal/observability"
	"github.com/spherical/roster-ingest/internal/scratch"
)

// ImageExtractor writes every distinct embedded image of a document into a
// scratch namespace as img_<ref>.<ext>.
type ImageExtractor struct {
	logger *observability.Logger
}

// NewImageExtractor creates an image extractor.
func NewImageExtractor(logger *observability.Logger) *ImageExtractor {
	if logger == nil {
		logger = observability.Nop()
	}
	return &ImageExtractor{logger: logger.WithOperation("extract_images")}
}

// recovered is the outcome of recovering one image object.
type recovered struct {
	ext      domain.ImageExtension
	data     []byte
	path     domain.RecoveryPath
	width    int
	height   int
	fallback error // mask failure that forced the fallback path
}

// Extract walks pages in order and writes each reference id once, on its first
// occurrence. The returned assets are in first-encountered order. Images that
// cannot be recovered or written are skipped and reported as issues.
func (e *ImageExtractor) Extract(src domain.ImageSource, ns *scratch.Namespace) ([]domain.ImageAsset, []domain.Issue) {
	var (
		assets []domain.ImageAsset
		issues []domain.Issue
		seen   = make(map[int]bool)
	)

	for page := 0; page < src.PageCount(); page++ {
		refs, err := src.PageImages(page)
		if err != nil {
			e.logger.Warn().Int("page", page).Err(err).Msg("cannot list page images")
			issues = append(issues, domain.NewIssue(domain.ErrorTypeImageDecode, 0, "",
				fmt.Errorf("list images on page %d: %w", page, err)))
			continue
		}

		for _, ref := range refs {
			if seen[ref.Ref] {
				continue
			}
			// a failed reference is not retried on later pages
			seen[ref.Ref] = true

			rec, err := e.recover(src, ref)
			if err != nil {
				e.logger.Warn().Int("page", page).Int("ref", ref.Ref).Err(err).Msg("image skipped")
				issues = append(issues, domain.NewIssue(domain.ErrorTypeImageDecode, ref.Ref, "", err))
				continue
			}
			if rec.fallback != nil {
				e.logger.Warn().Int("ref", ref.Ref).Int("smask", ref.SMask).Err(rec.fallback).
					Msg("mask recombination failed, keeping unmasked image")
			}

			path, err := ns.Write(domain.ImageFileName(ref.Ref, rec.ext), rec.data)
			if err != nil {
				e.logger.Warn().Int("ref", ref.Ref).Err(err).Msg("cannot write image")
				issues = append(issues, domain.NewIssue(domain.ErrorTypeFilesystem, ref.Ref, "", err))
				continue
			}

			e.logger.Debug().
				Int("page", page).
				Int("ref", ref.Ref).
				Str("ext", string(rec.ext)).
				Str("recovery", string(rec.path)).
				Msg("image written")

			assets = append(assets, domain.ImageAsset{
				Ref:      ref.Ref,
				Page:     page,
				Ext:      rec.ext,
				Path:     path,
				Recovery: rec.path,
				Width:    rec.width,
				Height:   rec.height,
			})
		}
	}

	return assets, issues
}

func (e *ImageExtractor) recover(src domain.ImageSource, ref domain.ImageRef) (*recovered, error) {
	obj, err := src.ImageObject(ref.Ref)
	if err != nil {
		return nil, err
	}

	if ref.SMask > 0 {
		return recoverMasked(src, obj, ref.SMask)
	}

	// JPX samples cannot be decoded here, so they keep their native stream
	if obj.HasColorSpace && obj.Filter != "JPXDecode" {
		return recoverRGB(obj)
	}

	return passthrough(obj)
}

// recoverMasked composites the base pixels with the soft mask. When that fails
// the base pixels are encoded on their own, and a base that cannot be decoded
// at all keeps its native stream.
func recoverMasked(src domain.ImageSource, obj *domain.ImageObject, smask int) (*recovered, error) {
	raw, err := decodePixmap(obj)
	if err != nil {
		// the mask cannot be applied, but the base may still be kept in its stream form
		rec, perr := passthrough(obj)
		if perr != nil {
			return nil, domain.ImageDecodeError(fmt.Sprintf("decode base of object %d", obj.Ref), err)
		}
		rec.path = domain.RecoveryFallback
		rec.fallback = fmt.Errorf("decode base of object %d: %w", obj.Ref, err)
		return rec, nil
	}
	base := raw.dropAlpha()

	ext := domain.ExtPNG
	if base.n > 3 {
		ext = domain.ExtPAM
	}

	rec := &recovered{ext: ext, path: domain.RecoveryComposite, width: base.width, height: base.height}

	pix, err := composite(src, base, smask)
	if err != nil {
		rec.path = domain.RecoveryFallback
		rec.fallback = err
		pix = raw
	}

	if ext == domain.ExtPAM {
		rec.data, err = pix.encodePAM()
	} else {
		rec.data, err = pix.encodePNG()
	}
	if err != nil {
		return nil, domain.ImageDecodeError(fmt.Sprintf("encode object %d", obj.Ref), err)
	}
	return rec, nil
}

func composite(src domain.ImageSource, base *pixmap, smask int) (*pixmap, error) {
	maskObj, err := src.ImageObject(smask)
	if err != nil {
		return nil, err
	}
	mask, err := decodePixmap(maskObj)
	if err != nil {
		return nil, fmt.Errorf("decode mask %d: %w", smask, err)
	}
	return base.withMask(mask)
}

func recoverRGB(obj *domain.ImageObject) (*recovered, error) {
	pix, err := decodePixmap(obj)
	if err != nil {
		return nil, domain.ImageDecodeError(fmt.Sprintf("decode object %d", obj.Ref), err)
	}
	rgb, err := pix.toRGB()
	if err != nil {
		return nil, domain.ImageDecodeError(fmt.Sprintf("convert object %d to rgb", obj.Ref), err)
	}
	data, err := rgb.encodePNG()
	if err != nil {
		return nil, domain.ImageDecodeError(fmt.Sprintf("encode object %d", obj.Ref), err)
	}
	return &recovered{
		ext:    domain.ExtPNG,
		data:   data,
		path:   domain.RecoveryColorSpace,
		width:  obj.Width,
		height: obj.Height,
	}, nil
}

// passthrough keeps natively encoded streams as delivered and encodes raw
// samples losslessly.
func passthrough(obj *domain.ImageObject) (*recovered, error) {
	rec := &recovered{path: domain.RecoveryPassthrough, width: obj.Width, height: obj.Height}

	switch obj.Filter {
	case "DCTDecode", "DCT":
		rec.ext, rec.data = domain.ExtJPEG, obj.Data
		return rec, nil
	case "JPXDecode":
		rec.ext, rec.data = domain.ExtJPX, obj.Data
		return rec, nil
	}

	pix, err := decodePixmap(obj)
	if err != nil {
		return nil, domain.ImageDecodeError(fmt.Sprintf("decode object %d", obj.Ref), err)
	}
	data, err := pix.encodePNG()
	if err != nil {
		return nil, domain.ImageDecodeError(fmt.Sprintf("encode object %d", obj.Ref), err)
	}
	rec.ext, rec.data = domain.ExtPNG, data
	return rec, nil
}
