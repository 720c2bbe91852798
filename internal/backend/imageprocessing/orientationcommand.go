package imageprocessing

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"log/slog"

	"github.com/rwcarlsen/goexif/exif"
)

// OrientationCommand bakes the EXIF orientation of a photo into its pixels, so the
// stored image displays upright once the metadata is stripped by re-encoding.
type OrientationCommand struct {
	name string
}

// NewOrientationCommand creates a new orientation command; it takes no parameters
func NewOrientationCommand(params map[string]any) (Command, error) {
	return &OrientationCommand{name: "OrientationCommand"}, nil
}

// Name returns the command name
func (c *OrientationCommand) Name() string {
	return c.name
}

// Execute rotates or flips the image according to its EXIF orientation tag.
// Images without EXIF data, or already upright, are returned unchanged.
func (c *OrientationCommand) Execute(imageData []byte) ([]byte, error) {
	orientation := GetImageOrientation(imageData)
	if orientation == 1 {
		return imageData, nil
	}

	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	corrected := CorrectImageOrientation(img, orientation)
	slog.Debug("OrientationCommand: applied orientation correction",
		"orientation", orientation,
		"width", corrected.Bounds().Dx(),
		"height", corrected.Bounds().Dy())

	var buf bytes.Buffer
	if err := png.Encode(&buf, corrected); err != nil {
		return nil, fmt.Errorf("failed to encode oriented image: %w", err)
	}
	return buf.Bytes(), nil
}

// GetImageOrientation extracts the EXIF orientation (1..8), defaulting to 1
func GetImageOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}

	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}

	orientation, err := tag.Int(0)
	if err != nil || orientation < 1 || orientation > 8 {
		return 1
	}
	return orientation
}

// CorrectImageOrientation applies the transform that EXIF orientation
// describes. Orientations 5 to 8 swap width and height.
func CorrectImageOrientation(img image.Image, orientation int) image.Image {
	if orientation < 2 || orientation > 8 {
		return img
	}

	b := img.Bounds()
	src := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(src, src.Bounds(), img, b.Min, draw.Src)

	w, h := b.Dx(), b.Dy()
	var dst *image.RGBA
	if orientation >= 5 {
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := src.RGBAAt(x, y)
			switch orientation {
			case 2: // flip horizontal
				dst.SetRGBA(w-1-x, y, px)
			case 3: // rotate 180
				dst.SetRGBA(w-1-x, h-1-y, px)
			case 4: // flip vertical
				dst.SetRGBA(x, h-1-y, px)
			case 5: // transpose
				dst.SetRGBA(y, x, px)
			case 6: // rotate 90 clockwise
				dst.SetRGBA(h-1-y, x, px)
			case 7: // transverse
				dst.SetRGBA(h-1-y, w-1-x, px)
			case 8: // rotate 90 counter-clockwise
				dst.SetRGBA(y, w-1-x, px)
			}
		}
	}
	return dst
}

func init() {
	mustRegister("OrientationCommand", NewOrientationCommand)
}
