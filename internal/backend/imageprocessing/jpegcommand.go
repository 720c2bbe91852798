package imageprocessing

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"log/slog"
)

// DefaultJPEGQuality is used when no quality is configured
const DefaultJPEGQuality = 85

// JPEGEncodeCommand re-encodes any decodable image as a baseline JPEG with a
// fixed quality. Transparent areas are flattened onto white. Re-encoding drops
// all metadata of the upload.
type JPEGEncodeCommand struct {
	name    string
	quality int
}

// NewJPEGEncodeCommand creates a new JPEG encode command from configuration parameters
func NewJPEGEncodeCommand(params map[string]any) (Command, error) {
	command, err := NewJPEGEncodeCommandWithQuality(getIntParam(params, "quality", DefaultJPEGQuality))
	if err != nil {
		return nil, err
	}
	return command, nil
}

// NewJPEGEncodeCommandWithQuality creates a JPEG encode command with the given quality (1..100)
func NewJPEGEncodeCommandWithQuality(quality int) (*JPEGEncodeCommand, error) {
	if quality < 1 || quality > 100 {
		return nil, fmt.Errorf("invalid JPEG quality: %d (must be between 1 and 100)", quality)
	}
	return &JPEGEncodeCommand{name: "JPEGEncodeCommand", quality: quality}, nil
}

// Name returns the command name
func (c *JPEGEncodeCommand) Name() string {
	return c.name
}

// GetQuality returns the configured quality
func (c *JPEGEncodeCommand) GetQuality() int {
	return c.quality
}

// Execute decodes the image and encodes it as JPEG
func (c *JPEGEncodeCommand) Execute(imageData []byte) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	b := img.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(canvas, canvas.Bounds(), img, b.Min, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode image to jpeg: %w", err)
	}

	slog.Debug("JPEGEncodeCommand: encoded image",
		"source_format", format,
		"quality", c.quality,
		"output_size_bytes", buf.Len())
	return buf.Bytes(), nil
}

func init() {
	mustRegister("JPEGEncodeCommand", NewJPEGEncodeCommand)
}
