package imageprocessing

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"log/slog"

	"golang.org/x/image/draw"
)

// ScaleParams represents typed parameters for scale command
type ScaleParams struct {
	MaxDimension int
}

// NewScaleParamsFromMap creates ScaleParams from a generic map
func NewScaleParamsFromMap(params map[string]any) (*ScaleParams, error) {
	if _, ok := params["maxDimension"]; !ok {
		return nil, fmt.Errorf("missing required parameter: maxDimension")
	}
	maxDimension := getIntParam(params, "maxDimension", 0)
	if maxDimension <= 0 {
		return nil, fmt.Errorf("maxDimension must be positive, got %d", maxDimension)
	}
	return &ScaleParams{MaxDimension: maxDimension}, nil
}

// ScaleCommand shrinks images so that neither side exceeds MaxDimension,
// preserving the aspect ratio. Smaller images are never enlarged.
type ScaleCommand struct {
	name   string
	params *ScaleParams
}

// NewScaleCommand creates a new scale command from configuration parameters
func NewScaleCommand(params map[string]any) (Command, error) {
	typedParams, err := NewScaleParamsFromMap(params)
	if err != nil {
		return nil, err
	}
	return &ScaleCommand{name: "ScaleCommand", params: typedParams}, nil
}

// NewScaleCommandWithParams creates a new scale command from concrete typed parameters
func NewScaleCommandWithParams(maxDimension int) (*ScaleCommand, error) {
	if maxDimension <= 0 {
		return nil, fmt.Errorf("maxDimension must be positive, got %d", maxDimension)
	}
	return &ScaleCommand{name: "ScaleCommand", params: &ScaleParams{MaxDimension: maxDimension}}, nil
}

// Name returns the command name
func (c *ScaleCommand) Name() string {
	return c.name
}

// GetMaxDimension returns the configured bound
func (c *ScaleCommand) GetMaxDimension() int {
	return c.params.MaxDimension
}

// Execute scales the image down to fit the bound
func (c *ScaleCommand) Execute(imageData []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	newWidth, newHeight := fitWithin(width, height, c.params.MaxDimension)
	if newWidth == width && newHeight == height {
		slog.Debug("ScaleCommand: image within bounds; skipping scaling",
			"width", width, "height", height)
		return imageData, nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	slog.Debug("ScaleCommand: scaled image",
		"original_width", width,
		"original_height", height,
		"new_width", newWidth,
		"new_height", newHeight)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode scaled image: %w", err)
	}
	return buf.Bytes(), nil
}

// fitWithin returns dimensions no larger than bound on either side, keeping the
// aspect ratio and never going below one pixel.
func fitWithin(width, height, bound int) (int, int) {
	if width <= bound && height <= bound {
		return width, height
	}
	scale := float64(bound) / float64(width)
	if s := float64(bound) / float64(height); s < scale {
		scale = s
	}
	newWidth := max(1, min(bound, int(float64(width)*scale+0.5)))
	newHeight := max(1, min(bound, int(float64(height)*scale+0.5)))
	return newWidth, newHeight
}

func init() {
	mustRegister("ScaleCommand", NewScaleCommand)
}
