package frontend

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"strconv"
	"strings"
	"sync"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

const (
	defaultMarkerSize = 24
	minMarkerSize     = 16
	maxMarkerSize     = 128

	openMarkerColor      = "#c62828"
	concludedMarkerColor = "#4caf50"
)

const markerSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 28 28" width="28" height="28">
  <circle cx="14" cy="14" r="11" fill="%s" stroke="#ffffff" stroke-width="2"/>
</svg>`

// markerCache holds rendered PNGs keyed by color and size; the key space is small.
var markerCache sync.Map

func markerColor(status string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "", "open", "aberto":
		return openMarkerColor, nil
	case "concluded", "concluido":
		return concludedMarkerColor, nil
	default:
		return "", fmt.Errorf("unknown marker status %q", status)
	}
}

func markerSize(raw string) (int, error) {
	if raw == "" {
		return defaultMarkerSize, nil
	}
	size, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid marker size %q", raw)
	}
	return min(max(size, minMarkerSize), maxMarkerSize), nil
}

// renderMarker rasterizes the map marker on a transparent canvas
func renderMarker(color string, size int) ([]byte, error) {
	key := fmt.Sprintf("%s/%d", color, size)
	if cached, ok := markerCache.Load(key); ok {
		return cached.([]byte), nil
	}

	icon, err := oksvg.ReadIconStream(strings.NewReader(fmt.Sprintf(markerSVG, color)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse marker SVG: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	scanner := rasterx.NewScannerGV(size, size, dst, dst.Bounds())
	dasher := rasterx.NewDasher(size, size, scanner)
	icon.Draw(dasher, 1.0)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode marker as PNG: %w", err)
	}
	markerCache.Store(key, buf.Bytes())
	return buf.Bytes(), nil
}
