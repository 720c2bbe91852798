package imageprocessing

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/png"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jo-hoe/buracos/internal/common"
)

const (
	DefaultMaxBytes     = 2 * 1024 * 1024
	DefaultMaxPixels    = 40_000_000
	DefaultMaxDimension = 1600

	storedExtension = ".jpg"
)

// allowedExtensions lists the declared filename extensions accepted for upload.
// The extension is a hint only; content is always decoded and checked.
var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
}

// allowedFormats lists the decoded formats accepted, as named by image.Decode.
var allowedFormats = map[string]bool{
	"png":  true,
	"jpeg": true,
	"gif":  true,
}

var storedNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

type IngestorConfig struct {
	Directory    string
	MaxBytes     int64
	MaxPixels    int
	MaxDimension int
	JPEGQuality  int
	// Commands run after orientation and scaling, before the final JPEG encode.
	Commands []CommandConfig
}

// Ingestor validates uploaded images, normalizes them to JPEG and stores them
// in a single directory.
type Ingestor struct {
	directory string
	maxBytes  int64
	maxPixels int
	invoker   *CommandInvoker
	now       func() time.Time
}

func NewIngestor(config IngestorConfig) (*Ingestor, error) {
	if config.Directory == "" {
		return nil, fmt.Errorf("upload directory must be set")
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = DefaultMaxBytes
	}
	if config.MaxPixels <= 0 {
		config.MaxPixels = DefaultMaxPixels
	}
	if config.JPEGQuality == 0 {
		config.JPEGQuality = DefaultJPEGQuality
	}

	if err := os.MkdirAll(config.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory %s: %w", config.Directory, err)
	}

	commands := []Command{&OrientationCommand{name: "OrientationCommand"}}
	if config.MaxDimension > 0 {
		scale, err := NewScaleCommandWithParams(config.MaxDimension)
		if err != nil {
			return nil, err
		}
		commands = append(commands, scale)
	}
	extra, err := CreateCommands(config.Commands)
	if err != nil {
		return nil, err
	}
	commands = append(commands, extra...)
	encode, err := NewJPEGEncodeCommandWithQuality(config.JPEGQuality)
	if err != nil {
		return nil, err
	}
	commands = append(commands, encode)

	return &Ingestor{
		directory: config.Directory,
		maxBytes:  config.MaxBytes,
		maxPixels: config.MaxPixels,
		invoker:   NewCommandInvoker(commands),
		now:       time.Now,
	}, nil
}

// Directory returns the directory holding the stored images
func (i *Ingestor) Directory() string {
	return i.directory
}

// MaxBytes returns the upload size cap
func (i *Ingestor) MaxBytes() int64 {
	return i.maxBytes
}

// Ingest validates the upload and stores its normalized JPEG rendition.
// It returns the stored filename; on any error nothing is left on disk.
func (i *Ingestor) Ingest(r io.Reader, filename string) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, i.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("%w: failed to read upload: %v", common.ErrStorage, err)
	}
	if int64(len(data)) > i.maxBytes {
		return "", fmt.Errorf("%w: upload exceeds %d bytes", common.ErrOversize, i.maxBytes)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: upload is empty", common.ErrInvalidFormat)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return "", fmt.Errorf("%w: %q (allowed: png, jpg, jpeg, gif)", common.ErrUnsupportedExtension, ext)
	}

	if err := i.validateContent(data); err != nil {
		return "", err
	}

	normalized, err := i.invoker.Execute(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrInvalidFormat, err)
	}

	stored, err := i.store(normalized)
	if err != nil {
		return "", err
	}
	slog.Info("stored uploaded image",
		"stored_name", stored,
		"declared_name", filename,
		"input_size_bytes", len(data),
		"stored_size_bytes", len(normalized))
	return stored, nil
}

// validateContent decodes the payload completely; header sniffing alone would
// accept truncated files.
func (i *Ingestor) validateContent(data []byte) error {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidFormat, err)
	}
	if !allowedFormats[format] {
		return fmt.Errorf("%w: %s images are not supported", common.ErrInvalidFormat, format)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("%w: image has no pixels", common.ErrInvalidFormat)
	}
	if cfg.Width*cfg.Height > i.maxPixels {
		return fmt.Errorf("%w: image dimensions %dx%d exceed %d pixels",
			common.ErrOversize, cfg.Width, cfg.Height, i.maxPixels)
	}
	if _, _, err := image.Decode(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidFormat, err)
	}
	return nil
}

// store writes to a temporary file, checks what landed on disk and renames it
// into place, so readers never observe a partial image.
func (i *Ingestor) store(data []byte) (string, error) {
	tmp, err := os.CreateTemp(i.directory, ".upload-*.tmp")
	if err != nil {
		return "", fmt.Errorf("%w: failed to create temp file: %v", common.ErrStorage, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if committed {
			return
		}
		if err := os.Remove(tmpName); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to remove temporary upload", "path", tmpName, "error", err)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("%w: failed to write image: %v", common.ErrStorage, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("%w: failed to sync image: %v", common.ErrStorage, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: failed to close image: %v", common.ErrStorage, err)
	}

	if err := verifyStoredJPEG(tmpName); err != nil {
		return "", err
	}

	for attempt := 0; attempt < 5; attempt++ {
		name := i.newFilename()
		target := filepath.Join(i.directory, name)
		if _, err := os.Lstat(target); err == nil {
			continue
		}
		if err := os.Rename(tmpName, target); err != nil {
			return "", fmt.Errorf("%w: failed to move image into place: %v", common.ErrStorage, err)
		}
		committed = true
		return name, nil
	}
	return "", fmt.Errorf("%w: could not allocate a unique image name", common.ErrStorage)
}

func verifyStoredJPEG(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: failed to reopen image: %v", common.ErrStorage, err)
	}
	defer func() {
		_ = f.Close()
	}()
	if _, format, err := image.DecodeConfig(f); err != nil || format != "jpeg" {
		return fmt.Errorf("%w: stored image failed verification (format %q): %v", common.ErrStorage, format, err)
	}
	return nil
}

// newFilename combines a second-resolution timestamp with random hex digits
// so that concurrent uploads in the same second do not collide.
func (i *Ingestor) newFilename() string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("img_%s_%s%s", i.now().UTC().Format("20060102T150405"), random, storedExtension)
}

// Path resolves a stored filename inside the upload directory. Names with path
// separators or a leading dot are rejected.
func (i *Ingestor) Path(name string) (string, error) {
	if !storedNamePattern.MatchString(name) || filepath.Base(name) != name {
		return "", fmt.Errorf("%w: invalid image name %q", common.ErrNotFound, name)
	}
	return filepath.Join(i.directory, name), nil
}

// Exists reports whether a stored image with this name is present
func (i *Ingestor) Exists(name string) bool {
	path, err := i.Path(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Remove deletes a stored image. A missing file is not an error.
func (i *Ingestor) Remove(name string) error {
	path, err := i.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: failed to remove image %s: %v", common.ErrStorage, name, err)
	}
	return nil
}
