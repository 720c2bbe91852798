package common

import (
	"errors"
	"net/http"
)

// Sentinel errors shared by the store, the image ingestion and the HTTP layer.
// Wrap them with fmt.Errorf("%w: ...") and match with errors.Is.
var (
	// ErrValidation indicates missing or malformed required fields
	ErrValidation = errors.New("validation failed")

	// ErrOversize indicates an uploaded image exceeds the configured size cap
	ErrOversize = errors.New("image too large")

	// ErrInvalidFormat indicates an upload is not a decodable supported raster image
	ErrInvalidFormat = errors.New("invalid image format")

	// ErrUnsupportedExtension indicates the declared filename extension is not allowed
	ErrUnsupportedExtension = errors.New("unsupported image extension")

	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = errors.New("not found")

	// ErrPermission indicates the acting user may not perform the mutation
	ErrPermission = errors.New("permission denied")

	// ErrUnauthenticated indicates the operation requires a logged in user
	ErrUnauthenticated = errors.New("authentication required")

	// ErrConflict indicates a uniqueness violation, e.g. a taken username
	ErrConflict = errors.New("conflict")

	// ErrStorage indicates a file system or persistence failure
	ErrStorage = errors.New("storage failure")
)

// IsImageRejection reports whether err is one of the upload rejection reasons.
func IsImageRejection(err error) bool {
	return errors.Is(err, ErrOversize) ||
		errors.Is(err, ErrInvalidFormat) ||
		errors.Is(err, ErrUnsupportedExtension)
}

// HTTPStatus maps an error from the taxonomy to the response status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation), IsImageRejection(err):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the text that is safe to show to a client.
// Internal failures are collapsed into a generic message.
func PublicMessage(err error) string {
	if HTTPStatus(err) == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}
