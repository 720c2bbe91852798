package backend

import (
	"errors"
	"fmt"

	"github.com/jo-hoe/buracos/internal/common"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// multipartOverhead leaves room for the form fields and multipart envelope
// around the largest accepted image.
const multipartOverhead = 1 << 20

// RequestBodyLimit is the largest request body accepted when images may be up
// to maxImageBytes.
func RequestBodyLimit(maxImageBytes int64) int64 {
	return maxImageBytes + multipartOverhead
}

// LimitBody rejects request bodies larger than limit bytes. Oversized requests
// are handed to reject with an error wrapping common.ErrOversize so each
// surface can answer in its own format.
func LimitBody(limit int64, reject func(echo.Context, error) error) echo.MiddlewareFunc {
	bodyLimit := middleware.BodyLimit(fmt.Sprintf("%dK", (limit+1023)/1024))
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		limited := bodyLimit(next)
		return func(ctx echo.Context) error {
			err := limited(ctx)
			if errors.Is(err, echo.ErrStatusRequestEntityTooLarge) {
				return reject(ctx, oversizeBody(limit))
			}
			return err
		}
	}
}

func oversizeBody(limit int64) error {
	return fmt.Errorf("%w: request body exceeds %d bytes", common.ErrOversize, limit)
}
