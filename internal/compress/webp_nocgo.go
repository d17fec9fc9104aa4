//go:build !cgo

package compress

import (
	"errors"
	"image"
	"io"
)

const webpSupported = false

func encodeWebP(_ io.Writer, _ image.Image, _ int) error {
	return errors.New("webp export requires cgo")
}
