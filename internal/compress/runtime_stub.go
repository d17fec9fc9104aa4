//go:build !govips || !cgo

package compress

import "errors"

func Startup() error {
	return nil
}

func Shutdown() {}

// newEncoder refuses to build without a WebP encoder, since most buckets publish WebP.
func newEncoder() (Encoder, error) {
	if !webpSupported {
		return nil, errors.New("compress: webp encoding needs cgo or the govips build")
	}
	return stdEncoder{}, nil
}
