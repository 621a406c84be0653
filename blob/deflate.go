package blob

import (
	"io"

	"github.com/klauspost/compress/flate"
)

// TypeDeflate tags blobs compressed with raw DEFLATE.
const TypeDeflate = "dfl"

// Deflate is a Compressor using raw DEFLATE streams.
type Deflate struct {
	// Level is the compression level; 0 means flate.DefaultCompression.
	Level int
}

var _ Compressor = Deflate{}

func (Deflate) Type() string { return TypeDeflate }

func (d Deflate) Compress(r io.Reader) io.Reader {
	level := d.Level
	if level == 0 {
		level = flate.DefaultCompression
	}
	pr, pw := io.Pipe()
	go func() {
		fw, err := flate.NewWriter(pw, level)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(fw, r); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(fw.Close())
	}()
	return pr
}

func (Deflate) Decompress(r io.Reader) (io.ReadCloser, error) {
	return flate.NewReader(r), nil
}
