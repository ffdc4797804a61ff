package query

import (
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

var gzipReaderPool = sync.Pool{}

// gzipBody decompresses a response body and returns its reader to the pool on Close.
type gzipBody struct {
	body io.ReadCloser
	zr   *gzip.Reader
}

func newGzipBody(body io.ReadCloser) (*gzipBody, error) {
	var zr *gzip.Reader
	var err error
	if pooled, ok := gzipReaderPool.Get().(*gzip.Reader); ok {
		zr = pooled
		err = zr.Reset(body)
	} else {
		zr, err = gzip.NewReader(body)
	}
	if err != nil {
		if zr != nil {
			gzipReaderPool.Put(zr)
		}
		return nil, err
	}
	return &gzipBody{body: body, zr: zr}, nil
}

func (g *gzipBody) Read(p []byte) (int, error) {
	return g.zr.Read(p)
}

func (g *gzipBody) Close() error {
	if g.zr != nil {
		_ = g.zr.Close()
		gzipReaderPool.Put(g.zr)
		g.zr = nil
	}
	return g.body.Close()
}
