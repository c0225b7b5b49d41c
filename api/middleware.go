package api

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// maxInflatedSize caps a decompressed request body.
const maxInflatedSize = 4 << 20

var errInflatedTooLarge = errors.New("decompressed body too large")

// GzipRequestConfig configures GzipRequestWithConfig.
type GzipRequestConfig struct {
	// Skipper leaves matching requests compressed. Defaults to skipping
	// signed webhook routes, whose handlers verify the raw bytes first.
	Skipper middleware.Skipper
	// Limit is the most bytes a body may inflate to. Defaults to
	// maxInflatedSize.
	Limit int64
}

// GzipRequestMiddleware inflates gzip request bodies with the default
// config. Bulk payloads from tablets are usually compressed.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return GzipRequestWithConfig(GzipRequestConfig{})
}

// GzipRequestWithConfig inflates gzip request bodies. Invalid gzip is
// rejected with a 400; a body that inflates past the limit fails on read.
func GzipRequestWithConfig(cfg GzipRequestConfig) echo.MiddlewareFunc {
	if cfg.Skipper == nil {
		cfg.Skipper = skipSignedRoutes
	}
	if cfg.Limit <= 0 {
		cfg.Limit = maxInflatedSize
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if cfg.Skipper(c) || !hasGzipEncoding(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}

			body, err := inflate(req.Body, cfg.Limit)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
			}
			req.Body = body
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

func skipSignedRoutes(c echo.Context) bool {
	return c.Path() == routeOrderWebhook
}

func hasGzipEncoding(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

// inflate wraps a gzip stream so it yields at most limit bytes. The source
// is closed together with the returned reader.
func inflate(src io.ReadCloser, limit int64) (io.ReadCloser, error) {
	gr, err := gzip.NewReader(src)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	return &gzipReadCloser{gr: gr, src: src, remaining: limit}, nil
}

type gzipReadCloser struct {
	gr        *gzip.Reader
	src       io.Closer
	remaining int64
}

func (g *gzipReadCloser) Read(p []byte) (int, error) {
	if g.remaining <= 0 {
		var one [1]byte
		n, err := g.gr.Read(one[:])
		if n > 0 {
			return 0, errInflatedTooLarge
		}
		if err == nil {
			err = io.EOF
		}
		return 0, err
	}
	if int64(len(p)) > g.remaining {
		p = p[:g.remaining]
	}
	n, err := g.gr.Read(p)
	g.remaining -= int64(n)
	return n, err
}

func (g *gzipReadCloser) Close() error {
	err := g.gr.Close()
	if cerr := g.src.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
