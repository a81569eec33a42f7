package middleware

import (
	"mime"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

// BrotliConfig tunes response compression.
type BrotliConfig struct {
	Quality   int
	MinLength int
	// ExcludedPaths are route prefixes that are never compressed.
	ExcludedPaths []string
}

var DefaultBrotliConfig = BrotliConfig{
	Quality:   brotli.DefaultCompression,
	MinLength: 1024,
}

// compressibleTypes are the media types worth compressing. Images are
// already compressed.
var compressibleTypes = map[string]bool{
	"text/html":        true,
	"text/plain":       true,
	"text/css":         true,
	"application/json": true,
}

// brotliWriter buffers the first MinLength bytes, then decides from the
// Content-Type whether to compress the rest of the body.
type brotliWriter struct {
	gin.ResponseWriter
	quality     int
	minLength   int
	buf         []byte
	writer      *brotli.Writer
	decided     bool
	passthrough bool
}

func (bw *brotliWriter) Write(data []byte) (int, error) {
	if !bw.decided {
		bw.decided = true
		bw.passthrough = !compressible(bw.Header().Get("Content-Type"))
	}
	if bw.passthrough {
		return bw.ResponseWriter.Write(data)
	}
	if bw.writer != nil {
		return bw.writer.Write(data)
	}

	bw.buf = append(bw.buf, data...)
	if len(bw.buf) < bw.minLength {
		return len(data), nil
	}

	h := bw.Header()
	h.Set("Content-Encoding", "br")
	h.Del("Content-Length")
	bw.writer = brotli.NewWriterLevel(bw.ResponseWriter, bw.quality)
	if _, err := bw.writer.Write(bw.buf); err != nil {
		return 0, err
	}
	bw.buf = nil
	return len(data), nil
}

func (bw *brotliWriter) WriteString(s string) (int, error) {
	return bw.Write([]byte(s))
}

// finish closes the compressor or, for short bodies, writes them as-is.
func (bw *brotliWriter) finish() error {
	if bw.writer != nil {
		return bw.writer.Close()
	}
	if len(bw.buf) == 0 {
		return nil
	}
	_, err := bw.ResponseWriter.Write(bw.buf)
	bw.buf = nil
	return err
}

func Brotli() gin.HandlerFunc {
	return BrotliWithConfig(DefaultBrotliConfig)
}

func BrotliWithConfig(cfg BrotliConfig) gin.HandlerFunc {
	if cfg.Quality < 0 || cfg.Quality > 11 {
		cfg.Quality = brotli.DefaultCompression
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultBrotliConfig.MinLength
	}

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodHead || excluded(c.Request.URL.Path, cfg.ExcludedPaths) {
			c.Next()
			return
		}

		c.Header("Vary", "Accept-Encoding")
		if !acceptsBrotli(c.Request) {
			c.Next()
			return
		}

		bw := &brotliWriter{
			ResponseWriter: c.Writer,
			quality:        cfg.Quality,
			minLength:      cfg.MinLength,
		}
		defer func() {
			if err := bw.finish(); err != nil {
				_ = c.Error(err)
			}
		}()

		c.Writer = bw
		c.Next()
	}
}

func excluded(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func compressible(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return compressibleTypes[mt]
}

func acceptsBrotli(r *http.Request) bool {
	ae := r.Header.Get("Accept-Encoding")
	for _, enc := range strings.Split(ae, ",") {
		// Ignore quality values, but honour an explicit q=0.
		name, params, _ := strings.Cut(strings.TrimSpace(enc), ";")
		if strings.EqualFold(strings.TrimSpace(name), "br") {
			return strings.ReplaceAll(params, " ", "") != "q=0"
		}
	}
	return false
}
