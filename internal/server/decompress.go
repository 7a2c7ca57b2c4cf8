package server

import (
	"compress/flate"
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/labstack/echo/v4"
)

// maxDecompressedBody bounds how much an encoded request body may expand to.
const maxDecompressedBody = 16 << 20

// DecompressMiddleware transparently decodes gzip, deflate and brotli
// request bodies so handlers always see plain JSON.
func DecompressMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			encoding := strings.ToLower(strings.TrimSpace(req.Header.Get("Content-Encoding")))
			if encoding == "" || encoding == "identity" || req.Body == nil {
				return next(c)
			}

			var reader io.ReadCloser
			switch encoding {
			case "gzip":
				gz, err := gzip.NewReader(req.Body)
				if err != nil {
					return c.JSON(http.StatusBadRequest, map[string]any{
						"error": map[string]any{
							"type":    "invalid_request_error",
							"message": "malformed gzip request body",
						},
					})
				}
				reader = gz
			case "deflate":
				reader = flate.NewReader(req.Body)
			case "br":
				reader = io.NopCloser(brotli.NewReader(req.Body))
			default:
				return c.JSON(http.StatusUnsupportedMediaType, map[string]any{
					"error": map[string]any{
						"type":    "invalid_request_error",
						"message": "unsupported content encoding: " + encoding,
					},
				})
			}
			defer reader.Close()

			req.Body = io.NopCloser(io.LimitReader(reader, maxDecompressedBody))
			req.Header.Del("Content-Encoding")
			req.ContentLength = -1

			return next(c)
		}
	}
}
