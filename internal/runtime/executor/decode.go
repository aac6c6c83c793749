package executor

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"
)

// decodeBody returns data decoded according to a Content-Encoding header
// value. Unknown encodings are returned unchanged.
func decodeBody(encoding string, data []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return data, nil
	case "gzip":
		reader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer func() {
			if errClose := reader.Close(); errClose != nil {
				log.WithError(errClose).Warn("failed to close gzip reader")
			}
		}()
		return readAllDecoded(reader, "gzip")
	case "deflate":
		reader := flate.NewReader(bytes.NewReader(data))
		defer func() {
			if errClose := reader.Close(); errClose != nil {
				log.WithError(errClose).Warn("failed to close deflate reader")
			}
		}()
		return readAllDecoded(reader, "deflate")
	case "br":
		return readAllDecoded(brotli.NewReader(bytes.NewReader(data)), "brotli")
	case "zstd":
		decoder, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer decoder.Close()
		return readAllDecoded(decoder, "zstd")
	default:
		log.Debugf("unsupported content encoding %q, leaving body as is", encoding)
		return data, nil
	}
}

func readAllDecoded(r io.Reader, name string) ([]byte, error) {
	decoded, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s data: %w", name, err)
	}
	return decoded, nil
}

// readResponseBody drains and closes resp.Body, decoding it when the
// upstream set a Content-Encoding. The header is removed once decoded.
func readResponseBody(resp *http.Response) ([]byte, error) {
	raw, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream body: %w", err)
	}
	encoding := resp.Header.Get("Content-Encoding")
	decoded, err := decodeBody(encoding, raw)
	if err != nil {
		return nil, err
	}
	if encoding != "" {
		resp.Header.Del("Content-Encoding")
	}
	return decoded, nil
}

// replaceBody installs data as the new response body and fixes the length headers.
func replaceBody(resp *http.Response, data []byte) {
	resp.Body = io.NopCloser(bytes.NewReader(data))
	resp.ContentLength = int64(len(data))
	resp.Header.Set("Content-Length", strconv.Itoa(len(data)))
	resp.Uncompressed = true
}
