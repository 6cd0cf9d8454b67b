// Copyright 2026 The Atrium Authors
// SPDX-License-Identifier: Apache-2.0

package webdir

import (
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// compressibleExtensions are served gzip-compressed when the client
// accepts it. Already-compressed formats (images, archives, fonts)
// are excluded: recompressing them wastes CPU for nothing.
var compressibleExtensions = map[string]bool{
	".html": true,
	".css":  true,
	".js":   true,
	".mjs":  true,
	".json": true,
	".svg":  true,
	".txt":  true,
	".xml":  true,
	".md":   true,
	".csv":  true,
	".wasm": true,
}

// minCompressSize skips gzip for tiny files where the frame overhead
// exceeds the savings.
const minCompressSize = 512

// Handler serves files from per-route roots. One handler serves all
// static routes; the root comes in per call from the matched rule.
type Handler struct {
	log *slog.Logger
}

// New creates a static file handler. A nil logger means slog.Default.
func New(logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{log: logger}
}

// Serve resolves the request path inside root and writes the file.
// Directories serve their index.html. Unresolvable, escaping, or
// unreadable paths are all the same 404.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, root string) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	full, ok := resolve(root, r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	info, err := os.Stat(full)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if info.IsDir() {
		full = filepath.Join(full, "index.html")
		info, err = os.Stat(full)
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}
	}

	file, err := os.Open(full)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer file.Close()

	if h.compressable(r, full, info.Size()) {
		h.serveCompressed(w, r, full, file)
		return
	}
	// ServeContent handles content type, ranges, and If-Modified-Since.
	http.ServeContent(w, r, full, info.ModTime(), file)
}

func (h *Handler) compressable(r *http.Request, full string, size int64) bool {
	if size < minCompressSize {
		return false
	}
	// Range requests address offsets in the identity encoding; mixing
	// them with on-the-fly compression produces garbage.
	if r.Header.Get("Range") != "" {
		return false
	}
	if !compressibleExtensions[strings.ToLower(filepath.Ext(full))] {
		return false
	}
	for _, encoding := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		if name, _, _ := strings.Cut(strings.TrimSpace(encoding), ";"); name == "gzip" {
			return true
		}
	}
	return false
}

func (h *Handler) serveCompressed(w http.ResponseWriter, r *http.Request, full string, file *os.File) {
	header := w.Header()
	if contentType := mimeByExtension(full); contentType != "" {
		header.Set("Content-Type", contentType)
	}
	header.Set("Content-Encoding", "gzip")
	header.Add("Vary", "Accept-Encoding")

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	gz := gzip.NewWriter(w)
	if _, err := io.Copy(gz, file); err != nil {
		// Headers are out; nothing to do but log and drop.
		h.log.Debug("static file write failed", "path", r.URL.Path, "error", err)
		return
	}
	if err := gz.Close(); err != nil {
		h.log.Debug("static file flush failed", "path", r.URL.Path, "error", err)
	}
}

func mimeByExtension(full string) string {
	switch strings.ToLower(filepath.Ext(full)) {
	case ".html":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js", ".mjs":
		return "text/javascript; charset=utf-8"
	case ".json":
		return "application/json"
	case ".svg":
		return "image/svg+xml"
	case ".txt", ".md":
		return "text/plain; charset=utf-8"
	case ".xml":
		return "text/xml; charset=utf-8"
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".wasm":
		return "application/wasm"
	}
	return ""
}

// resolve maps a request path to a filesystem path under root, or
// reports false for anything that could escape it. Cleaning a rooted
// path removes every ".." segment, so the join cannot climb out; the
// remaining checks reject encodings Clean does not see through.
func resolve(root, requestPath string) (string, bool) {
	if strings.ContainsAny(requestPath, "\x00\\") {
		return "", false
	}
	cleaned := path.Clean("/" + requestPath)
	return filepath.Join(root, filepath.FromSlash(cleaned)), true
}
