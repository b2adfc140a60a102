package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/dgallion1/mapread/internal/mapping"
	"github.com/dgallion1/mapread/internal/parser"
	"github.com/dgallion1/mapread/internal/pipeline"
)

// handleRead reads the request body as one mapping document.
func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	kind := mapping.SourceInputStream
	if k := q.Get("kind"); k != "" {
		var ok bool
		if kind, ok = mapping.ParseSourceKind(k); !ok {
			jsonError(w, fmt.Sprintf("unknown origin kind: %s", k), http.StatusBadRequest)
			return
		}
	}
	name := q.Get("origin")
	if name == "" {
		name = "request"
	}
	origin := mapping.NewOrigin(kind, name)

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, fmt.Sprintf("document exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, "failed to read body", http.StatusBadRequest)
		return
	}

	doc, err := s.reader.Read(s.resolver, parser.NewSource(bytes.NewReader(data), name), origin)
	out := pipeline.NewOutcome(origin, doc, err)
	out.Digest = pipeline.ContentHashHex(data)
	writeJSON(w, outcomeStatus(out), out)
}

// outcomeStatus maps a read outcome to a response code. Document defects are
// 422; a schema that cannot be loaded is a server defect.
func outcomeStatus(o pipeline.Outcome) int {
	switch {
	case o.Valid:
		return http.StatusOK
	case o.ErrorKind == pipeline.KindSchemaLoad, o.ErrorKind == pipeline.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." || name == "/" {
		name = "unnamed"
	}
	return name
}
