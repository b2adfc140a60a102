package api

import (
	"net/http"

	"github.com/dgallion1/mapread/internal/schema"
)

type schemaInfo struct {
	Version  schema.Version `json:"version"`
	Resource string         `json:"resource"`
	Compiled bool           `json:"compiled"`
}

func (s *Server) handleSchemas(w http.ResponseWriter, r *http.Request) {
	versions := schema.SupportedVersions()
	out := make([]schemaInfo, 0, len(versions))
	for _, v := range versions {
		out = append(out, schemaInfo{
			Version:  v,
			Resource: v.Resource(),
			Compiled: s.schemas != nil && s.schemas.Compiled(v),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"assumed_version": schema.AssumedVersion,
		"schemas":         out,
	})
}
