package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/mapread/internal/mapping"
	"github.com/dgallion1/mapread/internal/parser"
	"github.com/dgallion1/mapread/internal/pipeline"
)

const maxBatchFiles = 100

type rejectedFile struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes*10+10*1024*1024)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		jsonError(w, "at least one file is required", http.StatusBadRequest)
		return
	}
	if len(files) > maxBatchFiles {
		jsonError(w, fmt.Sprintf("too many files (max %d)", maxBatchFiles), http.StatusBadRequest)
		return
	}

	var (
		inputs   []pipeline.Input
		rejected []rejectedFile
	)
	for _, fh := range files {
		filename := sanitizeFilename(fh.Filename)
		if !parser.IsMappingFile(filename) {
			rejected = append(rejected, rejectedFile{filename, "not a mapping document"})
			continue
		}

		f, err := fh.Open()
		if err != nil {
			rejected = append(rejected, rejectedFile{filename, "failed to open file"})
			continue
		}
		data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
		f.Close()
		if err != nil || int64(len(data)) > s.cfg.MaxUploadBytes {
			rejected = append(rejected, rejectedFile{filename, "file too large or read error"})
			continue
		}

		inputs = append(inputs, pipeline.Input{Name: filename, Kind: mapping.SourceFile, Data: data})
	}

	if len(inputs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":    "no readable mapping documents",
			"rejected": rejected,
		})
		return
	}

	job, err := s.orchestrator.Submit(pipeline.NewJob(inputs))
	if err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	snap := job.Snapshot()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":   snap.ID,
		"status":   snap.Status,
		"files":    len(inputs),
		"rejected": rejected,
		"poll_url": fmt.Sprintf("/api/mappings/batch/%s", snap.ID),
	})
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.orchestrator.GetJob(jobID)
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}
