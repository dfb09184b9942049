package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/xpto/blot/internal/annotate"
	"github.com/xpto/blot/internal/asmgen"
	"github.com/xpto/blot/internal/ccj"
	"github.com/xpto/blot/internal/infer"
)

type annotateRequest struct {
	File    string           `json:"file"`
	Options annotate.Options `json:"options"`
}

type annotateError struct {
	Name    string   `json:"name"`
	Details string   `json:"details"`
	Stderr  []string `json:"stderr,omitempty"`
}

type annotateResponse struct {
	File         string             `json:"file"`
	Options      annotate.Options   `json:"annotation_options"`
	Assembly     []string           `json:"assembly,omitempty"`
	LineMappings []annotate.Mapping `json:"line_mappings,omitempty"`
	Error        *annotateError     `json:"error,omitempty"`
}

// handleAnnotate runs the whole pipeline for one file in one request:
// infer, compile, annotate. Pipeline failures come back as HTTP 200
// with an error object in the body so the UI can render diagnostics;
// only malformed requests and traversal attempts get error statuses.
func (s *Server) handleAnnotate(w http.ResponseWriter, r *http.Request) {
	var req annotateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.File == "" {
		s.writeError(w, http.StatusBadRequest, `missing "file"`)
		return
	}

	absTarget, err := ccj.ResolveWithin(s.shared.DB.ProjectRoot(), req.File)
	if err != nil {
		s.writeError(w, http.StatusForbidden, "path traversal denied")
		return
	}

	resp := annotateResponse{File: req.File, Options: req.Options}

	result, err := s.runPipeline(r, absTarget, req.Options)
	if err != nil {
		resp.Error = toAnnotateError(err)
		s.writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Assembly = result.Lines
	resp.LineMappings = result.Mappings
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) runPipeline(r *http.Request, absTarget string, opts annotate.Options) (*annotate.Result, error) {
	inf, err := infer.Infer(s.shared.DB, absTarget)
	if err != nil {
		return nil, err
	}
	s.log.Info("annotate pipeline", "file", absTarget)

	tempName := fmt.Sprintf("blot-http-%s.s", uuid.NewString())
	artifact, err := s.shared.Producer.Produce(r.Context(), inf, tempName)
	if err != nil {
		return nil, err
	}
	return annotate.Annotate(artifact.Raw, opts, absTarget)
}

func toAnnotateError(err error) *annotateError {
	var notFound *infer.NotFoundError
	if errors.As(err, &notFound) {
		return &annotateError{
			Name:    "not_found",
			Details: "no compilation database entry found for this file",
		}
	}
	var compileErr *asmgen.CompileError
	if errors.As(err, &compileErr) {
		return &annotateError{
			Name:    "compile_failed",
			Details: compileErr.Error(),
			Stderr:  strings.Split(strings.TrimRight(compileErr.Stderr, "\n"), "\n"),
		}
	}
	return &annotateError{Name: "internal", Details: err.Error()}
}
