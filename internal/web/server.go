// Package web serves the HTTP surface: static UI files, the read-only
// /api endpoints, the one-shot /api/annotate pipeline, and the /ws
// WebSocket JSONRPC transport.
//
// The server binds loopback only; there is no authentication layer.
package web

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xpto/blot/internal/ccj"
	"github.com/xpto/blot/internal/session"
)

//go:embed index.html
var embeddedIndex []byte

// Source extensions listed by /api/files.
var sourceExtensions = map[string]bool{
	".c": true, ".cpp": true, ".h": true, ".hpp": true,
}

// Server is the HTTP/WebSocket front end over the shared session state.
type Server struct {
	shared  *session.Shared
	webRoot string // optional on-disk override for the embedded UI
	log     *slog.Logger
}

// NewServer creates a Server. webRoot may be empty, in which case the
// embedded index page is served.
func NewServer(shared *session.Shared, webRoot string) *Server {
	return &Server{shared: shared, webRoot: webRoot, log: shared.Log.With("component", "web")}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/files", s.handleFiles)
	mux.HandleFunc("GET /api/source", s.handleSource)
	mux.HandleFunc("POST /api/annotate", s.handleAnnotate)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /", s.handleStatic)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("write response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ccj":          s.shared.DB.Path(),
		"project_root": s.shared.DB.ProjectRoot(),
		"tu_count":     s.shared.DB.Len(),
	})
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	root := s.shared.DB.ProjectRoot()
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return nil
		}
		if !sourceExtensions[filepath.Ext(path)] {
			return nil
		}
		if rel, err := filepath.Rel(root, path); err == nil {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sort.Strings(files)
	if files == nil {
		files = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (s *Server) handleSource(w http.ResponseWriter, r *http.Request) {
	fileParam := r.URL.Query().Get("file")
	if fileParam == "" {
		s.writeError(w, http.StatusBadRequest, "missing file param")
		return
	}
	resolved, err := ccj.ResolveWithin(s.shared.DB.ProjectRoot(), fileParam)
	if err != nil {
		s.writeError(w, http.StatusForbidden, "path traversal denied")
		return
	}
	content, err := os.ReadFile(resolved)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "file not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"file":    fileParam,
		"content": string(content),
	})
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(r.URL.Path, "/")
	if rel == "" || rel == "index.html" {
		if s.webRoot == "" {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write(embeddedIndex)
			return
		}
		rel = "index.html"
	}
	if s.webRoot == "" {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("%s: not found in web root", rel))
		return
	}
	resolved, err := ccj.ResolveWithin(s.webRoot, rel)
	if err != nil {
		s.writeError(w, http.StatusForbidden, "path traversal denied")
		return
	}
	content, err := os.ReadFile(resolved)
	if err != nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("%s: not found in web root", rel))
		return
	}
	w.Header().Set("Content-Type", contentTypeFor(filepath.Ext(resolved)))
	w.Write(content)
}

func contentTypeFor(ext string) string {
	switch ext {
	case ".html":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css"
	case ".js":
		return "application/javascript"
	default:
		return "application/octet-stream"
	}
}
