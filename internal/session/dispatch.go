package session

import (
	"encoding/json"
	"time"

	"github.com/xpto/blot/internal/jsonrpc"
)

// Method names served by the dispatcher.
const (
	MethodInitialize = "initialize"
	MethodShutdown   = "shutdown"
	MethodExit       = "exit"
	MethodInfer      = "blot/infer"
	MethodGrabAsm    = "blot/grab_asm"
	MethodAnnotate   = "blot/annotate"

	// MethodProgress is the server-originated notification emitted
	// around every blot/* request.
	MethodProgress = "blot/progress"
)

// Dispatch processes one raw JSONRPC frame: parse, route, reply.
// It returns false when the transport loop should stop (an exit
// notification). Failures never poison the session; the next frame is
// processed normally.
func (s *Session) Dispatch(raw []byte) bool {
	req, rpcErr := s.parse(raw)
	if rpcErr != nil {
		var id json.RawMessage
		if req != nil {
			id = req.ID
		}
		s.send(jsonrpc.NewErrorResponse(id, rpcErr))
		return true
	}

	if req.Method == MethodExit {
		s.log.Debug("exit notification, closing session")
		return false
	}

	result, err := s.handle(req)

	// Notifications get work but no response.
	if req.IsNotification() {
		return true
	}
	if err != nil {
		s.send(jsonrpc.NewErrorResponse(req.ID, jsonrpc.AsError(err)))
	} else {
		s.send(jsonrpc.NewResponse(req.ID, result))
	}
	return true
}

func (s *Session) parse(raw []byte) (*jsonrpc.Request, *jsonrpc.Error) {
	req, rpcErr := jsonrpc.ParseRequest(raw)
	if rpcErr != nil {
		s.log.Debug("rejecting frame", "code", rpcErr.Code, "error", rpcErr.Message)
	}
	return req, rpcErr
}

func (s *Session) handle(req *jsonrpc.Request) (any, error) {
	switch req.Method {
	case MethodInitialize:
		return s.handleInitialize()
	case MethodShutdown:
		return struct{}{}, nil
	case MethodInfer:
		return s.withProgress(req, "infer", s.doInfer)
	case MethodGrabAsm:
		return s.withProgress(req, "grab_asm", s.doGrabAsm)
	case MethodAnnotate:
		return s.withProgress(req, "annotate", s.doAnnotate)
	default:
		return nil, jsonrpc.Errorf(jsonrpc.CodeMethodNotFound, "method not found: %q", req.Method)
	}
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ServerInfo  serverInfo `json:"serverInfo"`
	CCJ         string     `json:"ccj"`
	ProjectRoot string     `json:"project_root"`
}

func (s *Session) handleInitialize() (any, error) {
	return initializeResult{
		ServerInfo:  serverInfo{Name: "blot", Version: s.shared.Version},
		CCJ:         s.shared.DB.Path(),
		ProjectRoot: s.shared.DB.ProjectRoot(),
	}, nil
}

// cachedResult lets withProgress pick the terminal progress status off
// any handler result.
type cachedResult interface {
	cacheStatus() Cached
}

// withProgress wraps a pipeline handler with the two progress frames:
// a running frame before any work, and a terminal done/cached/error
// frame carrying elapsed_ms. Both frames are emitted on every request,
// cache hits and failures included.
func (s *Session) withProgress(req *jsonrpc.Request, phase string, fn func(params json.RawMessage) (cachedResult, error)) (any, error) {
	s.progress(req.ID, phase, "running", nil)
	t0 := time.Now()

	result, err := fn(req.Params)

	elapsed := time.Since(t0).Milliseconds()
	switch {
	case err != nil:
		s.progress(req.ID, phase, "error", &elapsed)
		return nil, err
	case result.cacheStatus() != CacheMiss:
		s.progress(req.ID, phase, "cached", &elapsed)
	default:
		s.progress(req.ID, phase, "done", &elapsed)
	}
	return result, nil
}

type progressParams struct {
	RequestID json.RawMessage `json:"request_id,omitempty"`
	Phase     string          `json:"phase"`
	Status    string          `json:"status"`
	ElapsedMS *int64          `json:"elapsed_ms,omitempty"`
}

func (s *Session) progress(id json.RawMessage, phase, status string, elapsedMS *int64) {
	s.send(jsonrpc.NewNotification(MethodProgress, progressParams{
		RequestID: id,
		Phase:     phase,
		Status:    status,
		ElapsedMS: elapsedMS,
	}))
}
