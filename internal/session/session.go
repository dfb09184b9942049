// Package session implements the request/session engine: one Session
// per transport connection, owning the token counter and the
// two-level, three-phase pipeline caches, plus the JSONRPC dispatcher
// and method handlers that drive them.
//
// Concurrency model: a Session is exclusively owned by its transport
// loop, which feeds it one frame at a time. All cache mutation happens
// on that single goroutine, so the caches need no locking and within a
// session at most one compile is ever in flight. Cross-session state
// (the compilation database, the producer) is immutable after load and
// shared by reference.
package session

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/xpto/blot/internal/annotate"
	"github.com/xpto/blot/internal/asmgen"
	"github.com/xpto/blot/internal/ccj"
	"github.com/xpto/blot/internal/command"
)

// Token is a session-local identifier for a cached pipeline stage.
// Tokens are minted at inference time, reused by the downstream stages,
// and are never visible to other sessions.
type Token = int64

// Shared is the cross-session immutable state every Session hangs off.
type Shared struct {
	DB       *ccj.Database
	Producer *asmgen.Producer
	Version  string
	Log      *slog.Logger
}

// NewShared assembles the cross-session state around a loaded
// compilation database.
func NewShared(db *ccj.Database, version string) *Shared {
	return &Shared{
		DB:       db,
		Producer: asmgen.New(),
		Version:  version,
		Log:      slog.Default(),
	}
}

// Sink carries one outgoing JSONRPC message (response or notification)
// to the transport. Implementations may drop notifications but must
// deliver responses; the stdio and WebSocket sinks deliver both.
type Sink interface {
	Send(msg any) error
}

// Session is the per-connection state. Create with New, drive with
// Dispatch, drop on disconnect; the caches die with it.
type Session struct {
	id     string
	ctx    context.Context
	shared *Shared
	sink   Sink
	log    *slog.Logger

	nextToken   Token
	tempCounter int64

	inferCache1    map[Token]command.Inference
	inferCache2    map[string]Token // file param → last successful infer token
	asmCache1      map[Token]*asmgen.Artifact
	asmCache2      map[string]Token // canonical key → first producing token
	annotateCache1 map[Token]map[annotate.Options]*annotatedAsm
}

// New creates a Session bound to one transport connection. ctx should
// be canceled when the connection closes; an in-flight compile is
// killed with it.
func New(ctx context.Context, shared *Shared, sink Sink) *Session {
	id := uuid.NewString()
	return &Session{
		id:             id,
		ctx:            ctx,
		shared:         shared,
		sink:           sink,
		log:            shared.Log.With("session", id),
		inferCache1:    make(map[Token]command.Inference),
		inferCache2:    make(map[string]Token),
		asmCache1:      make(map[Token]*asmgen.Artifact),
		asmCache2:      make(map[string]Token),
		annotateCache1: make(map[Token]map[annotate.Options]*annotatedAsm),
	}
}

// ID returns the session's unique id (used in temp-file names).
func (s *Session) ID() string { return s.id }

// mint returns the next token. The counter starts at 1.
func (s *Session) mint() Token {
	s.nextToken++
	return s.nextToken
}

func (s *Session) send(msg any) {
	if err := s.sink.Send(msg); err != nil {
		s.log.Warn("send failed", "error", err)
	}
}

// Cached tells the caller how a result was satisfied. It marshals as
// JSON false for a miss, or as the strings "token" / "other".
type Cached string

const (
	// CacheMiss means the stage did real work.
	CacheMiss Cached = ""
	// CacheHitToken means the caller's own token matched a cached stage.
	CacheHitToken Cached = "token"
	// CacheHitOther means a different token's artifact satisfied the
	// request (same file, or same canonical key).
	CacheHitOther Cached = "other"
)

// MarshalJSON emits false for a miss and the hit kind otherwise.
func (c Cached) MarshalJSON() ([]byte, error) {
	if c == CacheMiss {
		return []byte("false"), nil
	}
	return json.Marshal(string(c))
}
