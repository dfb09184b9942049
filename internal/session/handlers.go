package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/xpto/blot/internal/annotate"
	"github.com/xpto/blot/internal/asmgen"
	"github.com/xpto/blot/internal/ccj"
	"github.com/xpto/blot/internal/command"
	"github.com/xpto/blot/internal/infer"
	"github.com/xpto/blot/internal/jsonrpc"
)

// ── blot/infer ───────────────────────────────────────────────────────

type inferParams struct {
	File      *string            `json:"file"`
	Token     *Token             `json:"token"`
	Inference *command.Inference `json:"inference"`
}

type inferResult struct {
	Token     Token             `json:"token"`
	Inference command.Inference `json:"inference"`
	Cached    Cached            `json:"cached"`
}

func (r *inferResult) cacheStatus() Cached { return r.Cached }

func (s *Session) doInfer(raw json.RawMessage) (cachedResult, error) {
	var p inferParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := exactlyOne(p.File != nil, p.Token != nil, p.Inference != nil,
		`"file", "token" or "inference"`); err != nil {
		return nil, err
	}

	switch {
	case p.Token != nil:
		inf, ok := s.inferCache1[*p.Token]
		if !ok {
			return nil, staleToken(*p.Token, "infer")
		}
		return &inferResult{Token: *p.Token, Inference: inf, Cached: CacheHitToken}, nil

	case p.File != nil:
		absTarget, err := ccj.ResolveWithin(s.shared.DB.ProjectRoot(), *p.File)
		if err != nil {
			return nil, jsonrpc.Errorf(jsonrpc.CodeInvalidParams, "%v", err)
		}
		if tok, ok := s.inferCache2[*p.File]; ok {
			return &inferResult{Token: tok, Inference: s.inferCache1[tok], Cached: CacheHitOther}, nil
		}
		inf, err := s.resolveFile(absTarget)
		if err != nil {
			return nil, err
		}
		tok := s.mint()
		s.inferCache1[tok] = inf
		s.inferCache2[*p.File] = tok
		s.log.Info("inferred", "file", *p.File, "token", tok)
		return &inferResult{Token: tok, Inference: inf, Cached: CacheMiss}, nil

	default:
		inf, err := canonicalizeExplicit(*p.Inference)
		if err != nil {
			return nil, err
		}
		tok := s.mint()
		s.inferCache1[tok] = inf
		return &inferResult{Token: tok, Inference: inf, Cached: CacheMiss}, nil
	}
}

func (s *Session) resolveFile(absTarget string) (command.Inference, error) {
	inf, err := infer.Infer(s.shared.DB, absTarget)
	if err != nil {
		var notFound *infer.NotFoundError
		if errors.As(err, &notFound) {
			return command.Inference{}, jsonrpc.Errorf(jsonrpc.CodeInvalidParams,
				"no compilation database entry for %q", absTarget)
		}
		var invalid *command.InvalidCommandError
		if errors.As(err, &invalid) {
			return command.Inference{}, jsonrpc.Errorf(jsonrpc.CodeInvalidParams, "%v", invalid)
		}
		return command.Inference{}, err
	}
	return inf, nil
}

// canonicalizeExplicit validates a caller-supplied inference. The argv
// is trusted as already canonical; only the directory is cleaned.
func canonicalizeExplicit(inf command.Inference) (command.Inference, error) {
	if len(inf.CompilationCommand) == 0 || inf.CompilationDirectory == "" || inf.AnnotationTarget == "" {
		return command.Inference{}, jsonrpc.NewError(jsonrpc.CodeInvalidParams,
			`"inference" requires compilation_command, compilation_directory and annotation_target`)
	}
	inf.CompilationDirectory = filepath.Clean(inf.CompilationDirectory)
	return inf, nil
}

// ── blot/grab_asm ────────────────────────────────────────────────────

type grabAsmParams struct {
	Token     *Token             `json:"token"`
	Inference *command.Inference `json:"inference"`
}

type grabAsmResult struct {
	Token              Token    `json:"token"`
	CompilationCommand []string `json:"compilation_command"`
	Cached             Cached   `json:"cached"`
}

func (r *grabAsmResult) cacheStatus() Cached { return r.Cached }

func (s *Session) doGrabAsm(raw json.RawMessage) (cachedResult, error) {
	var p grabAsmParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := exactlyOne(p.Token != nil, p.Inference != nil, false,
		`"token" or "inference"`); err != nil {
		return nil, err
	}

	var tok Token
	var inf command.Inference
	if p.Token != nil {
		tok = *p.Token
		if artifact, ok := s.asmCache1[tok]; ok {
			return &grabAsmResult{Token: tok, CompilationCommand: artifact.EffectiveCommand, Cached: CacheHitToken}, nil
		}
		cached, ok := s.inferCache1[tok]
		if !ok {
			return nil, staleToken(tok, "infer")
		}
		inf = cached
	} else {
		canonical, err := canonicalizeExplicit(*p.Inference)
		if err != nil {
			return nil, err
		}
		inf = canonical
		tok = s.mint()
		s.inferCache1[tok] = inf
	}

	key := inf.Key()
	if prior, ok := s.asmCache2[key]; ok {
		if artifact, ok := s.asmCache1[prior]; ok {
			return &grabAsmResult{Token: prior, CompilationCommand: artifact.EffectiveCommand, Cached: CacheHitOther}, nil
		}
	}

	s.tempCounter++
	tempName := fmt.Sprintf("blot-%s-%d-%d.s", s.id, tok, s.tempCounter)
	artifact, err := s.shared.Producer.Produce(s.ctx, inf, tempName)
	if err != nil {
		return nil, asCompileError(err)
	}

	s.asmCache1[tok] = artifact
	s.asmCache2[key] = tok
	s.log.Info("produced assembly", "token", tok, "bytes", len(artifact.Raw))
	return &grabAsmResult{Token: tok, CompilationCommand: artifact.EffectiveCommand, Cached: CacheMiss}, nil
}

// asCompileError maps a producer failure onto the wire: compiler
// failures become internal errors carrying stderr in error.data.
func asCompileError(err error) error {
	var compileErr *asmgen.CompileError
	if errors.As(err, &compileErr) {
		return jsonrpc.NewError(jsonrpc.CodeInternalError, compileErr.Error()).
			WithData(map[string]any{
				"stderr":    compileErr.Stderr,
				"exit_code": compileErr.ExitCode,
			})
	}
	return err
}

// ── blot/annotate ────────────────────────────────────────────────────

type annotateParams struct {
	Token   *Token          `json:"token"`
	AsmBlob *string         `json:"asm_blob"`
	Options json.RawMessage `json:"options"`
}

type annotateOptionsParams struct {
	Demangle                 *bool `json:"demangle"`
	PreserveDirectives       *bool `json:"preserve_directives"`
	PreserveComments         *bool `json:"preserve_comments"`
	PreserveLibraryFunctions *bool `json:"preserve_library_functions"`
	PreserveUnusedLabels     *bool `json:"preserve_unused_labels"`
}

type lineMapping struct {
	AsmLineRange [2]int `json:"asm_line_range"`
	SourceFile   string `json:"source_file"`
	SourceLine   int    `json:"source_line"`
}

type annotatedAsm struct {
	Assembly     []string      `json:"assembly"`
	LineMappings []lineMapping `json:"line_mappings"`
}

type annotateResult struct {
	Token *Token `json:"token,omitempty"`
	annotatedAsm
	Cached Cached `json:"cached"`
}

func (r *annotateResult) cacheStatus() Cached { return r.Cached }

func (s *Session) doAnnotate(raw json.RawMessage) (cachedResult, error) {
	var p annotateParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := exactlyOne(p.Token != nil, p.AsmBlob != nil, false,
		`"token" or "asm_blob"`); err != nil {
		return nil, err
	}
	opts, err := parseAnnotateOptions(p.Options)
	if err != nil {
		return nil, err
	}

	if p.AsmBlob != nil {
		// Inline blobs bypass the caches entirely; the response
		// carries no token.
		annotated, err := s.annotateRaw([]byte(*p.AsmBlob), opts, "")
		if err != nil {
			return nil, err
		}
		return &annotateResult{annotatedAsm: *annotated, Cached: CacheMiss}, nil
	}

	tok := *p.Token
	if byOptions, ok := s.annotateCache1[tok]; ok {
		if annotated, ok := byOptions[opts]; ok {
			return &annotateResult{Token: &tok, annotatedAsm: *annotated, Cached: CacheHitToken}, nil
		}
	}

	artifact, ok := s.asmCache1[tok]
	if !ok {
		return nil, staleToken(tok, "asm")
	}

	target := ""
	if inf, ok := s.inferCache1[tok]; ok {
		target = inf.AnnotationTarget
		if !filepath.IsAbs(target) {
			target = filepath.Join(inf.CompilationDirectory, target)
		}
	}

	annotated, err := s.annotateRaw(artifact.Raw, opts, target)
	if err != nil {
		return nil, err
	}

	if s.annotateCache1[tok] == nil {
		s.annotateCache1[tok] = make(map[annotate.Options]*annotatedAsm)
	}
	s.annotateCache1[tok][opts] = annotated
	s.log.Info("annotated", "token", tok, "lines", len(annotated.Assembly))
	return &annotateResult{Token: &tok, annotatedAsm: *annotated, Cached: CacheMiss}, nil
}

func (s *Session) annotateRaw(asm []byte, opts annotate.Options, target string) (*annotatedAsm, error) {
	result, err := annotate.Annotate(asm, opts, target)
	if err != nil {
		var parseErr *annotate.ParseError
		if errors.As(err, &parseErr) {
			return nil, jsonrpc.Errorf(jsonrpc.CodeInternalError, "annotation failed: %v", parseErr)
		}
		return nil, err
	}

	mappings := make([]lineMapping, len(result.Mappings))
	for i, m := range result.Mappings {
		mappings[i] = lineMapping{
			AsmLineRange: [2]int{m.AsmStart, m.AsmEnd},
			SourceFile:   result.SourceFile,
			SourceLine:   m.SourceLine,
		}
	}
	return &annotatedAsm{Assembly: result.Lines, LineMappings: mappings}, nil
}

func parseAnnotateOptions(raw json.RawMessage) (annotate.Options, error) {
	opts := annotate.DefaultOptions()
	if len(raw) == 0 {
		return opts, nil
	}
	var p annotateOptionsParams
	// Unknown option keys are ignored by construction.
	if err := json.Unmarshal(raw, &p); err != nil {
		return opts, jsonrpc.Errorf(jsonrpc.CodeInvalidParams, "invalid options: %v", err)
	}
	setIf(&opts.Demangle, p.Demangle)
	setIf(&opts.PreserveDirectives, p.PreserveDirectives)
	setIf(&opts.PreserveComments, p.PreserveComments)
	setIf(&opts.PreserveLibraryFunctions, p.PreserveLibraryFunctions)
	setIf(&opts.PreserveUnusedLabels, p.PreserveUnusedLabels)
	return opts, nil
}

func setIf(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

// ── shared param plumbing ────────────────────────────────────────────

func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return jsonrpc.Errorf(jsonrpc.CodeInvalidParams, "invalid params: %v", err)
	}
	return nil
}

func exactlyOne(a, b, c bool, want string) error {
	n := 0
	for _, set := range []bool{a, b, c} {
		if set {
			n++
		}
	}
	if n != 1 {
		return jsonrpc.Errorf(jsonrpc.CodeInvalidParams, "exactly one of %s must be supplied", want)
	}
	return nil
}

func staleToken(tok Token, cache string) error {
	return jsonrpc.Errorf(jsonrpc.CodeInvalidParams, "token %d not found in %s cache", tok, cache)
}
