package command

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/text/unicode/norm"
)

// keyDomain provides domain separation for the inference key hash.
// The version suffix enables future algorithm migration.
const keyDomain = "blot/inference/v1"

// Key computes the content-addressed canonical key of an inference:
// SHA-256 over the domain, the rewritten argv, the compilation
// directory and the annotation target. Strings are NFC normalized and
// length-prefixed so that field boundaries are unambiguous.
//
// The argv excludes the per-invocation `-o <temp>` pair (see
// Inference), which is what lets independent compiles of the same
// logical command share one cache slot.
func (inf Inference) Key() string {
	h := sha256.New()
	h.Write([]byte(keyDomain))
	h.Write([]byte{0x00}) // null separator between domain and data

	for _, arg := range inf.CompilationCommand {
		writeField(h, arg)
	}
	writeField(h, inf.CompilationDirectory)
	writeField(h, inf.AnnotationTarget)

	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h interface{ Write([]byte) (int, error) }, s string) {
	b := []byte(norm.NFC.String(s))
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(b)))
	h.Write(lenBuf[:n])
	h.Write(b)
}
