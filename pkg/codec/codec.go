package codec

import (
	"github.com/dandytbermillo/annotation/pkg/types"
)

// Doc is an in-memory CRDT document. Its concrete type belongs to the codec
// that produced it; everything outside this package treats it as opaque.
type Doc any

// Codec is the boundary to the CRDT library. Update and snapshot blobs are
// opaque byte sequences everywhere else in the persistence core.
//
// Merge must be associative and commutative over update blobs targeting the
// same logical document. Encode must be deterministic: encoding the same
// state twice yields identical bytes.
type Codec interface {
	// NewDoc returns a fresh empty document.
	NewDoc() Doc

	// Apply folds an update or snapshot blob into doc.
	Apply(doc Doc, blob []byte) error

	// Encode produces a full-state blob suitable as a snapshot.
	Encode(doc Doc) ([]byte, error)

	// Merge combines multiple update blobs into one semantically equivalent
	// blob, typically smaller. Order of inputs does not matter.
	Merge(blobs [][]byte) ([]byte, error)
}

// malformed wraps a decode failure as a codec error. Callers treat codec
// errors as non-retryable.
func malformed(msg string, cause error) error {
	return types.CodecError(msg, cause)
}
