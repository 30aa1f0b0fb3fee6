package loader

import (
	_ "crypto/sha256"
	_ "crypto/sha512"
	"fmt"

	"github.com/opencontainers/go-digest"
)

// verify checks data against the expected digest.
func verify(expected digest.Digest, data []byte) error {
	if err := expected.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
	verifier := expected.Verifier()
	if _, err := verifier.Write(data); err != nil {
		return fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
	if !verifier.Verified() {
		return fmt.Errorf("%w: content does not match %s", ErrIntegrity, expected)
	}
	return nil
}
