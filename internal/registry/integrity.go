package registry

import (
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// verifyIntegrity checks data against an npm-style subresource-integrity
// string "<algo>-<base64 digest>". Standard registries publish sha512;
// some private mirrors publish a blake2b-512 digest instead, which
// crypto/sha512 alone can't verify.
func verifyIntegrity(data []byte, integrity string) error {
	var algo, encoded string
	switch {
	case strings.HasPrefix(integrity, "sha512-"):
		algo, encoded = "sha512", integrity[len("sha512-"):]
	case strings.HasPrefix(integrity, "blake2b-512-"):
		algo, encoded = "blake2b-512", integrity[len("blake2b-512-"):]
	case strings.HasPrefix(integrity, "blake2b512-"):
		algo, encoded = "blake2b-512", integrity[len("blake2b512-"):]
	default:
		return fmt.Errorf("unsupported integrity algorithm in %q", integrity)
	}
	want, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode integrity digest: %w", err)
	}

	var got []byte
	switch algo {
	case "sha512":
		sum := sha512.Sum512(data)
		got = sum[:]
	case "blake2b-512":
		sum := blake2b.Sum512(data)
		got = sum[:]
	}

	if string(got) != string(want) {
		return fmt.Errorf("integrity mismatch for algorithm %s", algo)
	}
	return nil
}
