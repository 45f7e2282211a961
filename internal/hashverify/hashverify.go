package hashverify

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"regexp"
	"strings"
)

// ChunkSize is the read size used when streaming a source through a digest.
const ChunkSize = 8 * 1024

// ErrAlgorithmUnavailable is returned when an Algorithm has no digest implementation.
var ErrAlgorithmUnavailable = errors.New("hashverify: algorithm unavailable")

var hexPattern = regexp.MustCompile(`^[a-fA-F0-9]+$`)

// Algorithm identifies a digest by its output size.
type Algorithm int

const (
	MD5 Algorithm = iota + 1
	SHA1
	SHA256
	SHA512
)

// Default is used for record-only hashes and when an expected hash does not
// reveal its algorithm.
const Default = SHA256

func (a Algorithm) String() string {
	switch a {
	case MD5:
		return "md5"
	case SHA1:
		return "sha1"
	case SHA256:
		return "sha256"
	case SHA512:
		return "sha512"
	default:
		return fmt.Sprintf("algorithm(%d)", int(a))
	}
}

// HexLen returns the length of the algorithm's hex encoded digest.
func (a Algorithm) HexLen() int {
	switch a {
	case MD5:
		return 32
	case SHA1:
		return 40
	case SHA256:
		return 64
	case SHA512:
		return 128
	default:
		return 0
	}
}

// New returns a fresh digest for the algorithm.
func (a Algorithm) New() (hash.Hash, error) {
	switch a {
	case MD5:
		return md5.New(), nil
	case SHA1:
		return sha1.New(), nil
	case SHA256:
		return sha256.New(), nil
	case SHA512:
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrAlgorithmUnavailable, a)
	}
}

// DetectAlgorithm infers the algorithm from the length of a hex digest.
func DetectAlgorithm(hexDigest string) (Algorithm, bool) {
	switch len(hexDigest) {
	case 32:
		return MD5, true
	case 40:
		return SHA1, true
	case 64:
		return SHA256, true
	case 128:
		return SHA512, true
	default:
		return 0, false
	}
}

// IsValidHash reports whether s is a hex digest of a recognized length.
func IsValidHash(s string) bool {
	if s == "" || !hexPattern.MatchString(s) {
		return false
	}

	_, ok := DetectAlgorithm(s)

	return ok
}

// ComputeHash streams r through the algorithm's digest and returns it hex encoded.
func ComputeHash(r io.Reader, alg Algorithm) (string, error) {
	return ComputeHashWithProgress(r, 0, alg, nil)
}

// ComputeHashWithProgress is ComputeHash reporting the fraction of size consumed
// after every chunk. When size is unknown (<= 0) only the final 1.0 is reported.
func ComputeHashWithProgress(r io.Reader, size int64, alg Algorithm, onProgress func(float64)) (string, error) {
	h, err := alg.New()
	if err != nil {
		return "", err
	}

	buf := make([]byte, ChunkSize)

	var processed int64

	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			processed += int64(n)

			if onProgress != nil && size > 0 {
				onProgress(fraction(processed, size))
			}
		}

		if rerr == io.EOF {
			break
		}

		if rerr != nil {
			return "", fmt.Errorf("failed to read source: %w", rerr)
		}
	}

	if onProgress != nil && size <= 0 {
		onProgress(1)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// ComputeFileHash hashes the file at path.
func ComputeFileHash(path string, alg Algorithm) (string, error) {
	return ComputeFileHashWithProgress(path, alg, nil)
}

// ComputeFileHashWithProgress hashes the file at path, reporting progress against its size.
func ComputeFileHashWithProgress(path string, alg Algorithm, onProgress func(float64)) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat file: %w", err)
	}

	return ComputeHashWithProgress(f, info.Size(), alg, onProgress)
}

// Verify hashes r and compares it with expected, ignoring case. Read and
// algorithm errors count as a failed verification.
func Verify(r io.Reader, expected string, alg Algorithm) bool {
	sum, err := ComputeHash(r, alg)
	if err != nil {
		return false
	}

	return strings.EqualFold(sum, expected)
}

// VerifyFile is Verify over the file at path.
func VerifyFile(path, expected string, alg Algorithm) bool {
	sum, err := ComputeFileHash(path, alg)
	if err != nil {
		return false
	}

	return strings.EqualFold(sum, expected)
}

func fraction(processed, size int64) float64 {
	f := float64(processed) / float64(size)
	if f > 1 {
		return 1
	}

	return f
}
