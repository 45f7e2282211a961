package hashverify

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testContent = "Hello, World! This is a test file for hash verification."

func writeTestFile(t *testing.T, content []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "hashtest.txt")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	return path
}

func TestComputeHash_KnownDigests(t *testing.T) {
	tests := []struct {
		alg  Algorithm
		want string
	}{
		{alg: MD5, want: "5eb63bbbe01eeed093cb22bb8f5acdc3"},
		{alg: SHA1, want: "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed"},
		{alg: SHA256, want: "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"},
	}

	for _, tt := range tests {
		t.Run(tt.alg.String(), func(t *testing.T) {
			got, err := ComputeHash(strings.NewReader("hello world"), tt.alg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComputeHash_Lengths(t *testing.T) {
	for _, alg := range []Algorithm{MD5, SHA1, SHA256, SHA512} {
		t.Run(alg.String(), func(t *testing.T) {
			got, err := ComputeHash(strings.NewReader(testContent), alg)
			require.NoError(t, err)
			assert.Len(t, got, alg.HexLen())
			assert.Regexp(t, `^[a-f0-9]+$`, got)
		})
	}
}

func TestComputeFileHash_Deterministic(t *testing.T) {
	path := writeTestFile(t, []byte(testContent))

	first, err := ComputeFileHash(path, SHA256)
	require.NoError(t, err)

	second, err := ComputeFileHash(path, SHA256)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestComputeHash_StreamsAcrossChunks(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789abcdef"), 5*ChunkSize)

	whole, err := ComputeHash(bytes.NewReader(data), SHA512)
	require.NoError(t, err)

	// A reader returning one byte at a time must produce the same digest.
	oneByte, err := ComputeHash(iotest.OneByteReader(bytes.NewReader(data)), SHA512)
	require.NoError(t, err)

	assert.Equal(t, whole, oneByte)
}

func TestComputeHash_ReadError(t *testing.T) {
	_, err := ComputeHash(iotest.ErrReader(errors.New("boom")), SHA256)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestComputeHash_UnknownAlgorithm(t *testing.T) {
	_, err := ComputeHash(strings.NewReader(testContent), Algorithm(99))
	require.ErrorIs(t, err, ErrAlgorithmUnavailable)
}

func TestComputeHashWithProgress(t *testing.T) {
	data := bytes.Repeat([]byte{'x'}, 3*ChunkSize+100)

	var reported []float64

	_, err := ComputeHashWithProgress(bytes.NewReader(data), int64(len(data)), SHA256, func(f float64) {
		reported = append(reported, f)
	})
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(reported), 4)

	for i, f := range reported {
		assert.GreaterOrEqual(t, f, 0.0)
		assert.LessOrEqual(t, f, 1.0)

		if i > 0 {
			assert.GreaterOrEqual(t, f, reported[i-1])
		}
	}

	assert.InDelta(t, 1.0, reported[len(reported)-1], 1e-9)
}

func TestComputeHashWithProgress_UnderstatedSizeIsClamped(t *testing.T) {
	data := bytes.Repeat([]byte{'x'}, 2*ChunkSize)

	_, err := ComputeHashWithProgress(bytes.NewReader(data), 10, SHA1, func(f float64) {
		assert.LessOrEqual(t, f, 1.0)
	})
	require.NoError(t, err)
}

func TestComputeFileHashWithProgress_EmptyFile(t *testing.T) {
	path := writeTestFile(t, nil)

	var reported []float64

	sum, err := ComputeFileHashWithProgress(path, SHA256, func(f float64) {
		reported = append(reported, f)
	})
	require.NoError(t, err)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", sum)
	assert.Equal(t, []float64{1}, reported)
}

func TestDetectAlgorithm(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   Algorithm
		wantOK bool
	}{
		{name: "md5", input: strings.Repeat("a", 32), want: MD5, wantOK: true},
		{name: "sha1", input: strings.Repeat("a", 40), want: SHA1, wantOK: true},
		{name: "sha256", input: strings.Repeat("a", 64), want: SHA256, wantOK: true},
		{name: "sha512", input: strings.Repeat("a", 128), want: SHA512, wantOK: true},
		{name: "length only, not content", input: strings.Repeat("z", 64), want: SHA256, wantOK: true},
		{name: "empty", input: "", wantOK: false},
		{name: "between lengths", input: strings.Repeat("a", 50), wantOK: false},
		{name: "one short", input: strings.Repeat("a", 63), wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DetectAlgorithm(tt.input)
			assert.Equal(t, tt.wantOK, ok)

			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestIsValidHash(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "md5 lower", input: strings.Repeat("a1", 16), want: true},
		{name: "sha1 upper", input: strings.Repeat("F", 40), want: true},
		{name: "sha256 mixed", input: strings.Repeat("aB", 32), want: true},
		{name: "sha512", input: strings.Repeat("0", 128), want: true},
		{name: "empty", input: "", want: false},
		{name: "too short", input: "abc123", want: false},
		{name: "unrecognized length", input: strings.Repeat("a", 48), want: false},
		{name: "non hex at md5 length", input: strings.Repeat("g", 32), want: false},
		{name: "whitespace", input: " " + strings.Repeat("a", 63), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidHash(tt.input))
		})
	}
}

func TestVerify(t *testing.T) {
	sum, err := ComputeHash(strings.NewReader(testContent), SHA256)
	require.NoError(t, err)

	assert.True(t, Verify(strings.NewReader(testContent), sum, SHA256))
	assert.True(t, Verify(strings.NewReader(testContent), strings.ToUpper(sum), SHA256), "comparison ignores case")
	assert.False(t, Verify(strings.NewReader("other content"), sum, SHA256))
	assert.False(t, Verify(iotest.ErrReader(errors.New("boom")), sum, SHA256))
	assert.False(t, Verify(strings.NewReader(testContent), sum, Algorithm(0)))
}

func TestVerifyFile(t *testing.T) {
	path := writeTestFile(t, []byte(testContent))

	sum, err := ComputeFileHash(path, MD5)
	require.NoError(t, err)

	assert.True(t, VerifyFile(path, sum, MD5))
	assert.False(t, VerifyFile(path, sum, SHA1))
	assert.False(t, VerifyFile(filepath.Join(t.TempDir(), "missing"), sum, MD5))
}
