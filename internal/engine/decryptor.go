package engine

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/desertthunder/trax/internal/shared"
)

// StreamContext is the stateful decoder for one job attempt's encrypted stream.
//
// The per-track key and base IV are derived deterministically from the backend's
// key seed and the track identity, so the same seed and track always produce the
// same key. A context is scoped to a single attempt: a retried job derives a
// fresh context rather than reusing stale key material.
type StreamContext struct {
	trackRef  string
	block     cipher.Block
	baseIV    [aes.BlockSize]byte
	chunkSize int
	strict    bool

	mu   sync.Mutex
	next int // next expected chunk index
}

// DeriveStreamKey derives the per-track symmetric key from a backend-supplied
// seed and the track identifier. Deterministic: same inputs, same key.
func DeriveStreamKey(keyMaterial []byte, trackRef string) []byte {
	mac := hmac.New(sha256.New, keyMaterial)
	mac.Write([]byte(trackRef))
	return mac.Sum(nil)
}

// BeginStream derives the decryption context for one track within one job attempt.
//
// chunkSize is the encrypted chunk size every chunk except the last must have,
// and must be a multiple of the cipher block size so chunk boundaries align with
// counter blocks. Strict contexts additionally require chunks to arrive in index
// order.
func BeginStream(trackRef string, keyMaterial []byte, chunkSize int, strict bool) (*StreamContext, error) {
	if len(keyMaterial) == 0 {
		return nil, fmt.Errorf("%w: empty key material", shared.ErrInvalidCredentials)
	}
	if chunkSize <= 0 || chunkSize%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: chunk size %d is not a multiple of %d", shared.ErrMisalignedChunk, chunkSize, aes.BlockSize)
	}

	key := DeriveStreamKey(keyMaterial, trackRef)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}

	sc := &StreamContext{
		trackRef:  trackRef,
		block:     block,
		chunkSize: chunkSize,
		strict:    strict,
	}

	iv := sha256.Sum256([]byte("iv:" + trackRef))
	copy(sc.baseIV[:], iv[:aes.BlockSize])

	return sc, nil
}

// TrackRef returns the track identity this context decrypts.
func (sc *StreamContext) TrackRef() string {
	return sc.trackRef
}

// Decrypt converts one encrypted chunk into plaintext bytes.
//
// The counter for a chunk is derived from its index, so non-strict contexts may
// decrypt chunks in any order. A final chunk shorter than the chunk size is
// decrypted at its true byte length; no padding is assumed. Strict contexts
// return [shared.ErrOutOfSequenceChunk] when the index does not match the next
// expected one.
func (sc *StreamContext) Decrypt(chunkIndex int, encrypted []byte) ([]byte, error) {
	if chunkIndex < 0 {
		return nil, fmt.Errorf("%w: negative chunk index %d", shared.ErrOutOfSequenceChunk, chunkIndex)
	}

	sc.mu.Lock()
	if sc.strict && chunkIndex != sc.next {
		expected := sc.next
		sc.mu.Unlock()
		return nil, fmt.Errorf("%w: got chunk %d, expected %d", shared.ErrOutOfSequenceChunk, chunkIndex, expected)
	}
	if chunkIndex >= sc.next {
		sc.next = chunkIndex + 1
	}
	sc.mu.Unlock()

	iv := offsetIV(sc.baseIV, uint64(chunkIndex)*uint64(sc.chunkSize/aes.BlockSize))

	plaintext := make([]byte, len(encrypted))
	cipher.NewCTR(sc.block, iv[:]).XORKeyStream(plaintext, encrypted)

	return plaintext, nil
}

// offsetIV advances the base IV by the given number of counter blocks,
// big-endian with carry, matching CTR mode's own counter progression.
func offsetIV(base [aes.BlockSize]byte, blocks uint64) [aes.BlockSize]byte {
	iv := base
	for i := aes.BlockSize - 1; i >= 0 && blocks > 0; i-- {
		sum := uint64(iv[i]) + (blocks & 0xff)
		iv[i] = byte(sum)
		blocks = (blocks >> 8) + (sum >> 8)
	}
	return iv
}
