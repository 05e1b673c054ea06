// Package portrand implements the cryptographic random source used for
// ephemeral port selection and initial sequence number (ISS) generation,
// upgrading the teacher's bare xorshift PRNG (internal.Prand32) to a
// chacha20 keystream seeded once from crypto/rand, per the "cryptographic
// random" requirement on both consumers.
package portrand

import (
	"crypto/rand"
	"encoding/binary"
	"sync"

	"golang.org/x/crypto/chacha20"
)

// Source is a reseedable CSPRNG stream. The zero value is not usable; call
// NewSource.
type Source struct {
	mu     sync.Mutex
	cipher *chacha20.Cipher
	block  [64]byte
	used   int
}

// NewSource constructs a Source seeded from crypto/rand.
func NewSource() (*Source, error) {
	s := &Source{}
	if err := s.reseed(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Source) reseed() error {
	var key [chacha20.KeySize]byte
	var nonce [chacha20.NonceSize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return err
	}
	if _, err := rand.Read(nonce[:]); err != nil {
		return err
	}
	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		return err
	}
	s.cipher = c
	s.used = len(s.block)
	return nil
}

// Uint32 draws 4 bytes from the keystream and returns them as a uint32.
func (s *Source) Uint32() uint32 {
	var b [4]byte
	s.read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

func (s *Source) read(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(p) > 0 {
		if s.used >= len(s.block) {
			for i := range s.block {
				s.block[i] = 0
			}
			s.cipher.XORKeyStream(s.block[:], s.block[:])
			s.used = 0
		}
		n := copy(p, s.block[s.used:])
		s.used += n
		p = p[n:]
	}
}

// EphemeralMin and EphemeralMax bound the dynamic port range get_dynamic_port
// draws from, matching the IANA ephemeral port convention.
const (
	EphemeralMin = 49152
	EphemeralMax = 65535
)

// Allocator hands out ephemeral ports from a monotonic counter, reseeded
// cryptographically whenever the counter falls outside [EphemeralMin,
// EphemeralMax] (first use, or wraparound). There is no collision check
// against in-use ports here; that belongs to the bind layer, as in the spec.
type Allocator struct {
	mu      sync.Mutex
	src     *Source
	counter uint32
}

// NewAllocator constructs an Allocator with its own CSPRNG source.
func NewAllocator() (*Allocator, error) {
	src, err := NewSource()
	if err != nil {
		return nil, err
	}
	return &Allocator{src: src, counter: 0}, nil
}

// NextPort returns the next ephemeral port, advancing the internal counter.
func (a *Allocator) NextPort() uint16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.counter < EphemeralMin || a.counter > EphemeralMax {
		span := uint32(EphemeralMax - EphemeralMin + 1)
		a.counter = EphemeralMin + a.src.Uint32()%span
	}
	port := uint16(a.counter)
	if a.counter == EphemeralMax {
		a.counter = EphemeralMin
	} else {
		a.counter++
	}
	return port
}

// ISS returns a fresh cryptographically random initial sequence number.
func (a *Allocator) ISS() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.src.Uint32()
}
