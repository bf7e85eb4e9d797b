// Package bundle packs assembled class files into a single content-addressed
// archive. Bundles are canonical CBOR, so the same classes in the same order
// under the same ID always encode to the same bytes.
package bundle

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// ErrHashMismatch is returned when a class's data does not hash to its
// recorded hash.
var ErrHashMismatch = errors.New("class hash mismatch")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bundle: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Class is one class file in a bundle.
type Class struct {
	Name string   `cbor:"1,keyasint"` // internal name
	Hash [32]byte `cbor:"2,keyasint"` // SHA-256 of Data
	Data []byte   `cbor:"3,keyasint"`
}

// Bundle is an ordered set of class files.
type Bundle struct {
	ID      uuid.UUID `cbor:"1,keyasint"`
	Classes []Class   `cbor:"2,keyasint"`
}

// New returns an empty bundle with a fresh random ID.
func New() *Bundle {
	return &Bundle{ID: uuid.New()}
}

// Hash returns the content hash of class file data.
func Hash(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// Add appends a class. Names must be unique within a bundle.
func (b *Bundle) Add(name string, data []byte) error {
	if _, ok := b.Get(name); ok {
		return fmt.Errorf("bundle: duplicate class %s", name)
	}
	b.Classes = append(b.Classes, Class{Name: name, Hash: Hash(data), Data: data})
	return nil
}

// Get returns the class with the given internal name.
func (b *Bundle) Get(name string) (Class, bool) {
	for _, c := range b.Classes {
		if c.Name == name {
			return c, true
		}
	}
	return Class{}, false
}

// Verify recomputes every class hash.
func (b *Bundle) Verify() error {
	for _, c := range b.Classes {
		if Hash(c.Data) != c.Hash {
			return fmt.Errorf("bundle: %s: %w", c.Name, ErrHashMismatch)
		}
	}
	return nil
}

// Marshal serializes a bundle to canonical CBOR.
func Marshal(b *Bundle) ([]byte, error) {
	return cborEncMode.Marshal(b)
}

// Unmarshal deserializes a bundle and verifies its hashes.
func Unmarshal(data []byte) (*Bundle, error) {
	var b Bundle
	if err := cbor.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("bundle: unmarshal: %w", err)
	}
	if err := b.Verify(); err != nil {
		return nil, err
	}
	return &b, nil
}

// WriteFile writes a bundle to path.
func WriteFile(path string, b *Bundle) error {
	data, err := Marshal(b)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("bundle: %w", err)
	}
	return nil
}

// ReadFile reads and verifies a bundle from path.
func ReadFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bundle: %w", err)
	}
	b, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}
