package es

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"

	"github.com/gowebpki/jcs"
	"golang.org/x/crypto/blake2b"
)

type HashAlgorithm string

const (
	HashSHA256     HashAlgorithm = "sha256"
	HashBLAKE2b256 HashAlgorithm = "blake2b-256"
)

// Hasher derives event hashes from canonical event content.
type Hasher struct {
	alg     HashAlgorithm
	newHash func() hash.Hash
}

func NewHasher(alg HashAlgorithm) (Hasher, error) {
	switch alg {
	case "", HashSHA256:
		return Hasher{alg: HashSHA256, newHash: sha256.New}, nil
	case HashBLAKE2b256:
		return Hasher{alg: HashBLAKE2b256, newHash: func() hash.Hash {
			h, _ := blake2b.New256(nil) // only fails for oversized keys
			return h
		}}, nil
	}
	return Hasher{}, fmt.Errorf("unsupported hash algorithm %q", alg)
}

// DefaultHasher returns the SHA-256 hasher.
func DefaultHasher() Hasher {
	h, _ := NewHasher(HashSHA256)
	return h
}

func (h Hasher) Algorithm() HashAlgorithm { return h.alg }

// Sum returns the lowercase hex digest of data.
func (h Hasher) Sum(data []byte) string {
	if h.newHash == nil {
		h = DefaultHasher()
	}
	d := h.newHash()
	_, _ = d.Write(data)
	return hex.EncodeToString(d.Sum(nil))
}

// EventHash hashes the canonical content of e. The EventHash field of e is ignored.
func (h Hasher) EventHash(e DomainEvent) (string, error) {
	payload, err := marshalPayload(e.Payload)
	if err != nil {
		return "", err
	}
	return h.hashContent(e.OriginatorID, e.OriginatorVersion, e.PreviousHash, formatTimestamp(e.Timestamp), e.Type, payload)
}

func (h Hasher) hashContent(id string, v Version, prev, ts, typ string, payload json.RawMessage) (string, error) {
	content, err := CanonicalContent(id, v, prev, ts, typ, payload)
	if err != nil {
		return "", err
	}
	return h.Sum(content), nil
}

type canonicalEvent struct {
	OriginatorID      string          `json:"originator_id"`
	OriginatorVersion Version         `json:"originator_version"`
	PreviousHash      string          `json:"previous_hash"`
	Timestamp         string          `json:"timestamp"`
	Type              string          `json:"type"`
	Payload           json.RawMessage `json:"payload"`
}

// CanonicalContent returns the RFC 8785 canonical JSON form of the hashed event fields.
func CanonicalContent(id string, v Version, prevHash, timestamp, eventType string, payload json.RawMessage) ([]byte, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	data, err := json.Marshal(canonicalEvent{
		OriginatorID:      id,
		OriginatorVersion: v,
		PreviousHash:      prevHash,
		Timestamp:         timestamp,
		Type:              eventType,
		Payload:           payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal event content: %w", err)
	}
	out, err := jcs.Transform(data)
	if err != nil {
		return nil, fmt.Errorf("canonicalize event content: %w", err)
	}
	return out, nil
}
