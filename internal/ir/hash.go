package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainFact  = "tablesync/fact/v1"
	DomainBatch = "tablesync/batch/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// FactID computes the content-addressed id of a fact value.
// Equal records always produce the same id; the relation is not part of the
// id because storage keys are already scoped by relation.
func FactID(r Record) (string, error) {
	canonical, err := MarshalCanonical(r)
	if err != nil {
		return "", fmt.Errorf("FactID: %w", err)
	}
	return hashWithDomain(DomainFact, canonical), nil
}

// MustFactID is FactID for values known to be encodable (tests, literals).
func MustFactID(r Record) string {
	id, err := FactID(r)
	if err != nil {
		panic(err)
	}
	return id
}

// BatchHash computes a content hash over an ordered batch of updates.
// Used to correlate journal rows with the batches that produced them.
func BatchHash(updates []Update) (string, error) {
	var data []byte
	for i, u := range updates {
		canonical, err := MarshalCanonical(u.Value)
		if err != nil {
			return "", fmt.Errorf("BatchHash: update %d: %w", i, err)
		}
		data = fmt.Appendf(data, "%d:%d:", u.Kind, u.Relation)
		data = append(data, canonical...)
		data = append(data, 0x00)
	}
	return hashWithDomain(DomainBatch, data), nil
}
