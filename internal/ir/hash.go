package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainState = "replicate/state/v1"
	DomainField = "replicate/field/v1"
	DomainEvent = "replicate/event/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// StateHash computes a content hash of a whole state object.
// Absent (nil) fields do not contribute, so {a:1} and {a:1,b:nil} hash equal.
func StateHash(state IRObject) (string, error) {
	if state == nil {
		state = IRObject{}
	}
	canonical, err := MarshalCanonical(state)
	if err != nil {
		return "", fmt.Errorf("StateHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainState, canonical), nil
}

// FieldHash computes a content hash for one field of one keyed store.
// Persistence replicators use it to skip rewrites of unchanged values.
func FieldHash(key, field string, value IRValue) (string, error) {
	obj := IRObject{
		"key":   IRString(key),
		"field": IRString(field),
		"value": value,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("FieldHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainField, canonical), nil
}

// EventID computes a content-addressed ID for a journaled event.
// The same (key, type, args, seq) always yields the same ID, which makes
// journal writes idempotent.
func EventID(key string, ev Event) (string, error) {
	args := ev.Args
	if args == nil {
		args = IRObject{}
	}
	obj := IRObject{
		"key":  IRString(key),
		"type": IRString(ev.Type),
		"args": args,
		"seq":  IRInt(ev.Seq),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("EventID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEvent, canonical), nil
}
