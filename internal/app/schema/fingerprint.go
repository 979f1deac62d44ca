// Package schema implements payload validation against receiver schemas and
// the content-addressed receiver fingerprint.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/xbcsmith/xzepr/infrastructure/errors"
)

// Fingerprint computes the content hash identifying a receiver:
// "sha256:" + hex(SHA-256(canonical({name, type, version, schema}))).
//
// Canonical form: the four fields are placed in a map and marshalled with
// encoding/json, which writes object keys in lexicographic order with no
// insignificant whitespace. The schema document is round-tripped through
// map[string]any first so its own keys are canonicalized the same way.
// The identical canonicalization must be used for every fingerprint.
func Fingerprint(name, typ, version string, schemaDoc json.RawMessage) (string, error) {
	canonical, err := CanonicalizeSchema(schemaDoc)
	if err != nil {
		return "", err
	}

	var schemaValue any
	if err := json.Unmarshal(canonical, &schemaValue); err != nil {
		return "", errors.InvalidInput("schema", err.Error())
	}

	doc := map[string]any{
		"name":    name,
		"type":    typ,
		"version": version,
		"schema":  schemaValue,
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return "", errors.Internal("encoding fingerprint document", err)
	}

	sum := sha256.Sum256(encoded)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// CanonicalizeSchema returns the schema serialized with sorted keys and no
// insignificant whitespace. It rejects documents that are not JSON objects.
func CanonicalizeSchema(schemaDoc json.RawMessage) (json.RawMessage, error) {
	var obj map[string]any
	if err := json.Unmarshal(schemaDoc, &obj); err != nil {
		return nil, errors.InvalidInput("schema", "must be a JSON object")
	}
	canonical, err := json.Marshal(obj)
	if err != nil {
		return nil, errors.Internal("canonicalizing schema", err)
	}
	return canonical, nil
}
