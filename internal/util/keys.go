package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// EntryKey returns the provider key for requestKey in generation tag:
// "entry:<ns>:<tag>:<first 16 hex chars of sha256(requestKey)>", or
// "entry:<tag>:<hash>" when ns is empty.
// Hashing keeps keys bounded for long query strings.
func EntryKey(ns, tag, requestKey string) string {
	sum := sha256.Sum256([]byte(requestKey))
	h := hex.EncodeToString(sum[:8])
	if ns == "" {
		return "entry:" + tag + ":" + h
	}
	return "entry:" + ns + ":" + tag + ":" + h
}
