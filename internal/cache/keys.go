package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	// KeyPrefixPredictions is the prefix for all cached window predictions.
	KeyPrefixPredictions = "guardrail:pred"
	// DefaultTTLHours is the lifetime of a cached prediction.
	DefaultTTLHours = 24
)

// Keys builds prediction keys for one deployment and model.
type Keys struct {
	deployment string
	modelPath  string
}

// NewKeys creates a key builder.
func NewKeys(deployment, modelPath string) *Keys {
	return &Keys{deployment: deployment, modelPath: modelPath}
}

// Window returns the key for a window text. The model path is hashed in so a
// model swap never reads stale predictions.
func (k *Keys) Window(text string) string {
	h := sha256.New()
	h.Write([]byte(k.modelPath))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return fmt.Sprintf("%s:%s:%s", KeyPrefixPredictions, k.deployment, hex.EncodeToString(h.Sum(nil)))
}
