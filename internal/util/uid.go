package util

import (
	"crypto/rand"
	"fmt"
	"hash/fnv"
	"math/big"
	"strings"
)

// uidRoot is the UID root used for generated instance, study and series UIDs.
// 2.25 is the ISO/ITU-T numeric UUID root, usable without registration.
const uidRoot = "2.25"

// deterministicUIDPrefix is the root used for seed-derived UIDs so that
// repeated conversions of the same input produce identical identifiers.
const deterministicUIDPrefix = "1.2.826.0.1.3680043.8.498"

// GenerateUID returns a new random DICOM UID under the 2.25 root.
func GenerateUID() string {
	// 38 decimal digits fit a 126-bit random value and keep the full
	// UID under the 64-character DICOM limit.
	limit := new(big.Int).Lsh(big.NewInt(1), 126)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		// crypto/rand only fails if the platform RNG is broken.
		panic(fmt.Sprintf("uid generation: %v", err))
	}
	return uidRoot + "." + n.String()
}

// GenerateDeterministicUID derives a stable UID from a seed string.
// The same seed always yields the same UID.
func GenerateDeterministicUID(seed string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed)) // hash.Write never returns an error
	component := fmt.Sprintf("%d", h.Sum64())
	// UID components must not carry leading zeros.
	component = strings.TrimLeft(component, "0")
	if component == "" {
		component = "0"
	}
	return deterministicUIDPrefix + "." + component
}
