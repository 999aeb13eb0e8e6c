package toolhost

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// generateID produces a unique session identifier with an embedded
// timestamp. Format: sess_{YYYYMMDDTHHmmss}_{16 hex chars}.
func generateID() string {
	ts := time.Now().UTC().Format("20060102T150405")
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return "sess_" + ts + "_" + hex.EncodeToString(b)
}
