package instrumentation

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Cardinality helpers keep user identifiers out of metric labels unless
// detailed labels are explicitly enabled.

// ExtractUserDomain returns the domain of an email address, or "unknown".
//
//	ExtractUserDomain("jane@example.com")  // "example.com"
//	ExtractUserDomain("u-123")             // "unknown"
func ExtractUserDomain(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) == 2 && parts[1] != "" {
		return parts[1]
	}
	return "unknown"
}

// HashUser returns a short stable hash of a user identifier.
func HashUser(userID string) string {
	if userID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:])[:12]
}

// Operation types for collaborator metrics.
const (
	OperationListBusy = "list_busy"
	OperationList     = "list"
	OperationCreate   = "create"
	OperationUpdate   = "update"
	OperationDelete   = "delete"
	OperationSend     = "send"
	OperationDiscover = "discover"
)
