package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// PhotoPublicID names a member's identity photo asset. The random suffix
// gives every upload a new URL.
func PhotoPublicID(userID uint) string {
	return fmt.Sprintf("member-%d-%s", userID, uuid.NewString()[:8])
}
