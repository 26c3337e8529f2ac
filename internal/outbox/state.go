package outbox

import (
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"
)

// IdempotencyKey is stable for one intent on one position, so a retried
// submission collides with the original.
func IdempotencyKey(positionID, intent string, attempt int) string {
	data := fmt.Sprintf("%s-%s-%d", positionID, intent, attempt)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash[:8])
}

func NewOrderID() string {
	return uuid.NewString()
}
