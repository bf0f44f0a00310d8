package shared

import "fmt"

// TripLockKey builds the redis key claiming a trip for background warmup.
// Capacity mutations rely on row locks, not on this key.
func TripLockKey(tripID int64) string {
	return fmt.Sprintf("capacity:trip:%d:lock", tripID)
}
