package shared

import "github.com/google/uuid"

// PropagationLockKey builds the redis key guarding a single push of a record.
func PropagationLockKey(recordID uuid.UUID) string {
	return "propagation:record:" + recordID.String() + ":lock"
}
