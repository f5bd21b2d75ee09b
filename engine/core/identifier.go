package core

import (
	"fmt"

	"github.com/google/uuid"
)

// DebugName builds a unique, human readable name for GPU objects
// so validation messages can be traced back to their owner.
func DebugName(owner, kind string) string {
	return fmt.Sprintf("%s.%s#%s", owner, kind, uuid.NewString()[:8])
}
