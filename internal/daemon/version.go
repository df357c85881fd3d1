package daemon

import "github.com/google/uuid"

// Version is the daemon's reported build version.
const Version = "0.1.0"

// newTaskID mints a fresh cron task id.
func newTaskID() string {
	return uuid.NewString()
}
