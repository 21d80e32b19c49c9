package stream

import (
	"fmt"

	"github.com/google/uuid"
)

// BuildOutputKey is the list key holding a build's ordered output records.
func BuildOutputKey(buildID int64) string {
	return fmt.Sprintf("build:output:%d", buildID)
}

// ProjectChannel is the pub/sub channel carrying a project's live updates.
func ProjectChannel(projectID uuid.UUID) string {
	return fmt.Sprintf("project:%s", projectID)
}

// UserChannel is the pub/sub channel carrying a user's live updates.
func UserChannel(userID uuid.UUID) string {
	return fmt.Sprintf("user:%s", userID)
}
