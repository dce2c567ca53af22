package store

import (
	"fmt"
)

// Log operations, in the order they are written for one step.
const (
	OpInit = "init"
	OpExec = "exec"
	OpDone = "done"
	OpFail = "fail"
)

// LocalLog is one audit row. Data holds the canonical JSON of the session data after the step.
type LocalLog struct {
	Key            string `json:"key" bson:"key"`
	SessionID      string `json:"sessionId" bson:"sessionId"`
	Type           string `json:"type" bson:"type"`
	Operation      string `json:"operation" bson:"operation"`
	Timestamp      string `json:"timestamp" bson:"timestamp"`
	Data           string `json:"data" bson:"data"`
	SequenceNumber uint64 `json:"sequenceNumber" bson:"sequenceNumber"`
}

// LogKey returns the key of a row: sessionId-type-operation.
func LogKey(sessionID, typ, operation string) string {
	return fmt.Sprintf("%s-%s-%s", sessionID, typ, operation)
}
