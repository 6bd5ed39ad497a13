// Package task implements order intake and dispatch: turning a
// TargetPos/TargetAct request into an assignment to a specific AGV,
// tracking that assignment until the vehicle reports it done, and
// rolling back to the pending queue when dispatch or delivery fails.
package task

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Sunplus99/AGV-Scheduler/internal/protocol"
)

// Status mirrors a task's lifecycle, independent of the vehicle's own
// AgvStatus (a vehicle can be MOVING for reasons unrelated to any task).
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusDispatched Status = "DISPATCHED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Request is the immutable part of a task: what to do and for whom.
// TargetAgvId is -1 until the dispatch pipeline assigns a vehicle.
type Request struct {
	TaskId      string
	TargetAgvId int
	TargetPos   protocol.Point
	TargetAct   protocol.ActionType
	Priority    int
}

// Context wraps a Request with the mutable state the dispatch pipeline
// and task reports update: status, progress, and the time of the last
// update.
type Context struct {
	Request    Request
	CreateTime time.Time
	Status     Status
	Progress   float64
	UpdateTime time.Time
}

var taskSeq atomic.Int64

// NewTaskId mints "T-<epochMillis>-<monotonicSeq>": the millisecond
// timestamp sorts IDs roughly by creation order in logs, and the
// process-wide atomic counter guarantees uniqueness for IDs minted in
// the same millisecond.
func NewTaskId() string {
	return fmt.Sprintf("T-%d-%d", time.Now().UnixMilli(), taskSeq.Add(1))
}

// NewContext creates a pending, unassigned task.
func NewContext(targetPos protocol.Point, targetAct protocol.ActionType, priority int) *Context {
	now := time.Now()
	return &Context{
		Request: Request{
			TaskId:      NewTaskId(),
			TargetAgvId: -1,
			TargetPos:   targetPos,
			TargetAct:   targetAct,
			Priority:    priority,
		},
		CreateTime: now,
		Status:     StatusPending,
		UpdateTime: now,
	}
}
