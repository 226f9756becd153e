package scheduler

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const TaskNurturingDue = "nurturing.task.due"

type NurturingTaskPayload struct {
	TaskID   string `json:"taskId"`
	TenantID string `json:"tenantId"`
}

// NurturingTaskID is the asynq task id for a nurturing task. Enqueues with the
// same id collapse, so re-enqueueing a pending task is harmless.
func NurturingTaskID(taskID uuid.UUID) string {
	return "nurturing:" + taskID.String()
}

func NewNurturingDueTask(payload NurturingTaskPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNurturingDue, data), nil
}

func ParseNurturingTaskPayload(task *asynq.Task) (NurturingTaskPayload, error) {
	var payload NurturingTaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return NurturingTaskPayload{}, fmt.Errorf("decode %s payload: %w", TaskNurturingDue, err)
	}
	return payload, nil
}
