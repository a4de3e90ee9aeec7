package progress

import (
	"encoding/json"

	"creatorloyalty/pkg/taskname"

	"github.com/hibiken/asynq"
)

type RecomputePayload struct {
	TenantID   string   `json:"tenant_id"`
	MissionIDs []string `json:"mission_ids,omitempty"`
}

func NewRecomputeTask(p RecomputePayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.ProgressRecompute, payload), nil
}
