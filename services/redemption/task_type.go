package redemption

import (
	"encoding/json"

	"creatorloyalty/pkg/taskname"

	"github.com/hibiken/asynq"
)

type FulfillInstantPayload struct {
	TenantID     string `json:"tenant_id"`
	RedemptionID string `json:"redemption_id"`
}

func NewFulfillInstantTask(p FulfillInstantPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.RedemptionFulfillInstant, payload), nil
}

type BoostActivatePayload struct {
	TenantID     string `json:"tenant_id"`
	RedemptionID string `json:"redemption_id"`
}

func NewBoostActivateTask(p BoostActivatePayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.BoostActivate, payload), nil
}

type BoostClearPayload struct {
	TenantID     string `json:"tenant_id"`
	RedemptionID string `json:"redemption_id"`
}

func NewBoostClearTask(p BoostClearPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.BoostClear, payload), nil
}

type DiscountActivatePayload struct {
	TenantID     string `json:"tenant_id"`
	RedemptionID string `json:"redemption_id"`
}

func NewDiscountActivateTask(p DiscountActivatePayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.DiscountActivate, payload), nil
}

type DiscountExpirePayload struct {
	TenantID     string `json:"tenant_id"`
	RedemptionID string `json:"redemption_id"`
}

func NewDiscountExpireTask(p DiscountExpirePayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.DiscountExpire, payload), nil
}
