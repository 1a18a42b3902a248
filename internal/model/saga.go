package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// SagaStatus saga instance status
type SagaStatus string

const (
	SagaStatusPending      SagaStatus = "PENDING"
	SagaStatusRunning      SagaStatus = "RUNNING"
	SagaStatusCompensating SagaStatus = "COMPENSATING"
	SagaStatusCompleted    SagaStatus = "COMPLETED"
	SagaStatusFailed       SagaStatus = "FAILED"
	SagaStatusStuck        SagaStatus = "STUCK"
)

// SagaStep checkout saga step
type SagaStep string

const (
	StepOrderCreate      SagaStep = "ORDER_CREATE"
	StepBalanceDeduct    SagaStep = "BALANCE_DEDUCT"
	StepInventoryConfirm SagaStep = "INVENTORY_CONFIRM"
	StepCouponUse        SagaStep = "COUPON_USE"
	StepOrderComplete    SagaStep = "ORDER_COMPLETE"
)

// StepOrder canonical forward order of the checkout saga
var StepOrder = []SagaStep{
	StepOrderCreate,
	StepBalanceDeduct,
	StepInventoryConfirm,
	StepCouponUse,
	StepOrderComplete,
}

// StepList ordered list of completed steps, stored as a JSON column
type StepList []SagaStep

// Value implement driver.Valuer
func (l StepList) Value() (driver.Value, error) {
	if l == nil {
		l = StepList{}
	}
	return json.Marshal(l)
}

// Scan implement sql.Scanner
func (l *StepList) Scan(value interface{}) error {
	if value == nil {
		*l = StepList{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("cannot scan %T into StepList", value)
	}
}

// Contains checks whether the step is in the list
func (l StepList) Contains(step SagaStep) bool {
	for _, s := range l {
		if s == step {
			return true
		}
	}
	return false
}

// SagaInstance one checkout attempt driven by the orchestrator
type SagaInstance struct {
	ID             uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SagaID         string     `gorm:"type:varchar(32);uniqueIndex;not null" json:"saga_id"`
	OrderNo        string     `gorm:"type:varchar(32);index;not null" json:"order_no"`
	UserID         uint64     `gorm:"type:bigint unsigned;not null;index" json:"user_id"`
	Status         SagaStatus `gorm:"type:varchar(16);not null;index:idx_sagas_status_updated" json:"status"`
	CurrentStep    SagaStep   `gorm:"type:varchar(32)" json:"current_step"`
	CompletedSteps StepList   `gorm:"type:json" json:"completed_steps"`
	RetryCount     int        `gorm:"type:int;not null;default:0" json:"retry_count"`
	MaxRetryCount  int        `gorm:"type:int;not null;default:3" json:"max_retry_count"`
	ErrorMessage   string     `gorm:"type:varchar(500)" json:"error_message,omitempty"`
	CreatedAt      time.Time  `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP;index:idx_sagas_status_updated" json:"updated_at"`
	CompletedAt    *time.Time `gorm:"type:timestamp" json:"completed_at,omitempty"`
}

// TableName set name
func (SagaInstance) TableName() string {
	return "saga_instances"
}

// EnterStep records the step the orchestrator is about to execute.
// Invariant: currentStep is never behind the last completed step.
func (s *SagaInstance) EnterStep(step SagaStep) error {
	if s.CompletedSteps.Contains(step) {
		return fmt.Errorf("step %s already completed for saga %s", step, s.SagaID)
	}
	s.CurrentStep = step
	return nil
}

// CompleteStep appends the step to completedSteps.
// Invariant: completedSteps stays a prefix of StepOrder. COUPON_USE is
// optional, so the prefix check skips it when absent.
func (s *SagaInstance) CompleteStep(step SagaStep) error {
	if s.CompletedSteps.Contains(step) {
		return fmt.Errorf("step %s already completed for saga %s", step, s.SagaID)
	}
	idx := stepIndex(step)
	for _, done := range s.CompletedSteps {
		if stepIndex(done) >= idx {
			return fmt.Errorf("step %s completed out of order for saga %s", step, s.SagaID)
		}
	}
	s.CompletedSteps = append(s.CompletedSteps, step)
	return nil
}

// IsTerminal reports whether no further forward progress is possible
func (s *SagaInstance) IsTerminal() bool {
	return s.Status == SagaStatusCompleted || s.Status == SagaStatusStuck
}

// CanRetry reports whether the recovery loop may re-drive this saga
func (s *SagaInstance) CanRetry() bool {
	return s.Status == SagaStatusFailed && s.RetryCount < s.MaxRetryCount
}

func stepIndex(step SagaStep) int {
	for i, s := range StepOrder {
		if s == step {
			return i
		}
	}
	return -1
}
