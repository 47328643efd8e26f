package saga

import (
	"time"

	"github.com/google/uuid"
	"github.com/nurulloasawear/megasavdo/internal/models"
)

type Status string

const (
	StatusInProgress   Status = "in_progress"
	StatusFailed       Status = "failed"
	StatusCompleted    Status = "completed"
	StatusCompensating Status = "compensating"
	StatusCompensated  Status = "compensated"
	// StatusStranded means a compensation failed and its effect was handed to
	// the stranded reservation log.
	StatusStranded Status = "stranded"
)

type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

const (
	stepValidateRequest = "validate_request"
	stepResolveUser     = "resolve_user"
	stepPriceItems      = "price_items"
	stepReserveStock    = "reserve_stock"
	stepPersistOrder    = "persist_order"

	compensationReleaseStock = "release_stock"
)

type Step struct {
	Name       string     `json:"name"`
	Status     StepStatus `json:"status"`
	Error      string     `json:"error,omitempty"`
	ExecutedAt time.Time  `json:"executed_at"`
}

// Compensation is the undo of a committed step, kept as data so a recovery
// process can replay it without the closure that produced it.
type Compensation struct {
	Name  string               `json:"name"`
	Items []models.ItemRequest `json:"items"`
	Done  bool                 `json:"done"`
}

// Execution is the record of one saga run.
type Execution struct {
	ID            string         `json:"id"`
	UserID        int64          `json:"user_id"`
	OrderID       int64          `json:"order_id,omitempty"`
	Status        Status         `json:"status"`
	Steps         []Step         `json:"steps"`
	Compensations []Compensation `json:"compensations,omitempty"`
	StrandedID    string         `json:"stranded_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func newExecution(userID int64) *Execution {
	now := time.Now().UTC()
	return &Execution{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    StatusInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (e *Execution) complete(name string) {
	e.record(Step{Name: name, Status: StepCompleted})
}

func (e *Execution) fail(name string, err error) {
	e.record(Step{Name: name, Status: StepFailed, Error: err.Error()})
	e.Status = StatusFailed
}

func (e *Execution) record(step Step) {
	step.ExecutedAt = time.Now().UTC()
	e.Steps = append(e.Steps, step)
	e.UpdatedAt = step.ExecutedAt
}

func (e *Execution) addCompensation(c Compensation) {
	e.Compensations = append(e.Compensations, c)
	e.UpdatedAt = time.Now().UTC()
}

// Pending returns the compensations not yet applied, newest first.
func (e *Execution) Pending() []Compensation {
	var out []Compensation
	for i := len(e.Compensations) - 1; i >= 0; i-- {
		if !e.Compensations[i].Done {
			out = append(out, e.Compensations[i])
		}
	}
	return out
}

// StepNames lists the recorded steps in execution order.
func (e *Execution) StepNames() []string {
	names := make([]string, 0, len(e.Steps))
	for _, s := range e.Steps {
		names = append(names, s.Name)
	}
	return names
}
