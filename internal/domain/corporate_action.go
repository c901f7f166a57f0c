package domain

import "time"

// CorporateActionType identifies the kind of corporate action.
type CorporateActionType string

const (
	ActionStockSplit   CorporateActionType = "stock_split"
	ActionSymbolChange CorporateActionType = "symbol_change"
)

// CorporateActionStatus is the lifecycle state of an action.
type CorporateActionStatus string

const (
	ActionInProgress CorporateActionStatus = "in_progress"
	ActionCompleted  CorporateActionStatus = "completed"
	ActionFailed     CorporateActionStatus = "failed"
)

// CanTransition reports whether a status change moves forward.
// Completed is terminal. A failed saga may be resumed to completion but
// never goes back to in_progress.
func (s CorporateActionStatus) CanTransition(to CorporateActionStatus) bool {
	switch s {
	case ActionInProgress:
		return true
	case ActionFailed:
		return to == ActionFailed || to == ActionCompleted
	default:
		return false
	}
}

// CorporateActionRecord is the audit row for a corporate action.
// LastStep is the saga cursor: the highest step known to have completed.
type CorporateActionRecord struct {
	ID          string
	Mint        string
	ActionType  CorporateActionType
	Parameters  map[string]string
	Status      CorporateActionStatus
	LastStep    int
	Error       string
	ExecutedBy  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Clone returns a deep copy.
func (r *CorporateActionRecord) Clone() *CorporateActionRecord {
	c := *r
	if r.Parameters != nil {
		c.Parameters = make(map[string]string, len(r.Parameters))
		for k, v := range r.Parameters {
			c.Parameters[k] = v
		}
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
