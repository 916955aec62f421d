package domain

import "context"

// Journal actions.
const (
	ActionCreate       = "create"
	ActionUpdate       = "update"
	ActionRemove       = "remove"
	ActionDeleteBatch  = "delete_batch"
	ActionBatch        = "batch"
	ActionChangeStatus = "change_status"
	ActionUpload       = "upload"
)

// Journal outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// JournalEntry records one mutation an operator issued through the console.
type JournalEntry struct {
	BaseModel
	Resource  string `gorm:"size:64;index;not null" json:"resource"`
	Action    string `gorm:"size:32;index;not null" json:"action"`
	TargetIDs string `gorm:"size:1024" json:"target_ids"`
	Outcome   string `gorm:"size:16;index;not null" json:"outcome"`
	Message   string `gorm:"size:512" json:"message"`
	RequestID string `gorm:"size:64" json:"request_id"`
}

// JournalRepository defines the data access interface for journal entries.
type JournalRepository interface {
	Create(ctx context.Context, entry *JournalEntry) error
	List(ctx context.Context, req PageRequest) (*PageResult[JournalEntry], error)
}

// JournalService records console mutations and lists them.
type JournalService interface {
	Record(ctx context.Context, resource, action string, ids []int64, err error)
	List(ctx context.Context, req PageRequest) (*PageResult[JournalEntry], error)
}
