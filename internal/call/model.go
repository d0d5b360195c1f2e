package call

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusScheduled  Status = "scheduled"
	StatusInitiating Status = "initiating"
	StatusDialing    Status = "dialing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusNoAnswer   Status = "no_answer"
	StatusBusy       Status = "busy"
)

// MetadataProviderDuration holds the call length in seconds as reported by the provider.
const MetadataProviderDuration = "provider_duration_seconds"

// MetadataTranscript holds the last transcript reported by the provider.
const MetadataTranscript = "transcript"

var AllStatuses = []Status{
	StatusPending,
	StatusScheduled,
	StatusInitiating,
	StatusDialing,
	StatusInProgress,
	StatusCompleted,
	StatusFailed,
	StatusNoAnswer,
	StatusBusy,
}

func (status Status) IsTerminal() bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusNoAnswer, StatusBusy:
		return true
	default:
		return false
	}
}

func (status Status) IsDispatchable() bool {
	return status == StatusPending || status == StatusScheduled
}

func (status Status) IsOpen() bool {
	return status == StatusDialing || status == StatusInProgress
}

func ParseStatus(value string) (Status, bool) {
	for _, status := range AllStatuses {
		if string(status) == value {
			return status, true
		}
	}

	return "", false
}

type Request struct {
	CallerName     string `gorm:"column:caller_name;type:varchar(100);not null"      json:"caller_name"      validate:"required,max=100"`
	CallerPhone    string `gorm:"column:caller_phone;type:varchar(32);not null"      json:"caller_phone"     validate:"required,phone"`
	Destination    string `gorm:"column:destination;type:varchar(32);not null"       json:"phone_number"     validate:"required,phone"`
	Action         string `gorm:"column:action;type:varchar(1000);not null"          json:"account_action"   validate:"required,max=1000"`
	AdditionalInfo string `gorm:"column:additional_info;type:varchar(2000)"          json:"additional_info"  validate:"max=2000"`
}

type Record struct {
	ID             string            `gorm:"column:id;type:uuid;primaryKey"                        json:"id"`
	Request        Request           `gorm:"embedded"                                              json:"request"`
	Status         Status            `gorm:"column:status;type:varchar(20);not null;index"         json:"status"`
	ProviderCallID string            `gorm:"column:provider_call_id;type:varchar(255)"             json:"provider_call_id,omitempty"`
	ScheduledAt    time.Time         `gorm:"column:scheduled_at;type:timestamptz;not null;index"   json:"scheduled_at"`
	RetryCount     int               `gorm:"column:retry_count;type:int;default:0;not null"        json:"retry_count"`
	MaxRetries     int               `gorm:"column:max_retries;type:int;default:0;not null"        json:"max_retries"`
	CreatedAt      time.Time         `gorm:"column:created_at;type:timestamptz;not null;autoCreateTime:false" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;type:timestamptz;not null;autoUpdateTime:false" json:"updated_at"`
	DialedAt       *time.Time        `gorm:"column:dialed_at;type:timestamptz"                     json:"dialed_at,omitempty"`
	CompletedAt    *time.Time        `gorm:"column:completed_at;type:timestamptz"                  json:"completed_at,omitempty"`
	ErrorMessage   string            `gorm:"column:error_message;type:text"                        json:"error_message,omitempty"`
	Metadata       datatypes.JSONMap `gorm:"column:metadata;type:jsonb"                            json:"metadata,omitempty"`
}

func (Record) TableName() string {
	return "call_records"
}

// Clone returns a copy that shares no mutable state with record.
func (record *Record) Clone() *Record {
	clone := *record

	if record.DialedAt != nil {
		dialedAt := *record.DialedAt
		clone.DialedAt = &dialedAt
	}

	if record.CompletedAt != nil {
		completedAt := *record.CompletedAt
		clone.CompletedAt = &completedAt
	}

	if record.Metadata != nil {
		clone.Metadata = make(datatypes.JSONMap, len(record.Metadata))
		for key, value := range record.Metadata {
			clone.Metadata[key] = value
		}
	}

	return &clone
}

// Duration is the time between reaching the provider and the terminal transition.
func (record *Record) Duration() time.Duration {
	if record.DialedAt == nil || record.CompletedAt == nil {
		return 0
	}

	return record.CompletedAt.Sub(*record.DialedAt)
}

// IsDue reports whether a dispatchable record should be submitted at now.
func (record *Record) IsDue(now time.Time) bool {
	return record.Status.IsDispatchable() && !record.ScheduledAt.After(now)
}

// Event describes one persisted status change.
type Event struct {
	CallID string    `json:"call_id"`
	From   Status    `json:"from"`
	To     Status    `json:"to"`
	At     time.Time `json:"at"`
	Record *Record   `json:"record"`
}
