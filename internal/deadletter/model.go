package deadletter

import (
	"time"

	"gorm.io/datatypes"
)

const (
	StatePending = "pending"
	StateClaimed = "claimed"
)

// Letter is a call event the broker refused. A Letter is either waiting for
// NextAttemptAt or claimed by one worker until it is resent or released.
type Letter struct {
	ID            string         `gorm:"column:id;type:uuid;primaryKey"`
	CallID        string         `gorm:"column:call_id;type:varchar(255);not null;index"`
	Topic         string         `gorm:"column:topic;type:varchar(255);not null"`
	Payload       datatypes.JSON `gorm:"column:payload;type:jsonb;not null"`
	LastError     string         `gorm:"column:last_error;type:text;not null"`
	State         string         `gorm:"column:state;type:varchar(16);not null;default:'pending';index:idx_dead_letters_due,priority:1"`
	Attempts      int            `gorm:"column:attempts;type:int;not null;default:0"`
	NextAttemptAt time.Time      `gorm:"column:next_attempt_at;type:timestamptz;not null;index:idx_dead_letters_due,priority:2"`
	ClaimedAt     *time.Time     `gorm:"column:claimed_at;type:timestamptz"`
	CreatedAt     time.Time      `gorm:"column:created_at;type:timestamptz;autoCreateTime"`
	UpdatedAt     time.Time      `gorm:"column:updated_at;type:timestamptz;autoUpdateTime"`
}

func (Letter) TableName() string {
	return "call_event_dead_letters"
}
