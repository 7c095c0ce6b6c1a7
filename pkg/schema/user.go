// Package schema defines the data structures shared by the store, the workflows and the SDK.
package schema

import "time"

// User is the owner of a network of enrichment records.
type User struct {
	UserID     string    `json:"user_id" gorm:"column:user_id;primaryKey;type:varchar(64)"`
	Email      string    `json:"email" gorm:"column:email"`
	FullName   string    `json:"full_name" gorm:"column:full_name"`
	Title      string    `json:"title" gorm:"column:title"`
	ProfilePic string    `json:"profile_pic" gorm:"column:profile_pic"`
	CreatedAt  time.Time `json:"created_at" gorm:"column:created_at"`
}

// TableName returns the GORM table name.
func (User) TableName() string { return "users" }

// Initial returns the first letter of the user's name, or "?".
func (u User) Initial() string {
	for _, r := range u.FullName {
		return string(r)
	}
	return "?"
}

// Connection links a user to a record of their network. A record may belong
// to several users.
type Connection struct {
	ConnectionID string    `json:"connection_id" gorm:"column:connection_id;primaryKey;type:varchar(64)"`
	UserID       string    `json:"user_id" gorm:"column:user_id;index:idx_conn_user"`
	ProfileID    string    `json:"profile_id" gorm:"column:profile_id;index:idx_conn_profile"`
	CreatedAt    time.Time `json:"created_at" gorm:"column:created_at"`
}

// TableName returns the GORM table name.
func (Connection) TableName() string { return "connections" }

// ConnectionFilter restricts a connection fetch. The zero value matches everything.
type ConnectionFilter struct {
	UserID string `json:"user_id,omitempty"`
}

// Match reports whether c passes the filter.
func (f ConnectionFilter) Match(c Connection) bool {
	return f.UserID == "" || c.UserID == f.UserID
}

// Action types written to the action log.
const (
	ActionTriageFix          = "triage_fix"
	ActionOpsPartialFix      = "ops_partial_fix"
	ActionOpsValidate        = "ops_validate"
	ActionOpsTriggerLaunched = "ops_trigger_launched"
	ActionManualEdit         = "manual_edit"
	ActionRerunRequested     = "rerun_requested"
)

// ActionLogEntry is an append-only audit record of an operator correction.
type ActionLogEntry struct {
	ID         string    `json:"id" gorm:"column:id;primaryKey;type:varchar(36)"`
	UserName   string    `json:"user_name" gorm:"column:user_name;index;not null"`
	ActionType string    `json:"action_type" gorm:"column:action_type;not null"`
	ProfileID  string    `json:"profile_id,omitempty" gorm:"column:profile_id;index"`
	Details    string    `json:"details,omitempty" gorm:"column:details"`
	CreatedAt  time.Time `json:"created_at" gorm:"column:created_at;index"`
}

// TableName returns the GORM table name.
func (ActionLogEntry) TableName() string { return "action_logs" }

// Operator identifies who performs a workflow action. It is passed explicitly
// into every triage and review call.
type Operator struct {
	Name string `json:"name"`
}

// DisplayName returns the operator name written to the action log.
func (o Operator) DisplayName() string {
	if o.Name == "" {
		return "Anonymous"
	}
	return o.Name
}
