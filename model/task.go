package model

// Task is one judging request decoded from a queue message.
type Task struct {
	ID          string `json:"id,omitempty"`
	Environment string `json:"environment"`
	Source      string `json:"source"`
}
