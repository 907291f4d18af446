package models

// Job is a service request submitted through the public jobs endpoint and
// relayed to the bridge for review.
type Job struct {
	JobID       string `json:"jobId"`
	ServiceType string `json:"serviceType"`
	Description string `json:"description"`
	Contact     string `json:"contact,omitempty"`
	Status      string `json:"status"`
	TS          int64  `json:"ts"` // Unix ms
}
