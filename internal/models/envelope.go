package models

// TaskEnvelope is the unit of work handed to a pipeline stage: the item to
// annotate plus the opaque token the stage signals completion on. An
// envelope is consumed exactly once; redelivery of the underlying queue
// message creates a fresh envelope, so stage handlers must tolerate
// at-least-once processing of the same item.
type TaskEnvelope struct {
	Input     *ContentItem `json:"input"`
	TaskToken string       `json:"taskToken,omitempty"`
}

// TopicJobStatus is the lifecycle state of a topic-modeling job.
type TopicJobStatus string

const (
	TopicJobSubmitted  TopicJobStatus = "SUBMITTED"
	TopicJobInProgress TopicJobStatus = "IN_PROGRESS"
	TopicJobCompleted  TopicJobStatus = "COMPLETED"
	TopicJobFailed     TopicJobStatus = "FAILED"
	TopicJobNoData     TopicJobStatus = "NO_DATA"
)

// Terminal reports whether the status will not change on further polling.
func (s TopicJobStatus) Terminal() bool {
	return s == TopicJobCompleted || s == TopicJobFailed || s == TopicJobNoData
}
