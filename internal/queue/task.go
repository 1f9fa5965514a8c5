package queue

// TaskType discriminates queued work. The search pipeline has exactly one
// today; the field stays on the wire so draining old streams keeps working
// if more are added.
type TaskType string

const (
	TaskTypeSearchQuery TaskType = "search_query"
)
