package queue

import "qme/internal/models"

const (
	actionServe   = "serve"
	actionDequeue = "dequeue"
	actionClose   = "close"
)

var transitionMap = map[string][]string{
	actionServe:   {models.StatusWaiting},
	actionDequeue: {models.StatusServing},
	actionClose:   {models.StatusWaiting, models.StatusServing},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}
