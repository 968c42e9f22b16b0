package jobstore

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name so several
// nlbayes deployments can share one Redis server.
//
// Key pattern: nlbayes:{instance_name}:{entity}:{id}
// Channel pattern: nlbayes:{instance_name}:{event_type}_events

// BlobKey returns the Redis key for a content-addressed blob.
// Pattern: nlbayes:{instance_name}:blob:{sha256}
func BlobKey(instanceName, hash string) string {
	return fmt.Sprintf("nlbayes:%s:blob:%s", instanceName, hash)
}

// JobKey returns the Redis key for a job record.
// Pattern: nlbayes:{instance_name}:job:{job_id}
func JobKey(instanceName, jobID string) string {
	return fmt.Sprintf("nlbayes:%s:job:%s", instanceName, jobID)
}

// TaskKey returns the Redis key for a task state.
// Pattern: nlbayes:{instance_name}:task:{task_id}
func TaskKey(instanceName, taskID string) string {
	return fmt.Sprintf("nlbayes:%s:task:%s", instanceName, taskID)
}

// QueueKey returns the Redis list used as the task broker.
// Pattern: nlbayes:{instance_name}:queue
func QueueKey(instanceName string) string {
	return fmt.Sprintf("nlbayes:%s:queue", instanceName)
}

// TaskEventsChannel returns the Pub/Sub channel carrying task state changes.
// Pattern: nlbayes:{instance_name}:task_events
func TaskEventsChannel(instanceName string) string {
	return fmt.Sprintf("nlbayes:%s:task_events", instanceName)
}
