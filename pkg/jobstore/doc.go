// Package jobstore provides the type-safe data model and the Redis-backed shared
// state used by every nlbayes component (dispatcher, workers, CLI and API).
//
// # Overview
//
// Three kinds of state live here:
//
// Blobs are immutable byte payloads addressed by the hex SHA-256 of their content.
// Each blob carries a declared filename. Storing identical content twice under the
// same filename is a no-op; storing it under a different filename is an integrity
// violation (see IntegrityConflictError). Serialized networks, evidence and
// posterior results are all blobs, so identical payloads are stored exactly once.
//
// Jobs are the durable record of one inference request: the blob hashes of its
// inputs, the inference configuration, the submission time and, as the worker makes
// progress, the latest Meta snapshot and the posterior hash. Only the progress
// fields change after creation.
//
// Tasks are the dispatch handles for jobs. A task message is pushed on the queue
// when a job is submitted and a worker pops it. The task's state (phase plus latest
// snapshot) is what polling clients read. Phase writes are monotonic: the store
// refuses to move a task back to an earlier phase.
//
// # Redis Schema
//
// All keys are namespaced by instance name so several deployments can share one
// Redis server:
//
//	Blobs:       nlbayes:{instance}:blob:{sha256}
//	Jobs:        nlbayes:{instance}:job:{job_id}
//	Tasks:       nlbayes:{instance}:task:{task_id}
//	Queue:       nlbayes:{instance}:queue
//	Task events: nlbayes:{instance}:task_events
//
// # Usage Example
//
//	client, err := jobstore.NewClient(&redis.Options{Addr: "localhost:6379"}, "default")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	hash, err := client.PutBlob(ctx, payload, jobstore.NetworkFilename)
//	if errors.Is(err, jobstore.ErrIntegrityConflict) {
//		// same content already stored under another name
//	}
package jobstore
