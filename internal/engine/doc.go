// Package engine is the job dispatcher. It registers each submission as a
// queued job, gates pipeline execution through a fixed number of slots, and
// records every status transition in the store as the pipeline progresses.
// Stage output is fanned out to live subscribers through a LogBroker.
package engine
