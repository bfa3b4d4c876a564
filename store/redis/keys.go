package redis

// Redis key naming conventions for canvass data.
// All keys are prefixed with "canvass:" to avoid collisions.

const keyPrefix = "canvass:"

// ── Execution keys ──

// executionKey returns the key for an execution Hash: canvass:execution:{id}
func executionKey(id string) string { return keyPrefix + "execution:" + id }

// executionIDsKey is the Set tracking all execution IDs for enumeration.
const executionIDsKey = keyPrefix + "execution_ids"

// ── Dial queue keys ──

// dialQueueKey is the Sorted Set of queued calls, scored by due time.
const dialQueueKey = keyPrefix + "dial_queue"

// callKey returns the key for a queued call Hash: canvass:call:{member}
func callKey(member string) string { return keyPrefix + "call:" + member }

// ── Lease keys ──

// leaseKey returns the key holding a call-chain lease: canvass:lease:{key}
func leaseKey(key string) string { return keyPrefix + "lease:" + key }

// ── Transition keys ──

// transitionsKey returns the List of an execution's transition log:
// canvass:transitions:{executionID}
func transitionsKey(execID string) string { return keyPrefix + "transitions:" + execID }
