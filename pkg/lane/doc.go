// Package lane provides per-key strictly ordered task queues.
//
// Every task enqueued under the same key runs after the previous task for
// that key has fully completed, in FIFO order, with at most one task
// in flight per key. Distinct keys make independent progress. The agent
// runs each conversation on its own key, which makes conversation state
// single-writer without locks.
package lane
