// Package worker owns the cache version lifecycle: a version is installed
// into its own bucket, then activated, which retires every other bucket.
package worker

import (
	"sync/atomic"

	"github.com/52poke/sitecache/internal/cache"
)

type State int32

const (
	Installing State = iota
	Waiting
	Active
	Superseded
	// Redundant marks a version whose install failed. It never serves.
	Redundant
)

func (s State) String() string {
	switch s {
	case Installing:
		return "installing"
	case Waiting:
		return "waiting"
	case Active:
		return "active"
	case Superseded:
		return "superseded"
	case Redundant:
		return "redundant"
	default:
		return "unknown"
	}
}

// Worker is one deployed cache version.
type Worker struct {
	Version  string
	Bucket   string
	Manifest []string

	state  atomic.Int32
	bucket cache.Bucket
}

func newWorker(version, bucket string, manifest []string) *Worker {
	w := &Worker{Version: version, Bucket: bucket, Manifest: manifest}
	w.state.Store(int32(Installing))
	return w
}

func (w *Worker) State() State {
	return State(w.state.Load())
}

// Cache is the worker's opened bucket; nil until the install opened it.
func (w *Worker) Cache() cache.Bucket {
	return w.bucket
}

func (w *Worker) transition(from, to State) bool {
	return w.state.CompareAndSwap(int32(from), int32(to))
}
