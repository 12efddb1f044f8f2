// Package pool provides object pooling for the CLI's JSON response
// building, reducing allocation churn when operations print large result
// sets.
package pool

import (
	"sync"
)

// MapPool pools map[string]any for JSON output.
var MapPool = sync.Pool{
	New: func() any {
		return make(map[string]any, 8)
	},
}

// SlicePool pools []any for JSON output.
var SlicePool = sync.Pool{
	New: func() any {
		return make([]any, 0, 32)
	},
}

// GetMap gets a cleared map from the pool.
func GetMap() map[string]any {
	m := MapPool.Get().(map[string]any)
	for k := range m {
		delete(m, k)
	}
	return m
}

// PutMap returns a map to the pool.
func PutMap(m map[string]any) {
	MapPool.Put(m)
}

// GetSlice gets an empty slice from the pool.
func GetSlice() []any {
	s := SlicePool.Get().([]any)
	return s[:0]
}

// PutSlice returns a slice to the pool.
func PutSlice(s []any) {
	SlicePool.Put(s)
}
