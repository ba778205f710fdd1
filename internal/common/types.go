// Package common provides shared types and utilities
package common

import (
	"sync"
)

// Pools for row id slices returned by index lookups, bucketed by the
// expected result size so a huge range scan does not poison the pool used
// by point lookups.
var (
	SmallIDSlicePool = &sync.Pool{
		New: func() interface{} {
			s := make([]int64, 0, 16)
			return &s
		},
	}

	MediumIDSlicePool = &sync.Pool{
		New: func() interface{} {
			s := make([]int64, 0, 256)
			return &s
		},
	}

	LargeIDSlicePool = &sync.Pool{
		New: func() interface{} {
			s := make([]int64, 0, 4096)
			return &s
		},
	}
)

func idSlicePool(expected int) *sync.Pool {
	if expected <= 16 {
		return SmallIDSlicePool
	} else if expected <= 256 {
		return MediumIDSlicePool
	}
	return LargeIDSlicePool
}

// GetIDSlice returns an empty int64 slice sized for roughly expected entries.
func GetIDSlice(expected int) []int64 {
	p := idSlicePool(expected)
	sp := p.Get().(*[]int64)
	return (*sp)[:0]
}

// PutIDSlice returns a slice obtained from GetIDSlice to its pool.
func PutIDSlice(s []int64) {
	if s == nil {
		return
	}
	s = s[:0]
	idSlicePool(cap(s)).Put(&s)
}
