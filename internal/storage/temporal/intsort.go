/*
Copyright 2025 Tempus Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package temporal

// In-place sorts for the scan hot path. Row id slices and version
// slices are sorted with the same hybrid scheme: insertion sort for
// small runs, median-of-three quicksort with three-way partitioning
// above that, which degrades gracefully on the heavily duplicated
// inputs index lookups produce.

// sortInt64s sorts a row id slice ascending.
func sortInt64s(a []int64) {
	if len(a) < 32 {
		insertionSortInt64(a)
		return
	}
	hybridSortInt64(a, 0, len(a)-1)
}

func insertionSortInt64(a []int64) {
	for i := 1; i < len(a); i++ {
		key := a[i]
		j := i - 1
		for j >= 0 && a[j] > key {
			a[j+1] = a[j]
			j--
		}
		a[j+1] = key
	}
}

func hybridSortInt64(a []int64, lo, hi int) {
	if hi-lo < 16 {
		for i := lo + 1; i <= hi; i++ {
			key := a[i]
			j := i - 1
			for j >= lo && a[j] > key {
				a[j+1] = a[j]
				j--
			}
			a[j+1] = key
		}
		return
	}

	pivot := medianOfThree(a, lo, (lo+hi)/2, hi)
	lt, gt := threeWayPartition(a, lo, hi, pivot)

	// Recurse into the smaller side first to bound stack depth.
	if lt-lo < hi-gt {
		hybridSortInt64(a, lo, lt-1)
		hybridSortInt64(a, gt+1, hi)
	} else {
		hybridSortInt64(a, gt+1, hi)
		hybridSortInt64(a, lo, lt-1)
	}
}

// medianOfThree orders a[lo], a[mid], a[hi] with a three-element
// sorting network and returns the median as the pivot.
func medianOfThree(a []int64, lo, mid, hi int) int64 {
	if a[lo] > a[mid] {
		a[lo], a[mid] = a[mid], a[lo]
	}
	if a[mid] > a[hi] {
		a[mid], a[hi] = a[hi], a[mid]
		if a[lo] > a[mid] {
			a[lo], a[mid] = a[mid], a[lo]
		}
	}
	return a[mid]
}

// threeWayPartition splits a[lo..hi] into [lo..lt-1] < pivot,
// [lt..gt] == pivot, [gt+1..hi] > pivot.
func threeWayPartition(a []int64, lo, hi int, pivot int64) (lt, gt int) {
	lt = lo
	gt = hi
	i := lo
	for i <= gt {
		switch {
		case a[i] < pivot:
			a[i], a[lt] = a[lt], a[i]
			i++
			lt++
		case a[i] > pivot:
			a[i], a[gt] = a[gt], a[i]
			gt--
		default:
			i++
		}
	}
	return lt, gt
}

// versionLess orders versions by (rowID, validFrom), the order every
// scanner emits.
func versionLess(a, b *rowVersion) bool {
	if a.rowID != b.rowID {
		return a.rowID < b.rowID
	}
	return a.validFrom < b.validFrom
}

// sortVersions sorts a version slice by (rowID, validFrom) with the
// same insertion/quicksort hybrid as sortInt64s.
func sortVersions(a []*rowVersion) {
	hybridSortVersions(a, 0, len(a)-1)
}

func hybridSortVersions(a []*rowVersion, lo, hi int) {
	if hi-lo < 16 {
		for i := lo + 1; i <= hi; i++ {
			key := a[i]
			j := i - 1
			for j >= lo && versionLess(key, a[j]) {
				a[j+1] = a[j]
				j--
			}
			a[j+1] = key
		}
		return
	}

	mid := (lo + hi) / 2
	if versionLess(a[mid], a[lo]) {
		a[lo], a[mid] = a[mid], a[lo]
	}
	if versionLess(a[hi], a[mid]) {
		a[mid], a[hi] = a[hi], a[mid]
		if versionLess(a[mid], a[lo]) {
			a[lo], a[mid] = a[mid], a[lo]
		}
	}
	pivot := a[mid]

	lt, gt, i := lo, hi, lo
	for i <= gt {
		switch {
		case versionLess(a[i], pivot):
			a[i], a[lt] = a[lt], a[i]
			i++
			lt++
		case versionLess(pivot, a[i]):
			a[i], a[gt] = a[gt], a[i]
			gt--
		default:
			i++
		}
	}

	if lt-lo < hi-gt {
		hybridSortVersions(a, lo, lt-1)
		hybridSortVersions(a, gt+1, hi)
	} else {
		hybridSortVersions(a, gt+1, hi)
		hybridSortVersions(a, lo, lt-1)
	}
}
