/* Copyright 2025 Tempus Contributors

 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License. */

// Package common holds small shared utilities: pooled byte buffers used by
// the record codec and checksum paths.
package common

import (
	"sync"
)

const (
	defaultBufferSize = 4 * 1024
	// Buffers that grew past this are dropped instead of pooled so a single
	// oversized record cannot pin memory for the lifetime of the process.
	maxPooledBufferSize = 1 << 20
)

// ByteBuffer is a resizable byte buffer that can be reused through the pool.
type ByteBuffer struct {
	B []byte
}

// Reset empties the buffer but keeps the allocated capacity.
func (b *ByteBuffer) Reset() {
	b.B = b.B[:0]
}

// Write implements io.Writer by appending to the buffer.
func (b *ByteBuffer) Write(p []byte) (int, error) {
	b.B = append(b.B, p...)
	return len(p), nil
}

// WriteString appends a string to the buffer.
func (b *ByteBuffer) WriteString(s string) (int, error) {
	b.B = append(b.B, s...)
	return len(s), nil
}

// Len returns the current length of the buffer.
func (b *ByteBuffer) Len() int {
	return len(b.B)
}

// Bytes returns the buffer contents. The slice is only valid until the
// buffer is returned to the pool.
func (b *ByteBuffer) Bytes() []byte {
	return b.B
}

var bufferPool = sync.Pool{
	New: func() interface{} {
		return &ByteBuffer{B: make([]byte, 0, defaultBufferSize)}
	},
}

// GetBuffer returns an empty buffer from the pool.
func GetBuffer() *ByteBuffer {
	return bufferPool.Get().(*ByteBuffer)
}

// PutBuffer returns a buffer to the pool.
func PutBuffer(b *ByteBuffer) {
	if b == nil || cap(b.B) > maxPooledBufferSize {
		return
	}
	b.Reset()
	bufferPool.Put(b)
}
