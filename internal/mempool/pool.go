// Package mempool recycles the float32 buffers that back model input
// tensors. Buffers are bucketed by size class so crops of similar width
// share a pool.
package mempool

import "sync"

const classStep = 4096

var pools sync.Map // size class -> *sync.Pool

// SizeClass rounds n up to the next multiple of the bucket step.
func SizeClass(n int) int {
	if n <= classStep {
		return classStep
	}
	return (n + classStep - 1) / classStep * classStep
}

func poolFor(class int) *sync.Pool {
	if p, ok := pools.Load(class); ok {
		return p.(*sync.Pool)
	}
	p, _ := pools.LoadOrStore(class, &sync.Pool{
		New: func() any {
			buf := make([]float32, class)
			return &buf
		},
	})
	return p.(*sync.Pool)
}

// GetFloat32 returns a buffer of length n. Its contents are not zeroed.
func GetFloat32(n int) []float32 {
	if n < 0 {
		n = 0
	}
	class := SizeClass(n)
	bp := poolFor(class).Get().(*[]float32)
	buf := *bp
	if cap(buf) < class {
		buf = make([]float32, class)
	}
	return buf[:n]
}

// PutFloat32 hands buf back for reuse. Buffers whose capacity is not an
// exact size class were not issued by GetFloat32 and are dropped.
func PutFloat32(buf []float32) {
	c := cap(buf)
	if c == 0 || SizeClass(c) != c {
		return
	}
	buf = buf[:c]
	poolFor(c).Put(&buf)
}
