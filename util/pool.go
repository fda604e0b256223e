package util

import "sync"

// BufPool holds DefaultBufSize scratch buffers for relay copies and as
// the initial backing array of per-connection line scanners.
var BufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, DefaultBufSize)
		return &buf
	},
}

// GetBuf borrows a buffer.  Return it with [PutBuf] once nothing
// references its contents.
func GetBuf() *[]byte {
	return BufPool.Get().(*[]byte)
}

// PutBuf returns a buffer to the pool.  Buffers that were resliced
// below DefaultBufSize are dropped.
func PutBuf(buf *[]byte) {
	if buf == nil || cap(*buf) < DefaultBufSize {
		return
	}
	*buf = (*buf)[:DefaultBufSize]
	BufPool.Put(buf)
}
