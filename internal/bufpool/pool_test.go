package bufpool

import "testing"

func TestPool_GetPut(t *testing.T) {
	bufSize := 4096
	pool := New(bufSize)

	buf1 := pool.Get()
	if len(buf1) != bufSize {
		t.Errorf("expected buffer length %d, got %d", bufSize, len(buf1))
	}
	if cap(buf1) < bufSize {
		t.Errorf("expected buffer capacity >= %d, got %d", bufSize, cap(buf1))
	}
	pool.Put(buf1)

	buf2 := pool.Get()
	if len(buf2) != bufSize {
		t.Errorf("expected buffer length %d, got %d", bufSize, len(buf2))
	}

	if pool.BufSize() != bufSize {
		t.Errorf("expected BufSize %d, got %d", bufSize, pool.BufSize())
	}
}

func TestPool_TooSmallBufferDiscarded(t *testing.T) {
	bufSize := 4096
	pool := New(bufSize)

	pool.Put(make([]byte, 1024))

	buf := pool.Get()
	if len(buf) != bufSize {
		t.Errorf("expected buffer length %d, got %d", bufSize, len(buf))
	}
}

func TestPool_NonPositiveSizeFallsBack(t *testing.T) {
	for _, size := range []int{0, -1} {
		pool := New(size)
		if pool.BufSize() != DefaultBufSize {
			t.Errorf("New(%d).BufSize() = %d, want %d", size, pool.BufSize(), DefaultBufSize)
		}
		if got := pool.Get(); len(got) != DefaultBufSize {
			t.Errorf("New(%d).Get() length = %d, want %d", size, len(got), DefaultBufSize)
		}
	}
}
