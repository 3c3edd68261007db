package jobs

import "time"

// Clock supplies the current time in milliseconds since the epoch.
// MemoryRepository reads its time through a SystemClock. The Redis
// repository does not use a Clock: it takes the server time from
// RedisRepository.ServerNow so that stale deadlines agree across workers.
type Clock interface {
	Now() int64
}

// SystemClock reads the local wall clock.
type SystemClock struct{}

// Now returns the local time in epoch milliseconds.
func (SystemClock) Now() int64 {
	return time.Now().UnixMilli()
}
