package tools

import "time"

func FrameSamples(duration time.Duration, rate, channels int) int {
	return int(duration.Seconds() * float64(channels) * float64(rate))
}

// ChunkBytes is the byte size of duration of mono PCM16 at rate.
func ChunkBytes(duration time.Duration, rate int) int {
	return FrameSamples(duration, rate, 1) * 2
}
