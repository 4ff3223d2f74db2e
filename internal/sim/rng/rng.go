// Package rng derives reproducible random sub-streams from a campaign seed.
//
// Components never see a root generator. Each consumer asks for a stream keyed
// by (seed, day, tag) so that reordering components does not shift anyone
// else's draws.
package rng

import "hash/fnv"

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func tagHash(tag string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(tag))
	return h.Sum64()
}

// Stream is a splitmix64 generator. The zero value is usable but every
// stream should come from For.
type Stream struct {
	state uint64
}

// For returns the sub-stream for a day and tag.
func For(seed int64, day int, tag string) *Stream {
	v := uint64(seed) ^ (uint64(uint32(int32(day))) * 0xc2b2ae3d27d4eb4f) ^ tagHash(tag)
	return &Stream{state: mix64(v)}
}

func (s *Stream) Uint64() uint64 {
	s.state += 0x9e3779b97f4a7c15
	z := s.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Float64 returns a uniform value in [0, 1).
func (s *Stream) Float64() float64 {
	return float64(s.Uint64()>>11) / float64(1<<53)
}

// Uniform returns a uniform value in [lo, hi).
func (s *Stream) Uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*s.Float64()
}

// Source is what components consume: something that yields uniform draws.
type Source interface {
	Float64() float64
}

// Fixed replays a scripted sequence of draws, cycling when exhausted. It is
// used to force particular outcomes.
type Fixed struct {
	Values []float64
	i      int
}

func (f *Fixed) Float64() float64 {
	if len(f.Values) == 0 {
		return 0
	}
	v := f.Values[f.i%len(f.Values)]
	f.i++
	return v
}
