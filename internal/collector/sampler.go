package collector

// sampler implements the deterministic "keep every Rth event" policy from
// spec §9 ("Sampling determinism"): a PRNG-based 1/R draw would make the
// scenario tests in spec §8 non-reproducible, so each shard instead keeps a
// per-shard counter and retains events whose ordinal is a multiple of R.
type sampler struct {
	rate    uint32
	counter uint64
}

func newSampler(rate uint32) *sampler {
	if rate == 0 {
		rate = 1
	}
	return &sampler{rate: rate}
}

// keep reports whether the next event should be retained, advancing the
// internal counter regardless of the outcome.
func (s *sampler) keep() bool {
	s.counter++
	return s.counter%uint64(s.rate) == 0
}
