package logging

// ProgressSampler suppresses repetitive encoder progress logs while preserving
// signal when the pass changes or the fraction crosses a bucket boundary.
// It is not safe for concurrent use; keep one per running job.
type ProgressSampler struct {
	bucketSize float64
	lastPass   int
	lastBucket int
}

// NewProgressSampler constructs a sampler that emits when progress crosses
// bucket boundaries. bucketSize is a fraction of the whole job (default 0.1).
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 || bucketSize > 1 {
		bucketSize = 0.1
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether a progress update should be logged. fraction is
// in [0,1]; pass is the 1-based encoder pass, or 0 when unknown.
func (s *ProgressSampler) ShouldLog(fraction float64, pass int) bool {
	if s == nil {
		return true
	}
	emit := false
	if pass > 0 && pass != s.lastPass {
		s.lastPass = pass
		emit = true
	}
	if fraction >= 0 {
		if fraction > 1 {
			fraction = 1
		}
		bucket := int(fraction / s.bucketSize)
		if bucket > s.lastBucket {
			s.lastBucket = bucket
			emit = true
		}
	}
	return emit
}

// Reset clears the sampler state.
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.lastPass = 0
	s.lastBucket = -1
}
