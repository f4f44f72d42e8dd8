package logging

import "testing"

func TestNewProgressSamplerDefaults(t *testing.T) {
	tests := []struct {
		name       string
		bucketSize float64
		wantSize   float64
	}{
		{"zero", 0, 0.1},
		{"negative", -1, 0.1},
		{"above one", 5, 0.1},
		{"custom", 0.25, 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewProgressSampler(tt.bucketSize)
			if s.bucketSize != tt.wantSize {
				t.Fatalf("bucketSize = %v, want %v", s.bucketSize, tt.wantSize)
			}
		})
	}
}

func TestProgressSamplerBuckets(t *testing.T) {
	s := NewProgressSampler(0.1)
	steps := []struct {
		fraction float64
		want     bool
	}{
		{0, true},
		{0.05, false},
		{0.1, true},
		{0.15, false},
		{0.35, true},
		{0.3, false},
		{1.2, true},
		{1, false},
	}
	for _, step := range steps {
		if got := s.ShouldLog(step.fraction, 0); got != step.want {
			t.Fatalf("ShouldLog(%v) = %v, want %v", step.fraction, got, step.want)
		}
	}
}

func TestProgressSamplerPassChange(t *testing.T) {
	s := NewProgressSampler(0.5)
	if !s.ShouldLog(0.1, 1) {
		t.Fatal("first update should log")
	}
	if s.ShouldLog(0.2, 1) {
		t.Fatal("same pass and bucket should not log")
	}
	if !s.ShouldLog(0.2, 2) {
		t.Fatal("pass change should log")
	}
	s.Reset()
	if !s.ShouldLog(0.2, 2) {
		t.Fatal("reset should allow logging again")
	}
}

func TestProgressSamplerNil(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog(0.5, 1) {
		t.Fatal("nil sampler should always log")
	}
	s.Reset()
}
