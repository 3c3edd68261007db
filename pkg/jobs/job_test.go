package jobs

import (
	"errors"
	"reflect"
	"testing"
)

func TestJobValidate(t *testing.T) {
	valid := &Job{ID: "id", Queue: "q", RunAt: 1}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid job rejected: %v", err)
	}

	tests := []struct {
		name string
		job  *Job
	}{
		{"nil job", nil},
		{"missing id", &Job{Queue: "q"}},
		{"missing queue", &Job{ID: "id"}},
		{"negative runAt", &Job{ID: "id", Queue: "q", RunAt: -1}},
		{"negative count", &Job{ID: "id", Queue: "q", Count: -1}},
		{"negative maxTimes", &Job{ID: "id", Queue: "q", MaxTimes: -1}},
		{"schedule without type", &Job{ID: "id", Queue: "q", Schedule: &Schedule{}}},
		{"negative retry delay", &Job{ID: "id", Queue: "q", Retry: []int64{-5}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.job.Validate(); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestJobAttrsRoundTrip(t *testing.T) {
	job := &Job{
		ID:      "invoice-7",
		Queue:   "billing",
		Tenant:  "acme",
		Payload: []byte(`{"amount":12}`),
		RunAt:   1_700_000_000_000,
		Schedule: &Schedule{
			Type:         "every",
			Meta:         "60000",
			LastFireTime: 1_699_999_940_000,
		},
		Retry:     []int64{1000, 5000, 25000},
		Count:     3,
		MaxTimes:  10,
		Exclusive: true,
	}

	decoded, err := jobFromAttrs(job.toAttrs())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(job, decoded) {
		t.Fatalf("round trip mismatch:\n have %+v\n want %+v", decoded, job)
	}
}

func TestJobAttrsCoercion(t *testing.T) {
	// Backing-store hashes are strings; the decoder owns typed coercion.
	attrs := map[string]string{
		AttrID:        "j1",
		AttrQueue:     "q",
		AttrTenant:    "",
		AttrRunAt:     "42",
		AttrCount:     "2",
		AttrRetry:     "10, 20,30",
		AttrExclusive: "1",
	}
	job, err := jobFromAttrs(attrs)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.RunAt != 42 || job.Count != 2 || !job.Exclusive {
		t.Fatalf("bad coercion: %+v", job)
	}
	if !reflect.DeepEqual(job.Retry, []int64{10, 20, 30}) {
		t.Fatalf("bad retry decode: %v", job.Retry)
	}

	attrs[AttrRunAt] = "not-a-number"
	if _, err := jobFromAttrs(attrs); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for bad run_at, got %v", err)
	}

	if _, err := jobFromAttrs(map[string]string{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for empty record, got %v", err)
	}
}

func TestRetryDelayFor(t *testing.T) {
	job := &Job{ID: "id", Queue: "q", Retry: []int64{100, 200}}

	if delay, ok := job.RetryDelayFor(1); !ok || delay != 100 {
		t.Fatalf("count 1 should use first delay, got %d ok=%v", delay, ok)
	}
	if delay, ok := job.RetryDelayFor(2); !ok || delay != 200 {
		t.Fatalf("count 2 should use second delay, got %d ok=%v", delay, ok)
	}
	if _, ok := job.RetryDelayFor(3); ok {
		t.Fatal("count beyond the sequence must exhaust")
	}
	if _, ok := job.RetryDelayFor(0); ok {
		t.Fatal("count zero has no delay")
	}
	if _, ok := (&Job{ID: "id", Queue: "q"}).RetryDelayFor(1); ok {
		t.Fatal("no retry sequence means no delay")
	}
}
