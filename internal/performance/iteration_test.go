package performance

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/stampede/internal/performance/metrics"
	"github.com/wesleyorama2/stampede/pkg/dataset"
	"github.com/wesleyorama2/stampede/pkg/idgen"
)

type sentRequest struct {
	url     string
	payload []byte
	headers http.Header
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []sentRequest
	status int
	delay  time.Duration
	err    error
}

func (f *fakeSender) Send(ctx context.Context, url string, payload []byte, headers http.Header) (Response, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.sent = append(f.sent, sentRequest{url: url, payload: payload, headers: headers})
	f.mu.Unlock()
	if f.err != nil {
		return Response{}, f.err
	}
	return Response{Status: f.status, Duration: f.delay, Bytes: 2}, nil
}

func (f *fakeSender) requests() []sentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentRequest, len(f.sent))
	copy(out, f.sent)
	return out
}

type sampleRecorder struct {
	mu      sync.Mutex
	samples []metrics.Sample
}

func (r *sampleRecorder) Add(s metrics.Sample) {
	r.mu.Lock()
	r.samples = append(r.samples, s)
	r.mu.Unlock()
}

func (r *sampleRecorder) all() []metrics.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]metrics.Sample, len(r.samples))
	copy(out, r.samples)
	return out
}

func employees(t *testing.T) *dataset.Cursor {
	t.Helper()
	ds, err := dataset.ParseJSON([]byte(`{"employees": [
		{"id": "", "first_name": "Ada", "salary": 50000},
		{"id": "", "first_name": "Alan", "salary": 65000},
		{"id": "", "first_name": "Grace", "salary": 70000}
	]}`), dataset.LoadOptions{Select: "employees"})
	require.NoError(t, err)
	c, err := dataset.NewCursor(ds, 0)
	require.NoError(t, err)
	return c
}

func TestNewIteration_RequiresDependencies(t *testing.T) {
	cursor := employees(t)
	sender := &fakeSender{status: 200}
	sink := &sampleRecorder{}
	cfg := IterationConfig{URL: "http://localhost/employee"}

	_, err := NewIteration(nil, idgen.UUID{}, sender, sink, cfg)
	assert.Error(t, err)
	_, err = NewIteration(cursor, nil, sender, sink, cfg)
	assert.Error(t, err)
	_, err = NewIteration(cursor, idgen.UUID{}, nil, sink, cfg)
	assert.Error(t, err)
	_, err = NewIteration(cursor, idgen.UUID{}, sender, nil, cfg)
	assert.Error(t, err)
	_, err = NewIteration(cursor, idgen.UUID{}, sender, sink, IterationConfig{})
	assert.Error(t, err)
}

func TestIteration_RunStampsIDAndSends(t *testing.T) {
	sender := &fakeSender{status: 200}
	sink := &sampleRecorder{}
	headers := http.Header{"Content-Type": []string{"application/json"}}

	it, err := NewIteration(employees(t), idgen.UUID{}, sender, sink, IterationConfig{
		URL:     "http://localhost:8080/employee",
		Headers: headers,
	})
	require.NoError(t, err)

	sample := it.Run(context.Background(), 7)

	assert.True(t, sample.Success)
	assert.Equal(t, "7", sample.Tags[TagVU])
	assert.Equal(t, "200", sample.Tags[TagStatus])
	assert.Equal(t, DefaultCheckName, sample.Tags[TagCheck])
	require.Len(t, sink.all(), 1)

	reqs := sender.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "http://localhost:8080/employee", reqs[0].url)
	assert.Equal(t, "application/json", reqs[0].headers.Get("Content-Type"))

	body := gjson.ParseBytes(reqs[0].payload)
	assert.Len(t, body.Get("id").String(), 36)
	assert.Equal(t, "Ada", body.Get("first_name").String())
	assert.Equal(t, int64(50000), body.Get("salary").Int())
}

func TestIteration_SendErrorBecomesFailedSample(t *testing.T) {
	sender := &fakeSender{err: errors.New("connection refused")}
	sink := &sampleRecorder{}

	it, err := NewIteration(employees(t), idgen.UUID{}, sender, sink, IterationConfig{URL: "http://localhost/employee"})
	require.NoError(t, err)

	sample := it.Run(context.Background(), 1)

	assert.False(t, sample.Success)
	assert.Equal(t, "connection refused", sample.Tags[TagError])
	assert.Positive(t, sample.Duration)
	assert.Len(t, sink.all(), 1)
	assert.Len(t, sender.requests(), 1, "no retry")
}

func TestIteration_CustomCheck(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  CheckFunc
		want   bool
	}{
		{"default accepts 200", 200, nil, true},
		{"default rejects 201", 201, nil, false},
		{"default rejects 500", 500, nil, false},
		{"created check accepts 201", 201, StatusIs(201), true},
		{"created check rejects 200", 200, StatusIs(201), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it, err := NewIteration(employees(t), idgen.UUID{}, &fakeSender{status: tt.status}, &sampleRecorder{},
				IterationConfig{URL: "http://localhost/employee", Check: tt.check})
			require.NoError(t, err)
			assert.Equal(t, tt.want, it.Run(context.Background(), 1).Success)
		})
	}
}

func TestIteration_RoundRobinRecords(t *testing.T) {
	sender := &fakeSender{status: 200}
	it, err := NewIteration(employees(t), idgen.ULID{}, sender, &sampleRecorder{}, IterationConfig{URL: "http://x/employee"})
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		it.Run(context.Background(), 1)
	}

	var names []string
	for _, r := range sender.requests() {
		names = append(names, gjson.GetBytes(r.payload, "first_name").String())
	}
	assert.Equal(t, []string{"Ada", "Alan", "Grace", "Ada", "Alan", "Grace"}, names)
}

func TestIteration_UniqueIDsAcrossVUs(t *testing.T) {
	const (
		vus        = 20
		iterations = 50
	)
	sender := &fakeSender{status: 200}
	it, err := NewIteration(employees(t), idgen.UUID{}, sender, &sampleRecorder{}, IterationConfig{URL: "http://x/employee"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for vu := 1; vu <= vus; vu++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				it.Run(context.Background(), id)
			}
		}(vu)
	}
	wg.Wait()

	seen := make(map[string]struct{})
	for _, r := range sender.requests() {
		seen[gjson.GetBytes(r.payload, "id").String()] = struct{}{}
	}
	assert.Len(t, seen, vus*iterations)
}
