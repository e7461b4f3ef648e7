package performance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/wesleyorama2/stampede/internal/performance/metrics"
	"github.com/wesleyorama2/stampede/pkg/dataset"
)

// DefaultCheckName labels the default status check in samples and reports.
const DefaultCheckName = "response code was 200"

// Sample tag keys.
const (
	TagVU     = "vu"
	TagStatus = "status"
	TagCheck  = "check"
	TagError  = "error"
)

// IterationConfig holds everything an iteration needs that does not change
// during a run.
type IterationConfig struct {
	// URL is the fully resolved target address.
	URL string

	// Headers are sent with every request and never modified.
	Headers http.Header

	// IDField is the record field overwritten with a fresh identifier.
	IDField string

	// CheckName labels the check in sample tags.
	CheckName string

	// Check decides success. Defaults to StatusIs(200).
	Check CheckFunc
}

// Iteration is one draw-stamp-send-check cycle. A single Iteration is
// shared by every VU of a run.
type Iteration struct {
	cursor *dataset.Cursor
	ids    IDGenerator
	sender Sender
	sink   SampleSink
	cfg    IterationConfig
}

// NewIteration wires an iteration unit. cursor, ids, sender and sink are required.
func NewIteration(cursor *dataset.Cursor, ids IDGenerator, sender Sender, sink SampleSink, cfg IterationConfig) (*Iteration, error) {
	switch {
	case cursor == nil:
		return nil, errors.New("iteration: cursor is required")
	case ids == nil:
		return nil, errors.New("iteration: id generator is required")
	case sender == nil:
		return nil, errors.New("iteration: sender is required")
	case sink == nil:
		return nil, errors.New("iteration: sample sink is required")
	case cfg.URL == "":
		return nil, errors.New("iteration: target URL is required")
	}

	if cfg.IDField == "" {
		cfg.IDField = "id"
	}
	if cfg.Check == nil {
		cfg.Check = StatusIs(http.StatusOK)
		if cfg.CheckName == "" {
			cfg.CheckName = DefaultCheckName
		}
	}
	if cfg.Headers == nil {
		cfg.Headers = http.Header{}
	}

	return &Iteration{
		cursor: cursor,
		ids:    ids,
		sender: sender,
		sink:   sink,
		cfg:    cfg,
	}, nil
}

// Run performs one cycle and emits exactly one sample, which it also
// returns. Send failures become a failed sample; nothing is retried.
func (it *Iteration) Run(ctx context.Context, vuID int) metrics.Sample {
	rec := it.cursor.Next().With(it.cfg.IDField, dataset.String(it.ids.NewID()))

	tags := map[string]string{TagVU: strconv.Itoa(vuID)}
	if it.cfg.CheckName != "" {
		tags[TagCheck] = it.cfg.CheckName
	}

	start := time.Now()
	sample := metrics.Sample{Timestamp: start, Tags: tags}

	payload, err := json.Marshal(rec)
	if err != nil {
		tags[TagError] = err.Error()
		sample.Duration = time.Since(start)
		it.sink.Add(sample)
		return sample
	}

	resp, err := it.sender.Send(ctx, it.cfg.URL, payload, it.cfg.Headers)
	sample.Duration = resp.Duration
	if sample.Duration <= 0 {
		sample.Duration = time.Since(start)
	}
	sample.Bytes = resp.Bytes
	if resp.Status != 0 {
		tags[TagStatus] = strconv.Itoa(resp.Status)
	}

	if err != nil {
		tags[TagError] = err.Error()
	} else {
		sample.Success = it.cfg.Check(resp)
	}

	it.sink.Add(sample)
	return sample
}
