// Package job implements the in-memory Job object: a record plus its
// module instance, with pure operations that return the delta the caller
// must persist. A Job is owned by the orchestrator
// goroutine that claimed it and lives only while the job is RUNNING in
// that process.
package job

import (
	"context"
	"fmt"
	"sync"

	"github.com/xcute-engine/xcute/internal/xcute/module"
	"github.com/xcute-engine/xcute/internal/xcute/xctypes"
)

const defaultMaxPerSecond = 30

// Job wraps a durable record with the module instance constructed from its
// options/details, plus the lazily-created resumable task stream.
type Job struct {
	Record *xctypes.Job
	Module module.Module

	// mu serializes the dispatch goroutine's sent-side mutations against
	// the reply loop's processed-side mutations.
	mu     sync.Mutex
	stream module.Stream
}

// Create builds a fresh Job in WAITING status with a freshly generated id,
// zeroed counters, and sending=true.
func Create(jobType string, maxPerSecond int, options map[string]any, factory module.Factory) (*Job, error) {
	if factory == nil {
		return nil, fmt.Errorf("job: nil factory for type %q", jobType)
	}
	mod, err := factory(options, nil)
	if err != nil {
		return nil, err
	}
	id, err := xctypes.NewID()
	if err != nil {
		return nil, fmt.Errorf("job: generate id: %w", err)
	}
	if maxPerSecond <= 0 {
		maxPerSecond = defaultMaxPerSecond
	}
	now := nowEpoch()
	record := &xctypes.Job{
		ID:      id,
		Type:    jobType,
		Status:  xctypes.StatusWaiting,
		Lock:    mod.Lock(),
		Sending: true,
		Items: xctypes.Items{
			MaxPerSecond: maxPerSecond,
		},
		Errors:  xctypes.Errors{Details: map[string]int{}},
		Options: options,
		Details: map[string]any{},
		CTime:   now,
		MTime:   now,
	}
	return &Job{Record: record, Module: mod}, nil
}

// Load rehydrates a Job from a previously persisted record. It rejects a
// nil record and a record without an id or status.
func Load(record *xctypes.Job, factory module.Factory) (*Job, error) {
	if record == nil {
		return nil, fmt.Errorf("job: nil record")
	}
	if record.ID == "" {
		return nil, fmt.Errorf("job: missing id")
	}
	if record.Status == "" {
		return nil, fmt.Errorf("job: missing status")
	}
	if factory == nil {
		return nil, fmt.Errorf("job: nil factory for type %q", record.Type)
	}
	mod, err := factory(record.Options, record.Details)
	if err != nil {
		return nil, err
	}
	if record.Errors.Details == nil {
		record.Errors.Details = map[string]int{}
	}
	return &Job{Record: record, Module: mod}, nil
}

// NextTask pulls the next descriptor from the module's stream, lazily
// starting it from the record's last_sent cursor on first call. ok is
// false at end of stream.
func (j *Job) NextTask(ctx context.Context) (module.TaskDescriptor, bool, error) {
	if j.stream == nil {
		j.mu.Lock()
		last := j.Record.Items.LastSent
		j.mu.Unlock()
		s, err := j.Module.Tasks(last)
		if err != nil {
			return module.TaskDescriptor{}, false, err
		}
		j.stream = s
	}
	return j.stream.Next(ctx)
}

// OnSent records a successfully dispatched item.
func (j *Job) OnSent(item string) Delta {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Record.Items.Sent++
	j.Record.Items.LastSent = item
	sent := j.Record.Items.Sent
	last := item
	return Delta{ItemsSent: &sent, ItemsLastSent: &last}
}

// OnAllSent marks the item stream exhausted.
func (j *Job) OnAllSent() Delta {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Record.Sending = false
	sending := false
	return Delta{Sending: &sending}
}

// WireReply is the decoded shape of a reply message.
type WireReply struct {
	JobID string
	Res   any
	Exc   *module.TaskError
}

// OnReply folds one reply into the job's counters and, via the module's
// reducers, into details/errors. A malformed
// reply increments errors.total/errors.MalformedReply rather than
// crashing the job.
func (j *Job) OnReply(reply WireReply) Delta {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Record.Items.Processed++
	processed := j.Record.Items.Processed
	delta := Delta{ItemsProcessed: &processed}

	if reply.Exc != nil {
		class := reply.Exc.ClassName
		if class == "" {
			class = "MalformedReply"
		}
		j.Record.Errors.Total++
		j.Record.Errors.Details[class]++
		delta.ErrorsTotalInc = 1
		delta.ErrorsInc = map[string]int{class: 1}

		if extra, err := j.Module.ReduceError(reply.Exc); err == nil && len(extra) > 0 {
			mergeDetails(j.Record.Details, extra)
			delta.DetailsMerge = extra
		}
		return delta
	}

	extra, err := j.Module.ReduceResult(reply.Res)
	if err != nil {
		j.Record.Errors.Total++
		j.Record.Errors.Details["MalformedReply"]++
		delta.ErrorsTotalInc = 1
		delta.ErrorsInc = map[string]int{"MalformedReply": 1}
		return delta
	}
	if len(extra) > 0 {
		mergeDetails(j.Record.Details, extra)
		delta.DetailsMerge = extra
	}
	return delta
}

// Finished reports whether the job's stream is exhausted and every sent
// item has been processed.
func (j *Job) Finished() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return !j.Record.Sending && j.Record.Items.Processed >= j.Record.Items.Sent
}

func mergeDetails(dst map[string]any, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}
