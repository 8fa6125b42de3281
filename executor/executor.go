package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/agora-ai/agora/core"
	"github.com/agora-ai/agora/delegate"
	"github.com/agora-ai/agora/logging"
	"github.com/agora-ai/agora/oracle"
)

// DefaultTaskTimeout bounds each assignment's oracle call.
const DefaultTaskTimeout = 30 * time.Second

// Result is the tagged outcome of one assignment. Exactly one of
// Output or Err is meaningful.
type Result struct {
	AgentID  string
	Persona  core.AgentPersona
	Task     string
	Output   string
	Err      error
	Duration time.Duration
}

// Success reports whether the assignment produced output.
func (r Result) Success() bool { return r.Err == nil }

// TimedOut reports whether the assignment failed on its per-task
// timeout rather than a provider error.
func (r Result) TimedOut() bool {
	return errors.Is(r.Err, context.DeadlineExceeded) || oracle.IsKind(r.Err, oracle.KindTimeout)
}

// Options configures the coordinator.
type Options struct {
	// TaskTimeout is the per-assignment deadline.
	TaskTimeout time.Duration

	Logger logging.Logger
}

// Coordinator fans assignments out to the oracle and joins every
// result. It never returns early on first completion, and a hung
// provider cannot hold the join past the task timeout.
type Coordinator struct {
	oracle      oracle.Oracle
	taskTimeout time.Duration
	logger      logging.Logger
}

// NewCoordinator creates an execution coordinator.
func NewCoordinator(o oracle.Oracle, optFns ...func(o *Options)) *Coordinator {
	opts := Options{
		TaskTimeout: DefaultTaskTimeout,
		Logger:      logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Coordinator{
		oracle:      o,
		taskTimeout: opts.TaskTimeout,
		logger:      opts.Logger,
	}
}

// Execute runs every assignment concurrently and returns one result
// per assignment, in plan order, after all have completed, failed, or
// timed out. An empty plan degrades to a single assignment running the
// raw user text under the roster's manager, or its first entry when no
// manager exists. An empty plan over an empty roster returns nil.
func (c *Coordinator) Execute(ctx context.Context, plan []delegate.Assignment, roster core.Roster, userText string) []Result {
	if len(plan) == 0 {
		entry, ok := roster.Manager()
		if !ok {
			if len(roster) == 0 {
				return nil
			}

			entry = roster[0]
		}

		c.logger.Debug("empty plan, degrading to single agent", "agent_id", entry.Agent.ID)

		plan = []delegate.Assignment{{
			AgentID: entry.Agent.ID,
			Persona: entry.Persona,
			Task:    userText,
		}}
	}

	results := make([]Result, len(plan))

	var wg sync.WaitGroup

	for i, a := range plan {
		wg.Add(1)

		go func(i int, a delegate.Assignment) {
			defer wg.Done()
			results[i] = c.run(ctx, a)
		}(i, a)
	}

	wg.Wait()

	return results
}

type generation struct {
	output string
	err    error
}

func (c *Coordinator) run(ctx context.Context, a delegate.Assignment) Result {
	tctx, cancel := context.WithTimeout(ctx, c.taskTimeout)
	defer cancel()

	start := time.Now()

	// The buffered channel lets a provider that ignores cancellation
	// finish in the background without holding up the join.
	done := make(chan generation, 1)

	go func() {
		output, err := c.oracle.Generate(tctx, a.Persona, a.Task)
		done <- generation{output: output, err: err}
	}()

	result := Result{
		AgentID: a.AgentID,
		Persona: a.Persona,
		Task:    a.Task,
	}

	select {
	case gen := <-done:
		result.Output = gen.output
		result.Err = gen.err
	case <-tctx.Done():
		result.Err = oracle.NewError(oracle.KindTimeout, "executor", tctx.Err())
	}

	result.Duration = time.Since(start)

	if result.Err != nil {
		c.logger.Warn("assignment failed", "agent_id", a.AgentID, "timed_out", result.TimedOut(), "error", result.Err)
	}

	return result
}
