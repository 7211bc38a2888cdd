package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stepflow-go/stepflow/flow/bridge"
	"github.com/stepflow-go/stepflow/flow/emit"
)

// execute runs one dequeued item: guard, domain dispatch, commit, branch,
// and failure handling. It never panics and never returns an error; every
// failure path ends in events and log entries.
func (in *Instance) execute(item QueueItem) {
	def := in.definition(item.StepName)
	if def == nil {
		in.StepLog(item.StepName).Append(LevelError, "unknown step dequeued", item.StepName)
		return
	}

	sc := in.newStepContext(def, item)

	if def.Guard != nil && !in.checkGuard(sc, def) {
		// A veto is not an error: one log line, no events.
		sc.log.Append(LevelInfo, "guard veto", item.TraceID)
		if m := in.opts.Metrics; m != nil {
			m.guardVetoes.WithLabelValues(in.id, def.Name).Inc()
		}
		return
	}

	in.emit(emit.StepBefore(def.Name), def.Name, item.TraceID, "", nil)

	started := time.Now()
	value, err := in.runEffect(sc, def, item)

	if err != nil {
		var susp *bridge.Suspension
		if errors.As(err, &susp) {
			in.park(def, item, susp)
			return
		}
		in.failStep(def, item, err)
		return
	}

	// Commit the output to the step's backing node. Equality-gated, so
	// an unchanged output does not re-fire watchers, and a pure branch
	// node's nil output leaves an unset node untouched. A nil return
	// after a WriteSelf keeps the written value instead of erasing it.
	if value != nil || !sc.wroteSelf {
		sc.Node().Set(value)
	}

	elapsed := time.Since(started)
	if m := in.opts.Metrics; m != nil {
		m.observeStep(in.id, def.Name, "success", elapsed)
	}
	in.emit(emit.StepAfter(def.Name), def.Name, item.TraceID, "", map[string]interface{}{
		"duration_ms": elapsed.Milliseconds(),
		"domain":      string(sc.Domain),
	})

	in.routeNext(sc, def, item, value)
}

func (in *Instance) newStepContext(def *StepDefinition, item QueueItem) *StepContext {
	return &StepContext{
		Context: context.Background(),
		Payload: item.Payload,
		TraceID: item.TraceID,
		Shared:  in.shared,
		Domain:  def.domain(),
		in:      in,
		def:     def,
		log:     in.StepLog(def.Name),
	}
}

// checkGuard evaluates the guard with panic containment; a panicking
// guard counts as a veto.
func (in *Instance) checkGuard(sc *StepContext, def *StepDefinition) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			sc.log.Append(LevelError, "guard panic", fmt.Sprintf("%v", r))
			ok = false
		}
	}()
	return def.Guard(sc)
}

// runEffect resolves the execution domain and dispatches.
func (in *Instance) runEffect(sc *StepContext, def *StepDefinition, item QueueItem) (interface{}, error) {
	switch def.domain() {
	case DomainRemote:
		if in.eng.opts.RemoteDomain {
			// This process is the remote domain; run in place.
			sc.Domain = DomainLocal
			return in.runLocal(sc, def)
		}
		return in.runRemote(sc, def, item)
	case DomainBoth:
		return in.runBoth(sc, def, item)
	default:
		return in.runLocal(sc, def)
	}
}

// runLocal invokes the effect in-process under the step's timeout.
//
// The timeout follows per-step precedence: StepDefinition.Timeout, then
// Options.DefaultStepTimeout, then unlimited. Effects are expected to
// honor sc.Context; a deadline that expired during the run is reported
// even when the effect returned normally.
func (in *Instance) runLocal(sc *StepContext, def *StepDefinition) (interface{}, error) {
	if def.Effect == nil {
		// Pure branch/guard node.
		return nil, nil
	}

	timeout := def.Timeout
	if timeout == 0 {
		timeout = in.opts.DefaultStepTimeout
	}

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	sc.Context = ctx

	value, err := in.invokeEffect(sc, def)
	if err != nil {
		return nil, err
	}
	if ctx.Err() == context.DeadlineExceeded {
		return nil, &FlowError{
			Message: fmt.Sprintf("step %s exceeded timeout of %v", def.Name, timeout),
			Code:    "STEP_TIMEOUT",
		}
	}
	return value, nil
}

// invokeEffect calls the effect with panic containment.
func (in *Instance) invokeEffect(sc *StepContext, def *StepDefinition) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("effect panic in step %s: %v", def.Name, r)
		}
	}()
	return def.Effect(sc)
}

// runRemote dispatches the step through the cross-domain bridge.
//
// A missing bridge, a protocol-level failure (id mismatch or a response
// that cannot fit the channel), or a panicking bridge all fall back to
// in-process execution with a log line: retrying an oversized payload
// would fail identically. Timeouts and error responses are ordinary
// effect failures, so retry policy applies to them.
func (in *Instance) runRemote(sc *StepContext, def *StepDefinition, item QueueItem) (interface{}, error) {
	br := in.eng.opts.Bridge
	if br == nil {
		sc.log.Append(LevelWarn, "bridge unavailable, running in process", item.TraceID)
		sc.Domain = DomainLocal
		return in.runLocal(sc, def)
	}

	resp, err, panicked := in.bridgeCall(br, sc, item)
	if err != nil {
		var susp *bridge.Suspension
		if errors.As(err, &susp) {
			return nil, susp
		}
		if panicked || errors.Is(err, bridge.ErrProtocol) || errors.Is(err, bridge.ErrBufferTooSmall) {
			sc.log.Append(LevelWarn, "bridge failure, falling back in process", err.Error(), item.TraceID)
			if m := in.opts.Metrics; m != nil {
				m.bridgeCalls.WithLabelValues("protocol_error").Inc()
			}
			sc.Domain = DomainLocal
			return in.runLocal(sc, def)
		}
		if m := in.opts.Metrics; m != nil {
			m.bridgeCalls.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	if m := in.opts.Metrics; m != nil {
		m.bridgeCalls.WithLabelValues("ok").Inc()
	}

	// Remote log lines ride back on the response; fold them into the
	// step's own log.
	for _, line := range resp.Logs {
		sc.log.Append(LevelInfo, "remote:", line)
	}

	if !resp.OK() {
		return nil, resp.Err()
	}
	sc.Domain = DomainRemote
	return resp.Value, nil
}

// bridgeCall issues the call with panic containment. A panicking bridge
// or transport reports panicked=true so the caller can take the
// in-process fallback; retrying the same call would panic identically.
func (in *Instance) bridgeCall(br *bridge.Bridge, sc *StepContext, item QueueItem) (resp bridge.Response, err error, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bridge panic: %v", r)
			panicked = true
		}
	}()
	resp, err = br.Call(sc.Context, bridge.Request{
		Kind:       "step",
		InstanceID: in.id,
		StepName:   item.StepName,
		Payload:    item.Payload,
		TraceID:    item.TraceID,
	})
	return resp, err, false
}

// runBoth executes in both domains per the configured order.
//
// Sequenced orders stop at the first failure. Parallel fires both
// without sequencing; a failure on one side is logged and the other
// side's value is committed. When both sides succeed the Merge function
// reconciles the two outputs, or, when nil, the later completion wins.
func (in *Instance) runBoth(sc *StepContext, def *StepDefinition, item QueueItem) (interface{}, error) {
	switch def.bothOrder() {
	case LocalFirst:
		localVal, err := in.runLocal(sc, def)
		if err != nil {
			return nil, err
		}
		remoteVal, err := in.runRemote(sc, def, item)
		if err != nil {
			return nil, err
		}
		sc.Domain = DomainBoth
		return mergeBoth(def, localVal, remoteVal, remoteVal), nil

	case Parallel:
		return in.runBothParallel(sc, def, item)

	default: // RemoteFirst
		remoteVal, err := in.runRemote(sc, def, item)
		if err != nil {
			return nil, err
		}
		localVal, err := in.runLocal(sc, def)
		if err != nil {
			return nil, err
		}
		sc.Domain = DomainBoth
		return mergeBoth(def, localVal, remoteVal, localVal), nil
	}
}

func (in *Instance) runBothParallel(sc *StepContext, def *StepDefinition, item QueueItem) (interface{}, error) {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		localVal  interface{}
		localErr  error
		remoteVal interface{}
		remoteErr error
		last      interface{}
	)

	// Each side gets its own context so Domain and log lines don't race.
	localSC := in.newStepContext(def, item)
	remoteSC := in.newStepContext(def, item)

	wg.Add(2)
	go func() {
		defer wg.Done()
		v, err := in.runLocal(localSC, def)
		mu.Lock()
		localVal, localErr = v, err
		if err == nil {
			last = v
		}
		mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		v, err := in.runRemote(remoteSC, def, item)
		mu.Lock()
		remoteVal, remoteErr = v, err
		if err == nil {
			last = v
		}
		mu.Unlock()
	}()
	wg.Wait()

	// A suspension on the remote side parks the whole step; the local
	// side has already run once and must tolerate re-running on resume.
	var susp *bridge.Suspension
	if errors.As(remoteErr, &susp) {
		return nil, susp
	}

	// Enqueues and self-writes happened on the per-side contexts; fold
	// them back so routeNext and the commit see them. A failed side
	// enqueues nothing, same as any failed execution.
	if localErr == nil {
		sc.next = append(sc.next, localSC.next...)
		sc.wroteSelf = sc.wroteSelf || localSC.wroteSelf
	}
	if remoteErr == nil {
		sc.next = append(sc.next, remoteSC.next...)
		sc.wroteSelf = sc.wroteSelf || remoteSC.wroteSelf
	}

	sc.Domain = DomainBoth
	switch {
	case localErr != nil && remoteErr != nil:
		return nil, errors.Join(localErr, remoteErr)
	case localErr != nil:
		sc.log.Append(LevelWarn, "parallel local side failed", localErr.Error())
		return remoteVal, nil
	case remoteErr != nil:
		sc.log.Append(LevelWarn, "parallel remote side failed", remoteErr.Error())
		return localVal, nil
	}

	if def.Merge != nil {
		return def.Merge(localVal, remoteVal), nil
	}
	return last, nil
}

// mergeBoth reconciles sequenced both-domain outputs: an explicit Merge
// wins, otherwise the side that ran last.
func mergeBoth(def *StepDefinition, localVal, remoteVal, lastVal interface{}) interface{} {
	if def.Merge != nil {
		return def.Merge(localVal, remoteVal)
	}
	return lastVal
}

// routeNext flushes the execution's downstream enqueues: explicit
// EnqueueNext calls first, then the branch spec, then the static
// fallback (StaticNext, or the Connect adjacency). Enqueued items become
// visible to the pump on its next iteration.
func (in *Instance) routeNext(sc *StepContext, def *StepDefinition, item QueueItem, value interface{}) {
	if len(sc.next) > 0 {
		for _, req := range sc.next {
			in.Enqueue(req.step, req.payload)
		}
		return
	}

	if def.Branch != nil {
		in.branch(sc, def.Branch, value)
		return
	}

	next := def.StaticNext
	if len(next) == 0 {
		in.mu.Lock()
		next = in.edges[item.StepName]
		in.mu.Unlock()
	}
	for _, name := range next {
		in.Enqueue(name, value)
	}
}

// branch evaluates a predicate or multiway branch, enqueueing the chosen
// step with the step's own output as payload. An unmatched multiway key
// with no default enqueues nothing; that is not an error.
func (in *Instance) branch(sc *StepContext, b *BranchSpec, value interface{}) {
	if b.When != nil {
		if b.When(sc) {
			if b.Then != "" {
				in.Enqueue(b.Then, value)
			}
		} else if b.Else != "" {
			in.Enqueue(b.Else, value)
		}
		return
	}

	if b.Switch != nil {
		key := b.Switch(sc)
		if target, ok := b.Cases[key]; ok {
			in.Enqueue(target, value)
		} else if b.Default != "" {
			in.Enqueue(b.Default, value)
		}
	}
}

// failStep applies the retry policy to a failed execution.
//
// With no retry spec, or once attempts are exhausted, the failure is
// surfaced as step:error:<name> plus workflow:error and a log entry; it
// never re-queues further and never escapes the pump loop. Otherwise the
// item is re-enqueued after the computed backoff on a timer, keeping the
// pump loop free in between.
func (in *Instance) failStep(def *StepDefinition, item QueueItem, stepErr error) {
	log := in.StepLog(def.Name)
	log.Append(LevelError, "effect failed", stepErr.Error(), item.TraceID)

	attempts := item.Attempt + 1

	if def.Retry == nil || attempts >= def.Retry.normalized().MaxAttempts {
		if m := in.opts.Metrics; m != nil {
			m.observeStep(in.id, def.Name, "error", 0)
		}
		meta := map[string]interface{}{
			"error":    stepErr.Error(),
			"attempts": attempts,
		}
		in.emit(emit.StepError(def.Name), def.Name, item.TraceID, stepErr.Error(), meta)
		in.emit(emit.WorkflowError, def.Name, item.TraceID, stepErr.Error(), meta)
		return
	}

	spec := def.Retry.normalized()
	delay := computeBackoff(item.Attempt, spec, nil)
	log.Append(LevelWarn, "retry scheduled", fmt.Sprintf("attempt %d/%d in %v", attempts+1, spec.MaxAttempts, delay), item.TraceID)

	if m := in.opts.Metrics; m != nil {
		m.retries.WithLabelValues(in.id, def.Name).Inc()
	}

	in.mu.Lock()
	in.pending++
	in.mu.Unlock()

	next := item
	next.Attempt++
	time.AfterFunc(delay, func() {
		in.resume(next)
	})
}

// park suspends a step whose bridge call could not complete
// synchronously. Once the pending operation finishes, the item is
// re-enqueued under its original trace id; the replayed bridge call is
// answered from the cache. A pending operation that failed, or that
// completed with an err-kind response, goes straight to failure handling
// instead of replaying: err responses are never cached, so a resumed
// replay would miss the cache and re-issue the call without ever
// consuming an attempt.
func (in *Instance) park(def *StepDefinition, item QueueItem, susp *bridge.Suspension) {
	log := in.StepLog(def.Name)
	log.Append(LevelInfo, "suspended on bridge call", item.TraceID)

	in.mu.Lock()
	in.pending++
	in.mu.Unlock()

	go func() {
		<-susp.Done()
		resp, err := susp.Result()
		if err == nil && !resp.OK() {
			for _, line := range resp.Logs {
				log.Append(LevelInfo, "remote:", line)
			}
			err = resp.Err()
		}
		if err != nil {
			in.mu.Lock()
			in.pending--
			in.mu.Unlock()
			in.failStep(def, item, err)
			return
		}
		in.resume(item)
	}()
}

// resume returns a parked or delayed item to the queue and pumps.
func (in *Instance) resume(item QueueItem) {
	in.mu.Lock()
	in.pending--
	in.queue = append(in.queue, item)
	in.mu.Unlock()
	in.Pump()
}
