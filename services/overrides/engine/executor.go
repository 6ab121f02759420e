// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/cache"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/remote"
)

// Executor runs write plans as compensatable sagas.
//
// # Description
//
// Ops run one at a time in plan order. Each op gets a fixed number of
// attempts with no delay between them. When an op exhausts its attempts,
// the ops already applied are reverted in reverse order from the content
// captured at planning time.
//
// # Thread Safety
//
// Safe for concurrent use. Each Execute call owns its transaction state.
type Executor struct {
	cfg      Config
	hook     cache.Hook
	recorder IncidentRecorder
	logger   *slog.Logger
	tracer   *Tracer
}

// NewExecutor creates an executor. Nil collaborators take no-op defaults.
func NewExecutor(cfg Config, hook cache.Hook, recorder IncidentRecorder, logger *slog.Logger, tracer *Tracer) *Executor {
	applyConfigDefaults(&cfg)
	if hook == nil {
		hook = cache.NopHook{}
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = NewTracer(logger, false)
	}
	return &Executor{
		cfg:      cfg,
		hook:     hook,
		recorder: recorder,
		logger:   logger.With("component", "engine.Executor"),
		tracer:   tracer,
	}
}

// transaction is the mutable state of one Execute call.
type transaction struct {
	id       string
	plan     *Plan
	serverID string
	result   *Result
	progress ProgressFunc
	done     []int

	// rootCreated is set when this transaction created the override root.
	rootCreated bool
}

func (tx *transaction) emit(index int, attempt int, errMsg string) {
	p := Progress{
		TxID:    tx.id,
		State:   tx.result.State,
		Index:   index,
		Total:   len(tx.plan.Ops),
		Attempt: attempt,
		Error:   errMsg,
	}
	if index >= 0 && index < len(tx.result.Files) {
		f := tx.result.Files[index]
		p.FileName = f.FileName
		p.PathID = f.PathID
		p.Action = f.Action
		p.Status = f.Status
	}
	tx.progress(p)
}

// Execute applies plan against store.
//
// # Description
//
// The transaction ignores cancellation of ctx once started; it always ends
// committed or aborted. After a commit with at least one write, the cache
// hook is notified for the rule file's parent folder and the override root.
// Hook failures are logged and do not fail the transaction.
//
// # Inputs
//
//   - ctx: Context for tracing and logging. Cancellation is not observed.
//   - store: Remote store.
//   - plan: Plan from Planner.Plan.
//   - serverID: Server identifier passed to the cache hook and incidents.
//   - progress: Receives every state transition. May be nil.
//
// # Outputs
//
//   - *Result: Final state and per-file results. Also returned on abort.
//   - error: *AbortError when the transaction aborted.
func (x *Executor) Execute(ctx context.Context, store remote.Store, plan *Plan, serverID string, progress ProgressFunc) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	if progress == nil {
		progress = func(Progress) {}
	}

	tx := &transaction{
		id:       uuid.NewString(),
		plan:     plan,
		serverID: serverID,
		progress: progress,
		result: &Result{
			State:    TxPlanning,
			Files:    make([]FileResult, len(plan.Ops)),
			Rollback: RollbackReport{Status: RollbackNone},
		},
	}
	tx.result.TxID = tx.id

	for i, op := range plan.Ops {
		tx.result.Files[i] = FileResult{
			FileName: op.FileName,
			PathID:   op.PathID,
			Action:   op.Action,
			Status:   FileQueued,
		}
		tx.emit(i, 0, "")
	}

	if plan.Empty() {
		x.transition(ctx, tx, TxCommitted)
		tx.emit(-1, 0, "")
		return tx.result, nil
	}

	start := time.Now()
	ctx, span := x.tracer.StartTransaction(ctx, tx.id, plan)
	logger := LoggerWithTrace(ctx, x.logger).With(slog.String("tx_id", tx.id))

	x.transition(ctx, tx, TxExecuting)

	if plan.EnsureRoot {
		created, err := x.ensureRoot(ctx, store, plan.Location.OverrideRoot)
		tx.rootCreated = created
		if err != nil {
			return x.abort(ctx, store, tx, logger, start, span, err)
		}
	}

	for i, op := range plan.Ops {
		file := &tx.result.Files[i]
		file.Status = FileSaving

		wctx, wspan := x.tracer.StartWrite(ctx, op, false)
		attempts, err := x.retry(wctx, func(attempt int) error {
			file.Attempts = attempt
			tx.emit(i, attempt, "")
			err := x.forward(wctx, store, plan, op)
			if attempt > 1 && conflicting(op, err) && x.applied(wctx, store, op) {
				// An earlier attempt landed but its reply was lost.
				return nil
			}
			return err
		})
		x.tracer.EndWrite(wspan, attempts, err)

		if err != nil {
			file.Status = FileFailed
			file.Error = err.Error()
			tx.emit(i, attempts, file.Error)
			recordWriteOp(ctx, op.Action, FileFailed, attempts)
			logger.ErrorContext(ctx, "override write failed",
				slog.String("path_id", op.PathID),
				slog.String("action", string(op.Action)),
				slog.Int("attempts", attempts),
				slog.String("error", err.Error()),
			)
			if x.applied(ctx, store, op) {
				tx.done = append(tx.done, i)
			}
			cause := &CallError{Op: string(op.Action), PathID: op.PathID, Attempts: attempts, Err: err}
			return x.abort(ctx, store, tx, logger, start, span, cause)
		}

		file.Status = FileDone
		tx.done = append(tx.done, i)
		tx.result.Writes++
		tx.emit(i, attempts, "")
		recordWriteOp(ctx, op.Action, FileDone, attempts)
	}

	x.transition(ctx, tx, TxCommitted)
	tx.emit(-1, 0, "")
	logger.InfoContext(ctx, "override transaction committed",
		slog.String("file_id", plan.FileID),
		slog.Int("writes", tx.result.Writes),
	)

	x.invalidate(ctx, logger, plan, serverID)

	recordTransaction(ctx, time.Since(start), TxCommitted, RollbackNone)
	x.tracer.EndTransaction(span, tx.result, nil)
	return tx.result, nil
}

// retry calls fn up to WriteAttempts times and returns the attempts used.
func (x *Executor) retry(ctx context.Context, fn func(attempt int) error) (int, error) {
	var err error
	for attempt := 1; attempt <= x.cfg.WriteAttempts; attempt++ {
		if err = fn(attempt); err == nil {
			return attempt, nil
		}
		x.logger.DebugContext(ctx, "remote write attempt failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	return x.cfg.WriteAttempts, err
}

// ensureRoot creates the override root. created reports whether this call
// made the folder; an existing folder counts as success. A conflict after a
// failed attempt is taken as that attempt having landed.
func (x *Executor) ensureRoot(ctx context.Context, store remote.Store, root string) (created bool, err error) {
	attempts, err := x.retry(ctx, func(attempt int) error {
		err := store.CreateFolder(ctx, root)
		switch {
		case err == nil:
			created = true
		case errors.Is(err, remote.ErrAlreadyExists):
			created = attempt > 1
			return nil
		}
		return err
	})
	if err != nil {
		return false, &CallError{Op: remote.MethodCreateFolder, PathID: root, Attempts: attempts, Err: err}
	}
	return created, nil
}

// conflicting reports whether err is the reply a repeated op gets when an
// earlier attempt already took effect.
func conflicting(op WriteOp, err error) bool {
	switch op.Action {
	case ActionCreate:
		return errors.Is(err, remote.ErrAlreadyExists)
	case ActionDelete:
		return errors.Is(err, remote.ErrNotFound)
	}
	return false
}

// applied reports whether the store already holds the result of op.
func (x *Executor) applied(ctx context.Context, store remote.Store, op WriteOp) bool {
	doc, err := store.Read(ctx, op.PathID, remote.HeadRevision)
	switch op.Action {
	case ActionCreate, ActionUpdate:
		return err == nil && doc.HasRuleText &&
			strings.TrimSpace(doc.RuleText) == strings.TrimSpace(op.Payload)
	case ActionDelete:
		return errors.Is(err, remote.ErrNotFound)
	}
	return false
}

// forward applies op.
func (x *Executor) forward(ctx context.Context, store remote.Store, plan *Plan, op WriteOp) error {
	switch op.Action {
	case ActionCreate:
		return store.Create(ctx, remote.CreateRequest{
			Name:       op.FileName,
			Content:    op.Payload,
			ParentNode: ParentNode(op.PathID),
			Message:    plan.CommitMessage,
		})
	case ActionUpdate:
		return store.Update(ctx, op.PathID, op.Payload, plan.CommitMessage)
	case ActionDelete:
		return store.Delete(ctx, op.PathID, plan.CommitMessage)
	default:
		return fmt.Errorf("unknown write action %q", op.Action)
	}
}

// compensate reverts an applied op using its captured previous content.
func (x *Executor) compensate(ctx context.Context, store remote.Store, message string, op WriteOp) error {
	switch op.Action {
	case ActionCreate:
		err := store.Delete(ctx, op.PathID, message)
		if errors.Is(err, remote.ErrNotFound) {
			return nil
		}
		return err
	case ActionUpdate:
		return store.Update(ctx, op.PathID, op.PreviousContent, message)
	case ActionDelete:
		err := store.Create(ctx, remote.CreateRequest{
			Name:       op.FileName,
			Content:    op.PreviousContent,
			ParentNode: ParentNode(op.PathID),
			Message:    message,
		})
		if errors.Is(err, remote.ErrAlreadyExists) {
			return store.Update(ctx, op.PathID, op.PreviousContent, message)
		}
		return err
	default:
		return fmt.Errorf("unknown write action %q", op.Action)
	}
}

// abort reverts applied ops in reverse order and reports the original cause.
func (x *Executor) abort(
	ctx context.Context,
	store remote.Store,
	tx *transaction,
	logger *slog.Logger,
	start time.Time,
	span trace.Span,
	cause error,
) (*Result, error) {
	x.transition(ctx, tx, TxRollingBack)

	message := "Revert: " + tx.plan.CommitMessage
	var unreverted []WriteOp
	for j := len(tx.done) - 1; j >= 0; j-- {
		i := tx.done[j]
		op := tx.plan.Ops[i]
		file := &tx.result.Files[i]

		cctx, cspan := x.tracer.StartWrite(ctx, op, true)
		attempts, err := x.retry(cctx, func(int) error {
			return x.compensate(cctx, store, message, op)
		})
		x.tracer.EndWrite(cspan, attempts, err)
		recordCompensation(ctx, op.Action, err == nil)

		if err != nil {
			file.Status = FileRevertFailed
			file.Error = fmt.Errorf("%w: %w", ErrCompensationFailed, err).Error()
			tx.result.Rollback.Failed = append(tx.result.Rollback.Failed, op.PathID)
			unreverted = append(unreverted, op)
			logger.WarnContext(ctx, "CRITICAL: override compensation failed; manual reconciliation required",
				slog.String("path_id", op.PathID),
				slog.String("action", string(op.Action)),
				slog.Int("attempts", attempts),
				slog.String("error", err.Error()),
			)
		} else {
			file.Status = FileReverted
			tx.result.Rollback.Reverted = append(tx.result.Rollback.Reverted, op.PathID)
		}
		tx.emit(i, attempts, file.Error)
	}

	if tx.rootCreated {
		root := tx.plan.Location.OverrideRoot
		_, err := x.retry(ctx, func(int) error {
			err := store.Delete(ctx, root, message)
			if errors.Is(err, remote.ErrNotFound) {
				return nil
			}
			return err
		})
		if err != nil {
			tx.result.Rollback.Failed = append(tx.result.Rollback.Failed, root)
			logger.WarnContext(ctx, "CRITICAL: override root removal failed; manual reconciliation required",
				slog.String("path_id", root),
				slog.String("error", err.Error()),
			)
		}
	}

	if len(tx.result.Rollback.Failed) > 0 {
		tx.result.Rollback.Status = RollbackIncomplete
	} else {
		tx.result.Rollback.Status = RollbackComplete
	}
	x.transition(ctx, tx, TxAborted)

	abortErr := &AbortError{
		Cause:     cause,
		Succeeded: tx.result.Writes,
		Files:     append([]FileResult(nil), tx.result.Files...),
		Rollback:  tx.result.Rollback,
	}

	if len(tx.result.Rollback.Failed) > 0 {
		incident := &Incident{
			TxID:          tx.id,
			FileID:        tx.plan.FileID,
			ServerID:      tx.serverID,
			CommitMessage: tx.plan.CommitMessage,
			Cause:         cause.Error(),
			Unreverted:    unreverted,
			Files:         abortErr.Files,
		}
		if err := x.recorder.Record(ctx, incident); err != nil {
			logger.ErrorContext(ctx, "failed to record reconciliation incident",
				slog.String("error", err.Error()),
			)
		}
	}

	tx.emit(-1, 0, cause.Error())
	logger.ErrorContext(ctx, "override transaction aborted",
		slog.String("file_id", tx.plan.FileID),
		slog.Int("succeeded", tx.result.Writes),
		slog.String("rollback", string(tx.result.Rollback.Status)),
		slog.String("error", cause.Error()),
	)

	recordTransaction(ctx, time.Since(start), TxAborted, tx.result.Rollback.Status)
	x.tracer.EndTransaction(span, tx.result, abortErr)
	return tx.result, abortErr
}

func (x *Executor) transition(ctx context.Context, tx *transaction, to TxState) {
	from := tx.result.State
	tx.result.State = to
	x.tracer.RecordStateTransition(ctx, tx.id, from, to)
}

// invalidate notifies the cache hook after a commit.
func (x *Executor) invalidate(ctx context.Context, logger *slog.Logger, plan *Plan, serverID string) {
	nodes := []string{ParentNode(plan.FileID), plan.Location.OverrideRoot}
	for _, node := range nodes {
		if err := x.hook.RefreshFolder(ctx, serverID, node); err != nil {
			logger.WarnContext(ctx, "folder cache refresh failed",
				slog.String("node", node),
				slog.String("error", err.Error()),
			)
		}
		if err := x.hook.RefreshOverviewNode(ctx, serverID, node); err != nil {
			logger.WarnContext(ctx, "overview cache refresh failed",
				slog.String("node", node),
				slog.String("error", err.Error()),
			)
		}
	}
}
