// Package resolver maps a task's component reference and characteristics
// to a durable target identity: the component the task analyzed and the
// main component it belongs to.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/scanwell/taskledger/internal/domain"
	"github.com/scanwell/taskledger/internal/platform/logger"
)

// ErrUnresolved indicates that no durable component matched the derived
// key. The task still completes and is recorded; the record is flagged
// for later reaping unless it qualifies as legacy main-branch history.
var ErrUnresolved = errors.New("target could not be resolved")

// Component is a durable registry entry.
type Component struct {
	ID     string
	RootID string
}

// ComponentRegistry is the read-only registry of durable components this
// system queries. Insertion and rename events are not owned here; the
// registry is injected, never a process-wide singleton.
type ComponentRegistry interface {
	// LookupByKey returns the component stored under key.
	// Returns ErrUnresolved when no component matches.
	LookupByKey(ctx context.Context, key string) (*Component, error)
}

// Resolution is the outcome of a successful resolve.
type Resolution struct {
	TargetID     string
	MainTargetID string
}

// Resolver derives registry keys from a component reference plus its
// branch/PR characteristics and resolves them to durable identities.
type Resolver struct {
	registry ComponentRegistry
}

// New creates a Resolver over the given registry.
func New(registry ComponentRegistry) *Resolver {
	return &Resolver{registry: registry}
}

// Key derives the registry lookup key for a component reference and its
// characteristics: "ref:BRANCH:name" for a branch, "ref:PULL_REQUEST:name"
// for a pull request, the bare reference for a main-branch task.
func Key(componentRef string, cs domain.Characteristics) string {
	if pr, ok := cs.Get(domain.CharacteristicPullRequest); ok {
		return componentRef + ":PULL_REQUEST:" + pr
	}
	if branch, ok := cs.Get(domain.CharacteristicBranch); ok {
		return componentRef + ":BRANCH:" + branch
	}
	return componentRef
}

// Resolve looks up the durable component for the task's target. Called
// best-effort at submission time and again, authoritatively, right
// before a task transitions into the activity ledger, because the
// component may have been provisioned while the task was queued.
//
// Degenerate/legacy case: a task with no branch/PR characteristics whose
// target does not resolve is treated as a main-branch task and keeps its
// component reference verbatim as both target and main target. Such
// records are never pruned by the reaper.
func (r *Resolver) Resolve(ctx context.Context, componentRef string, cs domain.Characteristics) (*Resolution, error) {
	log := logger.FromContext(ctx)

	key := Key(componentRef, cs)
	comp, err := r.registry.LookupByKey(ctx, key)
	if err != nil {
		if errors.Is(err, ErrUnresolved) {
			if !cs.HasBranchOrPull() {
				log.Debug("treating unresolved task as legacy main-branch task",
					"component_ref", componentRef)
				return &Resolution{TargetID: componentRef, MainTargetID: componentRef}, nil
			}
			return nil, fmt.Errorf("%w: key %q", ErrUnresolved, key)
		}
		return nil, fmt.Errorf("registry lookup failed for key %q: %w", key, err)
	}

	return &Resolution{TargetID: comp.ID, MainTargetID: comp.RootID}, nil
}
