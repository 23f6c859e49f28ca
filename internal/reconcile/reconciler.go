package reconcile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/agentmesh/internal/broker"
	"github.com/nextlevelbuilder/agentmesh/internal/store"
)

// Phases of a reconciliation plan, executed in order.
const (
	PhaseInfrastructure = 1 // projects, channels, links
	PhaseAgents         = 2 // frontmatter registration
	PhaseDefaults       = 3 // default-membership application
)

// Action is one planned mutation. rollback may be nil when the action
// is idempotent-safe to leave behind (project registration).
type Action struct {
	Phase  int    `json:"phase"`
	Op     string `json:"op"`
	Target string `json:"target"`

	apply    func(ctx context.Context) error
	rollback func(ctx context.Context) error
}

// Plan is an ordered list of actions. An empty plan means the stored
// state already matches the desired state.
type Plan struct {
	Actions []Action `json:"actions"`
}

// Empty reports whether there is nothing to do.
func (p *Plan) Empty() bool { return len(p.Actions) == 0 }

// Reconciler computes and applies plans against a broker.
type Reconciler struct {
	broker *broker.Broker
	stores *store.Stores
}

// New creates a reconciler over an open broker.
func New(b *broker.Broker) *Reconciler {
	return &Reconciler{broker: b, stores: b.Stores()}
}

// Reconcile loads the desired state, computes the plan, applies it, and
// records the run. agentsDir may be empty to skip agent discovery.
func (r *Reconciler) Reconcile(ctx context.Context, statePath, agentsDir string) (*store.SyncRecord, error) {
	ds, raw, err := LoadState(statePath)
	if err != nil {
		return nil, err
	}

	var agents []AgentSpec
	if agentsDir != "" {
		agents, err = ScanAgents(agentsDir)
		if err != nil {
			return nil, err
		}
	}

	plan, err := r.PlanFor(ctx, ds, agents)
	if err != nil {
		return nil, err
	}

	record := &store.SyncRecord{
		ConfigHash: contentHash(raw),
		AppliedAt:  time.Now(),
		Actions:    len(plan.Actions),
		Plan:       planJSON(plan),
		Status:     "ok",
	}

	if err := r.Apply(ctx, plan); err != nil {
		record.Status = "failed"
		record.Error = err.Error()
		if recErr := r.stores.Sync.Record(ctx, record); recErr != nil {
			slog.Warn("reconcile.record_failed", "error", recErr)
		}
		return record, err
	}

	if err := r.stores.Sync.Record(ctx, record); err != nil {
		return record, err
	}
	slog.Info("reconcile.applied", "actions", len(plan.Actions), "hash", record.ConfigHash)
	return record, nil
}

// Apply executes the plan phase by phase. A failure rolls back the
// actions already applied in the failing phase, in reverse order, and
// surfaces the original error. Earlier, completed phases stand.
func (r *Reconciler) Apply(ctx context.Context, plan *Plan) error {
	for phase := PhaseInfrastructure; phase <= PhaseDefaults; phase++ {
		var done []Action
		for _, a := range plan.Actions {
			if a.Phase != phase {
				continue
			}
			if err := a.apply(ctx); err != nil {
				r.rollback(ctx, done)
				return fmt.Errorf("phase %d %s %s: %w", a.Phase, a.Op, a.Target, err)
			}
			done = append(done, a)
		}
	}
	return nil
}

func (r *Reconciler) rollback(ctx context.Context, done []Action) {
	for i := len(done) - 1; i >= 0; i-- {
		a := done[i]
		if a.rollback == nil {
			continue
		}
		if err := a.rollback(ctx); err != nil {
			slog.Warn("reconcile.rollback_failed", "op", a.Op, "target", a.Target, "error", err)
		}
	}
}

// PlanFor diffs the stored state against the desired state.
func (r *Reconciler) PlanFor(ctx context.Context, ds *DesiredState, agents []AgentSpec) (*Plan, error) {
	plan := &Plan{}

	if err := r.planInfrastructure(ctx, ds, plan); err != nil {
		return nil, err
	}
	if err := r.planAgents(ctx, agents, plan); err != nil {
		return nil, err
	}
	if err := r.planDefaults(ctx, ds, agents, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (r *Reconciler) planInfrastructure(ctx context.Context, ds *DesiredState, plan *Plan) error {
	// Projects named by specs or referenced by links.
	paths := make(map[string]string) // path -> display name
	for _, p := range ds.Projects {
		paths[p.Path] = p.Name
	}
	for _, l := range ds.Links {
		for _, path := range []string{l.A, l.B} {
			if _, ok := paths[path]; !ok {
				paths[path] = ""
			}
		}
	}
	for path, name := range paths {
		if _, err := r.stores.Projects.GetByPath(ctx, path); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		path, name := path, name
		plan.Actions = append(plan.Actions, Action{
			Phase: PhaseInfrastructure, Op: "register_project", Target: path,
			apply: func(ctx context.Context) error {
				_, err := r.stores.Projects.Ensure(ctx, path, name)
				return err
			},
		})
	}

	// Channels: global, then per project.
	if err := r.planChannels(ctx, ds.GlobalChannels, store.ScopeGlobal, "", plan); err != nil {
		return err
	}
	for _, p := range ds.Projects {
		projectID := store.ProjectID(p.Path)
		if err := r.planChannels(ctx, p.Channels, store.ScopeProject, projectID, plan); err != nil {
			return err
		}
	}

	// Links.
	for _, l := range ds.Links {
		a, b := store.ProjectID(l.A), store.ProjectID(l.B)
		linkType := store.LinkType(l.Type)
		if linkType == "" {
			linkType = store.LinkBidirectional
		}
		existing, err := r.stores.Links.Get(ctx, a, b)
		if err == nil && existing.Enabled && existing.LinkType == linkType {
			continue
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		plan.Actions = append(plan.Actions, Action{
			Phase: PhaseInfrastructure, Op: "link_projects",
			Target: l.A + " <-> " + l.B,
			apply: func(ctx context.Context) error {
				return r.stores.Links.Link(ctx, a, b, linkType)
			},
			rollback: func(ctx context.Context) error {
				return r.stores.Links.Unlink(ctx, a, b)
			},
		})
	}
	return nil
}

func (r *Reconciler) planChannels(ctx context.Context, specs []ChannelSpec, scope store.Scope, projectID string, plan *Plan) error {
	for _, spec := range specs {
		spec := spec
		id := store.ChannelID(scope, projectID, spec.Name)
		access := store.AccessType(spec.AccessType)
		if access == "" {
			access = store.AccessOpen
		}

		existing, err := r.stores.Channels.Get(ctx, id)
		if err == nil {
			if existing.Description != spec.Description && spec.Description != "" {
				plan.Actions = append(plan.Actions, Action{
					Phase: PhaseInfrastructure, Op: "update_channel", Target: id,
					apply: func(ctx context.Context) error {
						return r.stores.Channels.UpdateDescription(ctx, id, spec.Description)
					},
				})
			}
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		c := &store.Channel{
			ID:          id,
			ChannelType: store.TypeChannel,
			AccessType:  access,
			Scope:       scope,
			ProjectID:   projectID,
			Name:        spec.Name,
			Description: spec.Description,
			IsDefault:   spec.IsDefault,
		}
		plan.Actions = append(plan.Actions, Action{
			Phase: PhaseInfrastructure, Op: "create_channel", Target: id,
			apply: func(ctx context.Context) error {
				err := r.stores.Channels.Create(ctx, c)
				if errors.Is(err, store.ErrConflict) {
					return nil
				}
				return err
			},
			rollback: func(ctx context.Context) error {
				return r.stores.Channels.Archive(ctx, id, time.Now())
			},
		})
	}
	return nil
}

func (r *Reconciler) planAgents(ctx context.Context, agents []AgentSpec, plan *Plan) error {
	for _, spec := range agents {
		spec := spec
		ref := store.AgentRef{Name: spec.Name}
		if spec.Project != "" {
			ref.ProjectID = store.ProjectID(spec.Project)
		}

		existing, err := r.stores.Agents.Get(ctx, ref)
		created := errors.Is(err, store.ErrNotFound)
		if err != nil && !created {
			return err
		}
		if !created && agentMatches(existing, spec) {
			continue
		}

		a := &store.Agent{
			AgentRef:     ref,
			Description:  spec.Description,
			DMPolicy:     store.DMPolicy(spec.DMPolicy),
			Discoverable: store.Discoverability(spec.Discoverable),
		}
		plan.Actions = append(plan.Actions, Action{
			Phase: PhaseAgents, Op: "register_agent", Target: ref.ID(),
			apply: func(ctx context.Context) error {
				if err := r.stores.Agents.Upsert(ctx, a); err != nil {
					return err
				}
				return r.broker.ProvisionNotes(ctx, ref)
			},
			rollback: func(ctx context.Context) error {
				if !created {
					return nil // updated in place; nothing safe to undo
				}
				return r.stores.Agents.Delete(ctx, ref)
			},
		})
	}
	return nil
}

func agentMatches(a *store.Agent, spec AgentSpec) bool {
	if a.Description != spec.Description {
		return false
	}
	if spec.DMPolicy != "" && a.DMPolicy != store.DMPolicy(spec.DMPolicy) {
		return false
	}
	if spec.Discoverable != "" && a.Discoverable != store.Discoverability(spec.Discoverable) {
		return false
	}
	return true
}

func (r *Reconciler) planDefaults(ctx context.Context, ds *DesiredState, agents []AgentSpec, plan *Plan) error {
	if ds.Settings.NeverDefault {
		return nil
	}

	excluded := make(map[string]bool)
	for _, name := range ds.Settings.ExcludeAgents {
		excluded[name] = true
	}
	specOf := make(map[string]AgentSpec, len(agents))
	for _, spec := range agents {
		ref := store.AgentRef{Name: spec.Name}
		if spec.Project != "" {
			ref.ProjectID = store.ProjectID(spec.Project)
		}
		specOf[ref.ID()] = spec
	}

	all, err := r.stores.Agents.List(ctx, "", false)
	if err != nil {
		return err
	}
	// Agents being registered this run are not in the store yet.
	known := make(map[string]store.AgentRef)
	for _, a := range all {
		known[a.ID()] = a.AgentRef
	}
	for id := range specOf {
		if _, ok := known[id]; !ok {
			spec := specOf[id]
			ref := store.AgentRef{Name: spec.Name}
			if spec.Project != "" {
				ref.ProjectID = store.ProjectID(spec.Project)
			}
			known[id] = ref
		}
	}

	addMember := func(channelID string, ref store.AgentRef) {
		plan.Actions = append(plan.Actions, Action{
			Phase: PhaseDefaults, Op: "join_default", Target: ref.ID() + " -> " + channelID,
			apply: func(ctx context.Context) error {
				return r.stores.Members.Upsert(ctx, &store.ChannelMember{
					ChannelID:     channelID,
					Agent:         ref,
					CanLeave:      true,
					CanSend:       true,
					Source:        store.SourceDefault,
					IsFromDefault: true,
				})
			},
			rollback: func(ctx context.Context) error {
				return r.stores.Members.Remove(ctx, channelID, ref)
			},
		})
	}

	eligible := func(channelID, channelName string, ref store.AgentRef) (bool, error) {
		if excluded[ref.Name] {
			return false, nil
		}
		if spec, ok := specOf[ref.ID()]; ok {
			if spec.NeverDefault {
				return false, nil
			}
			for _, name := range spec.Exclude {
				if name == channelName {
					return false, nil
				}
			}
		}
		// Any existing row wins: a live membership needs nothing, an
		// opted-out one must stay opted out.
		_, err := r.stores.Members.Get(ctx, channelID, ref)
		if err == nil {
			return false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return false, err
		}
		return true, nil
	}

	for _, spec := range ds.GlobalChannels {
		if !spec.IsDefault {
			continue
		}
		channelID := store.GlobalChannelID(spec.Name)
		for _, ref := range known {
			ok, err := eligible(channelID, spec.Name, ref)
			if err != nil {
				return err
			}
			if ok {
				addMember(channelID, ref)
			}
		}
	}

	for _, p := range ds.Projects {
		projectID := store.ProjectID(p.Path)
		for _, spec := range p.Channels {
			if !spec.IsDefault {
				continue
			}
			channelID := store.ProjectChannelID(projectID, spec.Name)
			for _, ref := range known {
				if ref.ProjectID != projectID {
					continue
				}
				ok, err := eligible(channelID, spec.Name, ref)
				if err != nil {
					return err
				}
				if ok {
					addMember(channelID, ref)
				}
			}
		}
	}
	return nil
}

func contentHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}

func planJSON(p *Plan) string {
	data, _ := json.Marshal(p)
	return string(data)
}
