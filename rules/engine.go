package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/vinayprograms/autokit/errors"
	"github.com/vinayprograms/autokit/expr"
	"github.com/vinayprograms/autokit/logging"
	"github.com/vinayprograms/autokit/store"
)

// terminalStatuses are entry statuses that never fire entry_added;
// a watcher reacting to work that is already over would loop.
var terminalStatuses = map[string]bool{
	"done":      true,
	"error":     true,
	"cancelled": true,
}

// Engine runs the trigger loop: every poll interval it diffs watched
// stores against their last snapshot, checks clock triggers, and
// dispatches the actions of any rule whose trigger and condition hold.
type Engine struct {
	rules    store.Store
	state    store.Store
	registry *Registry
	opener   func(path string) store.Store
	log      *logging.Logger
	poll     time.Duration
	bound    int
	now      func() time.Time

	mu        sync.Mutex
	fired     map[string]struct{}
	snapshots map[string]*store.Document
	watched   map[string]store.Store
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRegistry sets the action dispatch registry.
func WithRegistry(r *Registry) EngineOption {
	return func(e *Engine) { e.registry = r }
}

// WithEngineLogger sets the engine's logger.
func WithEngineLogger(l *logging.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// WithPollInterval sets the cycle sleep.
func WithPollInterval(d time.Duration) EngineOption {
	return func(e *Engine) { e.poll = d }
}

// WithDedupBound sets the fired-signature set size that triggers a clear.
func WithDedupBound(n int) EngineOption {
	return func(e *Engine) { e.bound = n }
}

// WithEngineClock overrides the time source for tests.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithStoreOpener overrides how watched file paths become stores.
func WithStoreOpener(open func(path string) store.Store) EngineOption {
	return func(e *Engine) { e.opener = open }
}

// NewEngine creates an engine over a rules store and a bookkeeping
// store that persists clock-trigger state across restarts.
func NewEngine(rules, state store.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		rules:    rules,
		state:    state,
		registry: NewRegistry(),
		opener: func(path string) store.Store {
			return store.NewFileStore(path, "")
		},
		log:       logging.New().WithComponent("engine").WithRunID(uuid.NewString()[:8]),
		poll:      5 * time.Second,
		bound:     10000,
		now:       time.Now,
		fired:     make(map[string]struct{}),
		snapshots: make(map[string]*store.Document),
		watched:   make(map[string]store.Store),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the engine's dispatch registry so callers can bind
// tools before Run.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// --- Rule CRUD ---

// AddRule validates and persists a new rule.
func (e *Engine) AddRule(ctx context.Context, key string, rule *Rule) error {
	if err := store.ValidateKey(key); err != nil {
		return errors.InvalidInput("invalid rule key")
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	return e.rules.Update(ctx, func(doc *store.Document) error {
		if _, exists := doc.Get(key); exists {
			return errors.Duplicate(key, errors.WithRuleKey(key))
		}
		return doc.SetValue(key, rule)
	})
}

// UpdateRule validates and replaces an existing rule.
func (e *Engine) UpdateRule(ctx context.Context, key string, rule *Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	return e.rules.Update(ctx, func(doc *store.Document) error {
		if _, exists := doc.Get(key); !exists {
			return errors.NotFound("rule not found", errors.WithRuleKey(key))
		}
		return doc.SetValue(key, rule)
	})
}

// DeleteRule removes a rule.
func (e *Engine) DeleteRule(ctx context.Context, key string) error {
	return e.rules.Update(ctx, func(doc *store.Document) error {
		if !doc.Delete(key) {
			return errors.NotFound("rule not found", errors.WithRuleKey(key))
		}
		return nil
	})
}

// GetRule retrieves a rule by key.
func (e *Engine) GetRule(ctx context.Context, key string) (*Rule, error) {
	doc, err := e.rules.Load(ctx)
	if err != nil {
		return nil, err
	}
	var r Rule
	if err := doc.Decode(key, &r); err != nil {
		if err == store.ErrNotFound {
			return nil, errors.NotFound("rule not found", errors.WithRuleKey(key))
		}
		return nil, errors.StoreCorrupt(e.rules.Path(), err)
	}
	return &r, nil
}

// ListRules returns all rules keyed by rule_key. Rules that fail to
// decode are skipped so one bad record never hides the rest.
func (e *Engine) ListRules(ctx context.Context) (map[string]*Rule, error) {
	doc, err := e.rules.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*Rule, doc.Len())
	for _, key := range doc.Keys() {
		var r Rule
		if err := doc.Decode(key, &r); err != nil {
			e.log.StoreError(e.rules.Path(), errors.StoreCorrupt(e.rules.Path(), err))
			continue
		}
		rule := r
		out[key] = &rule
	}
	return out, nil
}

// --- Loop ---

// Run executes cycles until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if _, err := e.Cycle(ctx); err != nil {
			e.log.StoreError(e.rules.Path(), err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.poll):
		}
	}
}

// Cycle runs one poll: entry diffs, then clock triggers. Returns the
// number of rules fired.
func (e *Engine) Cycle(ctx context.Context) (int, error) {
	start := e.now()
	ruleset, err := e.ListRules(ctx)
	if err != nil {
		return 0, err
	}

	fired := 0
	fired += e.runEntryTriggers(ctx, ruleset)
	fired += e.runTimeTriggers(ctx, ruleset)
	fired += e.runIntervalTriggers(ctx, ruleset)
	e.pruneDedup()

	e.log.CycleComplete(e.now().Sub(start), fired)
	return fired, nil
}

// runEntryTriggers diffs each watched file against its prior snapshot.
// A corrupt or unreadable file is logged and skipped; other files
// still get their turn.
func (e *Engine) runEntryTriggers(ctx context.Context, ruleset map[string]*Rule) int {
	byFile := make(map[string][]string)
	for key, rule := range ruleset {
		if rule.Disabled {
			continue
		}
		if rule.Trigger.Type == TriggerEntryAdded || rule.Trigger.Type == TriggerEntryUpdated {
			byFile[rule.Trigger.File] = append(byFile[rule.Trigger.File], key)
		}
	}

	tests := e.eventTests(ctx)

	fired := 0
	for file, ruleKeys := range byFile {
		doc, err := e.watchedStore(file).Load(ctx)
		if err != nil {
			e.log.StoreError(file, err)
			continue
		}

		e.mu.Lock()
		prev := e.snapshots[file]
		e.snapshots[file] = doc
		e.mu.Unlock()
		if prev == nil {
			// First sighting is the baseline; existing entries are
			// history, not news.
			continue
		}

		for _, entryKey := range doc.Keys() {
			raw, _ := doc.Get(entryKey)
			old, existed := prev.Get(entryKey)
			statusRes, _ := store.GetField(doc, entryKey, "status")
			status := statusRes.String()

			var qualifier string
			switch {
			case !existed:
				if terminalStatuses[status] {
					continue
				}
				qualifier = TriggerEntryAdded
			case !bytes.Equal(old, raw):
				qualifier = TriggerEntryUpdated
			default:
				continue
			}

			// No global test installed for this trigger type means
			// nothing of that type fires.
			gate, ok := tests[qualifier]
			if !ok {
				continue
			}
			env := entryEnv(entryKey, old, raw)
			if !e.conditionMet(qualifier, gate, env) {
				continue
			}

			for _, ruleKey := range ruleKeys {
				rule := ruleset[ruleKey]
				if rule.Trigger.Type != qualifier {
					continue
				}
				if !e.conditionMet(ruleKey, rule.Condition, env) {
					continue
				}
				// The entry's status qualifies the signature so a later
				// transition of the same key fires again.
				sig := fmt.Sprintf("%s|%s|%s|%s|%s", file, entryKey, ruleKey, qualifier, status)
				if !e.markFired(sig) {
					continue
				}
				e.log.RuleFired(ruleKey, qualifier, file, entryKey)
				e.runRule(ctx, ruleKey, rule, env)
				fired++
			}
		}
	}
	return fired
}

// SetEventTest installs the global gate for an entry trigger type.
// Entry candidates of a type fire only while a gate exists, and only
// when its condition holds over the same {key, old_entry, new_entry}
// environment rule conditions see.
func (e *Engine) SetEventTest(ctx context.Context, triggerType, condition string) error {
	if triggerType != TriggerEntryAdded && triggerType != TriggerEntryUpdated {
		return errors.InvalidInput("event tests apply to entry_added and entry_updated triggers")
	}
	if _, err := expr.Parse(condition); err != nil {
		return errors.InvalidInput("bad event test condition", errors.WithCause(err))
	}
	return e.state.Update(ctx, func(doc *store.Document) error {
		return doc.SetValue(eventTestKey(triggerType), condition)
	})
}

// ClearEventTest removes a trigger type's gate; its candidates stop
// firing until a new gate is installed.
func (e *Engine) ClearEventTest(ctx context.Context, triggerType string) error {
	return e.state.Update(ctx, func(doc *store.Document) error {
		doc.Delete(eventTestKey(triggerType))
		return nil
	})
}

// eventTests loads the installed per-trigger-type gates.
func (e *Engine) eventTests(ctx context.Context) map[string]string {
	doc, err := e.state.Load(ctx)
	if err != nil {
		e.log.StoreError(e.state.Path(), err)
		return nil
	}
	tests := make(map[string]string, 2)
	for _, q := range []string{TriggerEntryAdded, TriggerEntryUpdated} {
		var cond string
		if err := doc.Decode(eventTestKey(q), &cond); err == nil {
			tests[q] = cond
		}
	}
	return tests
}

func eventTestKey(triggerType string) string {
	return "event_test:" + triggerType
}

// runTimeTriggers fires HH:MM rules at most once per day, tracked in
// the bookkeeping store so a restart does not refire.
func (e *Engine) runTimeTriggers(ctx context.Context, ruleset map[string]*Rule) int {
	nowClock := e.now().Format("15:04")
	today := e.now().Format("2006-01-02")

	fired := 0
	for ruleKey, rule := range ruleset {
		if rule.Disabled || rule.Trigger.Type != TriggerTime || rule.Trigger.At != nowClock {
			continue
		}
		stateKey := "time:" + ruleKey
		due, err := e.claimClockTrigger(ctx, stateKey, today)
		if err != nil {
			e.log.StoreError(e.state.Path(), err)
			continue
		}
		if !due {
			continue
		}
		env := map[string]interface{}{"key": ruleKey}
		if !e.conditionMet(ruleKey, rule.Condition, env) {
			continue
		}
		e.log.RuleFired(ruleKey, TriggerTime, "", rule.Trigger.At)
		e.runRule(ctx, ruleKey, rule, env)
		fired++
	}
	return fired
}

// runIntervalTriggers fires rules whose period has elapsed since the
// persisted last firing.
func (e *Engine) runIntervalTriggers(ctx context.Context, ruleset map[string]*Rule) int {
	fired := 0
	for ruleKey, rule := range ruleset {
		if rule.Disabled || rule.Trigger.Type != TriggerInterval {
			continue
		}
		period := time.Duration(rule.Trigger.Minutes) * time.Minute
		stateKey := "interval:" + ruleKey
		due, err := e.claimIntervalTrigger(ctx, stateKey, period)
		if err != nil {
			e.log.StoreError(e.state.Path(), err)
			continue
		}
		if !due {
			continue
		}
		env := map[string]interface{}{"key": ruleKey}
		if !e.conditionMet(ruleKey, rule.Condition, env) {
			continue
		}
		e.log.RuleFired(ruleKey, TriggerInterval, "", fmt.Sprintf("%dm", rule.Trigger.Minutes))
		e.runRule(ctx, ruleKey, rule, env)
		fired++
	}
	return fired
}

// claimClockTrigger records today's firing unless already recorded.
func (e *Engine) claimClockTrigger(ctx context.Context, stateKey, today string) (bool, error) {
	due := false
	err := e.state.Update(ctx, func(doc *store.Document) error {
		var last string
		doc.Decode(stateKey, &last)
		if last == today {
			return nil
		}
		due = true
		return doc.SetValue(stateKey, today)
	})
	return due, err
}

// claimIntervalTrigger records a firing when the period has elapsed.
func (e *Engine) claimIntervalTrigger(ctx context.Context, stateKey string, period time.Duration) (bool, error) {
	due := false
	err := e.state.Update(ctx, func(doc *store.Document) error {
		var last time.Time
		doc.Decode(stateKey, &last)
		if !last.IsZero() && e.now().Sub(last) < period {
			return nil
		}
		due = true
		return doc.SetValue(stateKey, e.now().UTC())
	})
	return due, err
}

// DispatchEvent fires event-triggered rules matching eventKey on
// demand. Returns the number of rules fired.
func (e *Engine) DispatchEvent(ctx context.Context, eventKey string, payload map[string]interface{}) (int, error) {
	ruleset, err := e.ListRules(ctx)
	if err != nil {
		return 0, err
	}

	fired := 0
	for ruleKey, rule := range ruleset {
		if rule.Disabled || rule.Trigger.Type != TriggerEvent || rule.Trigger.EventKey != eventKey {
			continue
		}
		env := map[string]interface{}{
			"key":       eventKey,
			"new_entry": payload,
		}
		if !e.conditionMet(ruleKey, rule.Condition, env) {
			continue
		}
		e.log.RuleFired(ruleKey, TriggerEvent, "", eventKey)
		e.runRule(ctx, ruleKey, rule, env)
		fired++
	}
	return fired, nil
}

// runRule dispatches a rule's action steps, threading each step's
// result through the next step's placeholders as prev, then fans the
// post_action out over the final result.
func (e *Engine) runRule(ctx context.Context, ruleKey string, rule *Rule, env map[string]interface{}) {
	var prev map[string]interface{}

	for _, step := range rule.Action {
		stepEnv := cloneEnv(env)
		stepEnv["prev"] = prev

		if step.Foreach != "" {
			items, ok := lookupArray(stepEnv, step.Foreach)
			if !ok {
				e.log.ActionDispatched(ruleKey, step.Tool, step.Action,
					errors.InvalidInput(fmt.Sprintf("foreach path %q is not an array", step.Foreach)))
				continue
			}
			for i, item := range items {
				itemEnv := cloneEnv(stepEnv)
				itemEnv["item"] = item
				itemEnv["index"] = i
				prev = e.dispatch(ctx, ruleKey, step.Command, itemEnv)
			}
			continue
		}
		prev = e.dispatch(ctx, ruleKey, step.Command, stepEnv)
	}

	if rule.PostAction != nil && prev != nil {
		e.runPostAction(ctx, ruleKey, rule.PostAction, prev)
	}
}

// runPostAction fans a follow-up command out over a field of the
// action result.
func (e *Engine) runPostAction(ctx context.Context, ruleKey string, pa *PostAction, result map[string]interface{}) {
	items, ok := fanoutItems(result, pa.Field)
	if !ok {
		e.log.ActionDispatched(ruleKey, pa.Tool, pa.Action,
			errors.InvalidInput(fmt.Sprintf("post_action field %q is not an array or map", pa.Field)))
		return
	}
	for _, it := range items {
		env := map[string]interface{}{
			"item":   it.value,
			"index":  it.index,
			"key":    it.key,
			"result": result,
		}
		if !e.conditionMet(ruleKey, pa.Condition, env) {
			continue
		}
		e.dispatch(ctx, ruleKey, pa.Command, env)
	}
}

// dispatch resolves placeholders and routes one command.
func (e *Engine) dispatch(ctx context.Context, ruleKey string, cmd Command, env map[string]interface{}) map[string]interface{} {
	resolved := Command{
		Tool:   cmd.Tool,
		Action: cmd.Action,
		Params: ResolveParams(cmd.Params, env),
	}
	result, err := e.registry.Dispatch(ctx, resolved)
	e.log.ActionDispatched(ruleKey, cmd.Tool, cmd.Action, err)
	return result
}

// conditionMet evaluates a rule condition against an environment.
// An unparseable or non-boolean condition never fires.
func (e *Engine) conditionMet(ruleKey, condition string, env map[string]interface{}) bool {
	if condition == "" {
		return true
	}
	node, err := expr.Parse(condition)
	if err != nil {
		e.log.ActionDispatched(ruleKey, "", "condition", err)
		return false
	}
	ok, err := expr.Eval(node, env)
	if err != nil {
		e.log.ActionDispatched(ruleKey, "", "condition", err)
		return false
	}
	return ok
}

// markFired records a signature; returns false if already recorded.
func (e *Engine) markFired(sig string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, seen := e.fired[sig]; seen {
		return false
	}
	e.fired[sig] = struct{}{}
	return true
}

// pruneDedup clears the signature set once it exceeds the bound.
func (e *Engine) pruneDedup() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.fired) > e.bound {
		e.fired = make(map[string]struct{})
	}
}

// watchedStore returns the cached store for a watched file path.
func (e *Engine) watchedStore(file string) store.Store {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.watched[file]; ok {
		return s
	}
	s := e.opener(file)
	e.watched[file] = s
	return s
}

// entryEnv builds the condition/placeholder environment for a diff.
func entryEnv(key string, old, new json.RawMessage) map[string]interface{} {
	env := map[string]interface{}{
		"key":       key,
		"old_entry": nil,
		"new_entry": nil,
	}
	if old != nil {
		var v interface{}
		if json.Unmarshal(old, &v) == nil {
			env["old_entry"] = v
		}
	}
	if new != nil {
		var v interface{}
		if json.Unmarshal(new, &v) == nil {
			env["new_entry"] = v
		}
	}
	return env
}

// cloneEnv shallow-copies an environment map.
func cloneEnv(env map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(env)+2)
	for k, v := range env {
		out[k] = v
	}
	return out
}

// lookupArray resolves a dotted path in the environment to an array.
func lookupArray(env map[string]interface{}, path string) ([]interface{}, bool) {
	envJSON, err := json.Marshal(env)
	if err != nil {
		return nil, false
	}
	result := gjson.GetBytes(envJSON, gjsonPath(path))
	if !result.IsArray() {
		return nil, false
	}
	var items []interface{}
	for _, r := range result.Array() {
		items = append(items, r.Value())
	}
	return items, true
}

// fanoutItem is one element of a post_action fan-out.
type fanoutItem struct {
	value interface{}
	index int
	key   string
}

// fanoutItems extracts the elements of an array or map field.
func fanoutItems(result map[string]interface{}, field string) ([]fanoutItem, bool) {
	v, ok := result[field]
	if !ok {
		return nil, false
	}
	switch typed := v.(type) {
	case []interface{}:
		items := make([]fanoutItem, 0, len(typed))
		for i, it := range typed {
			items = append(items, fanoutItem{value: it, index: i})
		}
		return items, true
	case map[string]interface{}:
		items := make([]fanoutItem, 0, len(typed))
		for k, it := range typed {
			items = append(items, fanoutItem{value: it, key: k})
		}
		return items, true
	}
	return nil, false
}
