package rules

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/vinayprograms/autokit/errors"
	"github.com/vinayprograms/autokit/expr"
)

// Trigger types.
const (
	TriggerEntryAdded   = "entry_added"
	TriggerEntryUpdated = "entry_updated"
	TriggerTime         = "time"
	TriggerInterval     = "interval"
	TriggerEvent        = "event"
)

var timeOfDay = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// Trigger describes when a rule fires.
type Trigger struct {
	// Type selects the trigger kind; unknown types fail validation.
	Type string `json:"type"`

	// File is the watched store path for entry_added / entry_updated.
	File string `json:"file,omitempty"`

	// At is the HH:MM wall-clock time for time triggers.
	At string `json:"at,omitempty"`

	// Minutes is the repeat period for interval triggers.
	Minutes int `json:"minutes,omitempty"`

	// EventKey names the event for event triggers.
	EventKey string `json:"event_key,omitempty"`
}

// Validate checks the trigger's shape.
func (t Trigger) Validate() error {
	switch t.Type {
	case TriggerEntryAdded, TriggerEntryUpdated:
		if t.File == "" {
			return errors.InvalidInput(fmt.Sprintf("%s trigger requires a file", t.Type))
		}
	case TriggerTime:
		if !timeOfDay.MatchString(t.At) {
			return errors.InvalidInput(fmt.Sprintf("time trigger requires at in HH:MM form, got %q", t.At))
		}
	case TriggerInterval:
		if t.Minutes <= 0 {
			return errors.InvalidInput("interval trigger requires positive minutes")
		}
	case TriggerEvent:
		if t.EventKey == "" {
			return errors.InvalidInput("event trigger requires an event_key")
		}
	default:
		return errors.InvalidInput(fmt.Sprintf("unknown trigger type %q", t.Type))
	}
	return nil
}

// Command is one dispatchable action: a tool, the action it should
// take, and its parameters. The set of tools is whatever the registry
// holds; there is no open-ended code execution.
type Command struct {
	Tool   string                 `json:"tool"`
	Action string                 `json:"action"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Step is a command inside a rule's action sequence. A foreach path
// iterates an array from the trigger environment, dispatching the
// command once per element.
type Step struct {
	Command
	Foreach string `json:"foreach,omitempty"`
}

// Steps is a rule's action: a single step or a sequence. The wire
// format accepts either a JSON object or an array of objects.
type Steps []Step

// UnmarshalJSON accepts both the single-step and sequence forms.
func (s *Steps) UnmarshalJSON(data []byte) error {
	var many []Step
	if err := json.Unmarshal(data, &many); err == nil {
		*s = many
		return nil
	}
	var one Step
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*s = Steps{one}
	return nil
}

// PostAction fans a follow-up command out over a named array or map
// field of the final action result, with an optional per-item
// condition.
type PostAction struct {
	Command
	Field     string `json:"field"`
	Condition string `json:"condition,omitempty"`
}

// Rule binds a trigger to an action sequence. Rules are a persisted
// wire format keyed by rule_key in the rules store.
type Rule struct {
	Trigger    Trigger     `json:"trigger"`
	Condition  string      `json:"condition,omitempty"`
	Action     Steps       `json:"action"`
	PostAction *PostAction `json:"post_action,omitempty"`
	Disabled   bool        `json:"disabled,omitempty"`
}

// Validate checks the rule's trigger, condition grammar, and steps.
// Runs at add/update time so a bad condition never reaches the loop.
func (r Rule) Validate() error {
	if err := r.Trigger.Validate(); err != nil {
		return err
	}
	if r.Condition != "" {
		if _, err := expr.Parse(r.Condition); err != nil {
			return errors.InvalidInput("condition does not parse", errors.WithCause(err))
		}
	}
	if len(r.Action) == 0 {
		return errors.InvalidInput("rule requires at least one action step")
	}
	for i, step := range r.Action {
		if step.Tool == "" || step.Action == "" {
			return errors.InvalidInput(fmt.Sprintf("action step %d requires tool and action", i))
		}
	}
	if r.PostAction != nil {
		if r.PostAction.Field == "" {
			return errors.InvalidInput("post_action requires a field to fan out over")
		}
		if r.PostAction.Tool == "" || r.PostAction.Action == "" {
			return errors.InvalidInput("post_action requires tool and action")
		}
		if r.PostAction.Condition != "" {
			if _, err := expr.Parse(r.PostAction.Condition); err != nil {
				return errors.InvalidInput("post_action condition does not parse", errors.WithCause(err))
			}
		}
	}
	return nil
}
