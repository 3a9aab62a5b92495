package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/autokit/errors"
	"github.com/vinayprograms/autokit/rules"
)

func init() {
	rootCmd.AddCommand(addRuleCmd)
	rootCmd.AddCommand(updateRuleCmd)
	rootCmd.AddCommand(deleteRuleCmd)
	rootCmd.AddCommand(listRulesCmd)
	rootCmd.AddCommand(dispatchEventCmd)
	rootCmd.AddCommand(setEventTestCmd)
	rootCmd.AddCommand(clearEventTestCmd)
}

// parseRule decodes and validates a rule from a JSON argument.
func parseRule(raw string) (*rules.Rule, error) {
	var r rules.Rule
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, errors.InvalidInput("bad rule JSON", errors.WithCause(err))
	}
	return &r, nil
}

var addRuleCmd = &cobra.Command{
	Use:   "add-rule <rule-key> <rule-json>",
	Short: "Add an automation rule",
	Long: `Add an automation rule. The rule's trigger shape and condition
grammar are validated before anything is persisted.

Examples:
  autokit add-rule on_new_task '{
    "trigger": {"type": "entry_added", "file": "data/task_queue.json"},
    "condition": "new_entry.priority > 5",
    "action": {"tool": "notify", "action": "send", "params": {"task": "{key}"}}
  }'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return fail(err)
		}
		rule, err := parseRule(args[1])
		if err != nil {
			return fail(err)
		}
		if err := a.engine.AddRule(cmd.Context(), args[0], rule); err != nil {
			return fail(err)
		}
		return emitOK(map[string]interface{}{"rule_key": args[0]})
	},
}

var updateRuleCmd = &cobra.Command{
	Use:   "update-rule <rule-key> <rule-json>",
	Short: "Replace an automation rule",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return fail(err)
		}
		rule, err := parseRule(args[1])
		if err != nil {
			return fail(err)
		}
		if err := a.engine.UpdateRule(cmd.Context(), args[0], rule); err != nil {
			return fail(err)
		}
		return emitOK(map[string]interface{}{"rule_key": args[0]})
	},
}

var deleteRuleCmd = &cobra.Command{
	Use:   "delete-rule <rule-key>",
	Short: "Remove an automation rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return fail(err)
		}
		if err := a.engine.DeleteRule(cmd.Context(), args[0]); err != nil {
			return fail(err)
		}
		return emitOK(map[string]interface{}{"rule_key": args[0]})
	},
}

var listRulesCmd = &cobra.Command{
	Use:   "list-rules",
	Short: "List automation rules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return fail(err)
		}
		ruleset, err := a.engine.ListRules(cmd.Context())
		if err != nil {
			return fail(err)
		}
		return emitOK(map[string]interface{}{"rules": ruleset, "count": len(ruleset)})
	},
}

var setEventTestCmd = &cobra.Command{
	Use:   "set-event-test <trigger-type> <condition>",
	Short: "Install the global gate for an entry trigger type",
	Long: `Install the global gate for entry_added or entry_updated. Entry
candidates of a type fire only while a gate is installed and its
condition holds; use "true" to let every candidate through.

Examples:
  autokit set-event-test entry_added true
  autokit set-event-test entry_updated 'new_entry.status != old_entry.status'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return fail(err)
		}
		if err := a.engine.SetEventTest(cmd.Context(), args[0], args[1]); err != nil {
			return fail(err)
		}
		return emitOK(map[string]interface{}{"trigger_type": args[0], "condition": args[1]})
	},
}

var clearEventTestCmd = &cobra.Command{
	Use:   "clear-event-test <trigger-type>",
	Short: "Remove an entry trigger type's global gate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return fail(err)
		}
		if err := a.engine.ClearEventTest(cmd.Context(), args[0]); err != nil {
			return fail(err)
		}
		return emitOK(map[string]interface{}{"trigger_type": args[0]})
	},
}

var dispatchEventCmd = &cobra.Command{
	Use:   "dispatch-event <event-key> [payload-json]",
	Short: "Fire event-triggered rules on demand",
	Long: `Fire every enabled rule whose event trigger matches the key. The
optional payload is exposed to conditions and placeholders as new_entry.

Examples:
  autokit dispatch-event inbox_scan '{"count": 3}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return fail(err)
		}
		var payload map[string]interface{}
		if len(args) == 2 {
			if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
				return fail(errors.InvalidInput("bad payload JSON", errors.WithCause(err)))
			}
		}
		fired, err := a.engine.DispatchEvent(cmd.Context(), args[0], payload)
		if err != nil {
			return fail(err)
		}
		return emitOK(map[string]interface{}{"event_key": args[0], "fired": fired})
	},
}
