package expr

import (
	"testing"
)

func mustParse(t *testing.T, input string) Node {
	t.Helper()
	n, err := Parse(input)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", input, err)
	}
	return n
}

func evalBool(t *testing.T, input string, env map[string]interface{}) bool {
	t.Helper()
	b, err := Eval(mustParse(t, input), env)
	if err != nil {
		t.Fatalf("Eval(%q) failed: %v", input, err)
	}
	return b
}

func TestComparisons(t *testing.T) {
	env := map[string]interface{}{
		"key": "task_abc",
		"new_entry": map[string]interface{}{
			"status":   "open",
			"priority": float64(3),
			"tags":     []interface{}{"email", "urgent"},
		},
		"old_entry": nil,
	}

	cases := []struct {
		cond string
		want bool
	}{
		{`new_entry.status == 'open'`, true},
		{`new_entry.status != 'open'`, false},
		{`new_entry.priority > 2`, true},
		{`new_entry.priority <= 2`, false},
		{`key == 'task_abc'`, true},
		{`'urgent' in new_entry.tags`, true},
		{`'missing' in new_entry.tags`, false},
		{`'abc' in key`, true},
		{`new_entry.status == 'open' and new_entry.priority > 2`, true},
		{`new_entry.status == 'closed' or new_entry.priority > 2`, true},
		{`not (new_entry.status == 'open')`, false},
		{`old_entry == null`, true},
		{`new_entry.missing == null`, true},
		{`new_entry.tags[0] == 'email'`, true},
		{`new_entry.tags[5] == null`, true},
	}

	for _, tc := range cases {
		if got := evalBool(t, tc.cond, env); got != tc.want {
			t.Errorf("Eval(%q) = %v, want %v", tc.cond, got, tc.want)
		}
	}
}

func TestParseRejectsNonGrammar(t *testing.T) {
	bad := []string{
		`__import__('os').system('rm')`,
		`key ==`,
		`(key == 'a'`,
		`key = 'a'`,
		`key == 'a' &&`,
		`func(key)`,
		`key['a']`,
		`'unterminated`,
	}
	for _, input := range bad {
		if _, err := Parse(input); err == nil {
			t.Errorf("Parse(%q) should fail", input)
		}
	}
}

func TestEvalRequiresBoolean(t *testing.T) {
	n := mustParse(t, `new_entry.status`)
	if _, err := Eval(n, map[string]interface{}{
		"new_entry": map[string]interface{}{"status": "open"},
	}); err == nil {
		t.Error("Non-boolean result should error")
	}
}

func TestShortCircuit(t *testing.T) {
	// Right side would error if evaluated ('not' over a string).
	env := map[string]interface{}{"flag": false, "s": "x"}
	got := evalBool(t, `flag and not s`, env)
	if got {
		t.Error("Expected false from short-circuited and")
	}
}

func TestNumericNormalization(t *testing.T) {
	env := map[string]interface{}{"n": 3} // int, not float64
	if !evalBool(t, `n == 3`, env) {
		t.Error("int and literal number should compare equal")
	}
}
