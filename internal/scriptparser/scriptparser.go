// Package scriptparser parses a per-problem configuration script into a
// ProblemSpecification.
//
// The script format is newline-delimited "key value" pairs, one pair per
// test attribute, keyed as "<test_name>.<attribute>". Unknown or
// malformed lines are skipped rather than failing the whole parse, so a
// damaged script degrades to defaults instead of failing the submission.
package scriptparser

import (
	"strconv"
	"strings"

	"github.com/google/shlex"

	"judgeworker/internal/model"
)

const (
	attrTimeLimit   = "time_limit"
	attrMemoryLimit = "memory_limit"
	attrStackLimit  = "stack_limit"
)

// Parse parses the raw script text for problemID. On any line it cannot
// make sense of, it skips that line and keeps going; it never returns an
// error. Test order follows first-appearance order in the script.
func Parse(problemID string, text string) model.ProblemSpecification {
	spec := model.ProblemSpecification{ID: problemID}
	order := make([]string, 0)
	byName := make(map[string]*model.TestSpecification)

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := splitKeyValue(line)
		if !ok {
			continue
		}
		testName, attr, ok := splitTestAttr(key)
		if !ok || testName == "" {
			continue
		}
		ts, exists := byName[testName]
		if !exists {
			order = append(order, testName)
			ts = &model.TestSpecification{TestName: testName}
			byName[testName] = ts
		}
		applyAttr(ts, attr, value)
	}

	for _, name := range order {
		spec.Tests = append(spec.Tests, byName[name].Normalize())
	}
	return spec
}

func splitKeyValue(line string) (key, value string, ok bool) {
	tokens, err := shlex.Split(line)
	if err != nil || len(tokens) < 2 {
		return "", "", false
	}
	return tokens[0], tokens[1], true
}

func splitTestAttr(key string) (testName, attr string, ok bool) {
	idx := strings.LastIndex(key, ".")
	if idx <= 0 || idx == len(key)-1 {
		return "", "", false
	}
	return key[:idx], key[idx+1:], true
}

func applyAttr(ts *model.TestSpecification, attr, value string) {
	switch attr {
	case attrTimeLimit:
		if v, err := strconv.ParseFloat(value, 64); err == nil && v > 0 {
			ts.TimeLimitSeconds = v
		}
	case attrMemoryLimit:
		if v, err := strconv.ParseInt(value, 10, 64); err == nil && v > 0 {
			ts.TotalMemoryLimitBytes = v
		}
	case attrStackLimit:
		if v, err := strconv.ParseInt(value, 10, 64); err == nil && v > 0 {
			ts.StackLimitBytes = v
		}
	}
}
