package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Item statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Result is the outcome for one item of a batch.
type Result struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// OK reports whether the item succeeded.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// Summary aggregates the results of a batch.
type Summary struct {
	Total      int      `json:"total"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Results    []Result `json:"results"`
}

// Summarize counts successes and failures.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results), Results: results}
	for _, r := range results {
		if r.OK() {
			s.Successful++
		} else {
			s.Failed++
		}
	}
	return s
}

// JSON renders the summary as indented JSON.
func (s Summary) JSON() string {
	if s.Results == nil {
		s.Results = []Result{}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"total":%d,"successful":%d,"failed":%d}`, s.Total, s.Successful, s.Failed)
	}
	return string(data)
}

// Process calls fn for every id in order. A failing item never stops the
// batch; once ctx is done the remaining items fail with the context error.
func Process(ctx context.Context, ids []string, fn func(ctx context.Context, id string) (string, error)) []Result {
	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			results = append(results, Failure(id, err))
			continue
		}
		msg, err := fn(ctx, id)
		if err != nil {
			results = append(results, Failure(id, err))
			continue
		}
		results = append(results, Success(id, msg))
	}
	return results
}

// Success creates a successful result.
func Success(id, message string) Result {
	return Result{ID: id, Status: StatusSuccess, Result: message}
}

// Failure creates a failed result.
func Failure(id string, err error) Result {
	return Result{ID: id, Status: StatusError, Error: err.Error()}
}

// ParseStringList reads a parameter given as a single string, a
// comma-separated string or a JSON array of strings.
func ParseStringList(param any, name string) ([]string, error) {
	var raw []string
	switch v := param.(type) {
	case nil:
		return nil, fmt.Errorf("%s is required", name)
	case string:
		for _, part := range strings.Split(v, ",") {
			raw = append(raw, strings.TrimSpace(part))
		}
	case []string:
		raw = v
	case []any:
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s[%d] must be a string", name, i)
			}
			raw = append(raw, strings.TrimSpace(s))
		}
	default:
		return nil, fmt.Errorf("%s must be a string or an array of strings", name)
	}

	out := make([]string, 0, len(raw))
	for i, s := range raw {
		if s == "" {
			return nil, fmt.Errorf("%s[%d] cannot be empty", name, i)
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s cannot be empty", name)
	}
	return out, nil
}
