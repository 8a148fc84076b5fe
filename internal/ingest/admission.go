package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/open-policy-agent/opa/rego"

	"motionboard/internal/telemetry"
)

// AdmissionQuery is evaluated against {"records": [...]}; every string it
// yields is a reason to reject the batch.
const AdmissionQuery = "data.ingest.deny"

// Admission screens batches with a Rego policy before they reach the sink.
type Admission struct {
	query rego.PreparedEvalQuery
}

// LoadAdmission compiles the policy at path. An empty path disables
// admission and returns nil.
func LoadAdmission(ctx context.Context, path string) (*Admission, error) {
	if path == "" {
		return nil, nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewAdmission(ctx, path, string(src))
}

func NewAdmission(ctx context.Context, name, module string) (*Admission, error) {
	pq, err := rego.New(
		rego.Query(AdmissionQuery),
		rego.Module(name, module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile admission policy: %w", err)
	}
	return &Admission{query: pq}, nil
}

// Check returns the policy's deny reasons, sorted. A nil *Admission admits
// everything.
func (a *Admission) Check(ctx context.Context, records []telemetry.Record) ([]string, error) {
	if a == nil {
		return nil, nil
	}
	input, err := toInput(records)
	if err != nil {
		return nil, err
	}
	rs, err := a.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, nil
	}
	var reasons []string
	switch v := rs[0].Expressions[0].Value.(type) {
	case []any:
		for _, r := range v {
			reasons = append(reasons, fmt.Sprint(r))
		}
	case string:
		reasons = append(reasons, v)
	}
	sort.Strings(reasons)
	return reasons, nil
}

// toInput round-trips through JSON so the policy sees the wire field names.
func toInput(records []telemetry.Record) (map[string]any, error) {
	b, err := json.Marshal(telemetry.IngestRequest{Records: records})
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
