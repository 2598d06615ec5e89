package pipeline

import (
	"testing"
	"time"
)

func TestBuild(t *testing.T) {
	spec, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	plan, err := Build(spec)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if plan.Name != "web-app" {
		t.Errorf("Name = %q, want %q", plan.Name, "web-app")
	}
	if got := len(plan.Stages); got != 4 {
		t.Fatalf("len(Stages) = %d, want 4", got)
	}

	build := plan.Stages[0]
	if build.Command != "make build" || build.Artifacts != "dist/" {
		t.Errorf("build stage = %+v", build)
	}

	checks := plan.Stages[1]
	if !checks.IsGroup() || len(checks.Group) != 2 {
		t.Errorf("checks stage is not a 2-member group: %+v", checks)
	}

	deploy := plan.Stages[2]
	if !deploy.Approval || deploy.Gate == nil {
		t.Errorf("deploy stage = %+v, want approval and gate", deploy)
	}

	verify := plan.Stages[3]
	if verify.Probe == nil {
		t.Fatal("verify.Probe = nil")
	}
	if verify.Probe.Timeout != 2*time.Minute || verify.Probe.Interval != 5*time.Second {
		t.Errorf("probe timing = %v/%v, want 2m/5s", verify.Probe.Timeout, verify.Probe.Interval)
	}

	if len(plan.Post.Always) != 1 || !plan.Post.Always[0].Always {
		t.Errorf("Post.Always = %+v", plan.Post.Always)
	}
}

func TestBuildProbeTokenDefault(t *testing.T) {
	spec := &Spec{
		Name: "p",
		Stages: []StageSpec{
			{Name: "wait", Probe: &ProbeSpec{URL: "http://localhost/healthz"}},
		},
	}
	plan, err := Build(spec)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got := plan.Stages[0].Probe.Token; got != "ok" {
		t.Errorf("Token = %q, want %q", got, "ok")
	}
}

func TestBuildMalformed(t *testing.T) {
	tests := []struct {
		name string
		spec *Spec
	}{
		{
			name: "nil spec",
			spec: nil,
		},
		{
			name: "missing pipeline name",
			spec: &Spec{Stages: []StageSpec{{Name: "a", Run: "true"}}},
		},
		{
			name: "no stages",
			spec: &Spec{Name: "p"},
		},
		{
			name: "missing stage name",
			spec: &Spec{Name: "p", Stages: []StageSpec{{Run: "true"}}},
		},
		{
			name: "duplicate stage names",
			spec: &Spec{Name: "p", Stages: []StageSpec{
				{Name: "a", Run: "true"},
				{Name: "a", Run: "true"},
			}},
		},
		{
			name: "duplicate name inside group",
			spec: &Spec{Name: "p", Stages: []StageSpec{
				{Name: "a", Run: "true"},
				{Name: "g", Parallel: []StageSpec{{Name: "a", Run: "true"}}},
			}},
		},
		{
			name: "no body",
			spec: &Spec{Name: "p", Stages: []StageSpec{{Name: "a"}}},
		},
		{
			name: "two bodies",
			spec: &Spec{Name: "p", Stages: []StageSpec{
				{Name: "a", Run: "true", Probe: &ProbeSpec{URL: "http://x"}},
			}},
		},
		{
			name: "empty parallel group",
			spec: &Spec{Name: "p", Stages: []StageSpec{
				{Name: "g", Parallel: []StageSpec{}},
			}},
		},
		{
			name: "nested parallel group",
			spec: &Spec{Name: "p", Stages: []StageSpec{
				{Name: "g", Parallel: []StageSpec{
					{Name: "inner", Parallel: []StageSpec{{Name: "x", Run: "true"}}},
				}},
			}},
		},
		{
			name: "approval inside group",
			spec: &Spec{Name: "p", Stages: []StageSpec{
				{Name: "g", Parallel: []StageSpec{
					{Name: "deploy", Run: "true", Approval: true},
				}},
			}},
		},
		{
			name: "approval on hook",
			spec: &Spec{
				Name:   "p",
				Stages: []StageSpec{{Name: "a", Run: "true"}},
				Post: PostSpec{Always: []StageSpec{
					{Name: "cleanup", Run: "true", Approval: true},
				}},
			},
		},
		{
			name: "invalid timeout",
			spec: &Spec{Name: "p", Stages: []StageSpec{
				{Name: "a", Run: "true", Timeout: "soon"},
			}},
		},
		{
			name: "negative timeout",
			spec: &Spec{Name: "p", Stages: []StageSpec{
				{Name: "a", Run: "true", Timeout: "-1s"},
			}},
		},
		{
			name: "probe without url",
			spec: &Spec{Name: "p", Stages: []StageSpec{
				{Name: "wait", Probe: &ProbeSpec{}},
			}},
		},
		{
			name: "invalid probe interval",
			spec: &Spec{Name: "p", Stages: []StageSpec{
				{Name: "wait", Probe: &ProbeSpec{URL: "http://x", Interval: "0s"}},
			}},
		},
		{
			name: "invalid gate expression",
			spec: &Spec{Name: "p", Stages: []StageSpec{
				{Name: "a", Run: "true", When: &WhenSpec{Expr: "branch =="}},
			}},
		},
		{
			name: "gate references undefined variable",
			spec: &Spec{Name: "p", Stages: []StageSpec{
				{Name: "a", Run: "true", When: &WhenSpec{Expr: `cluster == "prod"`}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.spec)
			if err == nil {
				t.Fatal("Build() expected error")
			}
			if !IsMalformedSpec(err) {
				t.Errorf("IsMalformedSpec(%v) = false, want true", err)
			}
		})
	}
}

func TestBuildUnknownGateKeyIsNotABuildError(t *testing.T) {
	// An unrecognized predicate key is a validation-time pass and an
	// evaluation-time skip; the plan must still build.
	spec := &Spec{Name: "p", Stages: []StageSpec{
		{Name: "a", Run: "true", When: &WhenSpec{Unknown: []string{"tag"}}},
	}}
	plan, err := Build(spec)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if plan.Stages[0].Gate == nil {
		t.Error("Gate = nil, want compiled gate carrying the unknown key")
	}
}
