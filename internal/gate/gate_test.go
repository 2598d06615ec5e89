package gate

import (
	"testing"
)

func TestCompile(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "empty config",
			cfg:  Config{},
		},
		{
			name: "branch only",
			cfg:  Config{Branch: "main"},
		},
		{
			name: "valid expression",
			cfg:  Config{Expr: `branch == "main" && env["DEPLOY"] == "yes"`},
		},
		{
			name:    "syntax error in expression",
			cfg:     Config{Expr: `branch ==`},
			wantErr: true,
		},
		{
			name:    "undefined variable in expression",
			cfg:     Config{Expr: `cluster == "prod"`},
			wantErr: true,
		},
		{
			name:    "non-boolean expression",
			cfg:     Config{Expr: `branch`},
			wantErr: true,
		},
		{
			name: "unknown keys compile but are preserved",
			cfg:  Config{Unknown: []string{"tag"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Compile() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEvaluate(t *testing.T) {
	ctx := Context{
		Branch: "main",
		Commit: "abc123",
		Build:  "build-1",
		Env:    map[string]string{"DEPLOY": "yes"},
	}

	tests := []struct {
		name string
		cfg  Config
		want Decision
	}{
		{
			name: "empty gate admits",
			cfg:  Config{},
			want: Admit,
		},
		{
			name: "branch match",
			cfg:  Config{Branch: "main"},
			want: Admit,
		},
		{
			name: "branch mismatch",
			cfg:  Config{Branch: "release"},
			want: Skip,
		},
		{
			name: "branches any-of match",
			cfg:  Config{Branches: []string{"release", "main"}},
			want: Admit,
		},
		{
			name: "branches no match",
			cfg:  Config{Branches: []string{"release", "hotfix"}},
			want: Skip,
		},
		{
			name: "expression true",
			cfg:  Config{Expr: `branch == "main" && env["DEPLOY"] == "yes"`},
			want: Admit,
		},
		{
			name: "expression false",
			cfg:  Config{Expr: `commit == "def456"`},
			want: Skip,
		},
		{
			name: "all predicates must admit",
			cfg:  Config{Branch: "main", Expr: `build == "build-2"`},
			want: Skip,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Compile(tt.cfg)
			if err != nil {
				t.Fatalf("Compile() error = %v", err)
			}
			got, err := g.Evaluate(ctx)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateNilGate(t *testing.T) {
	var g *Gate
	got, err := g.Evaluate(Context{Branch: "main"})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if got != Admit {
		t.Errorf("Evaluate() = %v, want Admit", got)
	}
}

func TestEvaluateUnknownPredicate(t *testing.T) {
	g, err := Compile(Config{Branch: "main", Unknown: []string{"cluster", "tag"}})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	got, err := g.Evaluate(Context{Branch: "main"})
	if got != Skip {
		t.Errorf("Evaluate() = %v, want Skip", got)
	}
	if err == nil {
		t.Fatal("Evaluate() expected a configuration error")
	}
	if !IsConfigError(err) {
		t.Errorf("IsConfigError(%v) = false, want true", err)
	}
}
