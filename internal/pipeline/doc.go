// Package pipeline defines the declarative pipeline format and turns it into
// a validated execution plan.
//
// A pipeline is an ordered list of stages. A stage is one of three things: a
// shell command, a parallel group of sub-stages, or a readiness probe. Stages
// may carry a gate predicate ("when"), a manual-approval flag, an artifact
// directory, and a timeout. Post-run hooks keyed by outcome (always, success,
// failure) run after the main sequence.
//
// # Format
//
//	name: web-service
//	env:
//	  REGISTRY: ghcr.io/acme
//	stages:
//	  - name: checkout
//	    run: git clone --depth 1 "$REPO_URL" .
//	  - name: verify
//	    parallel:
//	      - name: lint
//	        run: make lint
//	      - name: test
//	        run: make test
//	  - name: build
//	    run: make build
//	    artifacts: dist
//	  - name: deploy
//	    run: make deploy
//	    when:
//	      branch: main
//	    approval: true
//	  - name: health-check
//	    probe:
//	      url: http://svc:8080/health
//	      token: ok
//	      timeout: 60s
//	      interval: 2s
//	post:
//	  always:
//	    - name: cleanup
//	      run: make clean
//
// Build validates the tree before anything executes: every stage needs
// exactly one body, parallel groups must be non-empty and flat, stage names
// must be unique, and expression predicates are compile-checked against the
// run context's variables. Validation failures are malformed-spec errors and
// carry the offending stage name.
package pipeline
