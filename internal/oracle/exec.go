package oracle

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Placeholders substituted in ExecRunner arguments.
const (
	ScenarioDirPlaceholder = "{scenario_dir}"
	ResultsCSVPlaceholder  = "{results_csv}"
)

// Runner simulates every scenario file in scenarioDir and writes one results
// row per scenario to resultsCSV.
type Runner interface {
	Run(ctx context.Context, scenarioDir, resultsCSV string) error
}

// #region exec-runner
// ExecRunner runs an external simulator command.
type ExecRunner struct {
	Command string
	Args    []string
	Dir     string   // working directory, empty for the current one
	Env     []string // appended to the inherited environment
}

// Run executes the command with placeholders expanded. Combined output is
// included in the error when the command fails.
func (r ExecRunner) Run(ctx context.Context, scenarioDir, resultsCSV string) error {
	if r.Command == "" {
		return fmt.Errorf("exec runner: no command configured")
	}
	expand := strings.NewReplacer(
		ScenarioDirPlaceholder, scenarioDir,
		ResultsCSVPlaceholder, resultsCSV,
	)
	args := make([]string, len(r.Args))
	for i, a := range r.Args {
		args[i] = expand.Replace(a)
	}

	cmd := exec.CommandContext(ctx, r.Command, args...)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run %s: %w: %s", r.Command, err, tail(out.String(), 2000))
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// #endregion exec-runner
