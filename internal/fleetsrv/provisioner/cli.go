package provisioner

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// CLIProvisioner runs a terraform-compatible binary. Each id gets its own
// workspace (selected via TF_WORKSPACE) and its own auto-loaded var file, so
// concurrent runs for different ids never share plan state.
type CLIProvisioner struct {
	binary  string
	workDir string

	initOnce sync.Once
	initErr  error
}

func NewCLIProvisioner(binary, workDir string) *CLIProvisioner {
	return &CLIProvisioner{
		binary:  binary,
		workDir: workDir,
	}
}

func (p *CLIProvisioner) Apply(ctx context.Context, id string, vars map[string]string) (*Outcome, error) {
	if err := p.ensureInit(ctx); err != nil {
		return nil, err
	}

	varsFile, err := p.writeVarsFile(id, vars)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.Remove(varsFile); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("vars_file", varsFile).Msg("could not remove vars file")
		}
	}()

	return p.run(ctx, id, "apply", "-auto-approve", "-input=false")
}

func (p *CLIProvisioner) Destroy(ctx context.Context, id string) (*Outcome, error) {
	if err := p.ensureInit(ctx); err != nil {
		return nil, err
	}
	return p.run(ctx, id, "destroy", "-auto-approve", "-input=false")
}

func (p *CLIProvisioner) ensureInit(ctx context.Context) error {
	p.initOnce.Do(func() {
		cmd := exec.CommandContext(ctx, p.binary, "init", "-input=false")
		cmd.Dir = p.workDir
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err != nil {
			p.initErr = errors.Wrapf(err, "init failed: %s", out.String())
		}
	})
	return p.initErr
}

func (p *CLIProvisioner) writeVarsFile(id string, vars map[string]string) (string, error) {
	merged := map[string]string{"partition_id": id}
	for k, v := range vars {
		merged[k] = v
	}
	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "could not encode vars")
	}
	path := filepath.Join(p.workDir, id+".auto.tfvars.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", errors.Wrapf(err, "could not write vars file %s", path)
	}
	return path, nil
}

func (p *CLIProvisioner) run(ctx context.Context, id string, args ...string) (*Outcome, error) {
	cmd := exec.CommandContext(ctx, p.binary, args...)
	cmd.Dir = p.workDir
	cmd.Env = append(os.Environ(), "TF_WORKSPACE="+id)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	log.Ctx(ctx).Info().Str("id", id).Strs("args", args).Msg("running provisioner")
	err := cmd.Run()
	output := out.String()
	if err == nil {
		return &Outcome{Success: true, Output: output}, nil
	}
	if ctx.Err() != nil {
		return nil, errors.Wrap(ctx.Err(), "provisioner cancelled")
	}
	if _, ok := err.(*exec.ExitError); !ok {
		// Binary missing or not executable: an environment fault, not a
		// tool-reported failure.
		return nil, errors.Wrap(err, "could not run provisioner")
	}
	return &Outcome{
		Success:   false,
		Output:    output,
		Retryable: IsRetryableOutput(output),
	}, nil
}

var transientMarkers = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"temporarily unavailable",
	"rate limit",
	"429",
	"503",
	"try again",
}

// IsRetryableOutput classifies tool output into transient vs fatal failure.
// Anything not recognizably transient is treated as fatal so a broken
// configuration is not re-applied five times against a live project.
func IsRetryableOutput(output string) bool {
	lower := strings.ToLower(output)
	for _, marker := range transientMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
