package provider

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// CLIProvider completes prompts by running a local LLM command line tool
// (llm, ollama run, lms) with the prompt as its last argument.
type CLIProvider struct {
	binaryPath string
	args       []string
}

func NewCLIProvider(binaryPath string, args []string) (*CLIProvider, error) {
	if binaryPath == "" {
		return nil, fmt.Errorf("binary path is required for CLI provider")
	}
	return &CLIProvider{
		binaryPath: binaryPath,
		args:       args,
	}, nil
}

// DetectCLIProvider looks for a known local tool on PATH.
func DetectCLIProvider() (*CLIProvider, error) {
	for _, t := range []string{"llm", "lms", "ollama"} {
		path, err := exec.LookPath(t)
		if err != nil {
			continue
		}
		var args []string
		if t == "ollama" {
			args = []string{"run", "llama3.2"}
		}
		return NewCLIProvider(path, args)
	}
	return nil, errors.New("no local LLM command detected (tried llm, lms, ollama)")
}

func (p *CLIProvider) Name() string {
	return "cli-" + filepath.Base(p.binaryPath)
}

func (p *CLIProvider) Model() string {
	return p.Name()
}

// Complete has no timeout of its own; callers bound it through ctx.
func (p *CLIProvider) Complete(ctx context.Context, prompt string) (string, error) {
	if err := checkInput(prompt); err != nil {
		return "", err
	}

	fullArgs := append(append([]string{}, p.args...), prompt)
	cmd := exec.CommandContext(ctx, p.binaryPath, fullArgs...)

	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("cli agent timed out: %w: %w", ErrModelUnavailable, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("cli agent failed: %w\nOutput: %s", err, string(exitErr.Stderr))
		}
		return "", fmt.Errorf("cli agent failed: %w: %w", ErrModelUnavailable, err)
	}

	result := strings.TrimSpace(string(output))
	if result == "" {
		return "", emptyResponse("cli agent")
	}
	return result, nil
}

func (p *CLIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("cli: %w", ErrEmbeddingUnsupported)
}
