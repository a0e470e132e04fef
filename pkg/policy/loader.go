package policy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Extension is the file extension of policy files.
const Extension = ".rego"

// severityPrefix marks a header comment that sets the policy's default severity.
const severityPrefix = "severity:"

// Loader reads policy files from disk.
type Loader struct {
	logger zerolog.Logger
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
	}
}

// LoadDirectory loads all .rego files under dir recursively, in lexical
// order. Files whose name starts with "_" are skipped. Unreadable files are
// reported together while the rest still load.
func (l *Loader) LoadDirectory(ctx context.Context, dir string) ([]Policy, error) {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		l.logger.Debug().Str("dir", dir).Msg("Policy directory not found")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat policy directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("policy path %s is not a directory", dir)
	}

	var (
		policies []Policy
		errs     []error
	)
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || filepath.Ext(path) != Extension || strings.HasPrefix(d.Name(), "_") {
			return nil
		}

		policy, err := l.LoadFile(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to load policy file")
			errs = append(errs, err)
			return nil
		}

		policies = append(policies, *policy)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	l.logger.Debug().
		Int("total", len(policies)).
		Str("dir", dir).
		Msg("Policies read from directory")

	return policies, errors.Join(errs...)
}

// LoadFile loads a policy from a single .rego file.
func (l *Loader) LoadFile(filePath string) (*Policy, error) {
	if filepath.Ext(filePath) != Extension {
		return nil, fmt.Errorf("unsupported file type: %s", filePath)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	policy := l.parseRegoFile(filePath, data)

	l.logger.Debug().
		Str("path", filePath).
		Str("policy", policy.Name).
		Str("severity", string(policy.Severity)).
		Msg("Policy loaded from file")

	return policy, nil
}

// parseRegoFile parses a .rego file into a Policy. The name is the file name
// without extension; user policies block by default.
func (l *Loader) parseRegoFile(filePath string, data []byte) *Policy {
	content := string(data)
	name := strings.TrimSuffix(filepath.Base(filePath), Extension)

	severity := SeverityError
	if s, ok := l.extractSeverity(content); ok {
		severity = s
	}

	return &Policy{
		Name:        name,
		Description: l.extractDescription(content),
		Rego:        content,
		Severity:    severity,
		Enabled:     true,
		Source:      filePath,
	}
}

// headerComments returns the leading comment block, stopping at the first
// non-comment, non-empty line.
func headerComments(content string) []string {
	var comments []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			comments = append(comments, strings.TrimSpace(strings.TrimPrefix(trimmed, "#")))
			continue
		}
		if trimmed != "" {
			break
		}
	}
	return comments
}

// extractDescription extracts description from Rego comments.
func (l *Loader) extractDescription(content string) string {
	var description strings.Builder

	for _, comment := range headerComments(content) {
		if comment == "" || strings.HasPrefix(comment, "package") || strings.HasPrefix(strings.ToLower(comment), severityPrefix) {
			continue
		}
		if description.Len() > 0 {
			description.WriteString(" ")
		}
		description.WriteString(comment)
	}

	return description.String()
}

// extractSeverity reads a "# severity: <level>" header comment.
func (l *Loader) extractSeverity(content string) (Severity, bool) {
	for _, comment := range headerComments(content) {
		if !strings.HasPrefix(strings.ToLower(comment), severityPrefix) {
			continue
		}
		raw := strings.TrimSpace(comment[len(severityPrefix):])
		if sev, ok := parseSeverity(raw); ok {
			return sev, true
		}
		l.logger.Warn().Str("severity", raw).Msg("Unknown policy severity, using error")
	}
	return "", false
}
