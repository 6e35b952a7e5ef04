package redact

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
	"go.uber.org/zap"
)

// Config configures a Redactor.
type Config struct {
	Enabled       bool
	AllowlistPath string
}

// Finding is one redacted secret. The secret itself is never kept.
type Finding struct {
	RuleID string
	Line   int
}

// Result is redacted text plus what was removed.
type Result struct {
	Text     string
	Findings []Finding
}

// Redactor scrubs secrets from text. It is safe for concurrent use.
type Redactor struct {
	enabled       bool
	allowlistPath string
	logger        *zap.Logger

	// detect.Detector keeps per-scan state.
	mu       sync.Mutex
	detector *detect.Detector
}

// New builds a Redactor. Loading the Gitleaks rule set is expensive, so a
// Redactor should be created once and shared.
func New(cfg Config, logger *zap.Logger) (*Redactor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Redactor{enabled: cfg.Enabled, allowlistPath: cfg.AllowlistPath, logger: logger}
	if !cfg.Enabled {
		return r, nil
	}

	detector, err := r.buildDetector()
	if err != nil {
		return nil, err
	}
	r.detector = detector
	return r, nil
}

// buildDetector loads the allowlist and creates a detector with it applied.
func (r *Redactor) buildDetector() (*detect.Detector, error) {
	allowlist, err := LoadAllowlist(r.allowlistPath)
	if err != nil {
		return nil, fmt.Errorf("loading allowlist: %w", err)
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating detector: %w", err)
	}
	if !allowlist.empty() {
		applyAllowlist(&detector.Config, allowlist)
	}

	r.logger.Debug("redactor ready",
		zap.Int("rules", len(detector.Config.Rules)),
		zap.Int("allowlist_regexes", len(allowlist.Regexes)))
	return detector, nil
}

// Reload re-reads the allowlist file. On error the current detector stays.
func (r *Redactor) Reload() error {
	if !r.enabled {
		return nil
	}
	detector, err := r.buildDetector()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.detector = detector
	r.mu.Unlock()
	return nil
}

// Enabled reports whether redaction is active.
func (r *Redactor) Enabled() bool {
	return r.enabled
}

// Redact replaces every detected secret in text. When disabled it returns
// text unchanged.
func (r *Redactor) Redact(text string) Result {
	if !r.enabled || text == "" {
		return Result{Text: text}
	}

	r.mu.Lock()
	found := r.detector.DetectString(text)
	r.mu.Unlock()

	if len(found) == 0 {
		return Result{Text: text}
	}

	secrets := make(map[string]string, len(found))
	findings := make([]Finding, 0, len(found))
	for _, f := range found {
		secret := f.Secret
		if secret == "" {
			secret = f.Match
		}
		if secret == "" {
			continue
		}
		secrets[secret] = f.RuleID
		findings = append(findings, Finding{RuleID: f.RuleID, Line: f.StartLine})
	}

	return Result{Text: replaceSecrets(text, secrets), Findings: findings}
}

// replaceSecrets substitutes each secret with a marker naming its rule.
// Longer secrets go first so a secret containing another is replaced whole.
func replaceSecrets(text string, secrets map[string]string) string {
	ordered := make([]string, 0, len(secrets))
	for s := range secrets {
		ordered = append(ordered, s)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if len(ordered[i]) != len(ordered[j]) {
			return len(ordered[i]) > len(ordered[j])
		}
		return ordered[i] < ordered[j]
	})

	pairs := make([]string, 0, 2*len(ordered))
	for _, s := range ordered {
		pairs = append(pairs, s, "[REDACTED:"+secrets[s]+"]")
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// applyAllowlist appends a global allowlist to the detector config.
// Patterns were validated by LoadAllowlist.
func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) {
	global := &gitleaksConfig.Allowlist{
		Description: "siteindex allowlist",
		StopWords:   allowlist.StopWords,
	}
	for _, pattern := range allowlist.Regexes {
		re := regexp.MustCompile(pattern)
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	cfg.Allowlists = append(cfg.Allowlists, global)
}
