package guardrail

import (
	"fmt"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// GitleaksScanner flags credentials pasted into a query using the gitleaks
// default rule set.
type GitleaksScanner struct {
	mu       sync.Mutex
	detector *detect.Detector
}

func NewGitleaksScanner() (*GitleaksScanner, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("init gitleaks detector: %w", err)
	}
	return &GitleaksScanner{detector: detector}, nil
}

// Scan returns the first matching rule ID.
func (s *GitleaksScanner) Scan(text string) (string, bool) {
	// Detector is not documented as safe for concurrent use.
	s.mu.Lock()
	defer s.mu.Unlock()

	findings := s.detector.DetectString(text)
	if len(findings) == 0 {
		return "", false
	}
	return findings[0].RuleID, true
}
