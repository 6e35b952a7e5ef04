package vectorstore

import (
	"context"
	"fmt"
	"os"
)

// HealthChecker reports whether an index can serve requests.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Health verifies the persistence directory is still reachable.
// In-memory indexes are always healthy.
func (s *ChromemIndex) Health(ctx context.Context) error {
	if s.config.Path == "" {
		return nil
	}
	info, err := os.Stat(s.config.Path)
	if err != nil {
		return fmt.Errorf("chromem path unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("chromem path %s is not a directory", s.config.Path)
	}
	return nil
}

// Health pings the Qdrant server.
func (s *QdrantIndex) Health(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}

var (
	_ HealthChecker = (*ChromemIndex)(nil)
	_ HealthChecker = (*QdrantIndex)(nil)
)
