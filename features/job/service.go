package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tubesearch/apps/backend/internal/config"
)

var ErrUnknownHandler = errors.New("job has no known handler topic")

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo           Repository
	pub            EventPublisher
	publishTimeout time.Duration
}

func NewService(repo Repository, pub EventPublisher) *Service {
	return &Service{repo: repo, pub: pub, publishTimeout: 5 * time.Second}
}

// List returns failed jobs, newest first. A non-empty topic keeps only jobs
// recorded for that topic.
func (s *Service) List(ctx context.Context, topic string) ([]Job, error) {
	jobs, err := s.repo.List(ctx)
	if err != nil || topic == "" {
		return jobs, err
	}
	if !knownTopic(topic) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHandler, topic)
	}

	filtered := []Job{}
	for _, j := range jobs {
		if j.Handler == topic {
			filtered = append(filtered, j)
		}
	}
	return filtered, nil
}

// Retry republishes the job payload to its topic and forgets the job. The
// pipeline skips stored units, so a retried video resumes where it stopped.
func (s *Service) Retry(ctx context.Context, id string) error {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !knownTopic(job.Handler) {
		return fmt.Errorf("%w: %q", ErrUnknownHandler, job.Handler)
	}

	done := make(chan error, 1)
	go func() { done <- s.pub.Publish(job.Handler, job.Payload) }()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-time.After(s.publishTimeout):
		return errors.New("timeout waiting for NSQ publish")
	case <-ctx.Done():
		return ctx.Err()
	}

	slog.InfoContext(ctx, "failed job republished", "id", id, "topic", job.Handler, "source_id", job.SourceID)
	return s.repo.Delete(ctx, id)
}

// Discard drops a failed job without replaying it.
func (s *Service) Discard(ctx context.Context, id string) error {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "failed job discarded", "id", id, "topic", job.Handler, "source_id", job.SourceID)
	return nil
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

func knownTopic(topic string) bool {
	for _, t := range config.Topics {
		if t == topic {
			return true
		}
	}
	return false
}
