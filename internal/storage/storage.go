// Package storage archives sweep reports to S3 or a local directory.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/ignite/audience-sync/internal/config"
)

// ErrNotFound is returned by Get when no object exists under the key.
var ErrNotFound = errors.New("archive object not found")

// Archive is a write-mostly object store for JSON reports.
type Archive interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// SweepReport is the archived record of one scheduled sweep.
type SweepReport struct {
	GeneratedAt time.Time   `json:"generated_at"`
	Trigger     string      `json:"trigger"`
	Worker      string      `json:"worker,omitempty"`
	Result      interface{} `json:"result"`
}

// New returns the archive selected by cfg.Type and the key prefix to write
// under. An empty type disables archiving and returns a nil Archive.
func New(ctx context.Context, cfg config.ArchiveConfig) (Archive, string, error) {
	switch cfg.Type {
	case "":
		return nil, "", nil
	case "local":
		a, err := NewLocalArchive(cfg.LocalPath)
		if err != nil {
			return nil, "", err
		}
		return a, "", nil
	case "s3":
		a, err := NewS3Archive(ctx, cfg.S3Bucket, cfg.AWSRegion, cfg.GetAWSProfile())
		if err != nil {
			return nil, "", err
		}
		return a, cfg.S3Prefix, nil
	default:
		return nil, "", fmt.Errorf("unknown archive type %q", cfg.Type)
	}
}

// ReportKey builds {prefix}/YYYY/MM/DD/sweep-{unix}.json.
func ReportKey(prefix string, at time.Time) string {
	at = at.UTC()
	name := fmt.Sprintf("sweep-%d.json", at.Unix())
	return path.Join(prefix, at.Format("2006"), at.Format("01"), at.Format("02"), name)
}

// SaveSweepReport writes report under its dated key and returns the key.
func SaveSweepReport(ctx context.Context, a Archive, prefix string, report SweepReport) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal sweep report: %w", err)
	}
	key := ReportKey(prefix, report.GeneratedAt)
	if err := a.Put(ctx, key, data); err != nil {
		return "", err
	}
	return key, nil
}

// LocalArchive stores objects as files below a base directory.
type LocalArchive struct {
	base string
}

// NewLocalArchive creates base if needed.
func NewLocalArchive(base string) (*LocalArchive, error) {
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	return &LocalArchive{base: base}, nil
}

func (l *LocalArchive) Put(_ context.Context, key string, data []byte) error {
	p := filepath.Join(l.base, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("creating archive directory: %w", err)
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		return fmt.Errorf("writing archive object %s: %w", key, err)
	}
	return nil
}

func (l *LocalArchive) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.base, filepath.FromSlash(key)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading archive object %s: %w", key, err)
	}
	return data, nil
}
