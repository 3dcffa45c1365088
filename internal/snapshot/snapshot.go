// Package snapshot writes encrypted copies of the quota ledger to
// S3-compatible storage and restores them.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dukerupert/docscan/internal/model"
)

const formatVersion = 1

// ErrDisabled is returned when snapshot storage is not configured.
var ErrDisabled = errors.New("snapshots are not configured")

// ErrInvalidKey is returned for keys outside the configured prefix.
var ErrInvalidKey = errors.New("snapshot key outside prefix")

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Source is the ledger being snapshotted.
type Source interface {
	Snapshot() map[string]model.Account
	Replace(accounts map[string]model.Account)
}

// Config holds S3-compatible storage settings.
type Config struct {
	Endpoint   string
	Region     string
	Bucket     string
	Prefix     string
	AccessKey  string
	SecretKey  string
	Passphrase string
}

func (c Config) complete() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != "" && c.Passphrase != ""
}

// State is the manager's current activity.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

// Status holds the current manager status.
type Status struct {
	State        State      `json:"state"`
	LastSnapshot *time.Time `json:"last_snapshot,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Info describes one stored snapshot.
type Info struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	Accounts  int       `json:"accounts,omitempty"`
}

type envelope struct {
	Version   int                      `json:"version"`
	CreatedAt time.Time                `json:"created_at"`
	Accounts  map[string]model.Account `json:"accounts"`
}

// Manager takes and restores ledger snapshots. Runs are serialized.
type Manager struct {
	cfg    Config
	source Source
	client s3Client
	logger *slog.Logger
	now    func() time.Time

	run    sync.Mutex
	mu     sync.RWMutex
	status Status
}

// NewManager creates a manager. Without complete storage settings every
// operation returns ErrDisabled.
func NewManager(cfg Config, source Source, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:    cfg,
		source: source,
		logger: logger.With("component", "snapshot"),
		now:    time.Now,
		status: Status{State: StateDisabled},
	}
	if cfg.complete() {
		m.client = newS3Client(cfg)
		m.status.State = StateIdle
	}
	return m
}

func newS3Client(cfg Config) *s3.Client {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Enabled reports whether storage is configured.
func (m *Manager) Enabled() bool {
	return m.client != nil
}

// Status returns the current status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

func (m *Manager) fail(err error) error {
	m.setStatus(Status{State: StateError, Error: err.Error(), LastSnapshot: m.Status().LastSnapshot})
	return err
}

// RunNow encrypts the current ledger and uploads it.
func (m *Manager) RunNow(ctx context.Context) (Info, error) {
	if m.client == nil {
		return Info{}, ErrDisabled
	}
	m.run.Lock()
	defer m.run.Unlock()

	last := m.Status().LastSnapshot
	m.setStatus(Status{State: StateRunning, LastSnapshot: last})

	now := m.now().UTC()
	accounts := m.source.Snapshot()
	plain, err := json.Marshal(envelope{Version: formatVersion, CreatedAt: now, Accounts: accounts})
	if err != nil {
		return Info{}, m.fail(fmt.Errorf("encode snapshot: %w", err))
	}
	sealed, err := Encrypt(plain, m.cfg.Passphrase)
	if err != nil {
		return Info{}, m.fail(fmt.Errorf("encrypt snapshot: %w", err))
	}

	key := m.cfg.Prefix + "ledger-" + now.Format("2006-01-02T150405Z") + ".json.enc"
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		return Info{}, m.fail(fmt.Errorf("upload snapshot: %w", err))
	}

	m.setStatus(Status{State: StateIdle, LastSnapshot: &now})
	m.logger.Info("snapshot stored", "key", key, "accounts", len(accounts), "bytes", len(sealed))
	return Info{Key: key, Size: int64(len(sealed)), CreatedAt: now, Accounts: len(accounts)}, nil
}

// Restore downloads and decrypts the snapshot at key and replaces the
// ledger contents with it.
func (m *Manager) Restore(ctx context.Context, key string) (Info, error) {
	if m.client == nil {
		return Info{}, ErrDisabled
	}
	if !strings.HasPrefix(key, m.cfg.Prefix) {
		return Info{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	m.run.Lock()
	defer m.run.Unlock()

	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Info{}, fmt.Errorf("download snapshot: %w", err)
	}
	defer out.Body.Close()

	sealed, err := io.ReadAll(out.Body)
	if err != nil {
		return Info{}, fmt.Errorf("read snapshot: %w", err)
	}
	plain, err := Decrypt(sealed, m.cfg.Passphrase)
	if err != nil {
		return Info{}, err
	}

	var env envelope
	if err := json.Unmarshal(plain, &env); err != nil {
		return Info{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if env.Version != formatVersion {
		return Info{}, fmt.Errorf("unsupported snapshot version %d", env.Version)
	}
	if env.Accounts == nil {
		env.Accounts = map[string]model.Account{}
	}

	m.source.Replace(env.Accounts)
	m.logger.Info("snapshot restored", "key", key, "accounts", len(env.Accounts))
	return Info{Key: key, Size: int64(len(sealed)), CreatedAt: env.CreatedAt, Accounts: len(env.Accounts)}, nil
}

// List returns stored snapshots, newest first.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	if m.client == nil {
		return nil, ErrDisabled
	}

	var infos []Info
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(m.cfg.Bucket),
		Prefix: aws.String(m.cfg.Prefix),
	}
	for {
		out, err := m.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("list snapshots: %w", err)
		}
		for _, obj := range out.Contents {
			info := Info{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				info.CreatedAt = obj.LastModified.UTC()
			}
			infos = append(infos, info)
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		input.ContinuationToken = out.NextContinuationToken
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Key > infos[j].Key })
	return infos, nil
}
