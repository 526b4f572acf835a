// Package uploader implements the Uploader of spec.md §4.9: it maintains a
// device-credentialed connection to the remote object store and uploads
// sealed batches, retrying transient failures through the Retry Engine and
// running a dedicated reconnect task on disconnect. The narrow S3API
// interface and its compile-time assertions follow the teacher-adjacent
// gurre-ddb-pitr example's aws.S3Client pattern (aws/interfaces.go).
package uploader

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hydrangeas/fieldlog-agent/internal/batch"
	"github.com/hydrangeas/fieldlog-agent/internal/retry"
	"github.com/hydrangeas/fieldlog-agent/internal/telemetry"
)

// ConnectionState is the Uploader's connection lifecycle, per spec.md §3.
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Disconnecting
	Faulted
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Disconnecting:
		return "Disconnecting"
	case Faulted:
		return "Faulted"
	default:
		return "Disconnected"
	}
}

// S3API is the narrow slice of the AWS SDK S3 client the Uploader needs.
// Compile-time assertions below pin *s3.Client to it.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var _ S3API = (*s3.Client)(nil)

// Credential is a device identity credential, refreshable either because it
// is a short-lived token or to pick up rotation of a long-lived connection
// string (spec.md §4.9).
type Credential struct {
	Token     string
	ExpiresAt time.Time // zero value means non-expiring
}

// CredentialProvider supplies the device credential used to authenticate
// uploads (spec.md §6).
type CredentialProvider interface {
	Get(ctx context.Context) (Credential, error)
}

// UploadResult is returned by UploadBatch.
type UploadResult struct {
	Key     string
	Success bool
	Err     error
}

// DeadLetterSink persists a batch that could not be uploaded after retry
// exhaustion or on a permanent remote error (spec.md §4.7, §7).
type DeadLetterSink interface {
	Persist(ctx context.Context, b *batch.Batch, reason string) error
}

// Config holds the Uploader's tunables.
type Config struct {
	Bucket           string
	UploadRoot       string
	DeviceID         string
	UploadPolicy     retry.Policy
	ReconnectPolicy  retry.Policy
	RefreshFraction  float64 // proactive refresh at this fraction of credential TTL, default 0.8
}

// DefaultConfig returns spec.md's documented defaults for the upload
// policy; ReconnectPolicy defaults to retry.ReconnectPolicy().
func DefaultConfig() Config {
	return Config{
		UploadRoot:      "logs",
		UploadPolicy:    retry.DefaultPolicy(),
		ReconnectPolicy: retry.ReconnectPolicy(),
		RefreshFraction: 0.8,
	}
}

// Uploader owns the connection to the remote object store.
type Uploader struct {
	cfg      Config
	client   S3API
	creds    CredentialProvider
	deadLetter DeadLetterSink
	clock    telemetry.Clock
	logger   telemetry.Logger

	state int32 // atomic ConnectionState

	reconnectMu   sync.Mutex // single-slot guard (spec.md §4.9)
	reconnecting  bool
	reconnectDone chan struct{}

	connectedCond *sync.Cond
	condMu        sync.Mutex
}

// New constructs an Uploader.
func New(cfg Config, client S3API, creds CredentialProvider, deadLetter DeadLetterSink, clock telemetry.Clock, logger telemetry.Logger) *Uploader {
	if cfg.UploadRoot == "" {
		cfg.UploadRoot = "logs"
	}
	if cfg.RefreshFraction <= 0 {
		cfg.RefreshFraction = 0.8
	}
	if logger == nil {
		logger = telemetry.Noop{}
	}
	u := &Uploader{
		cfg:        cfg,
		client:     client,
		creds:      creds,
		deadLetter: deadLetter,
		clock:      clock,
		logger:     logger,
		state:      int32(Disconnected),
	}
	u.connectedCond = sync.NewCond(&u.condMu)
	return u
}

// GetState returns the current connection state.
func (u *Uploader) GetState() ConnectionState {
	return ConnectionState(atomic.LoadInt32(&u.state))
}

func (u *Uploader) setState(s ConnectionState) {
	atomic.StoreInt32(&u.state, int32(s))
	if s == Connected {
		u.condMu.Lock()
		u.connectedCond.Broadcast()
		u.condMu.Unlock()
	}
}

// Connect transitions Disconnected -> Connecting -> Connected, or ->
// Faulted on failure. It verifies the device credential is obtainable.
func (u *Uploader) Connect(ctx context.Context) error {
	u.setState(Connecting)
	if _, err := u.creds.Get(ctx); err != nil {
		u.setState(Faulted)
		u.logger.Error("uploader connect failed", map[string]any{"error": err.Error()})
		return fmt.Errorf("uploader: connect: %w", err)
	}
	u.setState(Connected)
	u.logger.Info("uploader connected", nil)
	return nil
}

// Disconnect transitions to Disconnecting then Disconnected.
func (u *Uploader) Disconnect(ctx context.Context) error {
	u.setState(Disconnecting)
	u.setState(Disconnected)
	return nil
}

// UploadBatch serializes b to newline-delimited JSON and uploads it under
// the hierarchical key UploadRoot/yyyy/MM/dd/{deviceId}/{batchId}.jsonl,
// wrapped in the Retry Engine. If the connection is Faulted, it blocks
// until Connected is re-attained or ctx is cancelled (spec.md §4.9).
func (u *Uploader) UploadBatch(ctx context.Context, b *batch.Batch) UploadResult {
	if u.GetState() == Faulted {
		u.launchReconnect(ctx)
		if err := u.waitForConnected(ctx); err != nil {
			return u.handleTerminalFailure(ctx, b, err)
		}
	}

	body, err := b.MarshalNDJSON()
	if err != nil {
		return u.handleTerminalFailure(ctx, b, fmt.Errorf("uploader: marshal batch: %w", err))
	}
	key := u.objectKey(b)

	err = retry.Execute(ctx, u.cfg.UploadPolicy, func(ctx context.Context) error {
		return u.putObject(ctx, key, body)
	})
	if err != nil {
		if u.isConnectionLost(err) {
			u.setState(Faulted)
			u.launchReconnect(ctx)
		}
		return u.handleTerminalFailure(ctx, b, err)
	}
	return UploadResult{Key: key, Success: true}
}

func (u *Uploader) putObject(ctx context.Context, key string, body []byte) error {
	cred, err := u.creds.Get(ctx)
	if err != nil {
		return &retry.TransientError{Err: err}
	}
	_ = cred // device-credential channel; concrete transport auth is injected via client construction

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &u.cfg.Bucket,
		Key:    &key,
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return err
	}
	return nil
}

func (u *Uploader) objectKey(b *batch.Batch) string {
	y, m, d := b.CreatedAt.Date()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s/%s.jsonl", u.cfg.UploadRoot, y, int(m), d, u.cfg.DeviceID, b.ID)
}

// handleTerminalFailure dead-letters b and reports a failed UploadResult.
// It is reached after the Retry Engine has exhausted a transient failure,
// immediately for a classified-permanent error, when the batch cannot be
// marshalled, and when ctx ends while waiting for a reconnect.
func (u *Uploader) handleTerminalFailure(ctx context.Context, b *batch.Batch, err error) UploadResult {
	u.logger.Error("batch upload failed terminally", map[string]any{"batchId": b.ID, "error": err.Error()})
	if u.deadLetter != nil {
		if derr := u.deadLetter.Persist(ctx, b, err.Error()); derr != nil {
			u.logger.Error("dead-letter persist failed", map[string]any{"batchId": b.ID, "error": derr.Error()})
		}
	}
	return UploadResult{Success: false, Err: err}
}

func (u *Uploader) isConnectionLost(err error) bool {
	return retry.Classify(err) == retry.Transient
}

// launchReconnect starts the dedicated reconnect task if one is not already
// running; re-entrancy is guarded by a single-slot mutex (spec.md §4.9).
func (u *Uploader) launchReconnect(parent context.Context) {
	u.reconnectMu.Lock()
	if u.reconnecting {
		u.reconnectMu.Unlock()
		return
	}
	u.reconnecting = true
	u.reconnectDone = make(chan struct{})
	u.reconnectMu.Unlock()

	go func() {
		defer func() {
			u.reconnectMu.Lock()
			u.reconnecting = false
			close(u.reconnectDone)
			u.reconnectMu.Unlock()
		}()

		ctx := context.Background()
		_ = retry.Execute(ctx, u.cfg.ReconnectPolicy, func(ctx context.Context) error {
			select {
			case <-parent.Done():
				return backoffStop(parent.Err())
			default:
			}
			if _, err := u.creds.Get(ctx); err != nil {
				return &retry.TransientError{Err: err}
			}
			u.setState(Connected)
			u.logger.Info("uploader reconnected", nil)
			return nil
		})
	}()
}

// backoffStop wraps err so retry.Classify treats it as Permanent, stopping
// the reconnect loop promptly when the caller's context is gone.
func backoffStop(err error) error {
	if err == nil {
		err = fmt.Errorf("uploader: reconnect abandoned")
	}
	return &retry.PermanentError{Err: err}
}

func (u *Uploader) waitForConnected(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		u.condMu.Lock()
		for u.GetState() != Connected {
			if ctx.Err() != nil {
				u.condMu.Unlock()
				return
			}
			u.connectedCond.Wait()
		}
		u.condMu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		u.condMu.Lock()
		u.connectedCond.Broadcast() // wake the waiter goroutine so it can observe ctx.Err and exit
		u.condMu.Unlock()
		return ctx.Err()
	}
}
