package upload

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/D3MONSAUSAGE/teamtegrate-ingest/internal/storage"
)

// fakeGate is a canned-value health gate.
type fakeGate struct {
	healthy     bool
	failureRate float64
	latency     time.Duration
}

func (g *fakeGate) Healthy() bool                  { return g.healthy }
func (g *fakeGate) FailureRate() float64           { return g.failureRate }
func (g *fakeGate) AvgResponseTime() time.Duration { return g.latency }
func (g *fakeGate) ActiveRequests() int            { return 0 }
func (g *fakeGate) QueuedRequests() int            { return 0 }

func healthyGate() *fakeGate {
	return &fakeGate{healthy: true}
}

// fakeStorage scripts put outcomes per call and mirrors the last successful
// put back through List, optionally skewing the reported size.
type fakeStorage struct {
	mu sync.Mutex

	putErrs      []error // outcome per put call; index beyond the slice means success
	putCalls     int
	lastPutPath  string
	lastPutSize  int64
	sizeSkew     int64 // added to the size List reports
	listErr      error
	listAbsent   bool // List omits the uploaded object
	resolveErr   error
	removeErr    error
	removedPaths []string
	bucketErr    error
}

func (s *fakeStorage) Put(_ context.Context, p string, data []byte, _ storage.PutOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := s.putCalls
	s.putCalls++

	if call < len(s.putErrs) && s.putErrs[call] != nil {
		return s.putErrs[call]
	}

	s.lastPutPath = p
	s.lastPutSize = int64(len(data))

	return nil
}

func (s *fakeStorage) List(_ context.Context, _ string) ([]storage.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listErr != nil {
		return nil, s.listErr
	}

	if s.listAbsent || s.lastPutPath == "" {
		return nil, nil
	}

	return []storage.Entry{{
		Name:     path.Base(s.lastPutPath),
		Metadata: storage.EntryMetadata{Size: s.lastPutSize + s.sizeSkew},
	}}, nil
}

func (s *fakeStorage) Remove(_ context.Context, paths ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removedPaths = append(s.removedPaths, paths...)

	return s.removeErr
}

func (s *fakeStorage) ResolvePublic(_ context.Context, p string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resolveErr != nil {
		return "", s.resolveErr
	}

	return "https://storage.test/object/public/invoices/" + p, nil
}

func (s *fakeStorage) BucketExists(_ context.Context) (bool, error) {
	if s.bucketErr != nil {
		return false, s.bucketErr
	}

	return true, nil
}

// newTestOrchestrator wires an orchestrator with instant sleeps and a fixed
// ID suffix, counting backoff sleeps.
func newTestOrchestrator(st Storage, gate Gate, sleeps *int) *Orchestrator {
	o := NewOrchestrator(st, gate, slog.Default())
	o.idFunc = func() string { return "abcd1234" }
	o.sleepFunc = func(ctx context.Context, _ time.Duration) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if sleeps != nil {
			*sleeps++
		}

		return nil
	}

	return o
}

func pdfFile(size int) File {
	return File{Name: "invoice.pdf", ContentType: "application/pdf", Data: make([]byte, size)}
}

func TestUpload_ValidationShortCircuit_Oversize(t *testing.T) {
	st := &fakeStorage{}
	o := newTestOrchestrator(st, healthyGate(), nil)

	res := o.UploadInvoiceFile(context.Background(), pdfFile(MaxFileSize+1), "org", "user")

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "50 MiB")
	assert.Zero(t, res.RetryAttempt)
	assert.Zero(t, st.putCalls, "no network calls for an invalid file")
	assert.Empty(t, o.Metrics(), "no ledger entry is ever created")
}

func TestUpload_ValidationShortCircuit_Type(t *testing.T) {
	st := &fakeStorage{}
	o := newTestOrchestrator(st, healthyGate(), nil)

	f := File{Name: "notes.txt", ContentType: "text/plain", Data: []byte("hello")}
	res := o.UploadInvoiceFile(context.Background(), f, "org", "user")

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid file type")
	assert.Zero(t, st.putCalls)
	assert.Empty(t, o.Metrics())
}

func TestUpload_OfflinePreflightAborts(t *testing.T) {
	st := &fakeStorage{}
	o := newTestOrchestrator(st, &fakeGate{healthy: false}, nil)

	res := o.UploadInvoiceFile(context.Background(), pdfFile(100), "org", "user")

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "network unstable")
	assert.Zero(t, st.putCalls, "no storage call when offline at pre-flight")

	snap := o.Metrics()
	require.Len(t, snap, 1, "failed upload stays in the ledger for inspection")
	assert.Equal(t, ConditionOffline, snap[0].NetworkCondition)
	assert.NotNil(t, snap[0].EndedAt)
}

func TestUpload_NonRetryableShortCircuit(t *testing.T) {
	sleeps := 0
	st := &fakeStorage{
		putErrs: []error{&storage.APIError{StatusCode: 401, Message: "bad jwt", Err: storage.ErrUnauthorized}},
	}
	o := newTestOrchestrator(st, healthyGate(), &sleeps)

	res := o.UploadInvoiceFile(context.Background(), pdfFile(100), "org", "user")

	assert.False(t, res.Success)
	assert.Equal(t, 1, st.putCalls, "exactly one attempt for a non-retryable error")
	assert.Zero(t, sleeps, "no backoff sleep before aborting")
	assert.Zero(t, res.RetryAttempt)

	snap := o.Metrics()
	require.Len(t, snap, 1)
	assert.Equal(t, 1, snap[0].RetryCount)
}

func TestUpload_RetryExhaustion(t *testing.T) {
	sleeps := 0
	transient := errors.New("connection reset by peer")
	st := &fakeStorage{putErrs: []error{transient, transient, transient, transient}}
	o := newTestOrchestrator(st, healthyGate(), &sleeps)

	res := o.UploadInvoiceFile(context.Background(), pdfFile(100), "org", "user")

	assert.False(t, res.Success)
	assert.Equal(t, maxAttempts, st.putCalls, "all four attempts are made")
	assert.Equal(t, maxAttempts-1, sleeps, "three backoff sleeps between attempts")
	assert.Equal(t, maxAttempts-1, res.RetryAttempt)
	assert.Contains(t, res.Error, "after 4 attempts")

	snap := o.Metrics()
	require.Len(t, snap, 1)
	assert.Equal(t, maxAttempts, snap[0].RetryCount)
	assert.Len(t, snap[0].ErrorHistory, maxAttempts)
	assert.NotNil(t, snap[0].EndedAt)
}

func TestUpload_VerificationTriggersCleanup(t *testing.T) {
	sleeps := 0
	st := &fakeStorage{sizeSkew: sizeTolerance + 1}
	o := newTestOrchestrator(st, healthyGate(), &sleeps)

	res := o.UploadInvoiceFile(context.Background(), pdfFile(100), "org", "user")

	assert.False(t, res.Success)
	assert.Equal(t, maxAttempts, st.putCalls, "size mismatch is retryable")
	require.Len(t, st.removedPaths, maxAttempts, "every failed verification removes the orphan")

	for _, p := range st.removedPaths {
		assert.Equal(t, st.lastPutPath, p, "cleanup targets only the just-written object")
	}

	assert.Contains(t, res.Error, "size mismatch")
}

func TestUpload_UnresolvablePublicURLIsRetryableAndCleansUp(t *testing.T) {
	sleeps := 0
	st := &fakeStorage{
		resolveErr: &storage.APIError{StatusCode: 404, Message: "object not ready", Err: storage.ErrNotFound},
	}
	o := newTestOrchestrator(st, healthyGate(), &sleeps)

	res := o.UploadInvoiceFile(context.Background(), pdfFile(100), "org", "user")

	assert.False(t, res.Success)
	assert.Equal(t, maxAttempts, st.putCalls, "an unresolvable public URL fails the attempt even though the object lists")
	assert.Equal(t, maxAttempts-1, sleeps)
	require.Len(t, st.removedPaths, maxAttempts, "each unverified write is cleaned up")
	assert.Contains(t, res.Error, "public URL not resolvable")
}

func TestUpload_ListFailureIsRetryableVerificationFailure(t *testing.T) {
	st := &fakeStorage{listErr: errors.New("list backend unavailable")}
	o := newTestOrchestrator(st, healthyGate(), nil)

	res := o.UploadInvoiceFile(context.Background(), pdfFile(100), "org", "user")

	assert.False(t, res.Success)
	assert.Equal(t, maxAttempts, st.putCalls, "a failed existence listing is retryable")
	require.Len(t, st.removedPaths, maxAttempts)
	assert.Contains(t, res.Error, "listing")

	snap := o.Metrics()
	require.Len(t, snap, 1)
	assert.Equal(t, maxAttempts, snap[0].RetryCount)
}

func TestUpload_CleanupFailureIsSwallowed(t *testing.T) {
	st := &fakeStorage{
		listAbsent: true,
		removeErr:  errors.New("remove exploded"),
	}
	o := newTestOrchestrator(st, healthyGate(), nil)

	res := o.UploadInvoiceFile(context.Background(), pdfFile(100), "org", "user")

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "file not found after upload")
	assert.NotContains(t, res.Error, "remove exploded", "cleanup failure is logged, never surfaced")
}

func TestUpload_SuccessAfterTransientFailure(t *testing.T) {
	sleeps := 0
	st := &fakeStorage{putErrs: []error{errors.New("timeout")}}
	o := newTestOrchestrator(st, healthyGate(), &sleeps)

	res := o.UploadInvoiceFile(context.Background(), pdfFile(2*1024*1024), "org-1", "user-1")

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.RetryAttempt)
	assert.Equal(t, 2, st.putCalls)
	assert.Equal(t, 1, sleeps)
	assert.NotEmpty(t, res.PublicURL)
	assert.Empty(t, o.Metrics(), "ledger entry removed on terminal success")
}

func TestUpload_FirstTrySuccess(t *testing.T) {
	st := &fakeStorage{}
	o := newTestOrchestrator(st, healthyGate(), nil)

	res := o.UploadInvoiceFile(context.Background(), pdfFile(100), "org-1", "user-1")

	require.True(t, res.Success)
	assert.Zero(t, res.RetryAttempt)
	assert.Regexp(t, regexp.MustCompile(`^org-1/user-1/\d+_abcd1234_invoice\.pdf$`), res.FilePath)
	assert.Empty(t, o.Metrics())
}

func TestUpload_BucketProbeFailureIsAdvisory(t *testing.T) {
	st := &fakeStorage{bucketErr: errors.New("probe failed")}
	o := newTestOrchestrator(st, healthyGate(), nil)

	res := o.UploadInvoiceFile(context.Background(), pdfFile(100), "org", "user")

	assert.True(t, res.Success, "a failed bucket probe does not block the upload")
}

func TestUpload_CanceledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := &fakeStorage{}
	o := newTestOrchestrator(st, healthyGate(), nil)

	res := o.UploadInvoiceFile(ctx, pdfFile(100), "org", "user")

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "canceled")

	snap := o.Metrics()
	require.Len(t, snap, 1)
	assert.NotNil(t, snap[0].EndedAt)
	assert.Contains(t, snap[0].ErrorHistory[0], "canceled")
}

func TestUpload_CanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	st := &fakeStorage{putErrs: []error{errors.New("timeout"), errors.New("timeout")}}
	o := newTestOrchestrator(st, healthyGate(), nil)
	o.sleepFunc = func(context.Context, time.Duration) error {
		cancel()
		return ctx.Err()
	}

	res := o.UploadInvoiceFile(ctx, pdfFile(100), "org", "user")

	assert.False(t, res.Success)
	assert.Equal(t, 1, st.putCalls, "cancellation aborts the backoff wait promptly")
	assert.Contains(t, res.Error, "canceled")
}

func TestUpload_ConditionSampledOncePerUpload(t *testing.T) {
	gate := &fakeGate{healthy: true, failureRate: 0.5} // poor at submission
	st := &fakeStorage{putErrs: []error{errors.New("timeout")}}

	var delays []time.Duration

	o := NewOrchestrator(st, gate, slog.Default())
	o.idFunc = func() string { return "abcd1234" }
	o.sleepFunc = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		// Condition improving mid-upload must not change the schedule.
		gate.failureRate = 0

		return nil
	}

	res := o.UploadInvoiceFile(context.Background(), pdfFile(100), "org", "user")

	require.True(t, res.Success)
	require.Len(t, delays, 1)
	assert.GreaterOrEqual(t, delays[0], 1500*time.Millisecond, "poor condition scales the base delay")
	assert.Less(t, delays[0], 1500*time.Millisecond+maxJitter)
}

func TestUpload_ClearMetric(t *testing.T) {
	st := &fakeStorage{putErrs: []error{&storage.APIError{StatusCode: 403, Err: storage.ErrForbidden}}}
	o := newTestOrchestrator(st, healthyGate(), nil)

	res := o.UploadInvoiceFile(context.Background(), pdfFile(100), "org", "user")
	require.False(t, res.Success)

	snap := o.Metrics()
	require.Len(t, snap, 1)

	o.ClearMetric(snap[0].UploadID)
	assert.Empty(t, o.Metrics())
}

func TestClassifyCondition(t *testing.T) {
	tests := []struct {
		name string
		gate fakeGate
		want Condition
	}{
		{"healthy fast", fakeGate{healthy: true}, ConditionGood},
		{"unhealthy", fakeGate{healthy: false}, ConditionOffline},
		{"high failure rate", fakeGate{healthy: true, failureRate: 0.3}, ConditionPoor},
		{"slow responses", fakeGate{healthy: true, latency: 6 * time.Second}, ConditionPoor},
		{"boundary failure rate", fakeGate{healthy: true, failureRate: 0.2}, ConditionGood},
		{"boundary latency", fakeGate{healthy: true, latency: 5 * time.Second}, ConditionGood},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyCondition(&tt.gate))
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "invoice.pdf", "invoice.pdf"},
		{"path stripped", "../../etc/passwd", "passwd"},
		{"separators replaced", `a\b:c*d.pdf`, "a_b_c_d.pdf"},
		{"empty", "", "file"},
		{"spaces kept", "march invoice.pdf", "march invoice.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeFilename(tt.in))
		})
	}
}
