package sync

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// burstMultiplier sizes the token bucket's burst above its steady rate so a
// single large Read/Write isn't artificially fragmented. Mirrors the
// teacher's bandwidth.go constant.
const burstMultiplier = 2

// sampleWindow is the interval spec §4.7 names for automatic-mode
// throughput sampling ("Automatic mode samples throughput over a 5 s
// window").
const sampleWindow = 5 * time.Second

// Direction-specific pacing lives in two independent limiters per root, so
// upload throttling never blocks download throughput and vice versa (spec
// §4.7 "per-root and per-direction token buckets").

// BandwidthMode selects how a BandwidthLimiter's rate is computed.
type BandwidthMode int

const (
	// BandwidthUnlimited applies no pacing.
	BandwidthUnlimited BandwidthMode = iota
	// BandwidthAbsolute paces to a fixed bytes/sec cap.
	BandwidthAbsolute
	// BandwidthAutomatic paces to a fraction of the measured link
	// throughput, recomputed every sampleWindow (spec §4.7).
	BandwidthAutomatic
)

// BandwidthLimiter is a token-bucket pacer attached to upload or download
// jobs for one root, grounded on the teacher's BandwidthLimiter
// (internal/sync/bandwidth.go, itself built on golang.org/x/time/rate), here
// generalized with an BandwidthAutomatic mode per spec §4.7's "75% of the
// measured link" expansion (the teacher only supported an absolute cap).
type BandwidthLimiter struct {
	mode    BandwidthMode
	fraction float64 // used only in BandwidthAutomatic mode

	mu      sync.Mutex
	limiter *rate.Limiter

	sampleStart time.Time
	sampleBytes atomic.Int64
}

// ParseBandwidthSpec parses a spec §4.7 configuration string: an absolute
// rate like "500KB/s" or "10MB/s", a relative fraction like "75%", or
// "unlimited".
func ParseBandwidthSpec(s string) (BandwidthMode, int64, float64, error) {
	s = strings.TrimSpace(s)

	switch {
	case s == "" || strings.EqualFold(s, "unlimited"):
		return BandwidthUnlimited, 0, 0, nil
	case strings.HasSuffix(s, "%"):
		pct, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil || pct <= 0 || pct > 100 {
			return 0, 0, 0, fmt.Errorf("sync: invalid bandwidth fraction %q", s)
		}

		return BandwidthAutomatic, 0, pct / 100, nil
	default:
		rate, err := parseAbsoluteRate(s)
		if err != nil {
			return 0, 0, 0, err
		}

		return BandwidthAbsolute, rate, 0, nil
	}
}

func parseAbsoluteRate(s string) (int64, error) {
	upper := strings.ToUpper(strings.TrimSuffix(s, "/s"))

	var multiplier int64 = 1

	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1 << 10
		upper = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1 << 20
		upper = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1 << 30
		upper = strings.TrimSuffix(upper, "GB")
	case strings.HasSuffix(upper, "B"):
		upper = strings.TrimSuffix(upper, "B")
	}

	n, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("sync: invalid bandwidth rate %q", s)
	}

	return n * multiplier, nil
}

// NewBandwidthLimiter builds a limiter for mode. For BandwidthAbsolute,
// absoluteBPS is the fixed cap; for BandwidthAutomatic, fraction (0,1] is
// applied to each sampleWindow's measured throughput.
func NewBandwidthLimiter(mode BandwidthMode, absoluteBPS int64, fraction float64) *BandwidthLimiter {
	bl := &BandwidthLimiter{mode: mode, fraction: fraction, sampleStart: time.Time{}}

	switch mode {
	case BandwidthAbsolute:
		bl.limiter = rate.NewLimiter(rate.Limit(absoluteBPS), int(absoluteBPS*burstMultiplier))
	case BandwidthAutomatic:
		// Start unthrottled until the first sampleWindow completes.
		bl.limiter = rate.NewLimiter(rate.Inf, 0)
	default:
		bl.limiter = rate.NewLimiter(rate.Inf, 0)
	}

	return bl
}

// WrapReader paces Read calls against r (used on upload bodies).
func (bl *BandwidthLimiter) WrapReader(ctx context.Context, r io.Reader) io.Reader {
	if bl.mode == BandwidthUnlimited {
		return r
	}

	return &pacedReader{bl: bl, r: r, ctx: ctx}
}

// WrapWriter paces Write calls against w (used on download sinks).
func (bl *BandwidthLimiter) WrapWriter(ctx context.Context, w io.Writer) io.Writer {
	if bl.mode == BandwidthUnlimited {
		return w
	}

	return &pacedWriter{bl: bl, w: w, ctx: ctx}
}

func (bl *BandwidthLimiter) wait(ctx context.Context, n int) error {
	bl.mu.Lock()
	lim := bl.limiter
	bl.mu.Unlock()

	bl.recordSample(int64(n))

	return lim.WaitN(ctx, n)
}

// recordSample feeds the BandwidthAutomatic recomputation (spec §4.7:
// "samples throughput over a 5 s window and recomputes the cap").
func (bl *BandwidthLimiter) recordSample(n int64) {
	if bl.mode != BandwidthAutomatic {
		return
	}

	bl.mu.Lock()
	defer bl.mu.Unlock()

	now := time.Now()
	if bl.sampleStart.IsZero() {
		bl.sampleStart = now
	}

	total := bl.sampleBytes.Add(n)

	elapsed := now.Sub(bl.sampleStart)
	if elapsed < sampleWindow {
		return
	}

	measuredBPS := float64(total) / elapsed.Seconds()
	capBPS := measuredBPS * bl.fraction

	if capBPS > 0 {
		bl.limiter = rate.NewLimiter(rate.Limit(capBPS), int(capBPS*burstMultiplier)+1)
	}

	bl.sampleStart = now
	bl.sampleBytes.Store(0)
}

type pacedReader struct {
	bl  *BandwidthLimiter
	r   io.Reader
	ctx context.Context
}

func (p *pacedReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		if werr := p.bl.wait(p.ctx, n); werr != nil {
			return n, werr
		}
	}

	return n, err
}

type pacedWriter struct {
	bl  *BandwidthLimiter
	w   io.Writer
	ctx context.Context
}

func (p *pacedWriter) Write(buf []byte) (int, error) {
	n, err := p.w.Write(buf)
	if n > 0 {
		if werr := p.bl.wait(p.ctx, n); werr != nil {
			return n, werr
		}
	}

	return n, err
}

// BandwidthManager owns one pair of limiters (upload, download) per root,
// spec §4.7's "per-root and per-direction token buckets".
type BandwidthManager struct {
	mu       sync.Mutex
	perRoot  map[string][2]*BandwidthLimiter // index 0 = upload, 1 = download
	upMode   BandwidthMode
	upBPS    int64
	upFrac   float64
	downMode BandwidthMode
	downBPS  int64
	downFrac float64
}

// NewBandwidthManager builds a manager that lazily creates a limiter pair
// per root the first time it's asked for, all sharing the same
// upload/download configuration.
func NewBandwidthManager(upMode BandwidthMode, upBPS int64, upFrac float64, downMode BandwidthMode, downBPS int64, downFrac float64) *BandwidthManager {
	return &BandwidthManager{
		perRoot:  make(map[string][2]*BandwidthLimiter),
		upMode:   upMode,
		upBPS:    upBPS,
		upFrac:   upFrac,
		downMode: downMode,
		downBPS:  downBPS,
		downFrac: downFrac,
	}
}

// ForRoot returns the (upload, download) limiter pair for root, creating it
// on first use.
func (m *BandwidthManager) ForRoot(root string) (up, down *BandwidthLimiter) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pair, ok := m.perRoot[root]
	if !ok {
		pair = [2]*BandwidthLimiter{
			NewBandwidthLimiter(m.upMode, m.upBPS, m.upFrac),
			NewBandwidthLimiter(m.downMode, m.downBPS, m.downFrac),
		}
		m.perRoot[root] = pair
	}

	return pair[0], pair[1]
}
