package flutter

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/devicelab-dev/flutter-finder/pkg/core"
	"github.com/devicelab-dev/flutter-finder/pkg/finder"
	"github.com/devicelab-dev/flutter-finder/pkg/logger"
)

// Gesture defaults.
const (
	DefaultFrequency      = 60 // move events per second
	DefaultWaitTimeout    = 10 * time.Second
	DefaultAttemptTimeout = 500 * time.Millisecond
	DefaultScrollDuration = 100 * time.Millisecond
)

// ScrollOptions configures Scroll.
type ScrollOptions struct {
	DX, DY    float64
	Duration  time.Duration
	Frequency int // 0 means DefaultFrequency
}

// LongTapOptions configures LongTap.
type LongTapOptions struct {
	Duration  time.Duration
	Frequency int // 0 means DefaultFrequency
}

// ScrollIntoViewOptions configures ScrollIntoView.
type ScrollIntoViewOptions struct {
	// Alignment is the fraction of the viewport the widget is aligned to:
	// 0.0 leading edge, 0.5 center, 1.0 trailing edge.
	Alignment float64
	Timeout   time.Duration // sent only when non-zero
}

// ScrollUntilOptions configures ScrollUntilVisible and ScrollUntilTapable.
type ScrollUntilOptions struct {
	Item               finder.Finder
	Alignment          float64
	DXScroll, DYScroll float64
	Frequency          int
	WaitTimeout        time.Duration // 0 means DefaultWaitTimeout
	AttemptTimeout     time.Duration // per-attempt wait; 0 means DefaultAttemptTimeout
}

func frequencyOrDefault(f int) int {
	if f <= 0 {
		return DefaultFrequency
	}
	return f
}

// Scroll drags the widget by (DX, DY) over Duration.
func (s *Session) Scroll(f finder.Finder, opts ScrollOptions) error {
	if opts.DX == 0 && opts.DY == 0 {
		return core.ErrInvalidArgument.WithMessage("scroll: dx and dy cannot both be 0")
	}
	if opts.Duration < 0 {
		return core.ErrInvalidArgument.WithMessage("scroll: duration must not be negative")
	}
	if opts.Duration == 0 {
		opts.Duration = DefaultScrollDuration
	}
	_, err := s.execute("scroll", f.String(), map[string]interface{}{
		"dx":                   opts.DX,
		"dy":                   opts.DY,
		"durationMilliseconds": opts.Duration.Milliseconds(),
		"frequency":            frequencyOrDefault(opts.Frequency),
	})
	return err
}

// LongTap presses the widget without moving for Duration.
func (s *Session) LongTap(f finder.Finder, opts LongTapOptions) error {
	if opts.Duration < 0 {
		return core.ErrInvalidArgument.WithMessage("longTap: duration must not be negative")
	}
	_, err := s.execute("longTap", f.String(), map[string]interface{}{
		"durationMilliseconds": opts.Duration.Milliseconds(),
		"frequency":            frequencyOrDefault(opts.Frequency),
	})
	return err
}

// ScrollIntoView scrolls the enclosing Scrollable so the widget is visible.
func (s *Session) ScrollIntoView(f finder.Finder, opts ScrollIntoViewOptions) error {
	if opts.Timeout < 0 {
		return core.ErrInvalidArgument.WithMessage("scrollIntoView: timeout must not be negative")
	}
	args := map[string]interface{}{
		"alignment": opts.Alignment,
	}
	if opts.Timeout > 0 {
		args["timeout"] = opts.Timeout.Milliseconds()
	}
	_, err := s.execute("scrollIntoView", f.String(), args)
	return err
}

// ScrollUntilVisible scrolls scrollable by (DXScroll, DYScroll) until Item is
// in the widget tree, then aligns Item with ScrollIntoView.
func (s *Session) ScrollUntilVisible(ctx context.Context, scrollable finder.Finder, opts ScrollUntilOptions) error {
	return s.scrollUntil(ctx, scrollable, opts, s.WaitFor)
}

// ScrollUntilTapable is ScrollUntilVisible, but waits until Item can be hit-tested.
func (s *Session) ScrollUntilTapable(ctx context.Context, scrollable finder.Finder, opts ScrollUntilOptions) error {
	return s.scrollUntil(ctx, scrollable, opts, s.WaitForTappable)
}

var errNotYetVisible = errors.New("item not yet visible")

func (s *Session) scrollUntil(ctx context.Context, scrollable finder.Finder, opts ScrollUntilOptions,
	wait func(finder.Finder, time.Duration) error) error {
	if scrollable.IsZero() || opts.Item.IsZero() {
		return core.ErrInvalidArgument.WithMessage("scrollUntil: scrollable and item finders are required")
	}
	if opts.DXScroll == 0 && opts.DYScroll == 0 {
		return core.ErrInvalidArgument.WithMessage("scrollUntil: dxScroll and dyScroll cannot both be 0")
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = DefaultWaitTimeout
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultAttemptTimeout
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.WaitTimeout)
	defer cancel()

	attempts := 0
	operation := func() error {
		attempts++
		err := wait(opts.Item, opts.AttemptTimeout)
		if err == nil {
			return nil
		}
		if !isNotYetVisible(err) {
			return backoff.Permanent(err)
		}
		if err := s.Scroll(scrollable, ScrollOptions{
			DX:        opts.DXScroll,
			DY:        opts.DYScroll,
			Duration:  DefaultScrollDuration,
			Frequency: opts.Frequency,
		}); err != nil {
			// A failed scroll (e.g. list at its end while animating) is not fatal;
			// the next wait decides.
			logger.Debug("scroll attempt %d failed: %v", attempts, err)
		}
		return errNotYetVisible
	}

	policy := backoff.WithContext(&backoff.ZeroBackOff{}, waitCtx)
	if err := backoff.Retry(operation, policy); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, errNotYetVisible) || errors.Is(err, context.DeadlineExceeded) {
			return core.ErrWaitTimeout.
				WithMessagef("stop scrolling as timeout %s", opts.WaitTimeout).
				WithDetails(map[string]interface{}{"item": opts.Item.Describe(), "attempts": attempts})
		}
		return err
	}

	logger.Debug("%s visible after %d attempt(s)", opts.Item.Describe(), attempts)
	return s.ScrollIntoView(opts.Item, ScrollIntoViewOptions{Alignment: opts.Alignment})
}

// isNotYetVisible reports whether a failed wait means "not there yet":
// a wait timeout or a missing element. Anything else ends the loop.
func isNotYetVisible(err error) bool {
	var execErr *core.ExecutionError
	if !errors.As(err, &execErr) {
		return false
	}
	return execErr.Category.IsRetryable()
}
