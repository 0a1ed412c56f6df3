package render

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const blankURL = "about:blank"

// cleanup resets and releases a surface at most once. Each step is independent
// and failures are logged at debug level only.
type cleanup struct {
	surface Surface
	timeout time.Duration
	logger  *zap.Logger
	once    sync.Once
	after   func()
}

func newCleanup(s Surface, timeout time.Duration, logger *zap.Logger, after func()) *cleanup {
	return &cleanup{surface: s, timeout: timeout, logger: logger, after: after}
}

// run tears the surface down. It ignores ctx cancellation so a client that
// hangs up still gets its surface released.
func (c *cleanup) run(ctx context.Context) {
	c.once.Do(func() {
		ctx = context.WithoutCancel(ctx)
		defer func() {
			c.step("close", func() error {
				closeCtx, cancel := context.WithTimeout(ctx, c.timeout)
				defer cancel()
				return c.surface.Close(closeCtx)
			})
			if c.after != nil {
				c.after()
			}
		}()
		c.step("remove listeners", func() error {
			c.surface.RemoveListeners()
			return nil
		})
		c.step("delete cookies", func() error {
			stepCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			cookies, err := c.surface.Cookies(stepCtx)
			if err != nil || len(cookies) == 0 {
				return err
			}
			return c.surface.DeleteCookies(stepCtx, cookies)
		})
		c.step("blank", func() error {
			stepCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			return c.surface.Navigate(stepCtx, blankURL)
		})
	})
}

func (c *cleanup) step(name string, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Debug("cleanup step panicked", zap.String("step", name), zap.Any("panic", p))
		}
	}()
	if err := fn(); err != nil {
		c.logger.Debug("cleanup step failed", zap.Error(&Error{Kind: ErrCleanup, Op: name, Err: err}))
	}
}
