package editor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

var (
	ErrNoImage     = errors.New("no image selected")
	ErrEmptyPrompt = errors.New("prompt is empty")
	ErrBusy        = errors.New("generation already in progress")
)

// Generator turns an image and an instruction into a new image.
// Images are data URIs on both sides.
type Generator interface {
	EditImage(ctx context.Context, image, instruction string) (string, error)
}

type Options struct {
	Generator Generator
	// Timeout bounds a single generation call. Zero means no bound.
	Timeout time.Duration
	// BaseContext is the parent of every generation call context.
	BaseContext context.Context
	Logger      *slog.Logger
	// OnChange receives every new state in mutation order. It must not call
	// mutating Controller methods.
	OnChange func(State)
}

type Controller struct {
	// emitMu serializes mutate+notify so observers see states in order.
	emitMu sync.Mutex

	mu     sync.Mutex
	state  State
	token  uint64
	cancel context.CancelFunc

	gen      Generator
	timeout  time.Duration
	baseCtx  context.Context
	logger   *slog.Logger
	onChange func(State)
}

func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	baseCtx := opts.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	return &Controller{
		gen:      opts.Generator,
		timeout:  opts.Timeout,
		baseCtx:  baseCtx,
		logger:   logger,
		onChange: opts.OnChange,
	}
}

func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SelectImage starts editing a new original image. A generation still in
// flight for the previous image is abandoned.
func (c *Controller) SelectImage(payload string) State {
	return c.update(func(st *State) {
		c.abandonLocked()
		st.OriginalImage = payload
		st.GeneratedImage = ""
		st.Error = ""
	})
}

func (c *Controller) SetPrompt(text string) State {
	return c.update(func(st *State) {
		st.Prompt = text
	})
}

func (c *Controller) ApplyPreset(text string) State {
	return c.SetPrompt(text)
}

func (c *Controller) DiscardResult() State {
	return c.update(func(st *State) {
		st.GeneratedImage = ""
	})
}

func (c *Controller) Reset() State {
	return c.update(func(st *State) {
		c.abandonLocked()
		*st = State{}
	})
}

// Generate starts a generation call for the current image and prompt. When
// the preconditions do not hold it returns ErrNoImage, ErrEmptyPrompt or
// ErrBusy and leaves the state untouched. The returned channel is closed
// once the call has resolved and its outcome has been applied.
func (c *Controller) Generate() (<-chan struct{}, error) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if err := generateBlocker(c.state); err != nil {
		c.mu.Unlock()
		return nil, err
	}

	c.token++
	token := c.token

	var ctx context.Context
	var cancel context.CancelFunc
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(c.baseCtx, c.timeout)
	} else {
		ctx, cancel = context.WithCancel(c.baseCtx)
	}
	c.cancel = cancel

	c.state.IsLoading = true
	c.state.Error = ""
	image, prompt := c.state.OriginalImage, c.state.Prompt
	st := c.state
	c.mu.Unlock()

	c.notify(st)

	done := make(chan struct{})
	go c.run(ctx, cancel, token, image, prompt, done)
	return done, nil
}

type outcome struct {
	image string
	err   error
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, token uint64, image, prompt string, done chan<- struct{}) {
	defer close(done)
	defer cancel()

	start := time.Now()
	results := make(chan outcome, 1)
	go func() {
		img, err := c.call(ctx, image, prompt)
		results <- outcome{image: img, err: err}
	}()

	var out outcome
	select {
	case out = <-results:
	case <-ctx.Done():
		out.err = ctx.Err()
	}
	if out.err == nil && out.image == "" {
		out.err = errors.New("the image service returned no image")
	}
	if out.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		out.err = fmt.Errorf("generation timed out after %s", c.timeout)
	}
	if out.err != nil && strings.TrimSpace(out.err.Error()) == "" {
		out.err = errors.New("the image service failed without a message")
	}

	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if token != c.token {
		c.mu.Unlock()
		c.logger.Debug("discarding superseded generation", "token", token)
		return
	}
	c.cancel = nil
	c.state.IsLoading = false
	if out.err != nil {
		c.state.Error = out.err.Error()
	} else {
		c.state.GeneratedImage = out.image
	}
	st := c.state
	c.mu.Unlock()

	if out.err != nil {
		c.logger.Warn("generation failed", "err", out.err, "dur_ms", time.Since(start).Milliseconds())
	} else {
		c.logger.Info("generation finished", "dur_ms", time.Since(start).Milliseconds())
	}
	c.notify(st)
}

func (c *Controller) call(ctx context.Context, image, prompt string) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("image generator panicked: %v", r)
		}
	}()

	if c.gen == nil {
		return "", errors.New("no image generator configured")
	}
	return c.gen.EditImage(ctx, image, prompt)
}

func (c *Controller) update(fn func(*State)) State {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	fn(&c.state)
	st := c.state
	c.mu.Unlock()

	c.notify(st)
	return st
}

// abandonLocked drops the in-flight call, if any. Its late outcome no longer
// matches the token and is ignored.
func (c *Controller) abandonLocked() {
	if !c.state.IsLoading {
		return
	}
	c.token++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.state.IsLoading = false
}

func (c *Controller) notify(st State) {
	if c.onChange != nil {
		c.onChange(st)
	}
}

func generateBlocker(st State) error {
	switch {
	case st.OriginalImage == "":
		return ErrNoImage
	case strings.TrimSpace(st.Prompt) == "":
		return ErrEmptyPrompt
	case st.IsLoading:
		return ErrBusy
	}
	return nil
}
