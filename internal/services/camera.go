package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrNoFrame is returned by Capture when no new frame arrived since the previous capture.
	ErrNoFrame = errors.New("camera: no new frame")
	// ErrCameraBusy indicates the cart's camera is already held by another session.
	ErrCameraBusy = errors.New("camera: already acquired")
	// ErrCameraNotAcquired indicates frames were pushed for a cart without an open camera.
	ErrCameraNotAcquired = errors.New("camera: not acquired")
)

// FrameBufferProvider is a CameraProvider fed by client uploads. Each acquired camera keeps
// only the most recent frame; older frames that were never captured are dropped.
type FrameBufferProvider struct {
	mu      sync.Mutex
	cameras map[string]*latestFrameCamera
}

var (
	_ CameraProvider = (*FrameBufferProvider)(nil)
	_ FrameSink      = (*FrameBufferProvider)(nil)
)

// NewFrameBufferProvider constructs an empty provider.
func NewFrameBufferProvider() *FrameBufferProvider {
	return &FrameBufferProvider{cameras: make(map[string]*latestFrameCamera)}
}

// Acquire opens the cart's camera. A cart has at most one open camera.
func (p *FrameBufferProvider) Acquire(ctx context.Context, cartID string) (Camera, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return nil, errors.New("camera: cart id is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.cameras[cartID]; exists {
		return nil, fmt.Errorf("%w: cart %s", ErrCameraBusy, cartID)
	}
	cam := &latestFrameCamera{cartID: cartID, provider: p}
	p.cameras[cartID] = cam
	return cam, nil
}

// PushFrame replaces the pending frame of the cart's open camera.
func (p *FrameBufferProvider) PushFrame(cartID string, frame Frame) error {
	p.mu.Lock()
	cam, ok := p.cameras[strings.TrimSpace(cartID)]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: cart %s", ErrCameraNotAcquired, cartID)
	}
	return cam.store(frame)
}

func (p *FrameBufferProvider) release(cam *latestFrameCamera) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if current, ok := p.cameras[cam.cartID]; ok && current == cam {
		delete(p.cameras, cam.cartID)
	}
}

type latestFrameCamera struct {
	cartID   string
	provider *FrameBufferProvider

	mu      sync.Mutex
	pending *Frame
	closed  bool
}

func (c *latestFrameCamera) store(frame Frame) error {
	if len(frame.Data) == 0 {
		return errors.New("camera: frame is empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%w: cart %s", ErrCameraNotAcquired, c.cartID)
	}
	c.pending = &frame
	return nil
}

func (c *latestFrameCamera) Capture(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Frame{}, ErrBottleSessionClosed
	}
	if c.pending == nil {
		return Frame{}, ErrNoFrame
	}
	frame := *c.pending
	c.pending = nil
	return frame, nil
}

func (c *latestFrameCamera) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.pending = nil
	c.mu.Unlock()

	c.provider.release(c)
	return nil
}
