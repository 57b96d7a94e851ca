package core

import (
	"github.com/cockroachdb/errors"
)

var (
	ErrSwapchainBooting   = errors.New("swapchain resized or recreated, booting")
	ErrUsage              = errors.New("invalid api usage")
	ErrUnsupportedBackend = errors.New("graphics backend is not supported")
	ErrNativeCreation     = errors.New("native object creation failed")
	ErrDeviceLost         = errors.New("device lost")
	ErrTimeout            = errors.New("wait timed out")
	ErrNotInitialized     = errors.New("device not initialized")
	ErrUnknown            = errors.New("unknown")
)
