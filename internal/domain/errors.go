package domain

import "errors"

// Failure taxonomy shared by the orchestrator. Callers match with errors.Is.
var (
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrBackendUnavailable = errors.New("knowledge service unavailable")
	ErrSessionClear       = errors.New("remote session clear failed")
	ErrRender             = errors.New("diagram render failed")
	ErrSourceMissing      = errors.New("source file missing")
	ErrUnsupportedFile    = errors.New("unsupported file type")
	ErrRelayValidation    = errors.New("invalid relay request")
	ErrRelayDelivery      = errors.New("message delivery failed")
)
