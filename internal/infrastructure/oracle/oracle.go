package oracle

import (
	"context"

	"shipping-escrow/internal/domain"
)

// Client forwards verification requests to the oracle network. Delivery may
// repeat; the network answers each request id at most once.
type Client interface {
	Send(ctx context.Context, req domain.VerificationRequest) error
}

// ResultHandler receives the oracle's asynchronous answers.
type ResultHandler func(ctx context.Context, result domain.VerificationResult) error
