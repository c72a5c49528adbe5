package domain

import "context"

// BlocklistChecker resolves whether any identifier on a transaction is
// blocklisted. Lookups follow a fixed priority order (user id, device id,
// IP, merchant id, instrument hash, email); the first match wins.
//
// A lookup failure is a hard error: the pipeline fails closed rather than
// risking a false negative.
type BlocklistChecker interface {
	Check(ctx context.Context, tx *Transaction) (*BlocklistResult, error)
}

// VelocityScorer is the opaque velocity collaborator.
type VelocityScorer interface {
	Score(ctx context.Context, tx *Transaction) (*VelocityResult, error)
}

// MLScorer is the opaque ML collaborator.
type MLScorer interface {
	Predict(ctx context.Context, tx *Transaction) (*MLResult, error)
}
