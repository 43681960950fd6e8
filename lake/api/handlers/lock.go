package handlers

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// lockTurn takes the conversation's turn lock. ok is false when another turn
// holds it. release must be called once the turn ends.
func (h *Handlers) lockTurn(ctx context.Context, conversationID int64) (release func(), ok bool, err error) {
	lockID := uuid.NewString()
	ok, err = h.cfg.Sessions.AcquireTurnLock(ctx, conversationID, lockID, h.cfg.LockTTL)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire turn lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		ctx := context.WithoutCancel(ctx)
		if err := h.cfg.Sessions.ReleaseTurnLock(ctx, conversationID, lockID); err != nil {
			h.log.Warn("failed to release turn lock", "conversation_id", conversationID, "error", err)
		}
	}, true, nil
}
