package dashboard

import (
	"context"
	"encoding/json"

	"github.com/frontdesk-ops/frontdesk/internal/types"
)

// SweepData is the payload of a sync_sweep message.
type SweepData struct {
	BatchID   string `json:"batch_id"`
	Attempted int    `json:"attempted"`
	Synced    int    `json:"synced"`
	Failed    int    `json:"failed"`
}

// Follow broadcasts every state change received on events until ctx is done
// or events is closed.
func (s *Server) Follow(ctx context.Context, events <-chan types.StateChange) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		case change, ok := <-events:
			if !ok {
				return
			}
			s.OnStateChange(change)
		}
	}
}

// OnStateChange broadcasts one backend transition.
func (s *Server) OnStateChange(change types.StateChange) {
	data, err := json.Marshal(change)
	if err != nil {
		s.logger.Error("failed to marshal state change", "error", err)
		return
	}
	s.Broadcast(Message{Type: MessageTypeStateChange, Timestamp: change.Timestamp, Data: data})
}

// OnSweep broadcasts the outcome of a cloud sync sweep.
func (s *Server) OnSweep(result SweepData) {
	data, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("failed to marshal sweep result", "error", err)
		return
	}
	s.Broadcast(Message{Type: MessageTypeSyncSweep, Data: data})
}
