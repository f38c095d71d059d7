package turnrunner

import (
	"context"

	"github.com/tronrun/tron/internal/runtimeerr"
	"github.com/tronrun/tron/pkg/models"
)

// LoopResult is the outcome of RunToCompletion: the sequence of per-turn
// results plus why the loop stopped.
type LoopResult struct {
	Turns      []TurnResult
	StopReason string // end_turn | stop_turn_requested | aborted | max_turns | error
}

// RunToCompletion runs turns until one of §4.5's stop conditions holds:
// end_turn with no tool calls, a tool's stop_turn, interruption, max_turns
// exceeded, or a non-recoverable error. userMessage is only sent on the
// first turn; subsequent turns continue from tool results already appended
// to history by the previous turn.
func (r *Runner) RunToCompletion(ctx context.Context, userMessage *models.Message, abort <-chan struct{}) (*LoopResult, error) {
	out := &LoopResult{}

	for turn := 1; turn <= r.config.MaxTurns; turn++ {
		var msg *models.Message
		if turn == 1 {
			msg = userMessage
		}

		result, err := r.RunTurn(ctx, turn, msg, abort)
		if result != nil {
			out.Turns = append(out.Turns, *result)
		}
		if err != nil {
			if re, ok := runtimeerr.As(err); ok && re.Category == runtimeerr.CategoryAbort {
				out.StopReason = "aborted"
				return out, nil
			}
			out.StopReason = "error"
			return out, err
		}

		if result.Aborted {
			out.StopReason = "aborted"
			return out, nil
		}
		if result.StopTurn {
			out.StopReason = "stop_turn_requested"
			return out, nil
		}
		if result.StopReason == models.StopEndTurn && len(result.ToolResults) == 0 {
			out.StopReason = "end_turn"
			return out, nil
		}
	}

	out.StopReason = "max_turns"
	return out, runtimeerr.New(runtimeerr.CategoryAbort, runtimeerr.ErrMaxTurnsExceeded)
}
