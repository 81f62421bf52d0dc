package context

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/haasonsaas/lore/pkg/models"
)

// CompactIfNeeded applies the compaction tier matching the current usage
// ratio and returns the tier that changed the buffer, or LevelNone.
func (w *Window) CompactIfNeeded() Level {
	if len(w.messages) <= minCompactableMessages {
		return LevelNone
	}
	ratio := w.TokenUsageRatio()
	switch {
	case ratio < L1Threshold:
		return LevelNone
	case ratio < L2Threshold:
		return w.record(LevelL1, ratio, w.compactL1)
	case ratio < L3Threshold:
		return w.record(LevelL2, ratio, w.compactL2)
	default:
		return w.record(LevelL3, ratio, w.compactL3)
	}
}

// ResetToPromptOnly discards everything but the prompt. Submit calls in the
// discarded history are recorded first.
func (w *Window) ResetToPromptOnly() {
	ratio := w.TokenUsageRatio()
	w.record(LevelReset, ratio, func() bool {
		if len(w.messages) <= 1 {
			return false
		}
		w.collectSubmits(w.messages[1:])
		w.messages = w.messages[:1]
		return true
	})
}

func (w *Window) record(level Level, ratio float64, apply func() bool) Level {
	before := len(w.messages)
	tokensBefore := w.EstimateTokens()
	if !apply() {
		return LevelNone
	}
	event := CompactionEvent{
		Level:          level,
		Ratio:          ratio,
		MessagesBefore: before,
		MessagesAfter:  len(w.messages),
		TokensBefore:   tokensBefore,
		TokensAfter:    w.EstimateTokens(),
		At:             w.now(),
	}
	w.log = append(w.log, event)
	w.logger.Info("context compacted",
		"level", level.String(),
		"ratio", ratio,
		"messages_before", event.MessagesBefore,
		"messages_after", event.MessagesAfter,
		"tokens_before", event.TokensBefore,
		"tokens_after", event.TokensAfter,
	)
	return level
}

// compactL1 shortens oversized tool results that precede the last round.
func (w *Window) compactL1() bool {
	end := w.lastRoundStart()
	if end < 0 {
		end = len(w.messages)
	}
	changed := false
	for i := 1; i < end; i++ {
		msg := &w.messages[i]
		if msg.Role != models.RoleTool {
			continue
		}
		size := utf8.RuneCountInString(msg.Content)
		if size <= l1ResultThreshold {
			continue
		}
		msg.Content = truncateRunes(msg.Content, l1ResultKeep) +
			fmt.Sprintf("\n...[truncated: original %d chars]", size)
		changed = true
	}
	return changed
}

// compactL2 keeps the last two rounds.
func (w *Window) compactL2() bool {
	starts := w.roundStarts()
	switch len(starts) {
	case 0:
		return false
	case 1:
		return w.dropBefore(starts[0])
	default:
		return w.dropBefore(starts[len(starts)-2])
	}
}

// compactL3 keeps the last round. Without any round only the prompt and the
// latest message survive.
func (w *Window) compactL3() bool {
	start := w.lastRoundStart()
	if start > 0 {
		return w.dropBefore(start)
	}
	if len(w.messages) <= 2 {
		return false
	}
	w.collectSubmits(w.messages[1 : len(w.messages)-1])
	w.messages = []models.Message{w.messages[0], w.messages[len(w.messages)-1]}
	return true
}

// dropBefore removes messages[1:cut] and inserts a summary at index 1.
func (w *Window) dropBefore(cut int) bool {
	if cut <= 1 {
		return false
	}
	removed := w.messages[1:cut]
	rounds, results := 0, 0
	for _, msg := range removed {
		switch {
		case msg.HasToolCalls():
			rounds++
		case msg.Role == models.RoleTool:
			results++
		}
	}
	w.collectSubmits(removed)

	kept := make([]models.Message, 0, len(w.messages)-len(removed)+2)
	kept = append(kept, w.messages[0])
	kept = append(kept, models.Message{Role: models.RoleUser, Content: w.summary(rounds, results)})
	kept = append(kept, w.messages[cut:]...)
	w.messages = kept
	return true
}

func (w *Window) summary(rounds, results int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Context compacted] %d earlier tool rounds (%d tool results) were removed to stay within the context budget.", rounds, results)
	if len(w.compactedSubmits) > 0 {
		b.WriteString("\nAlready submitted, do not submit again:")
		for _, title := range w.compactedSubmits {
			b.WriteString("\n- ")
			b.WriteString(title)
		}
	}
	return b.String()
}

func (w *Window) collectSubmits(msgs []models.Message) {
	for _, msg := range msgs {
		for _, call := range msg.ToolCalls {
			if !w.IsSubmitTool(call.Name) {
				continue
			}
			title := submitTitle(call)
			if w.seenSubmits[title] {
				continue
			}
			w.seenSubmits[title] = true
			w.compactedSubmits = append(w.compactedSubmits, title)
		}
	}
}

func submitTitle(call models.ToolCall) string {
	for _, key := range []string{"title", "name"} {
		if title := strings.TrimSpace(call.StringArg(key)); title != "" {
			return title
		}
	}
	return fmt.Sprintf("untitled %s (%s)", call.Name, call.ID)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
