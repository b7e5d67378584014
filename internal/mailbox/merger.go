package mailbox

import (
	"fmt"
	"sort"
	"time"

	"github.com/imkarma/taskpilot/internal/state"
	"github.com/imkarma/taskpilot/internal/store"
)

// Source is where queued messages come from.
type Source interface {
	UnconsumedMessages() ([]store.Message, error)
	MarkConsumed(ids []string) (int, error)
}

// Merger folds queued messages into a run's plan.
type Merger struct {
	src Source
	now func() time.Time
}

// NewMerger returns a merger reading from src.
func NewMerger(src Source) *Merger {
	return &Merger{src: src, now: time.Now}
}

// MergeResult describes one CheckAndMerge call.
type MergeResult struct {
	MessagesMerged int
	MessageIDs     []string // merged by this call, in merge order
	Group          int      // index of the appended group, -1 when nothing merged

	// consume holds every ID to flag in the source on Commit, including
	// ones merged by an earlier call that never reached Commit.
	consume []string
}

// CheckAndMerge appends unconsumed messages to the plan as one new trailing
// group, ordered by priority then arrival. Existing tasks are never moved.
//
// The merged IDs are recorded in st.MergedMessageIDs, so saving st persists
// consumption together with the plan. Call Commit after the save to flag
// the messages in the source. A message already recorded in st is never
// merged again.
func (m *Merger) CheckAndMerge(st *state.TaskState) (MergeResult, error) {
	res := MergeResult{Group: -1}
	if !st.MailboxEnabled {
		return res, nil
	}

	msgs, err := m.src.UnconsumedMessages()
	if err != nil {
		return res, fmt.Errorf("read mailbox: %w", err)
	}

	merged := make(map[string]bool, len(st.MergedMessageIDs))
	for _, id := range st.MergedMessageIDs {
		merged[id] = true
	}

	var fresh []store.Message
	for _, msg := range msgs {
		if merged[msg.ID] {
			res.consume = append(res.consume, msg.ID)
			continue
		}
		fresh = append(fresh, msg)
	}
	if len(fresh) == 0 {
		return res, nil
	}

	Sort(fresh)

	content := FormatMerged(fresh, m.now())
	title := fmt.Sprintf("Change requests (%d)", len(fresh))
	res.Group = st.AppendGroup(title, []state.Task{{
		Description: content,
		Kind:        "mailbox",
	}})
	for _, msg := range fresh {
		res.MessageIDs = append(res.MessageIDs, msg.ID)
		st.MergedMessageIDs = append(st.MergedMessageIDs, msg.ID)
	}
	res.MessagesMerged = len(fresh)
	res.consume = append(res.consume, res.MessageIDs...)
	return res, nil
}

// Commit flags the messages of res as consumed in the source. It must run
// after the state carrying res has been saved.
func (m *Merger) Commit(res MergeResult) error {
	if len(res.consume) == 0 {
		return nil
	}
	if _, err := m.src.MarkConsumed(res.consume); err != nil {
		return fmt.Errorf("mark consumed: %w", err)
	}
	return nil
}

// Sort orders messages by priority (highest first), ties by arrival.
func Sort(msgs []store.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Priority != msgs[j].Priority {
			return msgs[i].Priority > msgs[j].Priority
		}
		if msgs[i].Seq != msgs[j].Seq {
			return msgs[i].Seq < msgs[j].Seq
		}
		return msgs[i].ReceivedAt.Before(msgs[j].ReceivedAt)
	})
}
