// ABOUTME: Tests for handoff label tracking and pending-since state
// ABOUTME: Exercises the first-observation rule and transition detection

package relay

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasHumanLabel(t *testing.T) {
	assert.True(t, HasHumanLabel([]string{"vip", "Humano"}))
	assert.True(t, HasHumanLabel([]string{" HUMANO "}))
	assert.False(t, HasHumanLabel([]string{"humanos", "bot"}))
	assert.False(t, HasHumanLabel(nil))
}

func TestLabelTracker_Sequence(t *testing.T) {
	tr := NewLabelTracker(10)
	t.Cleanup(tr.Close)

	type step struct {
		labels []string
		human  bool
		emit   bool
	}
	steps := []step{
		{nil, false, false},
		{[]string{"humano"}, true, true},
		{[]string{"humano"}, true, false},
		{[]string{}, false, true},
	}

	emitted := 0
	for i, s := range steps {
		human, emit := tr.Observe("42", s.labels)
		assert.Equal(t, s.human, human, "step %d human", i)
		assert.Equal(t, s.emit, emit, "step %d emit", i)
		if emit {
			emitted++
		}
	}
	assert.Equal(t, 2, emitted)
}

func TestLabelTracker_FirstObservationHuman(t *testing.T) {
	tr := NewLabelTracker(10)
	t.Cleanup(tr.Close)

	human, emit := tr.Observe("7", []string{"HUMANO"})
	assert.True(t, human)
	assert.True(t, emit)

	_, emit = tr.Observe("8", []string{"bot"})
	assert.False(t, emit, "unrelated conversation starts unknown")
}

func TestLabelTracker_HumanLeavesAfterLongSilence(t *testing.T) {
	tr := NewLabelTracker(10)
	t.Cleanup(tr.Close)

	human, emit := tr.Observe("42", []string{"humano"})
	require.True(t, human)
	require.True(t, emit)

	// Other conversations come and go while 42 sits idle.
	for i := range 5 {
		tr.Observe(fmt.Sprintf("other-%d", i), []string{"bot"})
	}
	time.Sleep(20 * time.Millisecond)

	human, emit = tr.Observe("42", []string{})
	assert.False(t, human)
	assert.True(t, emit, "the departure of the human is still reported")
}

func TestLabelTracker_EvictsLeastRecentlyObserved(t *testing.T) {
	tr := NewLabelTracker(2)
	t.Cleanup(tr.Close)

	tr.Observe("1", []string{"humano"})
	tr.Observe("2", []string{"humano"})
	tr.Observe("3", []string{"humano"})

	_, emit := tr.Observe("1", []string{})
	assert.False(t, emit, "evicted conversation is unknown again")
	_, emit = tr.Observe("3", []string{})
	assert.True(t, emit)
}

func TestLabelTracker_Forget(t *testing.T) {
	tr := NewLabelTracker(10)
	t.Cleanup(tr.Close)

	tr.Observe("1", []string{"humano"})
	tr.Forget("1")

	_, emit := tr.Observe("1", []string{})
	assert.False(t, emit, "forgotten conversation is unknown again")
}

func TestPendingTracker(t *testing.T) {
	p := NewPendingTracker(time.Hour, 10)
	t.Cleanup(p.Close)

	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	assert.True(t, p.Get("42").IsZero())

	p.Mark("42")
	assert.Equal(t, fixed, p.Get("42"))

	p.Clear("42")
	assert.True(t, p.Get("42").IsZero())
}
