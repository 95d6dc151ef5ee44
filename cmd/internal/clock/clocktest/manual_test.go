package clocktest

import (
	"testing"
	"time"
)

func TestManual_AdvanceFiresInOrder(t *testing.T) {
	t.Parallel()

	m := NewManual(time.Time{})
	start := m.Now()

	var got []string
	m.Every(time.Second, func() { got = append(got, "sec") })
	m.Every(400*time.Millisecond, func() { got = append(got, "fast") })

	m.Advance(time.Second)

	want := []string{"fast", "fast", "sec"}
	if len(got) != len(want) {
		t.Fatalf("fired=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fired[%d]=%q want=%q (all=%v)", i, got[i], want[i], got)
		}
	}
	if !m.Now().Equal(start.Add(time.Second)) {
		t.Fatalf("now=%v want=%v", m.Now(), start.Add(time.Second))
	}
}

func TestManual_StopInsideCallback(t *testing.T) {
	t.Parallel()

	m := NewManual(time.Time{})

	fired := 0
	var tk interface{ Stop() }
	tk = m.Every(time.Second, func() {
		fired++
		if fired == 2 {
			tk.Stop()
		}
	})

	m.Advance(10 * time.Second)

	if fired != 2 {
		t.Fatalf("fired=%d want 2", fired)
	}
	if m.Active() != 0 {
		t.Fatalf("active=%d want 0", m.Active())
	}

	tk.Stop()
}

func TestManual_CallbackSeesDueTime(t *testing.T) {
	t.Parallel()

	m := NewManual(time.Time{})
	start := m.Now()

	var seen []time.Time
	m.Every(250*time.Millisecond, func() { seen = append(seen, m.Now()) })
	m.Advance(time.Second)

	if len(seen) != 4 {
		t.Fatalf("ticks=%d want 4", len(seen))
	}
	for i, ts := range seen {
		want := start.Add(time.Duration(i+1) * 250 * time.Millisecond)
		if !ts.Equal(want) {
			t.Fatalf("tick %d at %v want %v", i, ts, want)
		}
	}
}
