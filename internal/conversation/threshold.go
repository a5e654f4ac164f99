package conversation

// DefaultMaxContextChars is the context size bound that forces compression.
const DefaultMaxContextChars = 3000

// Decision is the threshold monitor's verdict for one built context.
type Decision struct {
	Trigger bool
	// Force is set only when the size bound was exceeded. It makes the
	// rebuilt context keep a short turn tail instead of the whole one.
	Force bool
}

// ThresholdMonitor decides when a compression cycle must run.
//
// Once any summary exists every build triggers another cycle, so a
// compressed conversation keeps consolidating on each turn.
type ThresholdMonitor struct {
	MaxContextChars int
}

func (m ThresholdMonitor) Evaluate(contextLen, summaryCount int) Decision {
	limit := m.MaxContextChars
	if limit <= 0 {
		limit = DefaultMaxContextChars
	}
	if contextLen > limit {
		return Decision{Trigger: true, Force: true}
	}
	if summaryCount > 0 {
		return Decision{Trigger: true}
	}
	return Decision{}
}
