package main

import "fmt"

// SuggestionState is the lifecycle of a suggested correction for one
// identification instance. The transition table is the single source of
// truth; the UI never tracks its own booleans.
//
//	Unevaluated -> NoSuggestion           (terminal)
//	Unevaluated -> Offered -> Applied     (terminal)
//	Unevaluated -> Offered -> Dismissed   (terminal)
type SuggestionState int

const (
	SuggestionUnevaluated SuggestionState = iota
	SuggestionNone
	SuggestionOffered
	SuggestionApplied
	SuggestionDismissed
)

func (s SuggestionState) String() string {
	switch s {
	case SuggestionUnevaluated:
		return "unevaluated"
	case SuggestionNone:
		return "none"
	case SuggestionOffered:
		return "offered"
	case SuggestionApplied:
		return "applied"
	case SuggestionDismissed:
		return "dismissed"
	default:
		return fmt.Sprintf("SuggestionState(%d)", int(s))
	}
}

// SuggestionReview evaluates and resolves a suggested correction for a
// single fresh identification. Dismissal is scoped to this instance only;
// the frequency table is untouched.
type SuggestionReview struct {
	store     *Store
	threshold int
	state     SuggestionState
	candidate *SuggestedCorrection
}

func NewSuggestionReview(store *Store, threshold int) *SuggestionReview {
	return &SuggestionReview{store: store, threshold: threshold, state: SuggestionUnevaluated}
}

func (r *SuggestionReview) State() SuggestionState { return r.state }

func (r *SuggestionReview) Candidate() *SuggestedCorrection { return r.candidate }

// Evaluate decides whether to offer an alternate label for rec. Historical
// loads and already-corrected results never get a suggestion.
func (r *SuggestionReview) Evaluate(rec *ScanRecord, fromHistory bool) error {
	if r.state != SuggestionUnevaluated {
		return fmt.Errorf("suggestion already evaluated (state=%s)", r.state)
	}
	if fromHistory || rec.Corrected {
		r.state = SuggestionNone
		return nil
	}
	candidate, err := r.store.Suggestion(rec.Name, r.threshold)
	if err != nil {
		return fmt.Errorf("evaluate suggestion: %w", err)
	}
	if candidate == nil {
		r.state = SuggestionNone
		return nil
	}
	r.candidate = candidate
	r.state = SuggestionOffered
	return nil
}

// Apply accepts the offered suggestion: the record's name is overwritten
// and the acceptance is itself logged as a correction, reinforcing the
// frequency table. The record's own attribute and power carry through as
// the corrected values.
func (r *SuggestionReview) Apply(rec *ScanRecord) (CorrectionEvent, error) {
	if r.state != SuggestionOffered {
		return CorrectionEvent{}, fmt.Errorf("cannot apply suggestion in state %s", r.state)
	}
	ev, err := r.store.RecordCorrection(CorrectionEvent{
		Fingerprint:        rec.Fingerprint,
		OriginalName:       rec.Name,
		CorrectedName:      r.candidate.SuggestedName,
		CorrectedAttribute: rec.Attribute,
		CorrectedGPower:    rec.GPower,
	})
	if err != nil {
		return CorrectionEvent{}, err
	}
	rec.Name = r.candidate.SuggestedName
	rec.Corrected = true
	r.state = SuggestionApplied
	return ev, nil
}

// Dismiss declines the offered suggestion for this instance. The same
// suggestion may reappear on a future fresh identification that produces
// the same original label.
func (r *SuggestionReview) Dismiss() error {
	if r.state != SuggestionOffered {
		return fmt.Errorf("cannot dismiss suggestion in state %s", r.state)
	}
	r.state = SuggestionDismissed
	return nil
}
