package usecase

import (
	"maisoku/internal/domain"
)

// session is the aggregate root. It is owned exclusively by the Controller
// and only touched with the controller mutex held.
type session struct {
	state         domain.SessionState
	identity      *domain.Identity
	selectedImage *domain.NormalizedImage
	profile       *domain.PreferenceProfile
	seed          *domain.HistoryEntry
	result        *domain.AnalysisResult
	lastErr       error
}

func (s *session) reset() {
	s.selectedImage = nil
	s.result = nil
	s.seed = nil
	s.lastErr = nil
}

// invariantsHold checks the structural invariants after a transition:
// a defined state, result present exactly in results, and the
// authentication gate on analyzing/results.
func (s *session) invariantsHold() bool {
	if !s.state.Valid() {
		return false
	}
	if (s.result != nil) != (s.state == domain.StateResults) {
		return false
	}
	if s.state == domain.StateAnalyzing || s.state == domain.StateResults {
		if s.identity == nil || s.selectedImage == nil {
			return false
		}
	}
	return true
}
