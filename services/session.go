package services

import (
	"fmt"
	"sync"

	"qa-agent/models"
)

// SessionService keeps the working state of a review round: the latest
// generated batch of test cases, which one the user picked, and the scripts
// produced so far. A new batch replaces the old one wholesale and clears the
// selection, mirroring how a fresh generation invalidates earlier picks.
type SessionService struct {
	mu         sync.RWMutex
	testCases  []models.TestCase
	selectedID string
	scripts    map[string]models.GeneratedScript
}

func NewSessionService() *SessionService {
	return &SessionService{scripts: make(map[string]models.GeneratedScript)}
}

// ReplaceTestCases installs a freshly generated batch, dropping the previous
// batch, the selection and any scripts generated for it.
func (s *SessionService) ReplaceTestCases(cases []models.TestCase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.testCases = append([]models.TestCase(nil), cases...)
	s.selectedID = ""
	s.scripts = make(map[string]models.GeneratedScript)
}

// TestCases returns a copy of the current batch.
func (s *SessionService) TestCases() []models.TestCase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.TestCase(nil), s.testCases...)
}

// TestCaseByID looks a test case up in the current batch.
func (s *SessionService) TestCaseByID(testID string) (models.TestCase, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, tc := range s.testCases {
		if tc.TestID == testID {
			return tc, true
		}
	}
	return models.TestCase{}, false
}

// SelectTestCase marks one test case of the current batch as the working
// selection for script generation.
func (s *SessionService) SelectTestCase(testID string) (models.TestCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tc := range s.testCases {
		if tc.TestID == testID {
			s.selectedID = testID
			return tc, nil
		}
	}
	return models.TestCase{}, fmt.Errorf("test case %q is not part of the current batch", testID)
}

// SelectedTestCase returns the current selection, if any.
func (s *SessionService) SelectedTestCase() (models.TestCase, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selectedID == "" {
		return models.TestCase{}, false
	}
	for _, tc := range s.testCases {
		if tc.TestID == s.selectedID {
			return tc, true
		}
	}
	return models.TestCase{}, false
}

// StoreScript remembers a generated script under its test id, replacing any
// earlier generation for the same case.
func (s *SessionService) StoreScript(script models.GeneratedScript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[script.TestID] = script
}

// Script returns the stored script for a test id.
func (s *SessionService) Script(testID string) (models.GeneratedScript, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	script, ok := s.scripts[testID]
	return script, ok
}
