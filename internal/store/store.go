// Package store provides storage backends for CallPipe.
//
// It persists IVR scenarios, the outbound phone number list, call sessions
// with their collected answers, and follow-up SMS notifications. Backends:
// in-memory (tests and ephemeral runs), SQLite, and PostgreSQL.
package store

import (
	"sort"
	"strings"
	"sync"

	"github.com/BTreeMap/CallPipe/internal/models"
)

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN configures the store with a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN configures the store with a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite".
// PostgreSQL DSNs use a postgres:// URL or key=value connection parameters;
// anything else is treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// Store defines the persistence surface the rest of CallPipe depends on.
// Mid-call state lives in the execution engine's session, not here: call
// sessions are written when created and when they reach a terminal status.
type Store interface {
	// Scenarios
	SaveScenario(s models.Scenario) error
	GetScenario(id string) (*models.Scenario, error)
	GetActiveScenario() (*models.Scenario, error)
	ListScenarios() ([]models.Scenario, error)

	// Phone number list
	AddPhoneNumber(p models.PhoneNumber) error
	ClaimPendingPhoneNumbers(limit int) ([]models.PhoneNumber, error)
	UpdatePhoneNumberStatus(id string, status models.PhoneNumberStatus) error
	UpdatePhoneNumberStatusByNumber(phone string, status models.PhoneNumberStatus) error

	// Call sessions
	SaveCallSession(s models.CallSession) error
	GetCallSession(id string) (*models.CallSession, error)
	GetCallSessionByProviderSID(sid string) (*models.CallSession, error)
	ListCallSessions(scenarioID string, status models.CallStatus) ([]models.CallSession, error)

	// SMS notifications
	SaveSMSNotification(n models.SMSNotification) error
	ListSMSNotifications(callSessionID string) ([]models.SMSNotification, error)

	Close() error
}

// InMemoryStore is a map-backed Store for tests and ephemeral runs.
type InMemoryStore struct {
	mu            sync.RWMutex
	scenarios     map[string]models.Scenario
	phoneNumbers  map[string]models.PhoneNumber
	phoneOrder    []string
	sessions      map[string]models.CallSession
	sessionOrder  []string
	notifications map[string][]models.SMSNotification
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		scenarios:     make(map[string]models.Scenario),
		phoneNumbers:  make(map[string]models.PhoneNumber),
		sessions:      make(map[string]models.CallSession),
		notifications: make(map[string][]models.SMSNotification),
	}
}

func (s *InMemoryStore) SaveScenario(scn models.Scenario) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if scn.IsActive {
		// A single scenario is active at a time.
		for id, other := range s.scenarios {
			if other.IsActive && id != scn.ID {
				other.IsActive = false
				s.scenarios[id] = other
			}
		}
	}
	s.scenarios[scn.ID] = scn
	return nil
}

func (s *InMemoryStore) GetScenario(id string) (*models.Scenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scn, ok := s.scenarios[id]
	if !ok {
		return nil, nil
	}
	return &scn, nil
}

func (s *InMemoryStore) GetActiveScenario() (*models.Scenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, scn := range s.scenarios {
		if scn.IsActive {
			scn := scn
			return &scn, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) ListScenarios() ([]models.Scenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Scenario, 0, len(s.scenarios))
	for _, scn := range s.scenarios {
		out = append(out, scn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) AddPhoneNumber(p models.PhoneNumber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.phoneNumbers[p.ID]; !exists {
		s.phoneOrder = append(s.phoneOrder, p.ID)
	}
	s.phoneNumbers[p.ID] = p
	return nil
}

func (s *InMemoryStore) ClaimPendingPhoneNumbers(limit int) ([]models.PhoneNumber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var claimed []models.PhoneNumber
	for _, id := range s.phoneOrder {
		if len(claimed) >= limit {
			break
		}
		p := s.phoneNumbers[id]
		if p.Status != models.PhoneNumberStatusPending {
			continue
		}
		p.Status = models.PhoneNumberStatusCalling
		s.phoneNumbers[id] = p
		claimed = append(claimed, p)
	}
	return claimed, nil
}

func (s *InMemoryStore) UpdatePhoneNumberStatus(id string, status models.PhoneNumberStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.phoneNumbers[id]
	if !ok {
		return nil
	}
	p.Status = status
	s.phoneNumbers[id] = p
	return nil
}

func (s *InMemoryStore) UpdatePhoneNumberStatusByNumber(phone string, status models.PhoneNumberStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.phoneNumbers {
		if p.PhoneNumber == phone {
			p.Status = status
			s.phoneNumbers[id] = p
		}
	}
	return nil
}

func (s *InMemoryStore) SaveCallSession(sess models.CallSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; !exists {
		s.sessionOrder = append(s.sessionOrder, sess.ID)
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *InMemoryStore) GetCallSession(id string) (*models.CallSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (s *InMemoryStore) GetCallSessionByProviderSID(sid string) (*models.CallSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.ProviderCallSID == sid {
			sess := sess
			return &sess, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) ListCallSessions(scenarioID string, status models.CallStatus) ([]models.CallSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.CallSession
	for _, id := range s.sessionOrder {
		sess := s.sessions[id]
		if scenarioID != "" && sess.ScenarioID != scenarioID {
			continue
		}
		if status != "" && sess.Status != status {
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *InMemoryStore) SaveSMSNotification(n models.SMSNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.notifications[n.CallSessionID]
	for i := range existing {
		if existing[i].ID == n.ID {
			existing[i] = n
			return nil
		}
	}
	s.notifications[n.CallSessionID] = append(existing, n)
	return nil
}

func (s *InMemoryStore) ListSMSNotifications(callSessionID string) ([]models.SMSNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SMSNotification, len(s.notifications[callSessionID]))
	copy(out, s.notifications[callSessionID])
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
