package store

import "time"

// CronTask is the persisted record of one (cron-expression, task-file)
// entry.
type CronTask struct {
	ID                  string     `json:"id"`
	Expression          string     `json:"expression"`
	TaskFile            string     `json:"task_file"`
	Enabled             bool       `json:"enabled"`
	CreatedAt           time.Time  `json:"created_at"`
	LastRun             *time.Time `json:"last_run,omitempty"`
	NextRun             time.Time  `json:"next_run"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastFailureTime     *time.Time `json:"last_failure_time,omitempty"`
}

// CronDocument is the on-disk shape of cron.json.
type CronDocument struct {
	Tasks []CronTask `json:"tasks"`
}

// AgentState is one of the three states an AgentRecord can be in.
type AgentState string

const (
	AgentRunning AgentState = "running"
	AgentStopped AgentState = "stopped"
	AgentStale   AgentState = "stale"
)

// AgentRecord is the persisted record of one external agent CLI's
// heartbeat state.
type AgentRecord struct {
	ID            string            `json:"id"`
	PID           int               `json:"pid"`
	StartedAt     time.Time         `json:"started_at"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
	State         AgentState        `json:"state"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// RegistryDocument is the on-disk shape of registry.json.
type RegistryDocument struct {
	Agents []AgentRecord `json:"agents"`
}

// CronStore persists the cron task table.
type CronStore struct{ *FileStore }

// NewCronStore opens the cron.json document at configDir/cron.json.
func NewCronStore(path string) *CronStore {
	return &CronStore{FileStore: NewFileStore(path)}
}

// Load returns the persisted cron document, or an empty one if no
// file exists yet.
func (s *CronStore) Load() (CronDocument, error) {
	var doc CronDocument
	if err := s.FileStore.Load(&doc); err != nil {
		return CronDocument{}, err
	}
	return doc, nil
}

// Save persists doc atomically.
func (s *CronStore) Save(doc CronDocument) error {
	return s.FileStore.Save(doc)
}

// RegistryStore persists the agent registry table.
type RegistryStore struct{ *FileStore }

// NewRegistryStore opens the registry.json document at configDir/registry.json.
func NewRegistryStore(path string) *RegistryStore {
	return &RegistryStore{FileStore: NewFileStore(path)}
}

func (s *RegistryStore) Load() (RegistryDocument, error) {
	var doc RegistryDocument
	if err := s.FileStore.Load(&doc); err != nil {
		return RegistryDocument{}, err
	}
	return doc, nil
}

func (s *RegistryStore) Save(doc RegistryDocument) error {
	return s.FileStore.Save(doc)
}
