package api

import (
	"sync"

	"github.com/google/uuid"
)

// JobStore keeps finished job records in memory, keyed by id.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*JobResponse
}

func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]*JobResponse),
	}
}

func (s *JobStore) Put(job *JobResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) (*JobResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	return job, ok
}

func (s *JobStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return false
	}
	delete(s.jobs, id)
	return true
}

func newJobID() string {
	return "job_" + uuid.NewString()
}
