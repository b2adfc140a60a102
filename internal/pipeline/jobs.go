package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// JobStatus represents the state of a batch read job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusReading   JobStatus = "reading"
	StatusCompleted JobStatus = "completed"
	StatusPartial   JobStatus = "partial"
	StatusFailed    JobStatus = "failed"
)

// Job tracks the state of a batch of mapping documents.
type Job struct {
	mu sync.Mutex

	ID     string    `json:"job_id"`
	Status JobStatus `json:"status"`
	Phase  string    `json:"phase"`

	Progress Progress `json:"progress"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Internal: not serialized.
	inputs   []Input
	outcomes []Outcome
	errors   []string
}

// Progress tracks processing progress.
type Progress struct {
	TotalFiles   int      `json:"total_files"`
	FilesRead    int      `json:"files_read"`
	FilesValid   int      `json:"files_valid"`
	FilesInvalid int      `json:"files_invalid"`
	Errors       []string `json:"errors"`
}

// NewJob creates a queued job for inputs. The job id is derived from the
// names and contents, so resubmitting an identical batch yields the same id.
func NewJob(inputs []Input) *Job {
	now := time.Now()
	return &Job{
		ID:        batchID(inputs),
		Status:    StatusQueued,
		Phase:     "queued",
		Progress:  Progress{TotalFiles: len(inputs)},
		CreatedAt: now,
		UpdatedAt: now,
		inputs:    inputs,
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

// PutIfAbsent stores job unless a job with the same id is already held, in
// which case the existing job is returned.
func (s *JobStore) PutIfAbsent(job *Job) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.jobs[job.ID]; ok {
		return existing, false
	}
	s.jobs[job.ID] = job
	return job, true
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

func (s *JobStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

// Len returns the number of held jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Cleanup removes expired jobs.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		if now.Sub(job.updatedAt()) > s.ttl {
			delete(s.jobs, id)
		}
	}
}

func (j *Job) updatedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.UpdatedAt
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records a job-level error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// Record stores the outcomes of a completed read pass.
func (j *Job) Record(outcomes []Outcome) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.outcomes = outcomes
	j.Progress.FilesRead = 0
	j.Progress.FilesValid = 0
	j.Progress.FilesInvalid = 0
	for _, o := range outcomes {
		if o.ErrorKind == KindCanceled {
			continue
		}
		j.Progress.FilesRead++
		if o.Valid {
			j.Progress.FilesValid++
		} else {
			j.Progress.FilesInvalid++
		}
	}
	j.UpdatedAt = time.Now()
}

// Inputs returns the documents to read.
func (j *Job) Inputs() []Input {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.inputs
}

// release drops the document bodies once they have been read.
func (j *Job) release() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := range j.inputs {
		j.inputs[i].Data = nil
	}
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID        string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	Phase     string    `json:"phase"`
	Progress  Progress  `json:"progress"`
	Files     []Outcome `json:"files"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := make([]string, len(j.Progress.Errors))
	copy(errs, j.Progress.Errors)
	files := make([]Outcome, len(j.outcomes))
	copy(files, j.outcomes)
	p := j.Progress
	p.Errors = errs
	return JobSnapshot{
		ID:        j.ID,
		Status:    j.Status,
		Phase:     j.Phase,
		Progress:  p,
		Files:     files,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}

func batchID(inputs []Input) string {
	h := sha256.New()
	for _, in := range inputs {
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00", in.Kind, in.Name, ContentHashHex(in.Data))
	}
	return fmt.Sprintf("%x", h.Sum(nil))[:26]
}
