// Package jobstore is the durable job table. The database IS the queue:
// claim_oldest_pending is the only admissible dequeue primitive, and it is
// implemented as a conditional update — "transition to running only if
// current status is still pending" — inside a single bbolt writer
// transaction, which is bbolt's own serialization point. No in-memory
// queue sits in front of it.
package jobstore

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Status is a job's position in the persisted state machine.
//
//	pending ──claim──► running ──finalize_success──► completed
//	                       └────finalize_failure────► failed
//
// No other transitions exist; completed and failed are frozen.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// JobType determines dispatch shape and output shape.
type JobType string

const (
	JobTypeSingle JobType = "single"
	JobTypeMulti  JobType = "multi"
)

// Job is the unit of work. Exactly one of Tool / Tools is populated,
// matching Type.
type Job struct {
	ID           string    `json:"job_id"`
	Status       Status    `json:"status"`
	PluginID     string    `json:"plugin_id"`
	Tool         string    `json:"tool,omitempty"`
	Tools        []string  `json:"tool_list,omitempty"`
	Type         JobType   `json:"job_type"`
	InputKey     string    `json:"input_path"`
	OutputKey    string    `json:"output_path,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Progress     *int      `json:"progress,omitempty"`
}

// ToolNames returns the ordered tool set for this job regardless of Type.
func (j *Job) ToolNames() []string {
	if j.Type == JobTypeMulti {
		return j.Tools
	}
	if j.Tool != "" {
		return []string{j.Tool}
	}
	return nil
}

var (
	// ErrDuplicateID is returned by Insert when job_id already exists.
	ErrDuplicateID = errors.New("jobstore: duplicate job id")
	// ErrNotFound is returned by Get for an unknown job_id.
	ErrNotFound = errors.New("jobstore: job not found")
	// ErrIllegalTransition is returned when a finalize call's guard fails —
	// the target row was not in the expected source state. Observing this
	// in production indicates a developer error (double-finalize), not a
	// recoverable condition.
	ErrIllegalTransition = errors.New("jobstore: illegal state transition")
)

var (
	bucketJobs    = []byte("jobs")
	bucketByClaim = []byte("jobs_by_created")
)

// Store is the embedded, single-writer job table. One bbolt file backs one
// Store; Ingress and Worker share the same *Store instance in one process,
// matching the single-process invariant — bbolt itself refuses a second
// OS process from opening the file for writing.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bbolt file at path and returns a
// Store. Any job left in StatusRunning from a prior, uncleanly terminated
// process is immediately swept to StatusFailed with error_message
// "worker crashed" — this is the resolved answer to "orphaned running
// jobs after crash": reclaim at startup rather than wait on an operator.
func Open(path string) (*Store, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("jobstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketJobs); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketByClaim); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("jobstore: init buckets: %w", err)
	}

	store := &Store{db: db}
	if err := store.sweepOrphanedRunning(); err != nil {
		db.Close()
		return nil, fmt.Errorf("jobstore: sweep orphaned jobs: %w", err)
	}
	return store, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	return mkdirAll(dir)
}

// Insert writes a new job row with status pending. Fails ErrDuplicateID if
// job_id already exists.
func (s *Store) Insert(job *Job) error {
	job.Status = StatusPending
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.UpdatedAt = job.CreatedAt

	return s.db.Update(func(tx *bolt.Tx) error {
		jb := tx.Bucket(bucketJobs)
		if jb.Get([]byte(job.ID)) != nil {
			return ErrDuplicateID
		}

		data, err := marshalJob(job)
		if err != nil {
			return err
		}
		if err := jb.Put([]byte(job.ID), data); err != nil {
			return err
		}

		cb := tx.Bucket(bucketByClaim)
		return cb.Put(claimIndexKey(job.CreatedAt, job.ID), []byte(job.ID))
	})
}

// ClaimOldestPending atomically selects the oldest pending row by
// created_at ascending, transitions it to running, and returns the
// post-transition snapshot. Returns (nil, nil) if no pending row exists.
// Under contention, exactly one caller observes a given row — the
// read-check-write happens inside one exclusive bbolt writer transaction,
// so a second caller racing the same row either sees a different row or
// none at all; it never observes a partially-claimed job.
func (s *Store) ClaimOldestPending() (*Job, error) {
	var claimed *Job

	err := s.db.Update(func(tx *bolt.Tx) error {
		jb := tx.Bucket(bucketJobs)
		cb := tx.Bucket(bucketByClaim)

		c := cb.Cursor()
		for k, jobIDBytes := c.First(); k != nil; k, jobIDBytes = c.Next() {
			data := jb.Get(jobIDBytes)
			if data == nil {
				continue // index entry outlived its job row; skip
			}
			job, err := unmarshalJob(data)
			if err != nil {
				return err
			}
			if job.Status != StatusPending {
				continue
			}

			job.Status = StatusRunning
			job.UpdatedAt = time.Now().UTC()
			updated, err := marshalJob(job)
			if err != nil {
				return err
			}
			if err := jb.Put(jobIDBytes, updated); err != nil {
				return err
			}
			claimed = job
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// FinalizeSuccess transitions running → completed, recording outputKey and
// clearing error_message. Fails ErrIllegalTransition if the current status
// is not running.
func (s *Store) FinalizeSuccess(jobID, outputKey string) error {
	return s.transition(jobID, StatusRunning, func(job *Job) {
		job.Status = StatusCompleted
		job.OutputKey = outputKey
		job.ErrorMessage = ""
	})
}

// FinalizeFailure transitions running → failed, recording message. Fails
// ErrIllegalTransition if the current status is not running.
func (s *Store) FinalizeFailure(jobID, message string) error {
	return s.transition(jobID, StatusRunning, func(job *Job) {
		job.Status = StatusFailed
		job.ErrorMessage = message
		job.OutputKey = ""
	})
}

// UpdateProgress is advisory; it is silently dropped if the job's current
// status is not running.
func (s *Store) UpdateProgress(jobID string, percent int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		jb := tx.Bucket(bucketJobs)
		data := jb.Get([]byte(jobID))
		if data == nil {
			return nil // dropped: unknown job
		}
		job, err := unmarshalJob(data)
		if err != nil {
			return err
		}
		if job.Status != StatusRunning {
			return nil // dropped: not running
		}
		p := percent
		job.Progress = &p
		job.UpdatedAt = time.Now().UTC()
		updated, err := marshalJob(job)
		if err != nil {
			return err
		}
		return jb.Put([]byte(jobID), updated)
	})
}

// Get returns the job row for jobID, or ErrNotFound.
func (s *Store) Get(jobID string) (*Job, error) {
	var job *Job
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketJobs).Get([]byte(jobID))
		if data == nil {
			return ErrNotFound
		}
		j, err := unmarshalJob(data)
		if err != nil {
			return err
		}
		job = j
		return nil
	})
	return job, err
}

// CountPending returns the number of jobs currently pending, for the
// queue-depth gauge.
func (s *Store) CountPending() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(_, v []byte) error {
			job, err := unmarshalJob(v)
			if err != nil {
				return err
			}
			if job.Status == StatusPending {
				count++
			}
			return nil
		})
	})
	return count, err
}

// transition applies mutate to jobID only if its current status equals
// from, inside one writer transaction — the same conditional-update guard
// ClaimOldestPending uses. Returns ErrIllegalTransition otherwise.
func (s *Store) transition(jobID string, from Status, mutate func(*Job)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		jb := tx.Bucket(bucketJobs)
		data := jb.Get([]byte(jobID))
		if data == nil {
			return ErrNotFound
		}
		job, err := unmarshalJob(data)
		if err != nil {
			return err
		}
		if job.Status != from {
			return ErrIllegalTransition
		}
		mutate(job)
		job.UpdatedAt = time.Now().UTC()
		updated, err := marshalJob(job)
		if err != nil {
			return err
		}
		return jb.Put([]byte(jobID), updated)
	})
}

// sweepOrphanedRunning reclaims jobs left in StatusRunning by an unclean
// shutdown of a prior process, transitioning them straight to failed.
func (s *Store) sweepOrphanedRunning() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		jb := tx.Bucket(bucketJobs)
		return jb.ForEach(func(k, v []byte) error {
			job, err := unmarshalJob(v)
			if err != nil {
				return err
			}
			if job.Status != StatusRunning {
				return nil
			}
			job.Status = StatusFailed
			job.ErrorMessage = "worker crashed"
			job.OutputKey = ""
			job.UpdatedAt = time.Now().UTC()
			updated, err := marshalJob(job)
			if err != nil {
				return err
			}
			return jb.Put(k, updated)
		})
	})
}

// claimIndexKey produces a lexicographically sortable key so the
// jobs_by_created bucket's cursor visits rows in created_at ascending
// order without a full scan of the jobs bucket.
func claimIndexKey(createdAt time.Time, jobID string) []byte {
	return []byte(fmt.Sprintf("%020d:%s", createdAt.UnixNano(), jobID))
}
