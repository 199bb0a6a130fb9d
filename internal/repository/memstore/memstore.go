// Package memstore is an in-process implementation of the repository
// contracts. Every conditional write takes the single store mutex, so it gives
// the same at-most-once guarantees as the Postgres stores inside one process.
package memstore

import (
	"sync"
	"time"

	"collabhub/internal/model"
)

type User struct {
	ID    int64
	OrgID int64
	Name  string
	Email string
	Role  string
}

type Project struct {
	ID           int64
	OrgID        int64
	OwnerID      *int64
	Title        string
	DueDate      *time.Time
	Progress     int
	Status       string
	Stakeholders []int64
}

type Task struct {
	ID         int64
	ProjectID  int64
	AssigneeID *int64
	Title      string
	DueDate    *time.Time
	Progress   int
	Status     string
}

// DB holds every table. Sub-stores share it and its lock.
type DB struct {
	mu sync.Mutex

	users    map[int64]User
	projects map[int64]Project
	tasks    map[int64]Task

	rules   map[int64]model.EscalationRule
	logs    []*model.EscalationLog
	states  map[stateKey]model.RuleState
	reports map[int64]*model.ProgressReport

	seq int64
	now func() time.Time
}

type stateKey struct {
	ruleID int64
	kind   model.EntityKind
	id     int64
}

func New() *DB {
	return &DB{
		users:    make(map[int64]User),
		projects: make(map[int64]Project),
		tasks:    make(map[int64]Task),
		rules:    make(map[int64]model.EscalationRule),
		states:   make(map[stateKey]model.RuleState),
		reports:  make(map[int64]*model.ProgressReport),
		now:      time.Now,
	}
}

// WithClock sets the clock used for created_at / updated_at stamps.
func (db *DB) WithClock(now func() time.Time) *DB {
	db.now = now
	return db
}

func (db *DB) nextID() int64 {
	db.seq++
	return db.seq
}

// claim returns id, or a fresh one when id is zero. Explicit ids advance the
// sequence so later inserts never collide with them.
func (db *DB) claim(id int64) int64 {
	if id == 0 {
		return db.nextID()
	}
	if id > db.seq {
		db.seq = id
	}
	return id
}

// PutUser inserts or replaces a user. A zero ID is assigned.
func (db *DB) PutUser(u User) User {
	db.mu.Lock()
	defer db.mu.Unlock()
	u.ID = db.claim(u.ID)
	db.users[u.ID] = u
	return u
}

// PutProject inserts or replaces a project. A zero ID is assigned.
func (db *DB) PutProject(p Project) Project {
	db.mu.Lock()
	defer db.mu.Unlock()
	p.ID = db.claim(p.ID)
	if p.Status == "" {
		p.Status = "active"
	}
	db.projects[p.ID] = p
	return p
}

// PutTask inserts or replaces a task. A zero ID is assigned.
func (db *DB) PutTask(t Task) Task {
	db.mu.Lock()
	defer db.mu.Unlock()
	t.ID = db.claim(t.ID)
	if t.Status == "" {
		t.Status = "todo"
	}
	db.tasks[t.ID] = t
	return t
}

// Task returns a copy of the stored task.
func (db *DB) Task(id int64) (Task, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.tasks[id]
	return t, ok
}

// SetTaskProgress edits a task the way the surrounding application would.
func (db *DB) SetTaskProgress(id int64, progress int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if t, ok := db.tasks[id]; ok {
		t.Progress = progress
		db.tasks[id] = t
	}
}

func (db *DB) Rules() *RuleStore { return &RuleStore{db: db} }
func (db *DB) Logs() *LogStore { return &LogStore{db: db} }
func (db *DB) States() *StateStore { return &StateStore{db: db} }
func (db *DB) Entities() *EntityStore { return &EntityStore{db: db} }
func (db *DB) Directory() *DirectoryStore { return &DirectoryStore{db: db} }
func (db *DB) Reports() *ReportStore { return &ReportStore{db: db} }

func taskCompleted(status string) bool {
	return status == "done" || status == "completed"
}

func projectCompleted(status string) bool {
	return status == "completed" || status == "archived"
}
