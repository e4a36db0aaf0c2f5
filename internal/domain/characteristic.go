package domain

import "github.com/google/uuid"

// Characteristic keys that tie a task to a branch or pull request.
// A task carrying any of these is a branch/PR analysis; a task carrying
// none is treated as a main-branch analysis.
const (
	CharacteristicBranch      = "branch"
	CharacteristicBranchType  = "branchType"
	CharacteristicPullRequest = "pullRequest"
)

// Characteristic is an immutable key/value tag attached to a task at
// submission time. It disambiguates which logical target the task belongs
// to before that target has a durable identity.
type Characteristic struct {
	TaskID uuid.UUID
	Key    string
	Value  string
}

// NewCharacteristic creates a characteristic for the given task.
func NewCharacteristic(taskID uuid.UUID, key, value string) (*Characteristic, error) {
	if taskID == uuid.Nil {
		return nil, ErrTaskIDEmpty
	}
	if key == "" {
		return nil, ErrCharacteristicKeyEmpty
	}
	return &Characteristic{TaskID: taskID, Key: key, Value: value}, nil
}

// Characteristics is a set of tags belonging to one task.
type Characteristics []Characteristic

// Get returns the value for key and whether it was present.
func (cs Characteristics) Get(key string) (string, bool) {
	for _, c := range cs {
		if c.Key == key {
			return c.Value, true
		}
	}
	return "", false
}

// HasBranchOrPull reports whether the set carries at least one branch or
// pull request tag. Records without any are legitimate main-branch
// history and must never be pruned by the orphan reaper.
func (cs Characteristics) HasBranchOrPull() bool {
	for _, c := range cs {
		switch c.Key {
		case CharacteristicBranch, CharacteristicBranchType, CharacteristicPullRequest:
			return true
		}
	}
	return false
}
