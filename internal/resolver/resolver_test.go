package resolver_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/scanwell/taskledger/internal/domain"
	"github.com/scanwell/taskledger/internal/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRegistry is an in-memory ComponentRegistry keyed exactly like the
// durable registry.
type fakeRegistry struct {
	components map[string]*resolver.Component
	err        error
}

func (f *fakeRegistry) LookupByKey(ctx context.Context, key string) (*resolver.Component, error) {
	if f.err != nil {
		return nil, f.err
	}
	if c, ok := f.components[key]; ok {
		return c, nil
	}
	return nil, resolver.ErrUnresolved
}

func chars(kv map[string]string) domain.Characteristics {
	id := uuid.New()
	var cs domain.Characteristics
	for k, v := range kv {
		cs = append(cs, domain.Characteristic{TaskID: id, Key: k, Value: v})
	}
	return cs
}

func TestKey(t *testing.T) {
	tests := []struct {
		name string
		ref  string
		cs   map[string]string
		want string
	}{
		{name: "main branch", ref: "proj1", cs: nil, want: "proj1"},
		{name: "branch", ref: "proj1", cs: map[string]string{"branch": "featureX"}, want: "proj1:BRANCH:featureX"},
		{
			name: "pull request wins over branch",
			ref:  "proj1",
			cs:   map[string]string{"branch": "featureX", "pullRequest": "42"},
			want: "proj1:PULL_REQUEST:42",
		},
		{
			name: "branch type alone does not change the key",
			ref:  "proj1",
			cs:   map[string]string{"branchType": "SHORT"},
			want: "proj1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolver.Key(tt.ref, chars(tt.cs)))
		})
	}
}

func TestResolve(t *testing.T) {
	reg := &fakeRegistry{components: map[string]*resolver.Component{
		"proj1":                 {ID: "comp-main", RootID: "comp-main"},
		"proj1:BRANCH:featureX": {ID: "comp-branch", RootID: "comp-main"},
	}}
	r := resolver.New(reg)

	t.Run("main branch resolves to itself", func(t *testing.T) {
		res, err := r.Resolve(context.Background(), "proj1", nil)
		require.NoError(t, err)
		assert.Equal(t, "comp-main", res.TargetID)
		assert.Equal(t, "comp-main", res.MainTargetID)
	})

	t.Run("branch resolves to branch component and its root", func(t *testing.T) {
		res, err := r.Resolve(context.Background(), "proj1", chars(map[string]string{"branch": "featureX"}))
		require.NoError(t, err)
		assert.Equal(t, "comp-branch", res.TargetID)
		assert.Equal(t, "comp-main", res.MainTargetID)
	})

	t.Run("unresolved branch task returns ErrUnresolved", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), "proj1", chars(map[string]string{"branch": "gone"}))
		assert.ErrorIs(t, err, resolver.ErrUnresolved)
	})

	t.Run("unresolved task without branch characteristics keeps its ref verbatim", func(t *testing.T) {
		res, err := r.Resolve(context.Background(), "legacy-project", nil)
		require.NoError(t, err)
		assert.Equal(t, "legacy-project", res.TargetID)
		assert.Equal(t, "legacy-project", res.MainTargetID)
	})

	t.Run("registry failure propagates", func(t *testing.T) {
		boom := errors.New("registry down")
		r := resolver.New(&fakeRegistry{err: boom})
		_, err := r.Resolve(context.Background(), "proj1", nil)
		assert.ErrorIs(t, err, boom)
	})
}
