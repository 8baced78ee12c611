package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kickoff/internal/engine"
	"kickoff/internal/odoo"
	"kickoff/internal/odoo/odootest"
)

func TestTagResolverIsIdempotentByName(t *testing.T) {
	ctx := context.Background()
	fake := odootest.New(1)
	r := engine.NewTagResolver(fake, zap.NewNop())

	ids, warnings := r.ResolveOrCreate(ctx, []string{"Finans", "", "  ", "Finans", "setup"})
	require.Empty(t, warnings)
	assert.Equal(t, []int64{1, 2}, ids)

	again, _ := engine.NewTagResolver(fake, zap.NewNop()).ResolveOrCreate(ctx, []string{"setup", "Finans"})
	assert.Equal(t, []int64{2, 1}, again)
	assert.Equal(t, 2, fake.Count(odoo.ModelTag))
}

func TestTagResolverSkipsFailingTag(t *testing.T) {
	fake := odootest.New(1)
	fake.FailSearch = func(_ string, domain odoo.Domain) error {
		if domain[0].Value == "bozuk" {
			return errors.New("timeout")
		}
		return nil
	}
	r := engine.NewTagResolver(fake, zap.NewNop())

	ids, warnings := r.ResolveOrCreate(context.Background(), []string{"bozuk", "iyi"})
	assert.Equal(t, []int64{1}, ids)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], `Tag "bozuk" skipped: `)
}

func TestTagResolverRefetchesAfterCreateConflict(t *testing.T) {
	ctx := context.Background()
	fake := odootest.New(1)
	fake.FailCreate = func(model string, values odoo.Values) error {
		// Simulate a concurrent run winning the race for the same name.
		fake.FailCreate = nil
		_, _ = fake.Create(ctx, model, values)
		return errors.New("duplicate key value violates unique constraint")
	}
	r := engine.NewTagResolver(fake, zap.NewNop())

	ids, warnings := r.ResolveOrCreate(ctx, []string{"Finans"})
	assert.Empty(t, warnings)
	assert.Equal(t, []int64{1}, ids)
}

func TestTagResolverDisablesOnMissingModel(t *testing.T) {
	fake := odootest.New(1)
	fake.MissingModels = map[string]bool{odoo.ModelTag: true}
	r := engine.NewTagResolver(fake, zap.NewNop())

	ids, warnings := r.ResolveOrCreate(context.Background(), []string{"a", "b"})
	assert.Empty(t, ids)
	require.Len(t, warnings, 1)

	ids, warnings = r.ResolveOrCreate(context.Background(), []string{"c"})
	assert.Empty(t, ids)
	assert.Empty(t, warnings)
	assert.Len(t, fake.Calls(), 1)
}
