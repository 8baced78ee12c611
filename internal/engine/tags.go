package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"kickoff/internal/odoo"
)

// TagResolver maps tag names to project.tags ids, creating missing tags.
// It lives for one deployment run and is not safe for concurrent use.
type TagResolver struct {
	client   odoo.Client
	logger   *zap.Logger
	cache    map[string]int64
	disabled bool
}

func NewTagResolver(client odoo.Client, logger *zap.Logger) *TagResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TagResolver{client: client, logger: logger, cache: map[string]int64{}}
}

// ResolveOrCreate returns the ids it managed to resolve plus one warning per
// tag it had to skip. Failures never abort the caller.
func (r *TagResolver) ResolveOrCreate(ctx context.Context, names []string) ([]int64, []string) {
	var (
		ids      []int64
		warnings []string
		seen     = map[string]bool{}
	)
	for _, raw := range names {
		if r.disabled {
			break
		}
		name := strings.TrimSpace(raw)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if id, ok := r.cache[name]; ok {
			ids = append(ids, id)
			continue
		}
		id, err := r.resolve(ctx, name)
		if err != nil {
			if odoo.IsModelMissing(err) {
				r.disabled = true
				r.logger.Warn("tag model unavailable, skipping tags", zap.Error(err))
				warnings = append(warnings, fmt.Sprintf("Tag model unavailable, tags skipped: %v", err))
				break
			}
			r.logger.Warn("tag skipped", zap.String("tag", name), zap.Error(err))
			warnings = append(warnings, fmt.Sprintf("Tag %q skipped: %v", name, err))
			continue
		}
		r.cache[name] = id
		ids = append(ids, id)
	}
	return ids, warnings
}

func (r *TagResolver) resolve(ctx context.Context, name string) (int64, error) {
	if id, found, err := r.lookup(ctx, name); err != nil || found {
		return id, err
	}
	id, err := odoo.CreateRecord(ctx, r.client, odoo.TagFields{Name: name})
	if err == nil {
		return id, nil
	}
	if odoo.IsModelMissing(err) {
		return 0, err
	}
	// Another run may have created the same tag in between.
	if id, found, lookupErr := r.lookup(ctx, name); lookupErr == nil && found {
		return id, nil
	}
	return 0, err
}

func (r *TagResolver) lookup(ctx context.Context, name string) (int64, bool, error) {
	ids, err := r.client.Search(ctx, odoo.ModelTag, odoo.Domain{odoo.Eq("name", name)})
	if err != nil {
		return 0, false, err
	}
	if len(ids) == 0 {
		return 0, false, nil
	}
	return ids[0], true, nil
}
