// Package rules holds the set of active limit-times rules. Readers take an
// immutable Snapshot; writers swap in a whole new rule set.
package rules

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"rule-persistence/internal/models"
	"rule-persistence/internal/util"
)

var (
	ErrEmptyRuleName = errors.New("rule name must not be empty")
	ErrDuplicateRule = errors.New("duplicate rule name")
	ErrMalformedRule = errors.New("malformed rule definition")
)

// Snapshot is a read-only view of the registry at one point in time.
type Snapshot struct {
	version uint64
	rules   []models.Rule
	byName  map[string]int
}

// Rules returns a copy of the rules, ordered by Order then Name.
func (s *Snapshot) Rules() []models.Rule {
	out := make([]models.Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

func (s *Snapshot) Len() int {
	return len(s.rules)
}

func (s *Snapshot) Version() uint64 {
	return s.version
}

func (s *Snapshot) Get(name string) (models.Rule, bool) {
	i, ok := s.byName[name]
	if !ok {
		return models.Rule{}, false
	}
	return s.rules[i], true
}

// Registry is safe for concurrent use. Replace never mutates a snapshot that
// has already been handed out.
type Registry struct {
	current atomic.Pointer[Snapshot]
	version atomic.Uint64
}

func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(&Snapshot{byName: map[string]int{}})
	return r
}

// Snapshot returns the current rule set.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

func (r *Registry) Get(name string) (models.Rule, bool) {
	return r.Snapshot().Get(name)
}

// Replace validates rules and installs them as the new snapshot. On error the
// previous snapshot stays in place.
func (r *Registry) Replace(rules []models.Rule) error {
	if err := Validate(rules); err != nil {
		return err
	}

	sorted := make([]models.Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Order != sorted[j].Order {
			return sorted[i].Order < sorted[j].Order
		}
		return sorted[i].Name < sorted[j].Name
	})

	byName := make(map[string]int, len(sorted))
	for i, rule := range sorted {
		byName[rule.Name] = i
	}

	r.current.Store(&Snapshot{
		version: r.version.Add(1),
		rules:   sorted,
		byName:  byName,
	})
	return nil
}

// Validate checks registry-level constraints. Span validity is checked per
// rule at tick time so one bad span cannot block the others.
func Validate(rules []models.Rule) error {
	seen := make(map[string]struct{}, len(rules))
	for i, rule := range rules {
		if strings.TrimSpace(rule.Name) == "" {
			return fmt.Errorf("%w: rule #%d", ErrEmptyRuleName, i)
		}
		if _, dup := seen[rule.Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.Name)
		}
		seen[rule.Name] = struct{}{}
	}
	return nil
}

// ParseRules reads the RULES format: comma separated name:span[:cap] entries.
// Order follows position in the list.
func ParseRules(raw string) ([]models.Rule, error) {
	var out []models.Rule
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.Split(entry, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("%w: %q", ErrMalformedRule, entry)
		}

		span, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("%w: span of %q: %v", ErrMalformedRule, entry, err)
		}

		rule := models.Rule{
			Name:                 strings.TrimSpace(parts[0]),
			StatisticSpanSeconds: span,
			Order:                len(out),
		}
		if len(parts) == 3 {
			if rule.TimesCap, err = strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64); err != nil {
				return nil, fmt.Errorf("%w: cap of %q: %v", ErrMalformedRule, entry, err)
			}
		}
		out = append(out, rule)
	}
	return out, nil
}

// Source lists rules from durable storage.
type Source interface {
	ListRules(ctx context.Context) ([]models.Rule, error)
}

// Reload replaces the registry contents with what src returns.
func (r *Registry) Reload(ctx context.Context, src Source) error {
	loaded, err := src.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	if err := r.Replace(loaded); err != nil {
		return fmt.Errorf("rejected rule set: %w", err)
	}

	util.Info("Rule registry reloaded",
		util.Int("rules", len(loaded)),
		util.Int64("version", int64(r.Snapshot().Version())))
	return nil
}

// Watch reloads from src every interval until ctx is done. A failed reload
// keeps serving the last good snapshot. A non-positive interval disables
// refreshing.
func (r *Registry) Watch(ctx context.Context, src Source, every time.Duration) {
	if every <= 0 {
		util.Warn("Rule registry refresh disabled, interval must be positive",
			util.Duration("interval", every))
		return
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Reload(ctx, src); err != nil {
				util.Warn("Rule registry reload failed, keeping previous rules", util.ErrorField(err))
			}
		}
	}
}
