package ingest

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/aulacast/aulacast/internal/moodle"
)

// DefaultCoursesCacheTTL is how long the remote course list stays warm.
const DefaultCoursesCacheTTL = 5 * time.Minute

const coursesCacheKey = "courses"

// courseFinder is the slice of the LMS client the resolver needs.
type courseFinder interface {
	GetAllCourses(ctx context.Context) ([]moodle.Course, error)
	GetCoursesByField(ctx context.Context, field, value string) ([]moodle.Course, error)
	SearchCourses(ctx context.Context, query string) ([]moodle.Course, error)
}

// Resolver maps a meeting topic to a numeric course id by interrogating the
// LMS with progressively looser queries.
type Resolver struct {
	lms             courseFinder
	cache           *expirable.LRU[string, []moodle.Course]
	defaultCourseID int64
}

// NewResolver builds a resolver. defaultCourseID 0 means no fallback course.
func NewResolver(lms courseFinder, defaultCourseID int64, cacheTTL time.Duration) *Resolver {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCoursesCacheTTL
	}
	return &Resolver{
		lms:             lms,
		cache:           expirable.NewLRU[string, []moodle.Course](1, nil, cacheTTL),
		defaultCourseID: defaultCourseID,
	}
}

// Resolve tries the topic as-is, then its normalized variants, then
// right-truncations, and finally the configured default. ErrNoCourseResolved
// when everything comes up empty.
func (r *Resolver) Resolve(ctx context.Context, topic string) (int64, error) {
	for _, candidate := range candidates(topic) {
		if id, ok := r.lookup(ctx, candidate); ok {
			if candidate != topic {
				slog.Info("resolver: matched via variant", "topic", topic, "variant", candidate, "course", id)
			}
			return id, nil
		}
	}

	if r.defaultCourseID > 0 {
		slog.Warn("resolver: falling back to default course", "topic", topic, "course", r.defaultCourseID)
		return r.defaultCourseID, nil
	}

	return 0, ErrNoCourseResolved
}

// lookup runs the four-step query ladder for one candidate string.
func (r *Resolver) lookup(ctx context.Context, name string) (int64, bool) {
	if course, ok := r.matchKnownCourses(ctx, name); ok {
		return course, true
	}

	if id, ok := r.firstByField(ctx, "fullname", name); ok {
		return id, true
	}
	if id, ok := r.firstByField(ctx, "shortname", name); ok {
		return id, true
	}

	courses, err := r.lms.SearchCourses(ctx, name)
	if err != nil {
		slog.Warn("resolver: search failed", "query", name, "error", err)
		return 0, false
	}
	if len(courses) > 0 {
		return courses[0].ID, true
	}
	return 0, false
}

// matchKnownCourses compares against the cached full course list.
func (r *Resolver) matchKnownCourses(ctx context.Context, name string) (int64, bool) {
	courses, ok := r.cache.Get(coursesCacheKey)
	if !ok {
		var err error
		courses, err = r.lms.GetAllCourses(ctx)
		if err != nil {
			slog.Warn("resolver: course list fetch failed", "error", err)
			return 0, false
		}
		r.cache.Add(coursesCacheKey, courses)
	}

	for _, c := range courses {
		if strings.EqualFold(strings.TrimSpace(c.Fullname), name) ||
			strings.EqualFold(strings.TrimSpace(c.Displayname), name) {
			return c.ID, true
		}
	}
	return 0, false
}

func (r *Resolver) firstByField(ctx context.Context, field, value string) (int64, bool) {
	courses, err := r.lms.GetCoursesByField(ctx, field, value)
	if err != nil {
		slog.Warn("resolver: field lookup failed", "field", field, "value", value, "error", err)
		return 0, false
	}
	if len(courses) > 0 {
		return courses[0].ID, true
	}
	return 0, false
}

var (
	trailingGroupPattern = regexp.MustCompile(`\s*[(\[][^)\]]*[)\]]\s*$`)
	uppercaseTailPattern = regexp.MustCompile(`\s+[A-Z]{1,3}$`)
	topicSeparatorCutset = "-–—:|"
)

// candidates yields the topic, its normalized variants and its progressive
// right-truncations, deduplicated in order.
func candidates(topic string) []string {
	topic = strings.TrimSpace(topic)

	out := make([]string, 0, 8)
	seen := make(map[string]struct{}, 8)
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		key := strings.ToLower(s)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}

	add(topic)

	// a. trailing parenthetical or bracketed group
	add(trailingGroupPattern.ReplaceAllString(topic, ""))

	// b. left segment before the first separator
	if idx := strings.IndexAny(topic, topicSeparatorCutset); idx > 0 {
		add(topic[:idx])
	}

	// c. trailing 1-3 letter uppercase suffix
	add(uppercaseTailPattern.ReplaceAllString(topic, ""))

	// progressive right-truncation, keeping at least two words
	words := strings.Fields(topic)
	for drop := 1; drop <= 3; drop++ {
		if len(words)-drop < 2 {
			break
		}
		add(strings.Join(words[:len(words)-drop], " "))
	}

	return out
}
