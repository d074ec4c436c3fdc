package student

import (
	"context"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/g4mless/mykelas-web/core"
	"github.com/g4mless/mykelas-web/core/klasapi"
)

const (
	suggestMinQuery = 2
	suggestMax      = 5
)

// Suggest returns up to five students whose name contains query (case-insensitive), the
// closest matches first. Queries shorter than two characters match nothing.
func Suggest(students []klasapi.Student, query string) []klasapi.Student {
	q := core.CleanString(query, true)
	if len([]rune(q)) < suggestMinQuery {
		return nil
	}

	type scored struct {
		student klasapi.Student
		ratio   float64
	}
	var matches []scored
	for _, st := range students {
		name := strings.ToLower(st.Name)
		if !strings.Contains(name, q) {
			continue
		}
		m := difflib.NewMatcher(strings.Split(q, ""), strings.Split(name, ""))
		matches = append(matches, scored{st, m.Ratio()})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].ratio > matches[j].ratio })

	if len(matches) > suggestMax {
		matches = matches[:suggestMax]
	}
	out := make([]klasapi.Student, len(matches))
	for i, m := range matches {
		out[i] = m.student
	}
	return out
}

// Suggestions fetches the student list and ranks it against query.
func (c *Cache) Suggestions(ctx context.Context, query string) ([]klasapi.Student, error) {
	snap := c.sessions.Current()
	if snap.Session == nil {
		return nil, core.ErrNoSession
	}
	students, err := c.api.FetchStudents(ctx, snap.AccessToken())
	if err != nil {
		return nil, err
	}
	return Suggest(students, query), nil
}
