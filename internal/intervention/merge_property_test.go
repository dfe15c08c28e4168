package intervention

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/xela07ax/intervention-gateway/internal/domain"
)

func genCandidate() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(int(domain.ActionAllow), int(domain.ActionAbort)),
		gen.OneConstOf(0, 301, 302, 403, 406),
		gen.OneConstOf("/a", "/b", "/blocked"),
		gen.OneConstOf("", "ruleA matched", "ruleB matched", "sqli"),
		gen.Int64Range(-10, 5000),
	).Map(func(v []interface{}) domain.Candidate {
		return domain.Candidate{
			Action:  domain.Action(v[0].(int)),
			Status:  v[1].(int),
			URL:     v[2].(string),
			Log:     v[3].(string),
			PauseMs: v[4].(int64),
		}
	})
}

func foldAll(cs []domain.Candidate) (domain.Intervention, *Budget, bool) {
	b := NewBudget(0)
	m := NewManager(b, DefaultOptions(), nil)
	h, err := m.Create()
	if err != nil {
		return domain.Intervention{}, b, false
	}
	for _, c := range cs {
		if _, err := m.Merge(h, c); err != nil {
			return domain.Intervention{}, b, false
		}
	}
	iv, err := m.Finalize(h)
	m.Release(h)
	return iv, b, err == nil
}

func expectedStatus(c domain.Candidate) int {
	if c.Status != 0 {
		return c.Status
	}
	if c.Action == domain.ActionAbort {
		return domain.DefaultAbortStatus
	}
	return domain.DefaultRedirectStatus
}

func TestMergeProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("action and status follow precedence, ties by first arrival", prop.ForAll(
		func(cs []domain.Candidate) bool {
			iv, _, ok := foldAll(cs)
			if !ok {
				return false
			}
			best := domain.ActionAllow
			status := domain.StatusClean
			for _, c := range cs {
				if c.Action.Outranks(best) {
					best = c.Action
					status = expectedStatus(c)
				}
			}
			return iv.Action() == best && iv.Status() == status
		},
		gen.SliceOf(genCandidate()),
	))

	properties.Property("first redirect url wins unless aborted", prop.ForAll(
		func(cs []domain.Candidate) bool {
			iv, _, ok := foldAll(cs)
			if !ok {
				return false
			}
			firstURL, sawRedirect, sawAbort := "", false, false
			for _, c := range cs {
				switch c.Action {
				case domain.ActionAbort:
					sawAbort = true
				case domain.ActionRedirect:
					if !sawRedirect {
						firstURL, sawRedirect = c.URL, true
					}
				}
			}
			url, has := iv.URL()
			if sawAbort || !sawRedirect {
				return !has
			}
			return has && url == firstURL
		},
		gen.SliceOf(genCandidate()),
	))

	properties.Property("pause is the maximum requested", prop.ForAll(
		func(cs []domain.Candidate) bool {
			iv, _, ok := foldAll(cs)
			if !ok {
				return false
			}
			var max int64
			for _, c := range cs {
				if c.PauseMs > max {
					max = c.PauseMs
				}
			}
			return iv.PauseMs() == max
		},
		gen.SliceOf(genCandidate()),
	))

	properties.Property("log keeps every message once in merge order", prop.ForAll(
		func(cs []domain.Candidate) bool {
			iv, _, ok := foldAll(cs)
			if !ok {
				return false
			}
			var msgs []string
			for _, c := range cs {
				if c.Log != "" {
					msgs = append(msgs, c.Log)
				}
			}
			log, has := iv.Log()
			if len(msgs) == 0 {
				return !has
			}
			return has && log == strings.Join(msgs, domain.LogDelimiter)
		},
		gen.SliceOf(genCandidate()),
	))

	properties.Property("release returns every reserved byte exactly once", prop.ForAll(
		func(cs []domain.Candidate) bool {
			_, b, ok := foldAll(cs)
			return ok && b.Used() == 0 && b.Underflows() == 0
		},
		gen.SliceOf(genCandidate()),
	))

	properties.TestingRun(t)
}
