package intervention

import (
	"github.com/xela07ax/intervention-gateway/internal/domain"
)

// record - изменяемое состояние записи. Снаружи видно только через Handle и domain.Intervention.
type record struct {
	action  domain.Action
	status  int
	url     string
	hasURL  bool
	log     string
	hasLog  bool
	pauseMs int64
}

func cleanRecord() record {
	return record{action: domain.ActionAllow, status: domain.StatusClean}
}

func (r record) snapshot() domain.Intervention {
	return domain.NewIntervention(r.action, r.status, r.url, r.hasURL, r.log, r.hasLog, r.pauseMs)
}

// normalize приводит кандидата к допустимому виду. Некорректные сочетания не ошибка:
// redirect без URL считается allow, URL у не-redirect игнорируется, отрицательная пауза = 0.
func normalize(c domain.Candidate, opts Options) domain.Candidate {
	if c.Action < domain.ActionAllow || c.Action > domain.ActionAbort {
		c.Action = domain.ActionAllow
	}
	if c.Action == domain.ActionRedirect && c.URL == "" {
		c.Action = domain.ActionAllow
	}
	if c.Action != domain.ActionRedirect {
		c.URL = ""
	}
	if c.PauseMs < 0 {
		c.PauseMs = 0
	}
	if c.Action.Disruptive() && !validStatus(c.Status) {
		switch c.Action {
		case domain.ActionAbort:
			c.Status = opts.DefaultAbortStatus
		case domain.ActionRedirect:
			c.Status = opts.DefaultRedirectStatus
		}
	}
	return c
}

// net/http принимает коды только из этого диапазона.
func validStatus(code int) bool { return code >= 100 && code <= 999 }

// fold - чистая функция слияния: текущая запись + кандидат -> новая запись.
//
// Приоритет: abort > redirect > allow, понижения нет. При равном приоритете
// status/url остаются за первым (first-writer-wins). Лог копится в порядке слияния,
// пауза - максимум.
func fold(cur record, c domain.Candidate, opts Options) record {
	c = normalize(c, opts)
	next := cur

	if c.Action.Outranks(cur.action) {
		next.action = c.Action
		next.status = c.Status
		if c.Action == domain.ActionRedirect {
			next.url, next.hasURL = c.URL, true
		} else {
			next.url, next.hasURL = "", false
		}
	}

	if c.Log != "" {
		if next.hasLog {
			next.log = cur.log + domain.LogDelimiter + c.Log
		} else {
			next.log, next.hasLog = c.Log, true
		}
	}

	if c.PauseMs > next.pauseMs {
		next.pauseMs = c.PauseMs
	}
	return next
}

// owned - сколько байт строк владеет запись.
func (r record) ownedURL() int {
	if !r.hasURL {
		return 0
	}
	return len(r.url)
}

func (r record) ownedLog() int {
	if !r.hasLog {
		return 0
	}
	return len(r.log)
}
