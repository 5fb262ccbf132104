package handler

import (
	"time"

	"github.com/set-night/progressmate/internal/repository"
	"github.com/set-night/progressmate/internal/service"
)

type ErrorReporter = service.ErrorReporter

// Handler turns platform commands into session lifecycle calls and
// user-facing replies.
type Handler struct {
	sessions      *service.SessionService
	store         repository.Store
	tasks         *service.TaskRunner
	reporter      ErrorReporter
	threadMention func(threadID string) string
	now           func() time.Time
}

// Deps contains all dependencies required to construct a Handler.
type Deps struct {
	Sessions *service.SessionService
	Store    repository.Store
	Tasks    *service.TaskRunner
	Reporter ErrorReporter // optional
	// ThreadMention renders a clickable thread reference; nil omits it.
	ThreadMention func(threadID string) string
	Now           func() time.Time // defaults to time.Now
}

// New creates a new Handler from the provided dependencies.
func New(deps Deps) *Handler {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		sessions:      deps.Sessions,
		store:         deps.Store,
		tasks:         deps.Tasks,
		reporter:      deps.Reporter,
		threadMention: deps.ThreadMention,
		now:           now,
	}
}

func (h *Handler) report(err error, context string) {
	if h.reporter != nil {
		h.reporter.LogError(err, context)
	}
}

func (h *Handler) mention(threadID string) string {
	if h.threadMention == nil || threadID == "" {
		return ""
	}
	return h.threadMention(threadID)
}
