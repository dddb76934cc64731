package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/FCisco95/organic-app-sub000/internal/clock"
	"github.com/FCisco95/organic-app-sub000/internal/config"
	"github.com/FCisco95/organic-app-sub000/internal/engine/auth"
	"github.com/FCisco95/organic-app-sub000/internal/events"
	"github.com/FCisco95/organic-app-sub000/internal/repo"
	"github.com/FCisco95/organic-app-sub000/internal/telemetry"
)

// SystemActor is recorded for operations nobody invoked directly, such as
// the background SLA sweep.
const SystemActor = "system"

// Engine owns every state transition. It is a value type; callers build one
// per request with the config they loaded for that request.
type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Auth    auth.Service
	Config  *config.Config
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *telemetry.Instruments
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:      db,
		Repo:    r,
		Events:  events.Writer{DB: db},
		Auth:    auth.Service{Repo: r},
		Config:  cfg,
		Clock:   clock.System{},
		Logger:  slog.Default(),
		Metrics: telemetry.NewInstruments(),
	}
}

// now is truncated to the stored precision so that values returned to
// callers match what a later read returns.
func (e Engine) now() time.Time {
	var t time.Time
	if e.Clock != nil {
		t = e.Clock.Now()
	} else {
		t = time.Now()
	}
	return t.UTC().Truncate(time.Millisecond)
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) config() (*config.Config, error) {
	if e.Config == nil {
		return nil, errors.New("config not loaded")
	}
	return e.Config, nil
}

func (e Engine) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return tx, nil
}

func (e Engine) emit(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	w.Now = e.now
	return w.Append(ctx, tx, evtType, entityKind, entityID, actorID, payload)
}

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func strRef(s string) *string {
	return &s
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
