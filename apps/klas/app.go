package main

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/g4mless/mykelas-web/core"
	"github.com/g4mless/mykelas-web/core/klasapi"
	"github.com/g4mless/mykelas-web/core/session"
	"github.com/g4mless/mykelas-web/core/student"
	"github.com/g4mless/mykelas-web/core/teacher"
	"github.com/g4mless/mykelas-web/core/theme"
)

type appDeps struct {
	Conf     *core.Config
	Logger   core.Logger
	Storage  core.Storage
	Provider session.Provider
	API      *klasapi.Client // built from Conf when nil
}

// app holds every store of a running client. It is built once in main; nothing in it is global.
type app struct {
	conf   *core.Config
	logger core.Logger

	api          *klasapi.Client
	sessions     *session.Store
	students     *student.Cache
	teacherStore *teacher.Store
	teachers     *teacher.Service
	themes       *theme.Store

	watchOnce sync.Once
	stopWatch func()
}

func newApp(ctx context.Context, deps appDeps) (*app, error) {
	api := deps.API
	if api == nil {
		api = klasapi.New(deps.Conf.API.BaseURL)
	}

	sessions := session.NewStore(deps.Provider, deps.Storage, deps.Logger)
	if err := sessions.Init(ctx); err != nil {
		sessions.Close()
		return nil, errors.Wrap(err, "restoring session")
	}

	teacherStore := teacher.NewStore(deps.Storage, deps.Logger)
	if err := teacherStore.Init(ctx); err != nil {
		sessions.Close()
		return nil, err
	}

	themes := theme.NewStore(deps.Storage)
	if err := themes.Init(ctx); err != nil {
		sessions.Close()
		return nil, err
	}

	var cacheOpts []student.Option
	if deps.Conf.AvatarSize > 0 {
		cacheOpts = append(cacheOpts, student.WithAvatarSize(deps.Conf.AvatarSize))
	}

	return &app{
		conf:         deps.Conf,
		logger:       deps.Logger,
		api:          api,
		sessions:     sessions,
		students:     student.NewCache(api, sessions, deps.Logger, cacheOpts...),
		teacherStore: teacherStore,
		teachers:     teacher.NewService(api, sessions, teacherStore, deps.Logger),
		themes:       themes,
	}, nil
}

// watchStudent makes the student cache follow the session from now on. Teacher commands
// never call it, so they never fetch the student list.
func (a *app) watchStudent(ctx context.Context) {
	a.watchOnce.Do(func() {
		a.stopWatch = a.students.Watch(ctx)
	})
}

func (a *app) Close() {
	if a.stopWatch != nil {
		a.stopWatch()
	}
	a.sessions.Close()
}
