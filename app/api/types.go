package api

import (
	"github.com/mlevkov/feedcore/app/engine"
)

type Handler struct {
	engine  *engine.Engine
	version string
}

func NewHandler(e *engine.Engine, version string) *Handler {
	return &Handler{
		engine:  e,
		version: version,
	}
}
