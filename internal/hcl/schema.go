package hcl

import (
	"github.com/hashicorp/hcl/v2"
)

// fileRoot decodes the top-level blocks of any definitions file.
type fileRoot struct {
	Pipelines []*pipelineBlock `hcl:"pipeline,block"`
	Triggers  []*triggerBlock  `hcl:"trigger,block"`
}

type pipelineBlock struct {
	Name          string       `hcl:"name,label"`
	StopOnFailure *bool        `hcl:"stop_on_failure,optional"`
	Steps         []*stepBlock `hcl:"step,block"`
	DefRange      hcl.Range    `hcl:",def_range"`
}

type stepBlock struct {
	Handler     string          `hcl:"handler,label"`
	Name        string          `hcl:"name,label"`
	Description *string         `hcl:"description,optional"`
	DependsOn   []string        `hcl:"depends_on,optional"`
	Condition   hcl.Expression  `hcl:"condition,optional"`
	Arguments   *argumentsBlock `hcl:"arguments,block"`
	DefRange    hcl.Range       `hcl:",def_range"`
}

type argumentsBlock struct {
	Body hcl.Body `hcl:",remain"`
}

type triggerBlock struct {
	Kind     string    `hcl:"kind,label"`
	ID       string    `hcl:"id,label"`
	Pipeline string    `hcl:"pipeline"`
	Body     hcl.Body  `hcl:",remain"`
	DefRange hcl.Range `hcl:",def_range"`
}

type cronBlock struct {
	Schedule string `hcl:"schedule"`
}

type fileBlock struct {
	Path              string   `hcl:"path"`
	Patterns          []string `hcl:"patterns,optional"`
	Recursive         *bool    `hcl:"recursive,optional"`
	WatchCreation     *bool    `hcl:"watch_creation,optional"`
	WatchModification *bool    `hcl:"watch_modification,optional"`
	Debounce          *string  `hcl:"debounce,optional"`
}

type webhookBlock struct {
	Endpoint  string `hcl:"endpoint"`
	QueueSize *int   `hcl:"queue_size,optional"`
}
