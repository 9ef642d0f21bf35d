package app

import (
	"github.com/vk/gridflow/internal/registry"
	"github.com/vk/gridflow/modules/env_vars"
	"github.com/vk/gridflow/modules/fail"
	"github.com/vk/gridflow/modules/http_request"
	"github.com/vk/gridflow/modules/print"
	"github.com/vk/gridflow/modules/s3"
	"github.com/vk/gridflow/modules/socketio"
	"github.com/vk/gridflow/modules/template"
)

// coreModules is the definitive list of all modules that are compiled into
// the gridflow binary.
var coreModules = []registry.Module{
	&env_vars.Module{},
	&print.Module{},
	&http_request.Module{},
	&template.Module{},
	&s3.Module{},
	&socketio.Module{},
	&fail.Module{},
}
