//go:build gohome_plugin_electrasmart

package plugins

import (
	"github.com/joshp123/gohome-electra/internal/config"
	"github.com/joshp123/gohome-electra/internal/core"
	"github.com/joshp123/gohome-electra/plugins/electrasmart"
)

func init() {
	Register(func(cfg *config.Config, host core.Host) (core.Plugin, bool) {
		return electrasmart.NewPlugin(cfg, host)
	})
}
