//go:build !devbypass

package httpserver

import (
	"github.com/go-chi/chi/v5"

	"github.com/lucidlens/server/internal/config"
)

// Release builds never mount the payment bypass.
func mountDevBypass(chi.Router, *config.Config, string, handlers) {}

func devBypassMounted(*config.Config) bool { return false }
