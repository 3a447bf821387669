package cmn

import (
	"os"

	"github.com/rs/zerolog"
)

// Base is the process-wide root logger. Every subsystem derives a named
// sub-logger from it via Component, mirroring the teacher's per-package
// glog.SmoduleXxx tagging (aistore's 3rdparty/glog is a vendored fork
// internal to that repo, not a fetchable module — see DESIGN.md).
var Base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
	With().Timestamp().Logger()

func SetLevel(lvl zerolog.Level) { zerolog.SetGlobalLevel(lvl) }

// Component returns a logger tagged with the owning subsystem's name, e.g.
// cmn.Component("router"), cmn.Component("accessor").
func Component(name string) zerolog.Logger {
	return Base.With().Str("component", name).Logger()
}
