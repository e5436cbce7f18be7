package observability

import (
	"github.com/danmuck/wirechan/internal/logging"
	"github.com/rs/zerolog"
)

// InitLogger configures runtime logging and returns a logger tagged with app.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	return logging.Component(app).With().Str("app", app).Logger()
}
