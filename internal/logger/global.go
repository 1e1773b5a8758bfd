package logger

import (
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type factory struct {
	mu                sync.Mutex
	config            Config
	base              zerolog.Logger
	loggers           map[string]*ContextLogger
	consoleTimeFormat string
	resolver          *PackageNameResolver
	nonAlphaNumeric   *regexp.Regexp
}

// Singleton managing application wide logging.
var global = newFactory()

func newFactory() *factory {
	f := &factory{
		loggers:           make(map[string]*ContextLogger),
		consoleTimeFormat: "15:04:05.000000",
		resolver:          &PackageNameResolver{BasePackage: "fbas-tools/analyzer"},
		nonAlphaNumeric:   regexp.MustCompile(`[^a-zA-Z0-9]`),
	}
	f.apply(defaultConfig())
	return f
}

// CreateForPackage creates logger named after the caller package, ie
// "internal/pipeline" becomes "internal_pipeline".
func CreateForPackage() Logger {
	return Create(global.resolver.PackageName())
}

// Create creates custom named logger. Loggers are shared by name.
func Create(name string) Logger {
	return global.create(name)
}

// UpdateGlobalConfig replaces the configuration of all loggers. A nil Writer
// keeps the current one.
func UpdateGlobalConfig(config Config) {
	global.mu.Lock()
	defer global.mu.Unlock()
	if config.Writer == nil {
		config.Writer = global.config.Writer
	}
	global.apply(config)
}

// UpdateGlobalConfigFromFile reads the YAML file and updates the global
// configuration. In case of an error loggers are not changed.
func UpdateGlobalConfigFromFile(fileName string) error {
	conf, err := loadConfigFromFile(fileName)
	if err != nil {
		return err
	}
	UpdateGlobalConfig(conf)
	return nil
}

// apply must be called with mu held (or before the factory is shared).
func (f *factory) apply(config Config) {
	f.config = config
	if config.TimeLocation != "" {
		loc, err := time.LoadLocation(config.TimeLocation)
		if err != nil {
			loc = time.Local
		}
		zerolog.TimestampFunc = func() time.Time {
			return time.Now().In(loc)
		}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	if config.ConsoleFormat {
		f.base = zerolog.New(zerolog.ConsoleWriter{
			Out:          config.Writer,
			TimeFormat:   f.consoleTimeFormat,
			FormatCaller: consoleFormatCallerLastTwoDirs,
		}).With().Timestamp().Logger()
	} else {
		f.base = zerolog.New(config.Writer).With().Timestamp().Logger()
	}
	if config.ShowCaller {
		// ContextLogger method + logMessage
		f.base = f.base.With().CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + 2).Logger()
	}
	for name, cl := range f.loggers {
		f.updateLogger(name, cl)
	}
}

func (f *factory) updateLogger(name string, cl *ContextLogger) {
	zl := f.base.Level(toZeroLevel(f.loggerLevel(name))).With().Str("logger", name).Logger()
	if f.config.ShowGoroutineID {
		zl = zl.Hook(goRoutineIDHook{})
	}
	cl.zl.Store(&zl)
}

func (f *factory) create(name string) Logger {
	f.mu.Lock()
	defer f.mu.Unlock()

	normName := f.normalizeName(name)
	if cl, ok := f.loggers[normName]; ok {
		return cl
	}
	cl := &ContextLogger{name: normName}
	f.updateLogger(normName, cl)
	f.loggers[normName] = cl
	return cl
}

func (f *factory) normalizeName(name string) string {
	return f.nonAlphaNumeric.ReplaceAllString(name, "_")
}

func (f *factory) loggerLevel(name string) LogLevel {
	if level, ok := f.config.PackageLevels[name]; ok {
		return level
	}
	return f.config.DefaultLevel
}

// SetDefaultLevel changes the level of loggers without a package level.
func SetDefaultLevel(level LogLevel) {
	global.mu.Lock()
	defer global.mu.Unlock()
	config := global.config
	config.DefaultLevel = level
	global.apply(config)
}
