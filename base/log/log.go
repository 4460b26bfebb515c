// Copyright 2022 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger  = newLogger(zapcore.NewConsoleEncoder(encoderConfig(true)), zap.DebugLevel, zapcore.Lock(os.Stderr))
	logFile io.Closer
)

// Logger returns the process logger. Command output goes to stdout, so logs go to stderr.
func Logger() *zap.Logger {
	return logger
}

// CloseLogger flushes buffered entries and releases the log file.
func CloseLogger() {
	_ = logger.Sync()
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

func AddFlags(flagSet *pflag.FlagSet) {
	flagSet.String("log-format", "", "log encoding: console or json (defaults to console with --debug)")
	flagSet.String("log-path", "", "path of log file")
	flagSet.Int("log-max-size", 100, "maximum size in megabytes of the log file")
	flagSet.Int("log-max-age", 0, "maximum number of days to retain old log files")
	flagSet.Int("log-max-backups", 0, "maximum number of old log files to retain")
}

// SetLogger rebuilds the logger from flags registered by AddFlags.
func SetLogger(flagSet *pflag.FlagSet, debug bool) {
	format, _ := flagSet.GetString("log-format")
	console := format == "console" || (format == "" && debug)
	var encoder zapcore.Encoder
	if console {
		encoder = zapcore.NewConsoleEncoder(encoderConfig(debug))
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig(debug))
	}
	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}

	CloseLogger()
	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stderr)}
	if path, _ := flagSet.GetString("log-path"); path != "" {
		maxSize, _ := flagSet.GetInt("log-max-size")
		maxAge, _ := flagSet.GetInt("log-max-age")
		maxBackups, _ := flagSet.GetInt("log-max-backups")
		file := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			MaxAge:     maxAge,
		}
		logFile = file
		sinks = append(sinks, zapcore.AddSync(file))
	}
	logger = newLogger(encoder, level, zap.CombineWriteSyncers(sinks...))
}

func encoderConfig(debug bool) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	if debug {
		cfg = zap.NewDevelopmentEncoderConfig()
	}
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	return cfg
}

func newLogger(encoder zapcore.Encoder, level zapcore.LevelEnabler, sink zapcore.WriteSyncer) *zap.Logger {
	return zap.New(zapcore.NewCore(encoder, sink, level), zap.AddCaller())
}

const mysqlPrefix = "mysql://"

// RedactDBURL masks credentials in a history database DSN before it is logged.
// Unparsable DSNs are returned unchanged.
func RedactDBURL(dsn string) string {
	mask := func(s string) string { return strings.Repeat("x", len(s)) }
	if rest, ok := strings.CutPrefix(dsn, mysqlPrefix); ok {
		cfg, err := mysql.ParseDSN(rest)
		if err != nil {
			return dsn
		}
		cfg.User, cfg.Passwd = mask(cfg.User), mask(cfg.Passwd)
		return mysqlPrefix + cfg.FormatDSN()
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}
	if u.User != nil {
		password, _ := u.User.Password()
		u.User = url.UserPassword(mask(u.User.Username()), mask(password))
	}
	return u.String()
}
