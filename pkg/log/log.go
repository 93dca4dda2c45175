/*
Copyright © 2024 The kexecboot Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package log

import (
	"bytes"
	"io"

	logrus "github.com/sirupsen/logrus"
)

// Logger is the interface used throughout kexecboot, so a different backend
// can be plugged in without touching call sites.
type Logger interface {
	Info(...interface{})
	Warn(...interface{})
	Debug(...interface{})
	Error(...interface{})
	Fatal(...interface{})
	Panic(...interface{})
	Trace(...interface{})
	Infof(string, ...interface{})
	Warnf(string, ...interface{})
	Debugf(string, ...interface{})
	Errorf(string, ...interface{})
	Fatalf(string, ...interface{})
	Panicf(string, ...interface{})
	Tracef(string, ...interface{})
	SetLevel(level logrus.Level)
	GetLevel() logrus.Level
	SetOutput(writer io.Writer)
	SetFormatter(formatter logrus.Formatter)
	AddHook(hook logrus.Hook)
}

func DebugLevel() logrus.Level {
	l, _ := logrus.ParseLevel("debug")
	return l
}

func IsDebugLevel(l Logger) bool {
	return l.GetLevel() == DebugLevel()
}

// NewLogger returns the default stderr-backed logger.
func NewLogger() Logger {
	return logrus.New()
}

// NewNullLogger returns a logger that discards all logs, for tests.
func NewNullLogger() Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// NewBufferLogger returns a logger that writes to b, for tests.
func NewBufferLogger(b *bytes.Buffer) Logger {
	logger := logrus.New()
	logger.SetOutput(b)
	return logger
}
