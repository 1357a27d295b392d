// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package log provides a logging backend, based around the go-logging package.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/op/go-logging.v1"
)

type discardCloser struct {
	io.WriteCloser
	discard io.Writer
}

func (d *discardCloser) Close() error {
	return nil
}

func (d *discardCloser) Write(p []byte) (int, error) {
	return d.discard.Write(p)
}

func newDiscardCloser() *discardCloser {
	d := new(discardCloser)
	d.discard = io.Discard
	return d
}

// Backend is a log backend.
type Backend struct {
	logging.LeveledBackend
	sync.RWMutex

	_backend logging.LeveledBackend
	w        io.WriteCloser

	file    string
	level   string
	disable bool
}

// Log is used to log a message as per the logging.Backend interface.
func (b *Backend) Log(level logging.Level, calldepth int, record *logging.Record) error {
	b.RLock()
	defer b.RUnlock()
	return b._backend.Log(level, calldepth, record)
}

// GetLevel returns the logging level for the specified module as per the
// logging.Leveled interface.
func (b *Backend) GetLevel(module string) logging.Level {
	b.RLock()
	defer b.RUnlock()
	return b._backend.GetLevel(module)
}

// SetLevel sets the logging level for the specified module.
func (b *Backend) SetLevel(level logging.Level, module string) {
	b.Lock()
	defer b.Unlock()
	b._backend.SetLevel(level, module)
}

// IsEnabledFor returns true if the logger is enabled for the given level.
func (b *Backend) IsEnabledFor(level logging.Level, module string) bool {
	b.RLock()
	defer b.RUnlock()
	return b._backend.IsEnabledFor(level, module)
}

// GetLogger returns a per-module logger that writes to the backend.
func (b *Backend) GetLogger(module string) *logging.Logger {
	l := logging.MustGetLogger(module)
	l.SetBackend(b)
	return l
}

// Rotate simply reopens the log file for platforms that do not have a
// SIGHUP based log rotation mechanism.
func (b *Backend) Rotate() error {
	if b.disable || b.file == "" {
		return fmt.Errorf("log: log rotation not supported")
	}

	b.Lock()
	defer b.Unlock()

	f, err := os.OpenFile(b.file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}

	old := b.w
	if err = b.initBackend(f); err != nil {
		f.Close()
		return err
	}
	old.Close()
	return nil
}

func (b *Backend) initBackend(w io.WriteCloser) error {
	lvl, err := logLevelFromString(b.level)
	if err != nil {
		return err
	}

	base := logging.NewLogBackend(w, "", 0)
	formatted := logging.NewBackendFormatter(base, logFormat())
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(lvl, "")

	b._backend = leveled
	b.w = w

	return nil
}

func logFormat() logging.Formatter {
	return logging.MustStringFormatter("%{time:15:04:05.000} %{level:.4s} %{module}: %{message}")
}

func logLevelFromString(l string) (logging.Level, error) {
	switch strings.ToUpper(l) {
	case "ERROR":
		return logging.ERROR, nil
	case "WARNING":
		return logging.WARNING, nil
	case "NOTICE":
		return logging.NOTICE, nil
	case "INFO":
		return logging.INFO, nil
	case "DEBUG":
		return logging.DEBUG, nil
	default:
		return logging.ERROR, fmt.Errorf("log: invalid level: '%v'", l)
	}
}

// New initializes a logging backend.
func New(f string, level string, disable bool) (*Backend, error) {
	b := &Backend{
		file:    f,
		level:   level,
		disable: disable,
	}

	var w io.WriteCloser
	switch {
	case b.disable:
		w = newDiscardCloser()
	case b.file == "":
		w = os.Stdout
	default:
		var err error
		w, err = os.OpenFile(b.file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, err
		}
	}
	if err := b.initBackend(w); err != nil {
		return nil, err
	}

	return b, nil
}
