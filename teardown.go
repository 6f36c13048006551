// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package shmq

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Process-wide registry of live ring handles, drained on fatal signals so
// a crashing process leaves every segment in a state its peers survive.
var (
	teardownMu    sync.Mutex
	liveRings     = make(map[*Ring]struct{})
	teardownArmed bool
)

var teardownSignals = []os.Signal{
	syscall.SIGINT, syscall.SIGILL, syscall.SIGABRT, syscall.SIGFPE,
	syscall.SIGSEGV, syscall.SIGPIPE, syscall.SIGALRM, syscall.SIGTERM,
	syscall.SIGUSR2, syscall.SIGHUP,
}

func register(r *Ring) {
	teardownMu.Lock()
	defer teardownMu.Unlock()
	liveRings[r] = struct{}{}
	armTeardown()
}

func unregister(r *Ring) {
	teardownMu.Lock()
	delete(liveRings, r)
	teardownMu.Unlock()
}

// armTeardown installs the signal relay once per process. Signals whose
// disposition is "ignore" are left alone. Callers must hold teardownMu.
func armTeardown() {
	if teardownArmed {
		return
	}
	teardownArmed = true
	ch := make(chan os.Signal, 1)
	for _, sig := range teardownSignals {
		if signal.Ignored(sig) {
			continue
		}
		signal.Notify(ch, sig)
	}
	go relaySignal(ch)
}

// relaySignal waits for the first teardown signal, detaches every live
// handle without destroying any segment (peer processes keep running),
// restores the default dispositions, and re-raises the signal to self.
// SIGUSR2 is the operator convention for forced teardown; it re-raises as
// SIGINT.
func relaySignal(ch chan os.Signal) {
	sig := <-ch
	slog.Error("signal caught; detaching all shared memory rings", "signal", sig)

	teardownMu.Lock()
	rings := make([]*Ring, 0, len(liveRings))
	for r := range liveRings {
		rings = append(rings, r)
	}
	clear(liveRings)
	teardownMu.Unlock()

	for _, r := range rings {
		r.detach(false)
	}

	target := sig
	if sig == syscall.SIGUSR2 {
		target = syscall.SIGINT
	}
	signal.Reset(teardownSignals...)
	if s, ok := target.(syscall.Signal); ok {
		_ = unix.Kill(os.Getpid(), s)
	}
}
