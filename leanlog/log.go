// Package leanlog implements gated, per-component logging for the
// leanbtree core, the same shape as bnclabs-gostore's llrb/log.go: logging
// is off by default and switched on for named components so that hot paths
// pay nothing for a disabled log call.
package leanlog

import "sync/atomic"

import "github.com/bnclabs/golog"

var gates struct {
	latch int64
	tuple int64
	btree int64
	gc    int64
	wal   int64
}

// Enable turns on logging for the named components. Recognized names are
// "latch", "tuple", "btree", "gc", "wal" and "all".
func Enable(components ...string) {
	for _, comp := range components {
		switch comp {
		case "latch":
			atomic.StoreInt64(&gates.latch, 1)
		case "tuple":
			atomic.StoreInt64(&gates.tuple, 1)
		case "btree":
			atomic.StoreInt64(&gates.btree, 1)
		case "gc":
			atomic.StoreInt64(&gates.gc, 1)
		case "wal":
			atomic.StoreInt64(&gates.wal, 1)
		case "all":
			atomic.StoreInt64(&gates.latch, 1)
			atomic.StoreInt64(&gates.tuple, 1)
			atomic.StoreInt64(&gates.btree, 1)
			atomic.StoreInt64(&gates.gc, 1)
			atomic.StoreInt64(&gates.wal, 1)
		}
	}
}

// Component is a gated logging handle bound to one subsystem name.
type Component struct {
	gate *int64
}

func For(component string) Component {
	switch component {
	case "latch":
		return Component{&gates.latch}
	case "tuple":
		return Component{&gates.tuple}
	case "btree":
		return Component{&gates.btree}
	case "gc":
		return Component{&gates.gc}
	case "wal":
		return Component{&gates.wal}
	}
	return Component{new(int64)}
}

func (c Component) Enabled() bool {
	return atomic.LoadInt64(c.gate) > 0
}

func (c Component) Debugf(format string, v ...interface{}) {
	if c.Enabled() {
		log.Debugf(format, v...)
	}
}

func (c Component) Infof(format string, v ...interface{}) {
	if c.Enabled() {
		log.Infof(format, v...)
	}
}

func (c Component) Warnf(format string, v ...interface{}) {
	if c.Enabled() {
		log.Warnf(format, v...)
	}
}

func (c Component) Errorf(format string, v ...interface{}) {
	if c.Enabled() {
		log.Errorf(format, v...)
	}
}
