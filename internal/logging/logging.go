// Package logging implements the capability-level logging abstraction the
// BLIP engine consumes: named domains with settable minimum levels, an
// observer list, and an object-path registry assigning each logging
// instance a small integer id with a nickname and optional parent.
package logging

import (
	"fmt"
	"sync"
	"time"
)

// Level is a log severity, ordered from most to least verbose.
type Level int

const (
	Debug Level = iota
	Verbose
	Info
	Warning
	Error
	None // disables the domain entirely
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "Debug"
	case Verbose:
		return "Verbose"
	case Info:
		return "Info"
	case Warning:
		return "Warning"
	case Error:
		return "Error"
	case None:
		return "None"
	default:
		return "Unknown"
	}
}

// Entry is one formatted log record delivered to observers.
type Entry struct {
	Timestamp time.Time
	Domain    string
	Level     Level
	ObjectPath string
	Message   string
}

// Observer receives every Entry whose domain level admits it. Implementations
// must not block the calling goroutine for long, since dispatch is
// synchronous from the log call site.
type Observer interface {
	Observe(Entry)
}

// Domain is a named logging channel with its own minimum level.
type Domain struct {
	name string
	min  atomicLevel
}

func (d *Domain) Name() string   { return d.name }
func (d *Domain) Level() Level   { return d.min.load() }
func (d *Domain) SetLevel(l Level) { d.min.store(l) }
func (d *Domain) enabled(l Level) bool { return l >= d.min.load() }

// atomicLevel is a tiny RWMutex-guarded level holder; levels change rarely
// relative to how often they're read on the logging hot path.
type atomicLevel struct {
	mu sync.RWMutex
	v  Level
}

func (a *atomicLevel) load() Level {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.v
}

func (a *atomicLevel) store(l Level) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.v = l
}

// LogSystem is the explicitly constructed value the host threads through
// its API in place of the source's process-wide globals: a domain
// registry, an observer list, and the object-path registry.
type LogSystem struct {
	mu        sync.RWMutex
	domains   map[string]*Domain
	observers []Observer

	objMu   sync.Mutex
	nextID  int
	objects map[int]*object
}

type object struct {
	id       int
	nickname string
	parent   *object
}

// NewLogSystem returns a LogSystem with no domains or observers registered.
func NewLogSystem() *LogSystem {
	return &LogSystem{
		domains: map[string]*Domain{},
		objects: map[int]*object{},
	}
}

// Domain returns the named domain, creating it at Info level if new.
func (ls *LogSystem) Domain(name string) *Domain {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	d, ok := ls.domains[name]
	if !ok {
		d = &Domain{name: name}
		d.min.store(Info)
		ls.domains[name] = d
	}
	return d
}

// AddObserver registers obs to receive every future log entry. Safe for
// concurrent use; per-message dispatch afterward reads a frozen snapshot
// of the observer slice.
func (ls *LogSystem) AddObserver(obs Observer) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.observers = append(ls.observers, obs)
}

// RemoveObserver unregisters obs.
func (ls *LogSystem) RemoveObserver(obs Observer) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for i, o := range ls.observers {
		if o == obs {
			ls.observers = append(ls.observers[:i], ls.observers[i+1:]...)
			return
		}
	}
}

func (ls *LogSystem) snapshotObservers() []Observer {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return append([]Observer(nil), ls.observers...)
}

// Log emits a formatted entry on domain if its level admits it.
func (ls *LogSystem) Log(d *Domain, level Level, objPath string, format string, args ...any) {
	if !d.enabled(level) {
		return
	}
	entry := Entry{
		Timestamp:  time.Now(),
		Domain:     d.name,
		Level:      level,
		ObjectPath: objPath,
		Message:    fmt.Sprintf(format, args...),
	}
	for _, obs := range ls.snapshotObservers() {
		obs.Observe(entry)
	}
}

// NewObject registers a new logging instance under the object-path
// registry, returning its assigned small integer id.
func (ls *LogSystem) NewObject(nickname string, parent int) int {
	ls.objMu.Lock()
	defer ls.objMu.Unlock()
	ls.nextID++
	id := ls.nextID
	obj := &object{id: id, nickname: nickname}
	if p, ok := ls.objects[parent]; ok {
		obj.parent = p
	}
	ls.objects[id] = obj
	return id
}

// ObjectPath renders an object's path, e.g. "/Pusher#3/Reader#7/".
func (ls *LogSystem) ObjectPath(id int) string {
	ls.objMu.Lock()
	defer ls.objMu.Unlock()
	obj, ok := ls.objects[id]
	if !ok {
		return ""
	}
	var segments []string
	for o := obj; o != nil; o = o.parent {
		segments = append([]string{fmt.Sprintf("%s#%d", o.nickname, o.id)}, segments...)
	}
	path := "/"
	for _, s := range segments {
		path += s + "/"
	}
	return path
}
