package assets

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/graphics"
	"golang.org/x/exp/slices"
)

var (
	ErrShaderNotFound = errors.New("shader not found")
	ErrNoBytecode     = errors.New("shader has no bytecode for backend")
	ErrLibraryClosed  = errors.New("shader library already closed")
)

const eventBacklog = 32

// ShaderEvent reports a manifest that was loaded again or removed from disk.
type ShaderEvent struct {
	Name    string
	Shader  *graphics.CompiledShader
	Removed bool
}

type shaderEntry struct {
	manifest string
	bytecode string
	shader   *graphics.CompiledShader
}

// ShaderLibrary keeps the compiled shaders below a directory loaded and
// reloads them when their manifest or bytecode changes.
type ShaderLibrary struct {
	root    string
	loader  ShaderLoader
	shaders map[string]*shaderEntry
	// bytecode path -> shader names reading it
	dependents map[string][]string

	mutex sync.RWMutex

	done     chan struct{}
	stopped  chan struct{}
	fsnotify *fsnotify.Watcher
	started  bool
	isClosed bool
	events   chan ShaderEvent
	errors   chan error
}

func NewShaderLibrary(backend graphics.Backend) (*ShaderLibrary, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating file watcher")
	}

	return &ShaderLibrary{
		loader:     ShaderLoader{Backend: backend},
		shaders:    make(map[string]*shaderEntry),
		dependents: make(map[string][]string),
		fsnotify:   fsWatch,
		events:     make(chan ShaderEvent, eventBacklog),
		errors:     make(chan error, eventBacklog),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}, nil
}

// Initialize loads every manifest below dir and starts watching it. Broken
// manifests are logged and skipped so one bad file does not stop the player.
func (sl *ShaderLibrary) Initialize(dir string) error {
	root, err := filepath.Abs(dir)
	if err != nil {
		return errors.Wrapf(err, "resolving shader directory %s", dir)
	}
	sl.root = root

	if err := sl.watchRecursive(root, false, false); err != nil {
		return err
	}
	sl.started = true
	go sl.start()

	core.LogInfo("shader library watching %s (%d shaders)", root, sl.Len())
	return nil
}

func (sl *ShaderLibrary) Events() <-chan ShaderEvent {
	return sl.events
}

func (sl *ShaderLibrary) Errors() <-chan error {
	return sl.errors
}

func (sl *ShaderLibrary) Len() int {
	sl.mutex.RLock()
	defer sl.mutex.RUnlock()
	return len(sl.shaders)
}

// Names returns the loaded shader names in sorted order.
func (sl *ShaderLibrary) Names() []string {
	sl.mutex.RLock()
	names := make([]string, 0, len(sl.shaders))
	for name := range sl.shaders {
		names = append(names, name)
	}
	sl.mutex.RUnlock()
	slices.Sort(names)
	return names
}

// Get returns the last successfully loaded version of a shader.
func (sl *ShaderLibrary) Get(name string) (*graphics.CompiledShader, error) {
	sl.mutex.RLock()
	defer sl.mutex.RUnlock()

	entry, exists := sl.shaders[name]
	if !exists {
		return nil, errors.Mark(errors.Newf("shader %q not found in %s", name, sl.root), ErrShaderNotFound)
	}
	return entry.shader, nil
}

// Shutdown stops the watcher goroutine and closes the event channels.
func (sl *ShaderLibrary) Shutdown() error {
	sl.mutex.Lock()
	if sl.isClosed {
		sl.mutex.Unlock()
		return ErrLibraryClosed
	}
	sl.isClosed = true
	sl.mutex.Unlock()

	close(sl.done)
	if !sl.started {
		// never started
		close(sl.events)
		close(sl.errors)
		return sl.fsnotify.Close()
	}
	<-sl.stopped
	return nil
}

func (sl *ShaderLibrary) start() {
	defer close(sl.stopped)
	for {
		select {

		case e, ok := <-sl.fsnotify.Events:
			if !ok {
				return
			}
			sl.handleEvent(e)

		case e, ok := <-sl.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError(e.Error())
			sl.publishError(e)

		case <-sl.done:
			sl.fsnotify.Close()
			close(sl.events)
			close(sl.errors)
			return
		}
	}
}

func (sl *ShaderLibrary) handleEvent(e fsnotify.Event) {
	s, err := os.Stat(e.Name)
	if err == nil && s != nil && s.IsDir() {
		if e.Has(fsnotify.Create) {
			if err := sl.watchRecursive(e.Name, false, true); err != nil {
				sl.publishError(err)
			}
		}
		return
	}
	if e.Has(fsnotify.Create) || e.Has(fsnotify.Write) {
		sl.handleFileEvent(e.Name, true)
	}
	// A rename away from the watched path arrives as Rename on the old name.
	if e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename) {
		sl.removeShader(e.Name)
	}
}

// watchRecursive adds all directories under the given one to the watch list
// and loads the manifests found on the way.
func (sl *ShaderLibrary) watchRecursive(path string, unWatch, notify bool) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if unWatch {
				return sl.fsnotify.Remove(walkPath)
			}
			return errors.Wrapf(sl.fsnotify.Add(walkPath), "watching %s", walkPath)
		}
		if !unWatch {
			sl.handleFileEvent(walkPath, notify)
		}
		return nil
	})
}

func (sl *ShaderLibrary) handleFileEvent(path string, notify bool) {
	if strings.HasSuffix(path, ShaderExtension) {
		sl.reload(ShaderName(sl.root, path), path, notify)
		return
	}

	sl.mutex.RLock()
	names := slices.Clone(sl.dependents[path])
	manifests := make([]string, 0, len(names))
	for _, name := range names {
		manifests = append(manifests, sl.shaders[name].manifest)
	}
	sl.mutex.RUnlock()

	for i, name := range names {
		sl.reload(name, manifests[i], notify)
	}
}

func (sl *ShaderLibrary) reload(name, manifest string, notify bool) {
	shader, bytecode, err := sl.loader.Load(manifest)
	if err != nil {
		// Editors write in several steps; keep serving the previous version.
		core.LogWarn("shader %s not reloaded: %s", name, err)
		if notify {
			sl.publishError(err)
		}
		return
	}
	shader.Label = name

	sl.mutex.Lock()
	if old, exists := sl.shaders[name]; exists {
		sl.dropDependent(old.bytecode, name)
	}
	sl.shaders[name] = &shaderEntry{manifest: manifest, bytecode: bytecode, shader: shader}
	if bytecode != "" {
		sl.dependents[bytecode] = append(sl.dependents[bytecode], name)
	}
	sl.mutex.Unlock()

	core.LogDebug("shader %s loaded (%s, %d bytes)", name, shader.Stage, len(shader.Bytecode))
	if notify {
		sl.publish(ShaderEvent{Name: name, Shader: shader})
	}
}

// Remove the shader from the index if its manifest was deleted. Deleted
// bytecode keeps the last loaded version around.
func (sl *ShaderLibrary) removeShader(path string) {
	if !strings.HasSuffix(path, ShaderExtension) {
		return
	}
	name := ShaderName(sl.root, path)

	sl.mutex.Lock()
	entry, exists := sl.shaders[name]
	if exists {
		sl.dropDependent(entry.bytecode, name)
		delete(sl.shaders, name)
	}
	sl.mutex.Unlock()

	if exists {
		sl.publish(ShaderEvent{Name: name, Removed: true})
	}
}

func (sl *ShaderLibrary) dropDependent(bytecode, name string) {
	names := slices.DeleteFunc(sl.dependents[bytecode], func(n string) bool { return n == name })
	if len(names) == 0 {
		delete(sl.dependents, bytecode)
		return
	}
	sl.dependents[bytecode] = names
}

func (sl *ShaderLibrary) publish(e ShaderEvent) {
	select {
	case sl.events <- e:
	default:
		core.LogWarn("shader event backlog full, dropping %s", e.Name)
	}
}

func (sl *ShaderLibrary) publishError(err error) {
	select {
	case sl.errors <- err:
	default:
	}
}
