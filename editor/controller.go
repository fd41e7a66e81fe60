// Package editor implements the edit session controller: the single open
// file, its dirty state, debounced autosave, and the guard that keeps
// externally pushed content from clobbering an in-progress edit.
package editor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mindraft/mindraft-core/config"
	"github.com/mindraft/mindraft-core/gateway"
	"github.com/mindraft/mindraft-core/logger"
	"github.com/mindraft/mindraft-core/metrics"
)

var (
	// ErrNoFile is returned by operations that need an open file.
	ErrNoFile = errors.New("no file is open")

	// ErrSuppressed is returned when an external content push is dropped
	// because the user is editing.
	ErrSuppressed = errors.New("content push suppressed while the user is editing")

	// ErrSuperseded is returned by OpenFile when a later OpenFile or
	// RequestClose replaced the request before its read completed.
	ErrSuperseded = errors.New("open superseded by a later request")
)

// Surface is the editing widget. The controller pushes content into it when a
// file is opened or when external content is accepted.
type Surface interface {
	SetContent(content string)
}

// AutosaveHandler is told the outcome of every autosave the debounce fires.
// err is nil on success.
type AutosaveHandler func(path string, err error)

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the clock used for the autosave and guard timers.
func WithClock(c Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithSurface sets the editing surface that receives content pushes.
func WithSurface(s Surface) Option {
	return func(ctl *Controller) { ctl.surface = s }
}

// WithAutosaveHandler sets the callback invoked after each autosave.
func WithAutosaveHandler(h AutosaveHandler) Option {
	return func(ctl *Controller) { ctl.onAutosave = h }
}

// WithAutosaveInterval sets the debounce quiet period.
func WithAutosaveInterval(d time.Duration) Option {
	return func(ctl *Controller) { ctl.autosaveInterval = d }
}

// WithEditGuardWindow sets how long a user edit suppresses external pushes.
func WithEditGuardWindow(d time.Duration) Option {
	return func(ctl *Controller) { ctl.guardWindow = d }
}

// WithPreferences applies the timing values from prefs.
func WithPreferences(prefs *config.Preferences) Option {
	return func(ctl *Controller) {
		if prefs == nil {
			return
		}
		ctl.autosaveInterval = prefs.AutosaveInterval.Duration
		ctl.guardWindow = prefs.EditGuardWindow.Duration
	}
}

// Controller owns the edit session. It is the only writer of session state;
// everything else observes it through the accessor methods or Snapshot.
//
// Thread Safety:
// All methods are safe for concurrent use. Gateway calls are made without
// holding the internal mutex, so observers never block on I/O.
type Controller struct {
	mu sync.Mutex // Protects all fields below

	gw         gateway.Gateway
	clock      Clock
	surface    Surface
	onAutosave AutosaveHandler
	log        *slog.Logger
	id         string

	autosaveInterval time.Duration
	guardWindow      time.Duration

	// Session state. dirty is never stored; it is always live != baseline.
	currentFile string
	baseline    string
	live        string
	editing     bool

	autosaveTimer Timer
	autosaveDue   time.Time
	guardTimer    Timer

	// fileGen changes whenever the open file changes or the session closes,
	// so saves and timers that outlive their file are ignored.
	fileGen     uint64
	openSeq     uint64
	autosaveSeq uint64
	guardSeq    uint64
}

// New creates a controller with no file open.
func New(gw gateway.Gateway, opts ...Option) *Controller {
	c := &Controller{
		gw:               gw,
		clock:            RealClock(),
		id:               uuid.New().String(),
		autosaveInterval: config.DefaultAutosaveInterval,
		guardWindow:      config.DefaultEditGuardWindow,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logger.WithSession(c.id).With("component", "editor")
	return c
}

// SessionID identifies this controller in logs.
func (c *Controller) SessionID() string {
	return c.id
}

// CurrentFile returns the open file path, or "" when none is open.
func (c *Controller) CurrentFile() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentFile
}

// IsDirty reports whether the live content differs from the baseline.
func (c *Controller) IsDirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirtyLocked()
}

func (c *Controller) dirtyLocked() bool {
	return c.live != c.baseline
}

// LiveContent returns the content as currently held by the editor.
func (c *Controller) LiveContent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// BaselineContent returns the content last known to be persisted.
func (c *Controller) BaselineContent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseline
}

// IsUserEditing reports whether the edit guard is currently up.
func (c *Controller) IsUserEditing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.editing
}

// HasPendingAutosave reports whether an autosave timer is armed.
func (c *Controller) HasPendingAutosave() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autosaveTimer != nil
}

// View is a read-only copy of the session state.
type View struct {
	SessionID       string
	CurrentFile     string
	BaselineContent string
	LiveContent     string
	Dirty           bool
	UserEditing     bool
	AutosavePending bool
	AutosaveDue     time.Time // zero unless AutosavePending
}

// Snapshot returns a consistent copy of the session state.
func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View{
		SessionID:       c.id,
		CurrentFile:     c.currentFile,
		BaselineContent: c.baseline,
		LiveContent:     c.live,
		Dirty:           c.dirtyLocked(),
		UserEditing:     c.editing,
		AutosavePending: c.autosaveTimer != nil,
	}
	if v.AutosavePending {
		v.AutosaveDue = c.autosaveDue
	}
	return v
}

// OpenFile makes path the current file. Opening the current file again is a
// no-op and issues no read. The controller does not check for unsaved
// changes; callers decide that via IsDirty before switching.
//
// A pending autosave for the outgoing file is cancelled before the read
// starts. On a read failure the session is left as it was, with the autosave
// re-armed for a full interval if it is still dirty.
func (c *Controller) OpenFile(ctx context.Context, path string) error {
	c.mu.Lock()
	if path == c.currentFile {
		c.mu.Unlock()
		return nil
	}
	c.openSeq++
	seq, gen := c.openSeq, c.fileGen
	// The outgoing file must not be autosaved once a switch has started.
	hadAutosave := c.autosaveTimer != nil
	c.stopAutosaveLocked()
	c.mu.Unlock()

	content, err := c.gw.OpenFile(ctx, path)
	metrics.RecordFileOpen(err)
	if err != nil {
		c.log.Warn("open failed", "path", path, "error", err)
		c.mu.Lock()
		if hadAutosave && seq == c.openSeq && gen == c.fileGen && c.autosaveTimer == nil && c.dirtyLocked() {
			c.armAutosaveLocked()
		}
		c.mu.Unlock()
		return gateway.Wrap(gateway.OpOpenFile, path, gateway.KindOf(err), err)
	}

	c.mu.Lock()
	if seq != c.openSeq {
		c.mu.Unlock()
		c.log.Debug("open superseded", "path", path)
		return ErrSuperseded
	}
	c.resetLocked()
	c.currentFile = path
	c.baseline = content
	c.live = content
	surface := c.surface
	c.mu.Unlock()

	c.log.Info("file opened", "path", path, "bytes", len(content))

	// First load for a file is pushed regardless of the guard.
	if surface != nil {
		surface.SetContent(content)
	}
	return nil
}

// UpdateContent records a user-originated change. It raises the edit guard
// and re-arms the autosave debounce whenever the result is dirty. Changes
// while no file is open are ignored.
func (c *Controller) UpdateContent(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.currentFile == "" {
		return
	}
	c.live = content
	c.raiseGuardLocked()

	if c.dirtyLocked() {
		c.armAutosaveLocked()
	} else {
		c.stopAutosaveLocked()
	}
}

// MarkEditing raises the edit guard without changing content, for surfaces
// that report activity before the change event itself.
func (c *Controller) MarkEditing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentFile == "" {
		return
	}
	c.raiseGuardLocked()
}

// PushExternal replaces the editor content from outside the user's typing.
// While the edit guard is up a differing push is dropped and ErrSuppressed
// returned; the user's latest input always wins.
func (c *Controller) PushExternal(content string) error {
	c.mu.Lock()
	if c.currentFile == "" {
		c.mu.Unlock()
		return ErrNoFile
	}
	changed, err := c.applyExternalLocked(content)
	path, surface := c.currentFile, c.surface
	c.mu.Unlock()

	return c.finishPush(path, content, surface, changed, err)
}

// AppendSuggestion appends text to the document separated by a blank line,
// or replaces an empty document. It is subject to the edit guard.
func (c *Controller) AppendSuggestion(text string) error {
	c.mu.Lock()
	if c.currentFile == "" {
		c.mu.Unlock()
		return ErrNoFile
	}
	next := text
	if c.live != "" {
		next = c.live + "\n\n" + text
	}
	changed, err := c.applyExternalLocked(next)
	path, surface := c.currentFile, c.surface
	c.mu.Unlock()

	return c.finishPush(path, next, surface, changed, err)
}

// applyExternalLocked sets live to content unless it is unchanged or the
// guard is up. Caller must hold mu and have checked that a file is open.
func (c *Controller) applyExternalLocked(content string) (bool, error) {
	if content == c.live {
		return false, nil
	}
	if c.editing {
		return false, ErrSuppressed
	}
	c.live = content
	if c.dirtyLocked() {
		c.armAutosaveLocked()
	} else {
		c.stopAutosaveLocked()
	}
	return true, nil
}

func (c *Controller) finishPush(path, content string, surface Surface, changed bool, err error) error {
	if errors.Is(err, ErrSuppressed) {
		metrics.RecordSuppressedPush()
		c.log.Info("external push dropped while editing", "path", path, "bytes", len(content))
		return err
	}
	if changed && surface != nil {
		surface.SetContent(content)
	}
	return err
}

// Save writes the live content of the current file. On failure the session is
// unchanged and the error returned; nothing is retried.
func (c *Controller) Save(ctx context.Context) error {
	return c.save(ctx, metrics.TriggerManual)
}

// SaveAs is Save with an explicit trigger label for metrics and logs.
func (c *Controller) SaveAs(ctx context.Context, trigger string) error {
	return c.save(ctx, trigger)
}

// FlushOnBlur saves if the session is dirty.
func (c *Controller) FlushOnBlur(ctx context.Context) error {
	if !c.IsDirty() {
		return nil
	}
	return c.save(ctx, metrics.TriggerBlur)
}

// save writes a snapshot of (file, content). When it completes the baseline
// becomes the written content, provided the same file is still open. The
// pending autosave is cancelled only if that leaves the session clean, so an
// edit made during the write keeps its timer.
func (c *Controller) save(ctx context.Context, trigger string) error {
	c.mu.Lock()
	if c.currentFile == "" {
		c.mu.Unlock()
		metrics.RecordSave(trigger, ErrNoFile)
		return ErrNoFile
	}
	path, content, gen := c.currentFile, c.live, c.fileGen
	c.mu.Unlock()

	err := c.gw.SaveFile(ctx, path, content)
	metrics.RecordSave(trigger, err)
	if err != nil {
		c.log.Error("save failed", "path", path, "trigger", trigger, "error", err)
		return gateway.Wrap(gateway.OpSaveFile, path, gateway.KindOf(err), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.fileGen {
		c.log.Debug("save completed after file changed", "path", path)
		return nil
	}
	c.baseline = content
	if !c.dirtyLocked() {
		c.stopAutosaveLocked()
	}
	c.log.Info("file saved", "path", path, "trigger", trigger, "bytes", len(content))
	return nil
}

// RequestClose drops the session: timers are cancelled and the file and
// content cleared. It never saves.
func (c *Controller) RequestClose() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.currentFile != "" {
		c.log.Info("session closed", "path", c.currentFile, "dirty", c.dirtyLocked())
	}
	c.openSeq++
	c.resetLocked()
}

// resetLocked cancels both timers and clears the session fields.
// Caller must hold mu.
func (c *Controller) resetLocked() {
	c.stopAutosaveLocked()
	c.stopGuardLocked()
	c.fileGen++
	c.currentFile = ""
	c.baseline = ""
	c.live = ""
}

// armAutosaveLocked replaces any pending autosave with one due a full
// interval from now. Caller must hold mu.
func (c *Controller) armAutosaveLocked() {
	c.stopAutosaveLocked()
	c.autosaveSeq++
	seq, gen := c.autosaveSeq, c.fileGen
	c.autosaveTimer = c.clock.AfterFunc(c.autosaveInterval, func() {
		c.fireAutosave(gen, seq)
	})
	c.autosaveDue = c.clock.Now().Add(c.autosaveInterval)
}


func (c *Controller) stopAutosaveLocked() {
	if c.autosaveTimer != nil {
		c.autosaveTimer.Stop()
		c.autosaveTimer = nil
	}
}

func (c *Controller) fireAutosave(gen, seq uint64) {
	c.mu.Lock()
	if gen != c.fileGen || seq != c.autosaveSeq || c.autosaveTimer == nil {
		c.mu.Unlock()
		return
	}
	c.autosaveTimer = nil
	path := c.currentFile
	dirty := c.dirtyLocked()
	handler := c.onAutosave
	c.mu.Unlock()

	if !dirty {
		return
	}

	err := c.save(context.Background(), metrics.TriggerAutosave)
	if handler != nil {
		handler(path, err)
	}
}

// raiseGuardLocked sets the edit guard and schedules it to drop after the
// guard window. A zero window disables the guard. Caller must hold mu.
func (c *Controller) raiseGuardLocked() {
	c.stopGuardLocked()
	if c.guardWindow <= 0 {
		c.editing = false
		return
	}
	c.editing = true
	c.guardSeq++
	seq := c.guardSeq
	c.guardTimer = c.clock.AfterFunc(c.guardWindow, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if seq == c.guardSeq {
			c.editing = false
			c.guardTimer = nil
		}
	})
}

func (c *Controller) stopGuardLocked() {
	if c.guardTimer != nil {
		c.guardTimer.Stop()
		c.guardTimer = nil
	}
	c.editing = false
}
