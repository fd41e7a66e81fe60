// Package shell composes the workspace, the edit session controller and the
// settings store into the application the UI drives.
package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mindraft/mindraft-core/config"
	"github.com/mindraft/mindraft-core/editor"
	"github.com/mindraft/mindraft-core/gateway"
	"github.com/mindraft/mindraft-core/logger"
	"github.com/mindraft/mindraft-core/metrics"
	"github.com/mindraft/mindraft-core/workspace"
)

// User-facing notification texts.
const (
	MsgSaved     = "File saved successfully"
	MsgAutoSaved = "Auto-saved"
)

// ShortcutSave is the manual-save keyboard shortcut.
const ShortcutSave = "save"

// LastFileKey is the settings key holding the last file opened in the editor.
const LastFileKey = "lastFile"

var (
	// ErrCanceled is returned when the user cancels an unsaved-changes prompt.
	ErrCanceled = errors.New("canceled by user")

	// ErrNotInWorkspace is returned by SelectFile for a path that is not a
	// file in the loaded workspace tree.
	ErrNotInWorkspace = errors.New("file is not in the open workspace")
)

// Choice is the answer to an unsaved-changes prompt.
type Choice int

const (
	SaveChanges Choice = iota
	Discard
	Cancel
)

func (c Choice) String() string {
	switch c {
	case SaveChanges:
		return "save"
	case Discard:
		return "discard"
	case Cancel:
		return "cancel"
	}
	return fmt.Sprintf("Choice(%d)", int(c))
}

// Prompter asks the user what to do with unsaved changes to path.
type Prompter interface {
	ConfirmUnsaved(path string) Choice
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(path string) Choice

func (f PrompterFunc) ConfirmUnsaved(path string) Choice { return f(path) }

// Notifier shows transient messages (toasts) to the user.
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// LogNotifier writes notifications to the application log.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a notifier backed by the shell's logger.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logger.WithComponent("notify")}
}

func (n *LogNotifier) Success(msg string) { n.log.Info(msg) }
func (n *LogNotifier) Error(msg string)   { n.log.Error(msg) }

// App is the host shell. It owns the single edit session and the loaded
// workspace; the UI only reaches them through App's methods.
type App struct {
	mu        sync.Mutex
	workspace *workspace.Info

	store    *config.Store
	gw       gateway.Gateway
	ctl      *editor.Controller
	notifier Notifier
	prompter Prompter
	log      *slog.Logger
}

// New wires an App. A nil notifier logs; a nil prompter always saves.
// editorOpts are passed through to the controller.
func New(store *config.Store, gw gateway.Gateway, notifier Notifier, prompter Prompter, editorOpts ...editor.Option) *App {
	if notifier == nil {
		notifier = NewLogNotifier()
	}
	if prompter == nil {
		prompter = PrompterFunc(func(string) Choice { return SaveChanges })
	}
	a := &App{
		store:    store,
		gw:       gw,
		notifier: notifier,
		prompter: prompter,
		log:      logger.WithComponent("shell"),
	}
	opts := append([]editor.Option{editor.WithAutosaveHandler(a.onAutosave)}, editorOpts...)
	a.ctl = editor.New(gw, opts...)
	return a
}

// Editor returns the edit session controller.
func (a *App) Editor() *editor.Controller {
	return a.ctl
}

// Workspace returns the loaded workspace, or nil.
func (a *App) Workspace() *workspace.Info {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.workspace
}

// RecentWorkspaces returns the most recently opened workspaces, newest first.
func (a *App) RecentWorkspaces() []string {
	return a.store.GetRecentWorkspaces()
}

// Start reopens the last workspace, if any, and the last file if it is still
// part of that workspace. A workspace failure is reported to the user and
// returned, but leaves the app usable with no workspace. A workspace that no
// longer exists is dropped from the settings.
func (a *App) Start(ctx context.Context) error {
	path := a.store.LastWorkspace()
	if path == "" {
		return nil
	}
	err := a.OpenWorkspace(ctx, path)
	if err != nil {
		if gateway.KindOf(err) == gateway.NotFound && a.store.ForgetWorkspace(path) {
			a.saveSettings()
		}
		return err
	}

	file, ok := a.store.Get(LastFileKey)
	if !ok || !a.Workspace().Contains(file) {
		return nil
	}
	if err := a.SelectFile(ctx, file); err != nil {
		a.log.Warn("failed to reopen last file", "path", file, "error", err)
	}
	return nil
}

// OpenWorkspace loads path and makes it the current workspace. Unsaved
// changes are resolved with the prompter after the load succeeds. On any
// failure the previous workspace and session are kept.
func (a *App) OpenWorkspace(ctx context.Context, path string) error {
	info, err := a.gw.LoadWorkspace(ctx, path)
	if err != nil {
		metrics.RecordWorkspaceLoad(0, err)
		a.notifier.Error(fmt.Sprintf("Failed to load workspace %s: %v", path, err))
		return err
	}
	metrics.RecordWorkspaceLoad(info.Count(), nil)

	if err := a.resolveUnsaved(ctx, metrics.TriggerSwitch); err != nil {
		return err
	}

	a.ctl.RequestClose()
	a.mu.Lock()
	a.workspace = info
	a.mu.Unlock()

	a.store.SetLastWorkspace(path)
	a.saveSettings()

	a.log.Info("workspace opened", "path", path, "nodes", info.Count())
	return nil
}

// SelectFile switches the editor to path, resolving unsaved changes first.
// Only files in the loaded workspace tree can be selected.
func (a *App) SelectFile(ctx context.Context, path string) error {
	if path == a.ctl.CurrentFile() {
		return nil
	}
	if ws := a.Workspace(); ws == nil || !ws.Contains(path) {
		err := gateway.Wrap(gateway.OpOpenFile, path, gateway.NotFound, ErrNotInWorkspace)
		a.notifier.Error(fmt.Sprintf("Failed to open %s: %v", path, err))
		return err
	}
	if err := a.resolveUnsaved(ctx, metrics.TriggerSwitch); err != nil {
		return err
	}
	if err := a.ctl.OpenFile(ctx, path); err != nil {
		if errors.Is(err, editor.ErrSuperseded) {
			return err
		}
		a.notifier.Error(fmt.Sprintf("Failed to open %s: %v", path, err))
		return err
	}

	a.store.Set(LastFileKey, path)
	a.saveSettings()
	return nil
}

// HandleShortcut dispatches a keyboard shortcut. Save only writes when
// there are unsaved changes.
func (a *App) HandleShortcut(ctx context.Context, name string) error {
	switch name {
	case ShortcutSave:
		if !a.ctl.IsDirty() {
			return nil
		}
		if err := a.ctl.Save(ctx); err != nil {
			a.notifier.Error(fmt.Sprintf("Failed to save: %v", err))
			return err
		}
		a.notifier.Success(MsgSaved)
		return nil
	default:
		return fmt.Errorf("unknown shortcut %q", name)
	}
}

// Blur is called when the editing surface loses focus.
func (a *App) Blur(ctx context.Context) error {
	if err := a.ctl.FlushOnBlur(ctx); err != nil {
		a.notifier.Error(fmt.Sprintf("Failed to save: %v", err))
		return err
	}
	return nil
}

// Close resolves unsaved changes and ends the session. ErrCanceled means
// the app should stay open.
func (a *App) Close(ctx context.Context) error {
	if err := a.resolveUnsaved(ctx, metrics.TriggerClose); err != nil {
		return err
	}
	a.ctl.RequestClose()
	return nil
}

// resolveUnsaved asks the prompter what to do with a dirty session. A failed
// save aborts whatever the caller was about to do.
func (a *App) resolveUnsaved(ctx context.Context, trigger string) error {
	if !a.ctl.IsDirty() {
		return nil
	}
	path := a.ctl.CurrentFile()

	choice := a.prompter.ConfirmUnsaved(path)
	a.log.Debug("unsaved changes prompt", "path", path, "choice", choice)

	switch choice {
	case SaveChanges:
		if err := a.ctl.SaveAs(ctx, trigger); err != nil {
			a.notifier.Error(fmt.Sprintf("Failed to save %s: %v", path, err))
			return err
		}
		a.notifier.Success(MsgSaved)
		return nil
	case Discard:
		a.log.Info("unsaved changes discarded", "path", path)
		return nil
	default:
		return ErrCanceled
	}
}

func (a *App) saveSettings() {
	if err := a.store.Save(); err != nil {
		a.log.Warn("failed to persist settings", "path", a.store.FilePath(), "error", err)
	}
}

func (a *App) onAutosave(path string, err error) {
	if err != nil {
		a.notifier.Error(fmt.Sprintf("Auto-save failed for %s: %v", path, err))
		return
	}
	a.notifier.Success(MsgAutoSaved)
}
