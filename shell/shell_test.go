package shell

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mindraft/mindraft-core/config"
	"github.com/mindraft/mindraft-core/editor"
	"github.com/mindraft/mindraft-core/gateway"
)

type note struct {
	OK  bool
	Msg string
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []note
}

func (n *recordingNotifier) Success(msg string) { n.add(note{true, msg}) }
func (n *recordingNotifier) Error(msg string)   { n.add(note{false, msg}) }

func (n *recordingNotifier) add(x note) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, x)
}

func (n *recordingNotifier) all() []note {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]note(nil), n.notes...)
}

// scriptedPrompter answers with choice and records the paths it was asked about.
type scriptedPrompter struct {
	choice Choice
	asked  []string
}

func (p *scriptedPrompter) ConfirmUnsaved(path string) Choice {
	p.asked = append(p.asked, path)
	return p.choice
}

type fixture struct {
	app      *App
	gw       *gateway.Mock
	store    *config.Store
	clock    *editor.FakeClock
	notifier *recordingNotifier
	prompter *scriptedPrompter
}

func setup(t *testing.T) *fixture {
	t.Helper()
	store, err := config.LoadFrom(filepath.Join(t.TempDir(), "mindraft.json"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	f := &fixture{
		gw:       gateway.NewMock(),
		store:    store,
		clock:    editor.NewFakeClock(),
		notifier: &recordingNotifier{},
		prompter: &scriptedPrompter{choice: SaveChanges},
	}
	f.gw.AddWorkspace("/notes")
	f.gw.AddWorkspace("/journal")
	f.gw.SetFile("/notes/a.md", "hello")
	f.gw.SetFile("/notes/b.md", "bee")
	f.gw.SetFile("/journal/day.md", "today")

	f.app = New(store, f.gw, f.notifier, f.prompter, editor.WithClock(f.clock))
	return f
}

func (f *fixture) openNotes(t *testing.T) {
	t.Helper()
	if err := f.app.OpenWorkspace(context.Background(), "/notes"); err != nil {
		t.Fatalf("OpenWorkspace: %v", err)
	}
}

func TestApp_OpenWorkspacePersistsPath(t *testing.T) {
	f := setup(t)
	f.openNotes(t)

	ws := f.app.Workspace()
	if ws == nil || ws.Path != "/notes" {
		t.Fatalf("Workspace = %+v", ws)
	}
	if diff := cmp.Diff([]string{"/notes/a.md", "/notes/b.md"}, ws.Files()); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}

	reloaded, err := config.LoadFrom(f.store.FilePath())
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if reloaded.LastWorkspace() != "/notes" {
		t.Errorf("persisted workspace = %q", reloaded.LastWorkspace())
	}
}

func TestApp_OpenWorkspaceFailureKeepsState(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.openNotes(t)
	if err := f.app.SelectFile(ctx, "/notes/a.md"); err != nil {
		t.Fatal(err)
	}
	f.app.Editor().UpdateContent("edited")

	err := f.app.OpenWorkspace(ctx, "/missing")
	if gateway.KindOf(err) != gateway.NotFound {
		t.Fatalf("KindOf = %s, want NotFound", gateway.KindOf(err))
	}
	if f.app.Workspace().Path != "/notes" {
		t.Error("previous workspace should be kept")
	}
	if f.app.Editor().LiveContent() != "edited" {
		t.Error("session should be untouched")
	}
	if f.store.LastWorkspace() != "/notes" {
		t.Errorf("LastWorkspace = %q", f.store.LastWorkspace())
	}
	notes := f.notifier.all()
	if len(notes) != 1 || notes[0].OK || !strings.Contains(notes[0].Msg, "/missing") {
		t.Errorf("notifications = %+v", notes)
	}
}

func TestApp_OpenWorkspaceClosesSession(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.openNotes(t)
	if err := f.app.SelectFile(ctx, "/notes/a.md"); err != nil {
		t.Fatal(err)
	}

	if err := f.app.OpenWorkspace(ctx, "/journal"); err != nil {
		t.Fatalf("OpenWorkspace: %v", err)
	}
	if f.app.Editor().CurrentFile() != "" {
		t.Error("switching workspace should close the open file")
	}
	if diff := cmp.Diff([]string{"/journal", "/notes"}, f.app.RecentWorkspaces()); diff != "" {
		t.Errorf("recent mismatch (-want +got):\n%s", diff)
	}
}

func TestApp_Start(t *testing.T) {
	f := setup(t)
	f.store.SetLastWorkspace("/notes")

	if err := f.app.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ws := f.app.Workspace(); ws == nil || ws.Path != "/notes" {
		t.Errorf("Workspace = %+v", ws)
	}
}

func TestApp_StartWithoutHistory(t *testing.T) {
	f := setup(t)
	if err := f.app.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if f.app.Workspace() != nil {
		t.Error("no workspace expected")
	}
	if n := f.gw.CallCount(gateway.OpLoadWorkspace); n != 0 {
		t.Errorf("loadWorkspace calls = %d", n)
	}
}

func TestApp_StartForgetsMissingWorkspace(t *testing.T) {
	f := setup(t)
	f.store.SetLastWorkspace("/gone")

	err := f.app.Start(context.Background())
	if gateway.KindOf(err) != gateway.NotFound {
		t.Fatalf("Start err = %v", err)
	}
	if f.store.LastWorkspace() != "" {
		t.Errorf("LastWorkspace = %q, want cleared", f.store.LastWorkspace())
	}
	if f.app.Workspace() != nil {
		t.Error("no workspace should be loaded")
	}
}

func TestApp_SelectFilePrompts(t *testing.T) {
	tests := []struct {
		name       string
		choice     Choice
		saveErr    error
		wantErr    error
		wantFile   string
		wantStored string
	}{
		{name: "save then switch", choice: SaveChanges, wantFile: "/notes/b.md", wantStored: "changed"},
		{name: "discard then switch", choice: Discard, wantFile: "/notes/b.md", wantStored: "hello"},
		{name: "cancel stays", choice: Cancel, wantErr: ErrCanceled, wantFile: "/notes/a.md", wantStored: "hello"},
		{name: "failed save aborts", choice: SaveChanges, saveErr: errors.New("disk full"), wantErr: gateway.ErrWrite, wantFile: "/notes/a.md", wantStored: "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			ctx := context.Background()
			f.openNotes(t)
			if err := f.app.SelectFile(ctx, "/notes/a.md"); err != nil {
				t.Fatal(err)
			}
			f.app.Editor().UpdateContent("changed")
			f.prompter.choice = tt.choice
			if tt.saveErr != nil {
				f.gw.SetError(gateway.OpSaveFile, tt.saveErr)
			}

			err := f.app.SelectFile(ctx, "/notes/b.md")
			if tt.wantErr == nil && err != nil {
				t.Fatalf("SelectFile: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("SelectFile err = %v, want %v", err, tt.wantErr)
			}
			if got := f.app.Editor().CurrentFile(); got != tt.wantFile {
				t.Errorf("CurrentFile = %q, want %q", got, tt.wantFile)
			}
			if got, _ := f.gw.File("/notes/a.md"); got != tt.wantStored {
				t.Errorf("a.md = %q, want %q", got, tt.wantStored)
			}
			if diff := cmp.Diff([]string{"/notes/a.md"}, f.prompter.asked); diff != "" {
				t.Errorf("prompts mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestApp_SelectFileClean(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.openNotes(t)
	if err := f.app.SelectFile(ctx, "/notes/a.md"); err != nil {
		t.Fatal(err)
	}
	if err := f.app.SelectFile(ctx, "/notes/b.md"); err != nil {
		t.Fatal(err)
	}
	if len(f.prompter.asked) != 0 {
		t.Errorf("clean switch should not prompt, asked %v", f.prompter.asked)
	}
}

func TestApp_SelectFileOutsideWorkspace(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	err := f.app.SelectFile(ctx, "/notes/a.md")
	if !errors.Is(err, ErrNotInWorkspace) {
		t.Fatalf("without a workspace err = %v, want ErrNotInWorkspace", err)
	}

	f.openNotes(t)
	for _, path := range []string{"/notes/nope.md", "/journal/day.md", "/notes"} {
		err := f.app.SelectFile(ctx, path)
		if !errors.Is(err, ErrNotInWorkspace) || gateway.KindOf(err) != gateway.NotFound {
			t.Errorf("SelectFile(%s) err = %v, want NotFound ErrNotInWorkspace", path, err)
		}
	}
	if n := f.gw.CallCount(gateway.OpOpenFile); n != 0 {
		t.Errorf("rejected paths reached the gateway %d times", n)
	}
	notes := f.notifier.all()
	if len(notes) != 4 || notes[1].OK || !strings.Contains(notes[1].Msg, "/notes/nope.md") {
		t.Errorf("notifications = %+v", notes)
	}
}

func TestApp_SelectFileFailureNotifies(t *testing.T) {
	f := setup(t)
	f.openNotes(t)
	f.gw.SetError(gateway.OpOpenFile, errors.New("permission denied"))

	err := f.app.SelectFile(context.Background(), "/notes/b.md")
	if gateway.KindOf(err) != gateway.ReadError {
		t.Fatalf("KindOf = %s, want ReadError", gateway.KindOf(err))
	}
	notes := f.notifier.all()
	if len(notes) != 1 || notes[0].OK || !strings.Contains(notes[0].Msg, "/notes/b.md") {
		t.Errorf("notifications = %+v", notes)
	}
	if _, ok := f.store.Get(LastFileKey); ok {
		t.Error("a failed open should not be remembered")
	}
}

func TestApp_DiscardedEditNotAutosavedDuringSwitch(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.openNotes(t)
	if err := f.app.SelectFile(ctx, "/notes/a.md"); err != nil {
		t.Fatal(err)
	}
	f.app.Editor().UpdateContent("discard me")
	f.clock.Advance(29 * time.Second)

	f.prompter.choice = Discard
	f.gw.BeforeCall = func(c gateway.Call) {
		if c.Op == gateway.OpOpenFile && c.Path == "/notes/b.md" {
			f.clock.Advance(2 * time.Second)
		}
	}
	if err := f.app.SelectFile(ctx, "/notes/b.md"); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}

	if got, _ := f.gw.File("/notes/a.md"); got != "hello" {
		t.Errorf("a.md = %q, the discarded edit was written", got)
	}
	if notes := f.notifier.all(); len(notes) != 0 {
		t.Errorf("notifications = %+v, want none", notes)
	}
}

func TestApp_StartReopensLastFile(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.openNotes(t)
	if err := f.app.SelectFile(ctx, "/notes/b.md"); err != nil {
		t.Fatal(err)
	}

	reloaded, err := config.LoadFrom(f.store.FilePath())
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if v, _ := reloaded.Get(LastFileKey); v != "/notes/b.md" {
		t.Fatalf("persisted last file = %q", v)
	}

	app := New(reloaded, f.gw, f.notifier, f.prompter, editor.WithClock(f.clock))
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := app.Editor().CurrentFile(); got != "/notes/b.md" {
		t.Errorf("CurrentFile = %q, want the last file reopened", got)
	}
}

func TestApp_StartSkipsLastFileOutsideWorkspace(t *testing.T) {
	f := setup(t)
	f.store.SetLastWorkspace("/notes")
	f.store.Set(LastFileKey, "/journal/day.md")

	if err := f.app.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := f.app.Editor().CurrentFile(); got != "" {
		t.Errorf("CurrentFile = %q, want nothing opened", got)
	}
	if n := f.gw.CallCount(gateway.OpOpenFile); n != 0 {
		t.Errorf("openFile calls = %d", n)
	}
}

func TestApp_SaveShortcut(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.openNotes(t)
	if err := f.app.SelectFile(ctx, "/notes/a.md"); err != nil {
		t.Fatal(err)
	}

	// Clean: nothing written.
	if err := f.app.HandleShortcut(ctx, ShortcutSave); err != nil {
		t.Fatal(err)
	}
	if n := f.gw.CallCount(gateway.OpSaveFile); n != 0 {
		t.Errorf("clean shortcut saved %d times", n)
	}

	f.app.Editor().UpdateContent("manual")
	if err := f.app.HandleShortcut(ctx, ShortcutSave); err != nil {
		t.Fatalf("HandleShortcut: %v", err)
	}
	if got, _ := f.gw.File("/notes/a.md"); got != "manual" {
		t.Errorf("stored = %q", got)
	}
	if diff := cmp.Diff([]note{{true, MsgSaved}}, f.notifier.all()); diff != "" {
		t.Errorf("notifications mismatch (-want +got):\n%s", diff)
	}

	if err := f.app.HandleShortcut(ctx, "bold"); err == nil {
		t.Error("unknown shortcut should fail")
	}
}

func TestApp_AutosaveNotification(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.openNotes(t)
	if err := f.app.SelectFile(ctx, "/notes/a.md"); err != nil {
		t.Fatal(err)
	}

	f.app.Editor().UpdateContent("auto")
	f.clock.Advance(config.DefaultAutosaveInterval)

	if diff := cmp.Diff([]note{{true, MsgAutoSaved}}, f.notifier.all()); diff != "" {
		t.Errorf("notifications mismatch (-want +got):\n%s", diff)
	}

	f.gw.SetError(gateway.OpSaveFile, errors.New("disk full"))
	f.app.Editor().UpdateContent("auto 2")
	f.clock.Advance(config.DefaultAutosaveInterval + time.Second)

	notes := f.notifier.all()
	if len(notes) != 2 || notes[1].OK || !strings.Contains(notes[1].Msg, "Auto-save failed") {
		t.Errorf("notifications = %+v", notes)
	}
}

func TestApp_BlurSaves(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.openNotes(t)
	if err := f.app.SelectFile(ctx, "/notes/a.md"); err != nil {
		t.Fatal(err)
	}
	f.app.Editor().UpdateContent("blur")

	if err := f.app.Blur(ctx); err != nil {
		t.Fatalf("Blur: %v", err)
	}
	if got, _ := f.gw.File("/notes/a.md"); got != "blur" {
		t.Errorf("stored = %q", got)
	}

	f.app.Editor().UpdateContent("blur again")
	f.gw.SetError(gateway.OpSaveFile, errors.New("read-only"))
	if err := f.app.Blur(ctx); gateway.KindOf(err) != gateway.WriteError {
		t.Errorf("Blur err = %v", err)
	}
	if !f.app.Editor().IsDirty() {
		t.Error("failed blur save should stay dirty")
	}
}

func TestApp_Close(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.openNotes(t)
	if err := f.app.SelectFile(ctx, "/notes/a.md"); err != nil {
		t.Fatal(err)
	}
	f.app.Editor().UpdateContent("closing")

	f.prompter.choice = Cancel
	if err := f.app.Close(ctx); !errors.Is(err, ErrCanceled) {
		t.Fatalf("Close err = %v, want ErrCanceled", err)
	}
	if f.app.Editor().CurrentFile() == "" {
		t.Fatal("canceled close should keep the session")
	}

	f.prompter.choice = SaveChanges
	if err := f.app.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got, _ := f.gw.File("/notes/a.md"); got != "closing" {
		t.Errorf("stored = %q", got)
	}
	if f.app.Editor().CurrentFile() != "" {
		t.Error("session should be closed")
	}
}

func TestChoice_String(t *testing.T) {
	for c, want := range map[Choice]string{SaveChanges: "save", Discard: "discard", Cancel: "cancel", Choice(9): "Choice(9)"} {
		if got := c.String(); got != want {
			t.Errorf("String(%d) = %q, want %q", int(c), got, want)
		}
	}
}
