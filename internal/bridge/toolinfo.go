package bridge

import (
	"fmt"
	"path/filepath"
	"strings"

	acp "github.com/coder/acp-go-sdk"

	"github.com/kandev/acpbridge/internal/engine"
)

// ToolInfo carries the display metadata derived from a tool invocation.
type ToolInfo struct {
	Title     string
	Kind      acp.ToolKind
	Locations []acp.ToolCallLocation
	Content   []acp.ToolCallContent
}

// toolKind maps an engine tool name to the ACP tool kind.
func toolKind(name string) acp.ToolKind {
	switch name {
	case engine.ToolRead, "NotebookRead":
		return acp.ToolKindRead
	case engine.ToolWrite, engine.ToolEdit, engine.ToolMultiEdit, engine.ToolNotebookEdit:
		return acp.ToolKindEdit
	case engine.ToolBash, "BashOutput", "KillShell":
		return acp.ToolKindExecute
	case engine.ToolGlob, engine.ToolGrep, engine.ToolWebSearch:
		return acp.ToolKindSearch
	case engine.ToolWebFetch:
		return acp.ToolKindFetch
	case engine.ToolTask:
		return acp.ToolKindThink
	default:
		return acp.ToolKindOther
	}
}

// toolInfoFromUse derives the title, kind, locations and content shown to the
// client for a tool invocation. Bash surfaces the command line; file tools
// surface "Name path". The file cache, when present, supplies the previous
// content for Write diffs; nil is fine.
func toolInfoFromUse(name string, input map[string]any, files *FileCache) ToolInfo {
	info := ToolInfo{
		Title: name,
		Kind:  toolKind(name),
	}

	str := func(key string) string {
		v, _ := input[key].(string)
		return v
	}

	switch name {
	case engine.ToolBash:
		if cmd := str("command"); cmd != "" {
			info.Title = cmd
		}
	case engine.ToolRead, engine.ToolWrite, engine.ToolEdit, engine.ToolMultiEdit:
		if path := str("file_path"); path != "" {
			info.Title = fmt.Sprintf("%s %s", name, shortPath(path))
			info.Locations = []acp.ToolCallLocation{{Path: path}}
		}
	case engine.ToolGlob, engine.ToolGrep:
		if pattern := str("pattern"); pattern != "" {
			info.Title = fmt.Sprintf("%s %s", name, pattern)
		}
		if path := str("path"); path != "" {
			info.Locations = []acp.ToolCallLocation{{Path: path}}
		}
	case engine.ToolWebFetch, engine.ToolWebSearch:
		if u := str("url"); u != "" {
			info.Title = u
		} else if q := str("query"); q != "" {
			info.Title = q
		}
	case engine.ToolTask:
		if desc := str("description"); desc != "" {
			info.Title = desc
		}
	default:
		if strings.HasPrefix(name, "mcp__") {
			parts := strings.SplitN(name, "__", 3)
			if len(parts) == 3 {
				info.Title = fmt.Sprintf("%s (%s)", parts[2], parts[1])
			}
		}
	}

	// Edits carry a diff so the client can render the change inline.
	if name == engine.ToolEdit {
		path := str("file_path")
		oldText := str("old_string")
		newText := str("new_string")
		if path != "" && (oldText != "" || newText != "") {
			info.Content = []acp.ToolCallContent{{
				Diff: &acp.ToolCallContentDiff{
					Path:    path,
					OldText: &oldText,
					NewText: newText,
				},
			}}
		}
	}
	if name == engine.ToolWrite {
		path := str("file_path")
		content := str("content")
		if path != "" && content != "" {
			diff := &acp.ToolCallContentDiff{
				Path:    path,
				NewText: content,
			}
			// A cached copy of the file turns the creation diff into a
			// proper old-vs-new diff.
			if files != nil {
				if prev, ok := files.Get(path); ok {
					diff.OldText = &prev
				}
			}
			info.Content = []acp.ToolCallContent{{Diff: diff}}
		}
	}

	return info
}

// shortPath trims long absolute paths to their last two elements.
func shortPath(path string) string {
	dir, file := filepath.Split(path)
	dir = strings.TrimSuffix(dir, string(filepath.Separator))
	if dir == "" || dir == "." {
		return file
	}
	return filepath.Join(filepath.Base(dir), file)
}

// isEditTool reports whether the tool mutates files, which acceptEdits mode
// auto-approves.
func isEditTool(name string) bool {
	switch name {
	case engine.ToolWrite, engine.ToolEdit, engine.ToolMultiEdit, engine.ToolNotebookEdit:
		return true
	}
	return false
}

// isReadOnlyTool reports whether the tool only inspects state. Plan mode
// allows these and denies everything else outright. TodoWrite stays allowed
// so the engine can keep maintaining its plan.
func isReadOnlyTool(name string) bool {
	switch name {
	case engine.ToolRead, "NotebookRead", engine.ToolGlob, engine.ToolGrep,
		engine.ToolWebSearch, engine.ToolWebFetch, engine.ToolTask, engine.ToolTodoWrite:
		return true
	}
	return false
}
