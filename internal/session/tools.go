package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/victormasson21/voice-agent/internal/realtime"
)

func (c *Controller) endCallTool() realtime.Tool {
	return realtime.Tool{
		Name:        "end_call",
		Description: "End the call. Use this once the conversation has reached a natural conclusion and goodbyes are said.",
		Handler: func(context.Context, map[string]any) (string, error) {
			c.RequestClose(ReasonTool)
			return "Ending the call.", nil
		},
	}
}

// Notebook holds notes the user asked the agent to remember during one session.
type Notebook struct {
	mu    sync.Mutex
	notes []string
}

// Tools returns the save_note and get_notes tools backed by the notebook.
func (n *Notebook) Tools() []realtime.Tool {
	return []realtime.Tool{
		{
			Name:        "save_note",
			Description: "Save a note to memory. Use this when the user asks you to remember something.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"note": map[string]any{"type": "string", "description": "The note to remember"},
				},
				"required": []string{"note"},
			},
			Handler: func(_ context.Context, args map[string]any) (string, error) {
				note, _ := args["note"].(string)
				return n.Save(note)
			},
		},
		{
			Name:        "get_notes",
			Description: "Retrieve all saved notes. Use this when the user asks what you've remembered.",
			Handler: func(context.Context, map[string]any) (string, error) {
				return n.List(), nil
			},
		},
	}
}

// Save appends a trimmed, non-empty note and confirms it by number.
func (n *Notebook) Save(note string) (string, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return "", errors.New("note is empty")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return fmt.Sprintf("Saved note #%d: %s", len(n.notes), note), nil
}

// List returns the saved notes one per line, numbered from 1.
func (n *Notebook) List() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.notes) == 0 {
		return "No notes saved yet."
	}
	lines := make([]string, len(n.notes))
	for i, note := range n.notes {
		lines[i] = fmt.Sprintf("#%d: %s", i+1, note)
	}
	return strings.Join(lines, "\n")
}
