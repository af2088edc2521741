package widget

import (
	"context"
	"strings"
	"testing"

	"github.com/workspace/sdlc-console/internal/botturn"
)

func TestDecodeNodeSnapshot(t *testing.T) {
	raw := []byte(`{"id":"n1","tag":"div","classes":["chat-layout"],"children":[
		{"id":"n2","tag":"div","classes":["chat-messages-list"],"children":[
			{"id":"n3","tag":"div","classes":["chat-message","chat-message-from-bot"],"attrs":{"data-role":"assistant"},
			 "children":[{"tag":"#text","text":"Hello"}]}
		]}
	]}`)

	root, err := decodeNode(raw)
	if err != nil {
		t.Fatalf("decodeNode: %v", err)
	}
	tree := botturn.NewTree(root)
	snap, err := tree.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	msg := snap.Children[0].Children[0]
	if msg.Attr("data-role") != "assistant" || msg.TextContent() != "Hello" {
		t.Fatalf("unexpected message node %+v", msg)
	}
	if msg.Parent() == nil || msg.Parent().ID != "n2" {
		t.Fatal("parent pointers not linked")
	}
	if botturn.DefaultClassifier(msg) != botturn.Bot {
		t.Fatal("decoded message not classified as bot")
	}
}

func TestDecodeChangesDropsEmpty(t *testing.T) {
	raw := []byte(`[
		{"target":"n2","added":[{"id":"n4","tag":"div","classes":["chat-message"]}]},
		{"target":"n2","added":[]}
	]`)
	changes, err := decodeChanges(raw)
	if err != nil {
		t.Fatalf("decodeChanges: %v", err)
	}
	if len(changes) != 1 || changes[0].Target != "n2" || changes[0].Added[0].ID != "n4" {
		t.Fatalf("unexpected changes %+v", changes)
	}
}

func TestDecodeChangesRejectsGarbage(t *testing.T) {
	if _, err := decodeChanges([]byte(`{"not":"an array"}`)); err == nil {
		t.Fatal("expected error")
	}
}

func TestScriptsShareSerializer(t *testing.T) {
	for name, js := range map[string]string{"snapshot": snapshotJS, "install": installJS} {
		if !strings.Contains(js, "w.serialize = (node)") {
			t.Fatalf("%s script missing serializer", name)
		}
		if !strings.HasPrefix(js, "(selector) =>") {
			t.Fatalf("%s script must take the selector argument", name)
		}
	}
}

func TestOpenRequiresURLs(t *testing.T) {
	if _, err := Open(context.Background(), Config{PageURL: "http://localhost/widget"}); err == nil {
		t.Fatal("expected error without debugger URL")
	}
}
