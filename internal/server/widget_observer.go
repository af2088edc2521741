package server

import (
	"log/slog"
	"sync"

	"github.com/workspace/sdlc-console/internal/botturn"
)

// widgetObserver owns the server-side widget source. The observed page
// belongs to one project, so the detector is attached once while any view
// of that project is mounted, and each bot turn dispatches once for it.
type widgetObserver struct {
	s         *Server
	src       botturn.Source
	projectID string

	mu      sync.Mutex
	mounted []*workspaceConn
	detach  func()
}

func newWidgetObserver(s *Server, src botturn.Source, projectID string) *widgetObserver {
	return &widgetObserver{s: s, src: src, projectID: projectID}
}

// mount registers c as a view of the observed project. The first mount
// attaches the detector, so whatever the page shows at that point is
// history.
func (o *widgetObserver) mount(c *workspaceConn) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.detach == nil {
		detach, err := o.s.detector.Attach(o.s.ctx, o.src, o.onBotTurn)
		if err != nil {
			return err
		}
		o.detach = detach
		slog.Info("Widget observer attached", "projectId", o.projectID)
	}
	o.mounted = append(o.mounted, c)
	return nil
}

// unmount removes c. The last unmount detaches the detector.
func (o *widgetObserver) unmount(c *workspaceConn) {
	o.mu.Lock()
	for i, m := range o.mounted {
		if m == c {
			o.mounted = append(o.mounted[:i], o.mounted[i+1:]...)
			break
		}
	}
	var detach func()
	if len(o.mounted) == 0 {
		detach = o.detach
		o.detach = nil
	}
	o.mu.Unlock()

	// Outside o.mu: detach waits for a batch in progress.
	if detach != nil {
		detach()
		slog.Info("Widget observer detached", "projectId", o.projectID)
	}
}

func (o *widgetObserver) views() []*workspaceConn {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*workspaceConn(nil), o.mounted...)
}

// onBotTurn runs inside the source's change notification.
func (o *widgetObserver) onBotTurn() {
	go o.dispatch()
}

// dispatch runs the selected tool once for the observed project, using the
// tool and context of the most recent view, and reports the outcome to every
// view of the project.
func (o *widgetObserver) dispatch() {
	views := o.views()
	if len(views) == 0 {
		return
	}
	toolID, payload := views[len(views)-1].turnRequest()
	slog.Info("Bot turn detected", "projectId", o.projectID, "tool", toolID, "views", len(views))

	ev := o.s.dispatchTurn(toolID, payload)
	for _, c := range views {
		_ = c.send(eventDispatch, ev)
	}
}
