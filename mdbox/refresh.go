package mdbox

import "github.com/forestrie/go-mdevents/mdevent"

// RefreshCache recomputes the signal and squared error sums of n and every
// node below it, storing them on each node, and returns n's sums.
//
// Leaves that are paged out are read from the backing store without being
// made resident. This is the only place the cached aggregates are written.
func (ws *Workspace) RefreshCache(n *Node) (signal, errorSquared float64, err error) {
	if children := n.children(); children != nil {
		for _, c := range children {
			s, e, err := ws.RefreshCache(ws.node(c))
			if err != nil {
				return 0, 0, err
			}
			signal += s
			errorSquared += e
		}
		n.mu.Lock()
		n.signal, n.errorSquared = signal, errorSquared
		n.mu.Unlock()
		return signal, errorSquared, nil
	}

	n.mu.Lock()
	if n.kind != KindBox {
		// split since children() looked
		n.mu.Unlock()
		return ws.RefreshCache(n)
	}
	defer n.mu.Unlock()

	events := n.box.events
	if !n.box.resident {
		if events, err = n.readLocked(); err != nil {
			return 0, 0, err
		}
	}
	signal, errorSquared = sumEvents(events)
	n.signal, n.errorSquared = signal, errorSquared
	return signal, errorSquared, nil
}

func sumEvents(events []mdevent.Event) (signal, errorSquared float64) {
	for _, ev := range events {
		signal += float64(ev.Signal)
		errorSquared += float64(ev.ErrorSquared)
	}
	return signal, errorSquared
}
