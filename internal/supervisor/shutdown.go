package supervisor

import "github.com/loykin/appsupervisor/internal/registry"

// Shutdown is the Shutdown Sequencer (spec.md §4.4). It is safe to call more
// than once; only the first call tears down the inactive containers, and the
// all-apps-stopped callback fires exactly once.
func (s *Supervisor) Shutdown() {
	if !s.shuttingDown {
		s.shuttingDown = true
		for _, c := range s.registry.InactiveContainers() {
			s.destroyContainer(c)
		}
	}

	head, ok := s.registry.ActiveHead()
	if !ok {
		if s.onAllStopped != nil {
			fn := s.onAllStopped
			s.onAllStopped = nil
			fn()
		}
		return
	}

	head.StopHandler = registry.StopHandlerShutdownNext
	head.Handle.Stop()
	s.fireStopHandlerIfStopped(head)
}
