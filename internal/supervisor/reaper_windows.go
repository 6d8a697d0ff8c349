//go:build windows

package supervisor

// WatchSigChild is a no-op on Windows: there is no SIGCHLD, and child exit
// notification goes through a different mechanism this module does not yet
// implement. The returned stop function is a no-op as well.
func (s *Supervisor) WatchSigChild(loop *Loop) (stop func()) {
	return func() {}
}
