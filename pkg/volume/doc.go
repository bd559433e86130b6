// Package volume manages named, host-directory-backed volumes attachable to
// at most one machine at a time. A mounted volume lives at
// <data-root>/<app>/<machine-id>/volumes/<volume-name> and is otherwise
// unmanaged: no
// driver abstraction, no node affinity, nothing but a directory Minifly
// creates before a machine mounts it and removes when the volume is
// deleted.
package volume
